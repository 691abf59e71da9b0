// Package config loads the observatory configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Site      Site      `yaml:"site"`
	Observing Observing `yaml:"observing"`
	Safety    Safety    `yaml:"safety"`
	Devices   Devices   `yaml:"devices"`
	Pointing  Pointing  `yaml:"pointing"`
	Solver    Solver    `yaml:"solver"`
	Watchdog  Watchdog  `yaml:"watchdog"`
	Events    Events    `yaml:"events"`
	Server    Server    `yaml:"server"`
	Catalog   string    `yaml:"catalog"`
}

// Site is the observatory location, used for ephemeris calculations.
type Site struct {
	LatitudeDeg  float64 `yaml:"latitude_deg"`
	LongitudeDeg float64 `yaml:"longitude_deg"`
	ElevationM   float64 `yaml:"elevation_m"`
	TemperatureC float64 `yaml:"temperature_c"`
	PressureMb   float64 `yaml:"pressure_mb"`
}

type Observing struct {
	// Sun altitude thresholds. Observing starts when the sun is below
	// dusk_sun_alt_deg and must stop when it rises above dawn_sun_alt_deg.
	DuskSunAltDeg   float64 `yaml:"dusk_sun_alt_deg"`
	DawnSunAltDeg   float64 `yaml:"dawn_sun_alt_deg"`
	MinTargetAltDeg float64 `yaml:"min_target_alt_deg"`
	// DarkFrames is how many dark calibration frames to take during
	// housekeeping, each matching the pointing exposure duration.
	DarkFrames int `yaml:"dark_frames"`
}

type Safety struct {
	PollIntervalSeconds int     `yaml:"poll_interval_seconds"`
	MaxWindMps          float64 `yaml:"max_wind_mps"`
	MaxHumidityPct      float64 `yaml:"max_humidity_pct"`
	MinBatteryV         float64 `yaml:"min_battery_v"`
	// Sky must be at least this much colder than ambient (clear sky).
	MinSkyDeltaC float64 `yaml:"min_sky_delta_c"`
}

func (s Safety) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

type Devices struct {
	Mount   Device      `yaml:"mount"`
	Weather Device      `yaml:"weather"`
	Camera  Device      `yaml:"camera"`
	Power   PowerDevice `yaml:"power"`
}

// Device describes one serial or TCP firmware endpoint.
// Endpoint is either "serial:/dev/ttyUSB0?baud=9600" or "tcp:host:port".
type Device struct {
	Endpoint       string `yaml:"endpoint"`
	TimeoutSeconds int    `yaml:"device_timeout_seconds"`
}

func (d Device) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// PowerDevice is the Modbus RTU power/telemetry board.
type PowerDevice struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

type Pointing struct {
	ExposureSeconds  float64 `yaml:"exposure_seconds"`
	ToleranceArcsec  float64 `yaml:"pointing_tolerance_arcsec"`
	MaxAttempts      int     `yaml:"max_pointing_attempts"`
	SettlePollMillis int     `yaml:"settle_poll_millis"`
}

func (p Pointing) Exposure() time.Duration {
	return time.Duration(p.ExposureSeconds * float64(time.Second))
}

func (p Pointing) SettlePoll() time.Duration {
	return time.Duration(p.SettlePollMillis) * time.Millisecond
}

// Solver is the external plate-solving engine invocation.
type Solver struct {
	Command        string `yaml:"command"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

func (s Solver) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

type Watchdog struct {
	BackoffBaseSeconds int `yaml:"watchdog_backoff_base_seconds"`
	BackoffCapSeconds  int `yaml:"watchdog_backoff_cap_seconds"`
}

func (w Watchdog) BackoffBase() time.Duration {
	return time.Duration(w.BackoffBaseSeconds) * time.Second
}

func (w Watchdog) BackoffCap() time.Duration {
	return time.Duration(w.BackoffCapSeconds) * time.Second
}

type Events struct {
	// Path of the append-only JSON-lines event log.
	Path string `yaml:"path"`
	// Optional InfluxDB mirror of the event stream.
	Influx InfluxConfig `yaml:"influx"`
}

type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

type Server struct {
	Addr        string `yaml:"addr"`
	ConsoleAddr string `yaml:"console_addr"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %q: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Observing.DuskSunAltDeg == 0 {
		c.Observing.DuskSunAltDeg = -12
	}
	if c.Observing.DawnSunAltDeg == 0 {
		c.Observing.DawnSunAltDeg = -10
	}
	if c.Observing.MinTargetAltDeg == 0 {
		c.Observing.MinTargetAltDeg = 30
	}
	if c.Safety.PollIntervalSeconds == 0 {
		c.Safety.PollIntervalSeconds = 30
	}
	if c.Safety.MaxWindMps == 0 {
		c.Safety.MaxWindMps = 10
	}
	if c.Safety.MaxHumidityPct == 0 {
		c.Safety.MaxHumidityPct = 85
	}
	if c.Safety.MinBatteryV == 0 {
		c.Safety.MinBatteryV = 11.5
	}
	if c.Safety.MinSkyDeltaC == 0 {
		c.Safety.MinSkyDeltaC = 15
	}
	for _, d := range []*Device{&c.Devices.Mount, &c.Devices.Weather, &c.Devices.Camera} {
		if d.TimeoutSeconds == 0 {
			d.TimeoutSeconds = 5
		}
	}
	if c.Devices.Power.Baud == 0 {
		c.Devices.Power.Baud = 19200
	}
	if c.Pointing.ExposureSeconds == 0 {
		c.Pointing.ExposureSeconds = 30
	}
	if c.Pointing.ToleranceArcsec == 0 {
		c.Pointing.ToleranceArcsec = 180
	}
	if c.Pointing.MaxAttempts == 0 {
		c.Pointing.MaxAttempts = 3
	}
	if c.Pointing.SettlePollMillis == 0 {
		c.Pointing.SettlePollMillis = 1000
	}
	if c.Solver.Command == "" {
		c.Solver.Command = "solve-field"
	}
	if c.Solver.TimeoutSeconds == 0 {
		c.Solver.TimeoutSeconds = 60
	}
	if c.Watchdog.BackoffBaseSeconds == 0 {
		c.Watchdog.BackoffBaseSeconds = 30
	}
	if c.Watchdog.BackoffCapSeconds == 0 {
		c.Watchdog.BackoffCapSeconds = 600
	}
	if c.Events.Path == "" {
		c.Events.Path = "events.log"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8502"
	}
	if c.Server.ConsoleAddr == "" {
		c.Server.ConsoleAddr = "127.0.0.1:4533"
	}
}

func (c *Config) Validate() error {
	if c.Site.LatitudeDeg < -90 || c.Site.LatitudeDeg > 90 {
		return fmt.Errorf("site.latitude_deg %v out of range", c.Site.LatitudeDeg)
	}
	if c.Site.LongitudeDeg < -180 || c.Site.LongitudeDeg > 360 {
		return fmt.Errorf("site.longitude_deg %v out of range", c.Site.LongitudeDeg)
	}
	if c.Observing.DawnSunAltDeg < c.Observing.DuskSunAltDeg {
		return fmt.Errorf("observing: dawn_sun_alt_deg (%v) must not be below dusk_sun_alt_deg (%v)",
			c.Observing.DawnSunAltDeg, c.Observing.DuskSunAltDeg)
	}
	if c.Devices.Mount.Endpoint == "" {
		return fmt.Errorf("devices.mount.endpoint is required")
	}
	if c.Devices.Weather.Endpoint == "" {
		return fmt.Errorf("devices.weather.endpoint is required")
	}
	if c.Devices.Camera.Endpoint == "" {
		return fmt.Errorf("devices.camera.endpoint is required")
	}
	if c.Pointing.MaxAttempts < 1 {
		return fmt.Errorf("pointing.max_pointing_attempts must be >= 1")
	}
	if c.Catalog == "" {
		return fmt.Errorf("catalog is required")
	}
	return nil
}
