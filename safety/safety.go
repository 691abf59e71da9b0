// Package safety decides whether the observatory may operate. The verdict
// is fail-closed: a sensor that cannot be read, a stale reading, or missing
// telemetry all count as unsafe. Absence of information is never permission
// to operate.
package safety

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/ridgeline-obs/obsd/metrics"
	"github.com/ridgeline-obs/obsd/power"
	"github.com/ridgeline-obs/obsd/weather"
)

// Verdict is an immutable safety snapshot. The sequencer reads the most
// recent one before every transition involving moving hardware.
type Verdict struct {
	Safe      bool
	Reason    string
	CheckedAt time.Time
}

// WeatherSource reads the weather station.
type WeatherSource interface {
	Sample(ctx context.Context) (weather.Sample, error)
}

// PowerSource exposes the power board's latest telemetry snapshot.
type PowerSource interface {
	Latest() (power.Status, bool)
}

// SunSource reports the sun's altitude in degrees.
type SunSource interface {
	SunAltitude(t time.Time) float64
}

type Limits struct {
	MaxWindMps     float64
	MaxHumidityPct float64
	MinBatteryV    float64
	// MinSkyDeltaC is the minimum ambient-minus-sky temperature
	// difference; a warm sky means cloud.
	MinSkyDeltaC float64
	// DaylightAltDeg is the sun altitude above which operating is
	// unsafe (the dawn threshold).
	DaylightAltDeg float64
}

// weatherRedialAfter is how many consecutive weather read failures trigger
// a re-dial of the station's link.
const weatherRedialAfter = 3

type Monitor struct {
	interval time.Duration
	weather  WeatherSource
	power    PowerSource
	sun      SunSource
	limits   Limits
	now      func() time.Time

	// redial and weatherFails are touched only from the poll loop.
	redial       func(ctx context.Context) error
	weatherFails int

	verdict atomic.Value // Verdict
}

// New builds a monitor. power may be nil on units without a power board;
// every other source is mandatory.
func New(interval time.Duration, ws WeatherSource, ps PowerSource, sun SunSource, limits Limits) *Monitor {
	m := &Monitor{
		interval: interval,
		weather:  ws,
		power:    ps,
		sun:      sun,
		limits:   limits,
		now:      time.Now,
	}
	m.verdict.Store(Verdict{Safe: false, Reason: "not yet polled"})
	return m
}

// RedialWeather registers a reconnect function for the weather station's
// link. The sequencer never talks to the weather station, so its
// fault-recovery path cannot reconnect it; instead the monitor re-dials
// after repeated read failures. The verdict stays unsafe until a sample
// actually succeeds.
func (m *Monitor) RedialWeather(redial func(ctx context.Context) error) {
	m.redial = redial
}

// Run polls until ctx is done. The first poll happens immediately.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		m.poll(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()
	v := m.evaluate(ctx)
	m.verdict.Store(v)
	if v.Safe {
		metrics.Safe.Set(1)
	} else {
		metrics.Safe.Set(0)
	}
}

// Current returns the latest verdict, non-blocking. A verdict older than
// twice the poll interval is treated as unsafe.
func (m *Monitor) Current() Verdict {
	v := m.verdict.Load().(Verdict)
	if v.CheckedAt.IsZero() || m.now().Sub(v.CheckedAt) > 2*m.interval {
		return Verdict{Safe: false, Reason: "stale verdict", CheckedAt: v.CheckedAt}
	}
	return v
}

func (m *Monitor) evaluate(ctx context.Context) Verdict {
	now := m.now()
	unsafe := func(reason string) Verdict {
		return Verdict{Safe: false, Reason: reason, CheckedAt: now}
	}

	if alt := m.sun.SunAltitude(now); alt > m.limits.DaylightAltDeg {
		return unsafe(fmt.Sprintf("daylight: sun at %+.1f deg", alt))
	}

	sample, err := m.weather.Sample(ctx)
	if err != nil {
		m.weatherFails++
		if m.redial != nil && m.weatherFails >= weatherRedialAfter {
			m.weatherFails = 0
			log.Printf("safety: weather unreadable %d polls running, redialing", weatherRedialAfter)
			if rerr := m.redial(ctx); rerr != nil {
				log.Printf("safety: redialing weather: %v", rerr)
			}
		}
		return unsafe(fmt.Sprintf("weather unreadable: %v", err))
	}
	m.weatherFails = 0
	switch {
	case sample.Raining:
		return unsafe("rain")
	case sample.WindMps > m.limits.MaxWindMps:
		return unsafe(fmt.Sprintf("wind %.1f m/s over %.1f", sample.WindMps, m.limits.MaxWindMps))
	case sample.HumidityPct > m.limits.MaxHumidityPct:
		return unsafe(fmt.Sprintf("humidity %.0f%% over %.0f%%", sample.HumidityPct, m.limits.MaxHumidityPct))
	case sample.AmbientC-sample.SkyC < m.limits.MinSkyDeltaC:
		return unsafe(fmt.Sprintf("cloud: sky delta %.1f C under %.1f C",
			sample.AmbientC-sample.SkyC, m.limits.MinSkyDeltaC))
	}

	if m.power != nil {
		status, ok := m.power.Latest()
		if !ok {
			return unsafe("power board: no telemetry yet")
		}
		if status.BatteryVolts < m.limits.MinBatteryV {
			return unsafe(fmt.Sprintf("battery %.2f V under %.2f V", status.BatteryVolts, m.limits.MinBatteryV))
		}
	}

	return Verdict{Safe: true, CheckedAt: now}
}
