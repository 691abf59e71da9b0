// Command obsd is the observatory control daemon: it owns the device links,
// the safety monitor, and the observation sequencer, and serves status over
// HTTP/websocket plus a line-based operator console.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ridgeline-obs/obsd/astro"
	"github.com/ridgeline-obs/obsd/camera"
	"github.com/ridgeline-obs/obsd/config"
	"github.com/ridgeline-obs/obsd/devlink"
	"github.com/ridgeline-obs/obsd/events"
	"github.com/ridgeline-obs/obsd/mount"
	"github.com/ridgeline-obs/obsd/pointing"
	"github.com/ridgeline-obs/obsd/power"
	"github.com/ridgeline-obs/obsd/safety"
	"github.com/ridgeline-obs/obsd/schedule"
	"github.com/ridgeline-obs/obsd/sequencer"
	"github.com/ridgeline-obs/obsd/solve"
	"github.com/ridgeline-obs/obsd/supervisor"
	"github.com/ridgeline-obs/obsd/weather"
)

var configPath = flag.String("config", "obsd.yaml", "path to configuration file")

// newLink opens one device endpoint. A failed initial connect is logged,
// not fatal: the first command will fail unreachable and the sequencer's
// recovery path reconnects.
func newLink(ctx context.Context, name string, dev config.Device) *devlink.Link {
	dialer, err := devlink.NewDialer(dev.Endpoint)
	if err != nil {
		log.Fatalf("%s: %v", name, err)
	}
	link := devlink.New(name, dialer, dev.Timeout(), devlink.DefaultRetry)
	if err := link.Connect(ctx); err != nil {
		log.Printf("%s: %v (will reconnect on demand)", name, err)
	}
	return link
}

func main() {
	flag.Parse()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	site := astro.NewSite(cfg.Site.LatitudeDeg, cfg.Site.LongitudeDeg,
		cfg.Site.ElevationM, cfg.Site.TemperatureC, cfg.Site.PressureMb)
	night := astro.Night{
		Site:    site,
		DuskAlt: cfg.Observing.DuskSunAltDeg,
		DawnAlt: cfg.Observing.DawnSunAltDeg,
	}

	mountLink := newLink(ctx, "mount", cfg.Devices.Mount)
	weatherLink := newLink(ctx, "weather", cfg.Devices.Weather)
	cameraLink := newLink(ctx, "camera", cfg.Devices.Camera)

	mountClient := mount.New(mountLink, cfg.Pointing.SettlePoll())
	weatherClient := weather.New(weatherLink)
	cameraClient := camera.New(cameraLink)

	var powerClient *power.Client
	if cfg.Devices.Power.Port != "" {
		powerClient, err = power.Connect(ctx, cfg.Devices.Power.Port, cfg.Devices.Power.Baud, nil)
		if err != nil {
			log.Fatalf("power board: %v", err)
		}
	}

	var powerSource safety.PowerSource
	var powerControl sequencer.PowerControl
	if powerClient != nil {
		powerSource = powerClient
		powerControl = powerClient
	}
	monitor := safety.New(cfg.Safety.PollInterval(), weatherClient, powerSource, site, safety.Limits{
		MaxWindMps:     cfg.Safety.MaxWindMps,
		MaxHumidityPct: cfg.Safety.MaxHumidityPct,
		MinBatteryV:    cfg.Safety.MinBatteryV,
		MinSkyDeltaC:   cfg.Safety.MinSkyDeltaC,
		DaylightAltDeg: cfg.Observing.DawnSunAltDeg,
	})
	monitor.RedialWeather(weatherLink.Reconnect)

	fileStore, err := events.NewFileStore(cfg.Events.Path)
	if err != nil {
		log.Fatalf("event log: %v", err)
	}
	var store events.Store = fileStore
	if cfg.Events.Influx.URL != "" {
		influx := events.NewInfluxStore(cfg.Events.Influx.URL, cfg.Events.Influx.Token,
			cfg.Events.Influx.Org, cfg.Events.Influx.Bucket)
		defer influx.Close()
		store = events.MultiStore{fileStore, influx}
	}
	recorder := events.NewRecorder(store)

	catalog, err := schedule.LoadCatalog(cfg.Catalog, site, cfg.Observing.MinTargetAltDeg)
	if err != nil {
		log.Fatalf("catalog: %v", err)
	}

	solver := solve.New(cfg.Solver.Command, cfg.Solver.Timeout())
	corrector := pointing.New(cameraClient, solver, mountClient, pointing.Config{
		Exposure:        camera.Exposure{Duration: cfg.Pointing.Exposure()},
		ToleranceArcsec: cfg.Pointing.ToleranceArcsec,
		MaxAttempts:     cfg.Pointing.MaxAttempts,
	})

	var darks []camera.Exposure
	for i := 0; i < cfg.Observing.DarkFrames; i++ {
		darks = append(darks, camera.Exposure{Duration: cfg.Pointing.Exposure(), Dark: true})
	}

	srv := NewServer(monitor)
	seq := sequencer.New(sequencer.Config{
		DarkPlan: darks,
	}, sequencer.Deps{
		Safety:    monitor,
		Night:     night,
		Mount:     mountClient,
		Camera:    cameraClient,
		Corrector: corrector,
		Scheduler: catalog,
		Recorder:  recorder,
		Devices: map[string]sequencer.Reconnector{
			"mount":  mountClient,
			"camera": cameraClient,
		},
		Power:          powerControl,
		Analyzer:       &pointing.TrackingCheck{Solver: solver},
		StatusCallback: srv.statusCallback,
	})
	srv.seq = seq

	sup := supervisor.New(supervisor.Config{
		BackoffBase: cfg.Watchdog.BackoffBase(),
		BackoffCap:  cfg.Watchdog.BackoffCap(),
	}, seq, recorder, night)

	if err := srv.ListenConsole(ctx, cfg.Server.ConsoleAddr); err != nil {
		log.Fatalf("console: %v", err)
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/status", srv.StatusHandler)
	r.HandleFunc("/api/ws", srv.StatusSocketHandler)
	r.Handle("/metrics", promhttp.Handler())
	httpSrv := &http.Server{
		Handler: r,
		Addr:    cfg.Server.Addr,
		// No write timeout: the status socket stays open all night.
		ReadTimeout: 15 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return monitor.Run(ctx) })
	g.Go(func() error { return sup.Run(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		log.Printf("serving on %s, console on %s", cfg.Server.Addr, cfg.Server.ConsoleAddr)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err = g.Wait()
	recorder.Flush()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}
