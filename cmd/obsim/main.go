// Command obsim serves simulated mount, weather, and camera devices over
// TCP so obsd can run a full night without hardware.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ridgeline-obs/obsd/sim"
)

var (
	mountAddr   = flag.String("mount", "127.0.0.1:7001", "mount listen address")
	weatherAddr = flag.String("weather", "127.0.0.1:7002", "weather station listen address")
	cameraAddr  = flag.String("camera", "127.0.0.1:7003", "camera board listen address")
	cameraRate  = flag.Float64("camera_rate", 0.1, "exposure duration scale factor")
	rain        = flag.Bool("rain", false, "simulate rain")
)

func main() {
	flag.Parse()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mnt := sim.NewMount()
	wx := sim.NewWeather()
	if *rain {
		wx.Set(2.0, 95, 10, 5, true)
	}
	cam := sim.NewCamera()
	cam.Rate = *cameraRate

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mnt.Run(ctx) })
	for _, d := range []struct {
		name string
		addr string
		dev  sim.Device
	}{
		{"mount", *mountAddr, mnt},
		{"weather", *weatherAddr, wx},
		{"camera", *cameraAddr, cam},
	} {
		d := d
		ln, err := net.Listen("tcp", d.addr)
		if err != nil {
			log.Fatalf("%s: %v", d.name, err)
		}
		log.Printf("%s listening on %s", d.name, d.addr)
		g.Go(func() error { return sim.Serve(ctx, ln, d.name, d.dev) })
	}
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatal(err)
	}
}
