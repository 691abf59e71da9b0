package sim

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/ridgeline-obs/obsd/devlink"
	"github.com/ridgeline-obs/obsd/weather"
)

type pipeDialer struct {
	conn io.ReadWriteCloser
}

func (d *pipeDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	if d.conn == nil {
		return nil, errors.New("already dialed")
	}
	conn := d.conn
	d.conn = nil
	return conn, nil
}

func (d *pipeDialer) String() string { return "pipe" }

// The weather client and the simulator speak the same wire protocol; this
// exercises the whole path through a real device link.
func TestWeatherOverLink(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	near, far := net.Pipe()
	wx := NewWeather()
	go HandleConn(ctx, far, "weather", wx)

	link := devlink.New("weather", &pipeDialer{conn: near}, time.Second, devlink.DefaultRetry)
	if err := link.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer link.Close()
	client := weather.New(link)

	sample, err := client.Sample(ctx)
	if err != nil {
		t.Fatalf("sample failed: %v", err)
	}
	if sample.Raining {
		t.Error("default conditions report rain")
	}
	if sample.WindMps < 1 || sample.WindMps > 3 {
		t.Errorf("wind %.1f outside the simulated base range", sample.WindMps)
	}

	wx.Set(12, 97, 8, 6, true)
	sample, err = client.Sample(ctx)
	if err != nil {
		t.Fatalf("sample failed: %v", err)
	}
	if !sample.Raining {
		t.Error("storm conditions report no rain")
	}
	if sample.WindMps < 11 {
		t.Errorf("wind %.1f, want storm speeds", sample.WindMps)
	}
}

func TestCameraExposureReply(t *testing.T) {
	cam := NewCamera()
	cam.Rate = 0 // instant exposures
	got := cam.Handle(context.Background(), "EXPOSE", []string{"120.0", "V"})
	if got != "ok /tmp/obsim/light-0001.fits" {
		t.Errorf("EXPOSE reply %q", got)
	}
	got = cam.Handle(context.Background(), "DARK", []string{"60.0"})
	if got != "ok /tmp/obsim/dark-0002.fits" {
		t.Errorf("DARK reply %q", got)
	}
	if got := cam.Handle(context.Background(), "EXPOSE", []string{"-1"}); got != "err bad exposure duration" {
		t.Errorf("negative exposure reply %q", got)
	}
}
