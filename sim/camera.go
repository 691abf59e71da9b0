package sim

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Camera simulates the camera control board. Exposures take real time
// scaled by Rate; the reply carries a fabricated image path, matching the
// board's contract of answering only after the image is on disk.
type Camera struct {
	// Rate scales exposure durations; 0.01 makes a 120 s exposure
	// finish in 1.2 s for tests.
	Rate float64
	Dir  string

	mu    sync.Mutex
	count int
}

func NewCamera() *Camera {
	return &Camera{Rate: 1.0, Dir: "/tmp/obsim"}
}

func (c *Camera) Handle(ctx context.Context, cmd string, args []string) string {
	switch cmd {
	case "EXPOSE", "DARK":
	default:
		return fmt.Sprintf("err unknown command %q", cmd)
	}
	if len(args) < 1 {
		return fmt.Sprintf("err %s needs seconds", cmd)
	}
	secs, err := strconv.ParseFloat(args[0], 64)
	if err != nil || secs < 0 {
		return "err bad exposure duration"
	}
	select {
	case <-ctx.Done():
		return "err aborted"
	case <-time.After(time.Duration(secs * c.Rate * float64(time.Second))):
	}
	c.mu.Lock()
	c.count++
	n := c.count
	c.mu.Unlock()
	kind := "light"
	if cmd == "DARK" {
		kind = "dark"
	}
	return fmt.Sprintf("ok %s/%s-%04d.fits", c.Dir, kind, n)
}
