package sim

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"
)

const (
	// Slew rate in degrees/second.
	slewRate = 4.0
	// Discrete simulation step size.
	stepSize = 25 * time.Millisecond
	// Settle threshold in degrees.
	settleTol = 0.01

	parkRA  = 0.0
	parkDec = 90.0
)

// Mount simulates an equatorial mount with a finite slew rate. It starts
// parked; Run drives the position toward the commanded target.
type Mount struct {
	mu      sync.Mutex
	state   string
	ra, dec float64
	// targetRA/targetDec are where the current move is headed.
	targetRA, targetDec float64
}

func NewMount() *Mount {
	return &Mount{state: "parked", ra: parkRA, dec: parkDec, targetRA: parkRA, targetDec: parkDec}
}

// Run steps the mount until ctx is done.
func (m *Mount) Run(ctx context.Context) error {
	t := time.NewTicker(stepSize)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		m.step()
	}
}

func (m *Mount) step() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != "slewing" && m.state != "parking" {
		return
	}
	dRA := shortestRA(m.targetRA - m.ra)
	dDec := m.targetDec - m.dec
	if math.Abs(dRA) < settleTol && math.Abs(dDec) < settleTol {
		m.ra, m.dec = m.targetRA, m.targetDec
		if m.state == "parking" {
			m.state = "parked"
		} else {
			m.state = "tracking"
		}
		return
	}
	maxStep := slewRate * stepSize.Seconds()
	m.ra = math.Mod(m.ra+clamp(dRA, maxStep)+360, 360)
	m.dec += clamp(dDec, maxStep)
}

func clamp(d, max float64) float64 {
	if d > max {
		return max
	}
	if d < -max {
		return -max
	}
	return d
}

// shortestRA maps an RA difference to [-180, 180).
func shortestRA(d float64) float64 {
	d = math.Mod(d+540, 360)
	return d - 180
}

func (m *Mount) Handle(ctx context.Context, cmd string, args []string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch cmd {
	case "SLEW":
		if len(args) != 2 {
			return "err SLEW needs ra dec"
		}
		ra, err1 := strconv.ParseFloat(args[0], 64)
		dec, err2 := strconv.ParseFloat(args[1], 64)
		if err1 != nil || err2 != nil {
			return "err bad coordinates"
		}
		m.targetRA, m.targetDec = ra, dec
		m.state = "slewing"
		return "ok"
	case "OFFSET":
		if len(args) != 2 {
			return "err OFFSET needs dra ddec"
		}
		dra, err1 := strconv.ParseFloat(args[0], 64)
		ddec, err2 := strconv.ParseFloat(args[1], 64)
		if err1 != nil || err2 != nil {
			return "err bad offset"
		}
		if m.state != "tracking" {
			return "err not tracking"
		}
		m.targetRA = math.Mod(m.targetRA+dra+360, 360)
		m.targetDec += ddec
		m.ra, m.dec = m.targetRA, m.targetDec
		return "ok"
	case "PARK":
		m.targetRA, m.targetDec = parkRA, parkDec
		m.state = "parking"
		return "ok"
	case "STOP":
		if m.state == "parked" {
			return "ok"
		}
		m.state = "idle"
		return "ok"
	case "STAT":
		return fmt.Sprintf("ok state=%s ra=%.5f dec=%.5f", m.state, m.ra, m.dec)
	}
	return fmt.Sprintf("err unknown command %q", cmd)
}
