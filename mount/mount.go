// Package mount drives the telescope mount through its device link.
package mount

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ridgeline-obs/obsd/devlink"
)

// Sender is the slice of devlink.Link the client needs.
type Sender interface {
	Send(ctx context.Context, cmd string, args ...string) (devlink.Response, error)
	Reconnect(ctx context.Context) error
}

// Status is one parsed STAT reply.
type Status struct {
	// State is one of "idle", "slewing", "tracking", "parking", "parked".
	State string
	// RA and Dec are the current pointing in degrees.
	RA, Dec float64
}

func (s Status) Settled() bool { return s.State == "tracking" }
func (s Status) Parked() bool  { return s.State == "parked" }

type Client struct {
	link Sender
	// settlePoll is how often to re-read STAT while waiting for a slew
	// or park to complete.
	settlePoll time.Duration
}

func New(link Sender, settlePoll time.Duration) *Client {
	if settlePoll <= 0 {
		settlePoll = time.Second
	}
	return &Client{link: link, settlePoll: settlePoll}
}

// Reconnect re-establishes the mount link; exposed for the sequencer's
// fault-recovery path.
func (c *Client) Reconnect(ctx context.Context) error {
	return c.link.Reconnect(ctx)
}

// Slew commands a slew to RA/Dec in degrees. The command is accepted
// immediately; use WaitSettled to block until the mount is tracking.
func (c *Client) Slew(ctx context.Context, raDeg, decDeg float64) error {
	resp, err := c.link.Send(ctx, "SLEW", coord(raDeg), coord(decDeg))
	if err != nil {
		return err
	}
	return resp.Err("mount")
}

// Offset applies a small pointing correction in degrees without
// interrupting tracking.
func (c *Client) Offset(ctx context.Context, dRADeg, dDecDeg float64) error {
	resp, err := c.link.Send(ctx, "OFFSET", coord(dRADeg), coord(dDecDeg))
	if err != nil {
		return err
	}
	return resp.Err("mount")
}

// Park commands a move to the park position.
func (c *Client) Park(ctx context.Context) error {
	resp, err := c.link.Send(ctx, "PARK")
	if err != nil {
		return err
	}
	return resp.Err("mount")
}

// Stop halts all mount motion.
func (c *Client) Stop(ctx context.Context) error {
	resp, err := c.link.Send(ctx, "STOP")
	if err != nil {
		return err
	}
	return resp.Err("mount")
}

// Status reads and parses one STAT reply, e.g.
// "ok state=slewing ra=187.25 dec=-14.80".
func (c *Client) Status(ctx context.Context) (Status, error) {
	resp, err := c.link.Send(ctx, "STAT")
	if err != nil {
		return Status{}, err
	}
	if !resp.OK() {
		return Status{}, resp.Err("mount")
	}
	return parseStatus(resp.Payload)
}

// WaitSettled polls until the mount reports tracking. Bounded by ctx.
func (c *Client) WaitSettled(ctx context.Context) error {
	return c.waitFor(ctx, Status.Settled, "settle")
}

// WaitParked polls until the mount reports parked. Bounded by ctx.
func (c *Client) WaitParked(ctx context.Context) error {
	return c.waitFor(ctx, Status.Parked, "park")
}

func (c *Client) waitFor(ctx context.Context, done func(Status) bool, what string) error {
	ticker := time.NewTicker(c.settlePoll)
	defer ticker.Stop()
	for {
		status, err := c.Status(ctx)
		if err != nil {
			return err
		}
		if done(status) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for mount to %s: %w", what, ctx.Err())
		case <-ticker.C:
		}
	}
}

func coord(deg float64) string {
	return strconv.FormatFloat(deg, 'f', 5, 64)
}

func parseStatus(payload string) (Status, error) {
	fields := devlink.Fields(payload)
	s := Status{State: fields["state"]}
	if s.State == "" {
		return Status{}, fmt.Errorf("mount: reply missing state: %q", payload)
	}
	for key, dest := range map[string]*float64{"ra": &s.RA, "dec": &s.Dec} {
		raw, ok := fields[key]
		if !ok {
			return Status{}, fmt.Errorf("mount: reply missing %q", key)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Status{}, fmt.Errorf("mount: parsing %s=%q: %w", key, raw, err)
		}
		*dest = v
	}
	return s, nil
}
