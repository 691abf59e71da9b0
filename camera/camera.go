// Package camera defines the capture interface and the client for the
// camera control board. The board wraps the actual camera driver and
// answers with the path of the image it wrote.
package camera

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ridgeline-obs/obsd/devlink"
)

type Exposure struct {
	Duration time.Duration
	Filter   string
	// Dark takes the exposure with the shutter closed.
	Dark bool
}

// Camera captures one exposure and returns the image file path.
type Camera interface {
	Capture(ctx context.Context, exp Exposure) (string, error)
}

// Sender is the slice of devlink.Link the client needs.
type Sender interface {
	SendTimeout(ctx context.Context, timeout time.Duration, cmd string, args ...string) (devlink.Response, error)
	Reconnect(ctx context.Context) error
}

type Client struct {
	link Sender
}

func New(link Sender) *Client {
	return &Client{link: link}
}

func (c *Client) Reconnect(ctx context.Context) error {
	return c.link.Reconnect(ctx)
}

// Capture runs one exposure. The board replies only once the image has been
// written, so the reply timeout must cover the exposure plus readout.
func (c *Client) Capture(ctx context.Context, exp Exposure) (string, error) {
	cmd := "EXPOSE"
	if exp.Dark {
		cmd = "DARK"
	}
	args := []string{strconv.FormatFloat(exp.Duration.Seconds(), 'f', 1, 64)}
	if exp.Filter != "" && !exp.Dark {
		args = append(args, exp.Filter)
	}
	resp, err := c.link.SendTimeout(ctx, exp.Duration+30*time.Second, cmd, args...)
	if err != nil {
		return "", err
	}
	if !resp.OK() {
		return "", resp.Err("camera")
	}
	if resp.Payload == "" {
		return "", fmt.Errorf("camera: reply missing image path")
	}
	return resp.Payload, nil
}
