// Package weather reads the weather station through its device link.
package weather

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
}

type Sample struct {
	WindMps     float64
	HumidityPct float64
	AmbientC    float64
	// SkyC is the IR sky temperature; a sky much colder than ambient
	// means clear skies.
	SkyC    float64
	Raining bool
	At      time.Time
}

type Client struct {
	link Sender
}

func New(link Sender) *Client {
	return &Client{link: link}
}

// Sample requests one reading. The station answers
// "ok wind=3.2 hum=54 ambient=12.5 sky=-18.0 rain=0".
func (c *Client) Sample(ctx context.Context) (Sample, error) {
	resp, err := c.link.Send(ctx, "WX")
	if err != nil {
		return Sample{}, err
	}
	if !resp.OK() {
		return Sample{}, resp.Err("weather")
	}
	return parseSample(resp.Payload)
}

func parseSample(payload string) (Sample, error) {
	fields := devlink.Fields(payload)
	s := Sample{At: time.Now()}
	for key, dest := range map[string]*float64{
		"wind":    &s.WindMps,
		"hum":     &s.HumidityPct,
		"ambient": &s.AmbientC,
		"sky":     &s.SkyC,
	} {
		raw, ok := fields[key]
		if !ok {
			return Sample{}, fmt.Errorf("weather: reply missing %q", key)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Sample{}, fmt.Errorf("weather: parsing %s=%q: %w", key, raw, err)
		}
		*dest = v
	}
	s.Raining = fields["rain"] == "1"
	return s, nil
}
