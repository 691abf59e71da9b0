package sim

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
)

// Weather simulates the weather station. Conditions default to a clear
// calm night; Set drives them from tests or the obsim command line.
type Weather struct {
	mu      sync.Mutex
	wind    float64
	hum     float64
	ambient float64
	sky     float64
	raining bool
	// jitter adds a little noise per reading so dashboards look alive.
	jitter float64
}

func NewWeather() *Weather {
	return &Weather{wind: 2.0, hum: 45, ambient: 10, sky: -15, jitter: 0.3}
}

// Set replaces the base conditions.
func (w *Weather) Set(wind, hum, ambient, sky float64, raining bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.wind, w.hum, w.ambient, w.sky, w.raining = wind, hum, ambient, sky, raining
}

func (w *Weather) Handle(ctx context.Context, cmd string, args []string) string {
	if cmd != "WX" {
		return fmt.Sprintf("err unknown command %q", cmd)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	rain := 0
	if w.raining {
		rain = 1
	}
	n := func(base float64) float64 {
		return base + (rand.Float64()*2-1)*w.jitter
	}
	return fmt.Sprintf("ok wind=%.1f hum=%.0f ambient=%.1f sky=%.1f rain=%d",
		n(w.wind), n(w.hum), n(w.ambient), n(w.sky), rain)
}
