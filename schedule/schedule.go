// Package schedule picks the next observation target.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrExhausted means no target is currently visible. It is the normal
// end-of-targets condition, not a fault.
var ErrExhausted = errors.New("schedule: no visible targets")

type Exposure struct {
	Seconds float64 `yaml:"seconds"`
	Filter  string  `yaml:"filter"`
	Count   int     `yaml:"count"`
}

type Target struct {
	Name     string     `yaml:"name"`
	RADeg    float64    `yaml:"ra_deg"`
	DecDeg   float64    `yaml:"dec_deg"`
	Priority int        `yaml:"priority"`
	Plan     []Exposure `yaml:"plan"`
}

// Scheduler yields targets one observation block at a time.
type Scheduler interface {
	Next(ctx context.Context, now time.Time) (*Target, error)
	// MarkDone excludes a target for the rest of the night, whether it
	// completed or was skipped.
	MarkDone(name string)
	// Reset clears the done set for the next night.
	Reset()
}

// Visibility answers whether a fixed RA/Dec position is up.
type Visibility interface {
	TargetAltitude(raDeg, decDeg float64, t time.Time) float64
}

// Catalog is a priority-ordered target list with a horizon constraint.
type Catalog struct {
	vis    Visibility
	minAlt float64

	mu      sync.Mutex
	targets []Target
	done    map[string]bool
}

func NewCatalog(targets []Target, vis Visibility, minAltDeg float64) *Catalog {
	sorted := append([]Target(nil), targets...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	return &Catalog{
		vis:     vis,
		minAlt:  minAltDeg,
		targets: sorted,
		done:    make(map[string]bool),
	}
}

// LoadCatalog reads a YAML target list:
//
//	targets:
//	  - name: M42
//	    ra_deg: 83.82
//	    dec_deg: -5.39
//	    priority: 10
//	    plan:
//	      - {seconds: 120, filter: V, count: 5}
func LoadCatalog(path string, vis Visibility, minAltDeg float64) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file struct {
		Targets []Target `yaml:"targets"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing %q: %w", path, err)
	}
	if len(file.Targets) == 0 {
		return nil, fmt.Errorf("%q: no targets", path)
	}
	for _, t := range file.Targets {
		if t.Name == "" {
			return nil, fmt.Errorf("%q: target without name", path)
		}
		if len(t.Plan) == 0 {
			return nil, fmt.Errorf("%q: target %q has no exposure plan", path, t.Name)
		}
	}
	return NewCatalog(file.Targets, vis, minAltDeg), nil
}

// Next returns the highest-priority unobserved target above the minimum
// altitude, or ErrExhausted.
func (c *Catalog) Next(ctx context.Context, now time.Time) (*Target, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.targets {
		t := &c.targets[i]
		if c.done[t.Name] {
			continue
		}
		if c.vis.TargetAltitude(t.RADeg, t.DecDeg, now) < c.minAlt {
			continue
		}
		copy := *t
		return &copy, nil
	}
	return nil, ErrExhausted
}

func (c *Catalog) MarkDone(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done[name] = true
}

func (c *Catalog) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done = make(map[string]bool)
}
