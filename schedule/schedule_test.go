package schedule

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// fakeSky returns a fixed altitude per target RA.
type fakeSky struct {
	alt map[float64]float64
}

func (f *fakeSky) TargetAltitude(raDeg, decDeg float64, t time.Time) float64 {
	return f.alt[raDeg]
}

func plan() []Exposure {
	return []Exposure{{Seconds: 120, Filter: "V", Count: 3}}
}

func TestNextPrefersPriority(t *testing.T) {
	sky := &fakeSky{alt: map[float64]float64{10: 60, 20: 60}}
	c := NewCatalog([]Target{
		{Name: "low", RADeg: 10, Priority: 1, Plan: plan()},
		{Name: "high", RADeg: 20, Priority: 9, Plan: plan()},
	}, sky, 30)

	got, err := c.Next(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("next failed: %v", err)
	}
	if got.Name != "high" {
		t.Errorf("next: got %q, want %q", got.Name, "high")
	}
}

func TestNextSkipsBelowHorizon(t *testing.T) {
	sky := &fakeSky{alt: map[float64]float64{10: 12, 20: 45}}
	c := NewCatalog([]Target{
		{Name: "setting", RADeg: 10, Priority: 9, Plan: plan()},
		{Name: "up", RADeg: 20, Priority: 1, Plan: plan()},
	}, sky, 30)

	got, err := c.Next(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("next failed: %v", err)
	}
	if got.Name != "up" {
		t.Errorf("next: got %q, want %q", got.Name, "up")
	}
}

func TestMarkDoneAndReset(t *testing.T) {
	sky := &fakeSky{alt: map[float64]float64{10: 60}}
	c := NewCatalog([]Target{{Name: "only", RADeg: 10, Plan: plan()}}, sky, 30)
	now := time.Now()

	if _, err := c.Next(context.Background(), now); err != nil {
		t.Fatalf("next failed: %v", err)
	}
	c.MarkDone("only")
	if _, err := c.Next(context.Background(), now); !errors.Is(err, ErrExhausted) {
		t.Fatalf("next after done: got %v, want ErrExhausted", err)
	}
	c.Reset()
	if _, err := c.Next(context.Background(), now); err != nil {
		t.Errorf("next after reset failed: %v", err)
	}
}

func TestNextReturnsCopy(t *testing.T) {
	sky := &fakeSky{alt: map[float64]float64{10: 60}}
	c := NewCatalog([]Target{{Name: "only", RADeg: 10, Plan: plan()}}, sky, 30)
	got, err := c.Next(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("next failed: %v", err)
	}
	got.Name = "mutated"
	again, err := c.Next(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("next failed: %v", err)
	}
	if again.Name != "only" {
		t.Errorf("catalog entry mutated through returned target: %q", again.Name)
	}
}

const catalogYAML = `
targets:
  - name: M42
    ra_deg: 83.82
    dec_deg: -5.39
    priority: 10
    plan:
      - {seconds: 120, filter: V, count: 5}
      - {seconds: 60, filter: B, count: 2}
  - name: M81
    ra_deg: 148.89
    dec_deg: 69.07
    priority: 5
    plan:
      - {seconds: 300, filter: L, count: 4}
`

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.yaml")
	if err := os.WriteFile(path, []byte(catalogYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	sky := &fakeSky{alt: map[float64]float64{83.82: 60, 148.89: 60}}
	c, err := LoadCatalog(path, sky, 30)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	got, err := c.Next(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("next failed: %v", err)
	}
	if got.Name != "M42" || len(got.Plan) != 2 || got.Plan[0].Count != 5 {
		t.Errorf("unexpected first target: %+v", got)
	}
}

func TestLoadCatalogRejectsBadFiles(t *testing.T) {
	for _, test := range []struct {
		name string
		yaml string
	}{
		{"empty", "targets: []"},
		{"unnamed target", "targets:\n  - ra_deg: 10\n    plan:\n      - {seconds: 10}"},
		{"no plan", "targets:\n  - name: M42\n    ra_deg: 10"},
		{"not yaml", "{{{"},
	} {
		t.Run(test.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "targets.yaml")
			if err := os.WriteFile(path, []byte(test.yaml), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadCatalog(path, &fakeSky{}, 30); err == nil {
				t.Error("load accepted a bad catalog")
			}
		})
	}
}
