package pointing

import (
	"context"
	"fmt"
	"log"

	"github.com/ridgeline-obs/obsd/schedule"
)

// TrackingCheck re-solves the last science frame of a target and logs how
// far tracking drifted over the exposure plan. It is advisory: results go
// to the log, errors go back to the caller, nothing is aborted.
type TrackingCheck struct {
	Solver Solver
}

func (t *TrackingCheck) Analyze(ctx context.Context, target *schedule.Target, images []string) error {
	var last string
	for i := len(images) - 1; i >= 0; i-- {
		if images[i] != "" {
			last = images[i]
			break
		}
	}
	if last == "" {
		return fmt.Errorf("%s: no usable frames", target.Name)
	}
	solved, err := t.Solver.Solve(ctx, last)
	if err != nil {
		return fmt.Errorf("solving %q: %w", last, err)
	}
	drift := separationArcsec(target.RADeg, target.DecDeg, solved.RADeg, solved.DecDeg)
	log.Printf("analyze: %s drifted %.0f arcsec over %d frames", target.Name, drift, len(images))
	return nil
}
