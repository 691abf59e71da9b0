// Package pointing closes the loop between where the mount thinks it points
// and where it actually points: capture a short exposure, plate-solve it,
// and command the mount by the difference until the error is inside
// tolerance.
package pointing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/ridgeline-obs/obsd/camera"
	"github.com/ridgeline-obs/obsd/schedule"
)

// ErrPointingFailed means this target could not be centered. It is a
// target-level failure: the sequencer skips the target, it never aborts the
// night.
var ErrPointingFailed = errors.New("pointing failed")

// Solution is a successful plate solve.
type Solution struct {
	RADeg       float64
	DecDeg      float64
	RotationDeg float64
}

// Solver is the external plate-solving engine.
type Solver interface {
	Solve(ctx context.Context, imagePath string) (Solution, error)
}

// Mount is the slice of the mount client the corrector needs.
type Mount interface {
	Offset(ctx context.Context, dRADeg, dDecDeg float64) error
}

// Attempt is one capture/solve iteration, kept for the result's audit
// trail.
type Attempt struct {
	Number           int
	Image            string
	Solved           *Solution
	SeparationArcsec float64
}

type Result struct {
	SeparationArcsec float64
	Attempts         []Attempt
}

type Config struct {
	Exposure        camera.Exposure
	ToleranceArcsec float64
	MaxAttempts     int
}

type Corrector struct {
	camera camera.Camera
	solver Solver
	mount  Mount
	cfg    Config
}

func New(cam camera.Camera, solver Solver, mnt Mount, cfg Config) *Corrector {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Corrector{camera: cam, solver: solver, mount: mnt, cfg: cfg}
}

// Correct drives the capture/solve/offset loop for one target.
//
// Transport errors from the camera or mount propagate unchanged so the
// sequencer's fault policy sees them. Two consecutive solver failures are a
// systemic fault (cloud, focus, solver daemon down) and fail immediately:
// there is no point re-capturing.
func (c *Corrector) Correct(ctx context.Context, target *schedule.Target) (Result, error) {
	var result Result
	solveFailures := 0
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		image, err := c.camera.Capture(ctx, c.cfg.Exposure)
		if err != nil {
			return result, err
		}
		rec := Attempt{Number: attempt, Image: image}

		solved, err := c.solver.Solve(ctx, image)
		if err != nil {
			solveFailures++
			log.Printf("pointing: solve %q: %v", image, err)
			result.Attempts = append(result.Attempts, rec)
			if solveFailures >= 2 {
				return result, fmt.Errorf("%w: solver failed twice: %v", ErrPointingFailed, err)
			}
			continue
		}
		solveFailures = 0

		sep := separationArcsec(target.RADeg, target.DecDeg, solved.RADeg, solved.DecDeg)
		rec.Solved = &solved
		rec.SeparationArcsec = sep
		result.Attempts = append(result.Attempts, rec)
		result.SeparationArcsec = sep

		if sep <= c.cfg.ToleranceArcsec {
			return result, nil
		}
		if attempt == c.cfg.MaxAttempts {
			// No capture follows the last attempt; an offset here
			// would move the mount unverified.
			break
		}
		if err := c.mount.Offset(ctx, target.RADeg-solved.RADeg, target.DecDeg-solved.DecDeg); err != nil {
			return result, err
		}
	}
	return result, fmt.Errorf("%w: %.0f arcsec after %d attempts",
		ErrPointingFailed, result.SeparationArcsec, c.cfg.MaxAttempts)
}

// separationArcsec is the small-angle separation between two positions in
// degrees, with the RA term foreshortened by declination.
func separationArcsec(ra1, dec1, ra2, dec2 float64) float64 {
	dRA := ra1 - ra2
	for dRA > 180 {
		dRA -= 360
	}
	for dRA < -180 {
		dRA += 360
	}
	dRA *= math.Cos(dec1 * math.Pi / 180)
	dDec := dec1 - dec2
	return math.Hypot(dRA, dDec) * 3600
}
