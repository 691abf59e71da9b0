// Package solve invokes the external plate-solving engine and parses its
// report into a sky position.
package solve

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"github.com/ridgeline-obs/obsd/pointing"
)

var (
	centerRe   = regexp.MustCompile(`Field center: \(RA,Dec\) = \(([0-9.+-]+), ([0-9.+-]+)\) deg`)
	rotationRe = regexp.MustCompile(`Field rotation angle: up is ([0-9.+-]+) degrees`)
)

// Field runs the astrometry.net solve-field program on a captured image.
// The engine is an external collaborator; a non-zero exit or an unparsable
// report both count as a solve failure.
type Field struct {
	Command string
	Timeout time.Duration
	// Args are appended before the image path.
	Args []string
}

func New(command string, timeout time.Duration) *Field {
	if command == "" {
		command = "solve-field"
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Field{
		Command: command,
		Timeout: timeout,
		Args:    []string{"--overwrite", "--no-plots", "--crpix-center"},
	}
}

func (f *Field) Solve(ctx context.Context, imagePath string) (pointing.Solution, error) {
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	args := append(append([]string(nil), f.Args...), imagePath)
	out, err := exec.CommandContext(ctx, f.Command, args...).CombinedOutput()
	if err != nil {
		return pointing.Solution{}, fmt.Errorf("%s %q: %w", f.Command, imagePath, err)
	}
	return parseReport(out)
}

func parseReport(out []byte) (pointing.Solution, error) {
	m := centerRe.FindSubmatch(out)
	if m == nil {
		return pointing.Solution{}, fmt.Errorf("no field center in solver report")
	}
	ra, err := strconv.ParseFloat(string(m[1]), 64)
	if err != nil {
		return pointing.Solution{}, fmt.Errorf("field center RA: %w", err)
	}
	dec, err := strconv.ParseFloat(string(m[2]), 64)
	if err != nil {
		return pointing.Solution{}, fmt.Errorf("field center Dec: %w", err)
	}
	sol := pointing.Solution{RADeg: ra, DecDeg: dec}
	if r := rotationRe.FindSubmatch(out); r != nil {
		sol.RotationDeg, _ = strconv.ParseFloat(string(r[1]), 64)
	}
	return sol, nil
}
