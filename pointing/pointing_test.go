package pointing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/ridgeline-obs/obsd/camera"
	"github.com/ridgeline-obs/obsd/devlink"
	"github.com/ridgeline-obs/obsd/schedule"
)

type fakeCamera struct {
	captures int
	err      error
}

func (f *fakeCamera) Capture(ctx context.Context, exp camera.Exposure) (string, error) {
	f.captures++
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("/img/%04d.fits", f.captures), nil
}

// fakeSolver pops one canned answer per call.
type fakeSolver struct {
	answers []func() (Solution, error)
	calls   int
}

func (f *fakeSolver) Solve(ctx context.Context, imagePath string) (Solution, error) {
	if f.calls >= len(f.answers) {
		return Solution{}, errors.New("no more canned answers")
	}
	answer := f.answers[f.calls]
	f.calls++
	return answer()
}

func solved(ra, dec float64) func() (Solution, error) {
	return func() (Solution, error) { return Solution{RADeg: ra, DecDeg: dec}, nil }
}

func unsolved() (Solution, error) {
	return Solution{}, errors.New("no stars detected")
}

type fakeMount struct {
	offsets int
	err     error
}

func (f *fakeMount) Offset(ctx context.Context, dRADeg, dDecDeg float64) error {
	f.offsets++
	return f.err
}

var m42 = &schedule.Target{Name: "M42", RADeg: 83.82, DecDeg: -5.39}

func testConfig() Config {
	return Config{ToleranceArcsec: 180, MaxAttempts: 3}
}

func TestCorrectFirstTry(t *testing.T) {
	cam := &fakeCamera{}
	mnt := &fakeMount{}
	// 36 arcsec off in dec: inside tolerance.
	c := New(cam, &fakeSolver{answers: []func() (Solution, error){solved(83.82, -5.38)}}, mnt, testConfig())
	result, err := c.Correct(context.Background(), m42)
	if err != nil {
		t.Fatalf("correct failed: %v", err)
	}
	if mnt.offsets != 0 {
		t.Errorf("offsets: got %d, want 0", mnt.offsets)
	}
	if len(result.Attempts) != 1 {
		t.Errorf("attempts: got %d, want 1", len(result.Attempts))
	}
}

func TestCorrectConvergesAfterOffset(t *testing.T) {
	cam := &fakeCamera{}
	mnt := &fakeMount{}
	c := New(cam, &fakeSolver{answers: []func() (Solution, error){
		solved(84.0, -5.2), // ~0.25 deg off: offset commanded
		solved(83.82, -5.39),
	}}, mnt, testConfig())
	result, err := c.Correct(context.Background(), m42)
	if err != nil {
		t.Fatalf("correct failed: %v", err)
	}
	if mnt.offsets != 1 {
		t.Errorf("offsets: got %d, want 1", mnt.offsets)
	}
	if len(result.Attempts) != 2 {
		t.Errorf("attempts: got %d, want 2", len(result.Attempts))
	}
}

func TestCorrectTwoSolveFailuresIsSystemic(t *testing.T) {
	// Two consecutive solver failures must fail immediately without
	// burning the remaining attempts on more captures.
	cam := &fakeCamera{}
	c := New(cam, &fakeSolver{answers: []func() (Solution, error){unsolved, unsolved}}, &fakeMount{}, testConfig())
	_, err := c.Correct(context.Background(), m42)
	if !errors.Is(err, ErrPointingFailed) {
		t.Fatalf("correct: got %v, want ErrPointingFailed", err)
	}
	if cam.captures != 2 {
		t.Errorf("captures: got %d, want 2", cam.captures)
	}
}

func TestCorrectSolveFailureCounterResets(t *testing.T) {
	// fail, solve, fail, solve: never two consecutive failures, so the
	// loop keeps going until attempts run out.
	c := New(&fakeCamera{}, &fakeSolver{answers: []func() (Solution, error){
		unsolved,
		solved(84.5, -5.0),
		unsolved,
	}}, &fakeMount{}, testConfig())
	_, err := c.Correct(context.Background(), m42)
	if !errors.Is(err, ErrPointingFailed) {
		t.Fatalf("correct: got %v, want ErrPointingFailed", err)
	}
}

func TestCorrectNeverConverges(t *testing.T) {
	mnt := &fakeMount{}
	c := New(&fakeCamera{}, &fakeSolver{answers: []func() (Solution, error){
		solved(85.0, -5.39),
		solved(85.0, -5.39),
		solved(85.0, -5.39),
	}}, mnt, testConfig())
	_, err := c.Correct(context.Background(), m42)
	if !errors.Is(err, ErrPointingFailed) {
		t.Fatalf("correct: got %v, want ErrPointingFailed", err)
	}
	// The final out-of-tolerance solve commands no offset: nothing would
	// verify the move before the target is skipped.
	if mnt.offsets != 2 {
		t.Errorf("offsets: got %d, want 2", mnt.offsets)
	}
}

func TestCorrectTransportErrorPropagates(t *testing.T) {
	// A dead camera is a device fault, not a pointing failure: the
	// caller's recovery policy must see the original error.
	wantErr := &devlink.UnreachableError{Device: "camera", Err: errors.New("timeout")}
	cam := &fakeCamera{err: wantErr}
	c := New(cam, &fakeSolver{}, &fakeMount{}, testConfig())
	_, err := c.Correct(context.Background(), m42)
	if !errors.Is(err, devlink.ErrUnreachable) {
		t.Fatalf("correct: got %v, want ErrUnreachable", err)
	}
	if errors.Is(err, ErrPointingFailed) {
		t.Error("transport error wrongly wrapped as pointing failure")
	}
}

func TestSeparationArcsec(t *testing.T) {
	for _, test := range []struct {
		name                 string
		ra1, dec1, ra2, dec2 float64
		want                 float64
		tol                  float64
	}{
		{"identical", 83.82, -5.39, 83.82, -5.39, 0, 0.01},
		{"one arcmin dec", 10, 20, 10, 20 + 1.0/60, 60, 0.01},
		{"ra foreshortened at pole", 10, 89, 11, 89, 3600 * math.Cos(89*math.Pi/180), 0.5},
		{"ra wrap", 359.9, 0, 0.1, 0, 720, 0.01},
	} {
		t.Run(test.name, func(t *testing.T) {
			got := separationArcsec(test.ra1, test.dec1, test.ra2, test.dec2)
			if math.Abs(got-test.want) > test.tol {
				t.Errorf("separation: got %.2f, want %.2f", got, test.want)
			}
		})
	}
}
