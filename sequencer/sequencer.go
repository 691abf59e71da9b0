// Package sequencer drives the nightly observation cycle: wake at dusk,
// pick a target, slew, correct pointing, image, analyze, repeat; park on
// anything unsafe or unrecoverable.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ridgeline-obs/obsd/camera"
	"github.com/ridgeline-obs/obsd/devlink"
	"github.com/ridgeline-obs/obsd/events"
	"github.com/ridgeline-obs/obsd/metrics"
	"github.com/ridgeline-obs/obsd/pointing"
	"github.com/ridgeline-obs/obsd/safety"
	"github.com/ridgeline-obs/obsd/schedule"
)

// Mount is the slice of the mount client the sequencer needs.
type Mount interface {
	Slew(ctx context.Context, raDeg, decDeg float64) error
	WaitSettled(ctx context.Context) error
	Park(ctx context.Context) error
	WaitParked(ctx context.Context) error
}

// Corrector closes the pointing loop for one target.
type Corrector interface {
	Correct(ctx context.Context, target *schedule.Target) (pointing.Result, error)
}

// Safety supplies the current safety verdict.
type Safety interface {
	Current() safety.Verdict
}

// Nightfall answers whether the observing window is open.
type Nightfall interface {
	IsNight(t time.Time) bool
}

// PowerControl switches the mount/camera supply rails.
type PowerControl interface {
	Rails(ctx context.Context, on bool) error
}

// Reconnector re-establishes one device link; used by the fault-recovery
// path. Keyed by the devlink name carried in UnreachableError.
type Reconnector interface {
	Reconnect(ctx context.Context) error
}

// Analyzer runs post-imaging analysis. Failures are logged, never fatal to
// the sequence.
type Analyzer interface {
	Analyze(ctx context.Context, target *schedule.Target, images []string) error
}

// Status is the read-only snapshot pushed to observers on every change.
type Status struct {
	State      State     `json:"state"`
	StateName  string    `json:"state_name"`
	Since      time.Time `json:"since"`
	Target     string    `json:"target,omitempty"`
	Images     int       `json:"images"`
	Safe       bool      `json:"safe"`
	SafeReason string    `json:"safe_reason,omitempty"`
}

type StatusCallback func(status Status)

type Config struct {
	// IdlePoll paces the Sleeping state's dusk/safety checks.
	IdlePoll time.Duration
	// SlewTimeout bounds slew plus settle; ParkTimeout bounds parking.
	SlewTimeout time.Duration
	ParkTimeout time.Duration
	// DarkPlan is captured during Housekeeping.
	DarkPlan []camera.Exposure
}

type Deps struct {
	Safety    Safety
	Night     Nightfall
	Mount     Mount
	Camera    camera.Camera
	Corrector Corrector
	Scheduler schedule.Scheduler
	Recorder  *events.Recorder
	// Devices maps devlink names to their reconnectable clients.
	Devices map[string]Reconnector
	// Power and Analyzer may be nil.
	Power    PowerControl
	Analyzer Analyzer

	StatusCallback StatusCallback
}

type Sequencer struct {
	cfg   Config
	deps  Deps
	clock func() time.Time

	mu        sync.Mutex
	state     State
	since     time.Time
	target    *schedule.Target
	images    []string
	recovered bool
	parkWant  bool
	parkWhy   string
}

func New(cfg Config, deps Deps) *Sequencer {
	if cfg.IdlePoll <= 0 {
		cfg.IdlePoll = 10 * time.Second
	}
	if cfg.SlewTimeout <= 0 {
		cfg.SlewTimeout = 5 * time.Minute
	}
	if cfg.ParkTimeout <= 0 {
		cfg.ParkTimeout = 5 * time.Minute
	}
	return &Sequencer{
		cfg:   cfg,
		deps:  deps,
		clock: time.Now,
		state: Sleeping,
		since: time.Now(),
	}
}

// State returns the current state.
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the current snapshot.
func (s *Sequencer) Status() Status {
	v := s.deps.Safety.Current()
	s.mu.Lock()
	defer s.mu.Unlock()
	status := Status{
		State:      s.state,
		StateName:  s.state.String(),
		Since:      s.since,
		Images:     len(s.images),
		Safe:       v.Safe,
		SafeReason: v.Reason,
	}
	if s.target != nil {
		status.Target = s.target.Name
	}
	return status
}

// RequestPark asks the run loop to park at the next step; used by the
// supervisor's dawn cutoff and the operator console.
func (s *Sequencer) RequestPark(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parkWant = true
	s.parkWhy = reason
}

// ClearPark cancels a pending park request.
func (s *Sequencer) ClearPark() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parkWant = false
	s.parkWhy = ""
}

// Reset prepares the machine for a supervisor restart. Most states restart
// the cycle from Sleeping; an interrupted park resumes in Parking so the
// mount never stays unparked across a restart.
func (s *Sequencer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Parking {
		s.state = Sleeping
	}
	s.since = s.clock()
	s.target = nil
	s.images = nil
	s.recovered = false
}

// Run executes the state machine until ctx is canceled or an unexpected
// fault escapes. Only the supervisor calls Run.
func (s *Sequencer) Run(ctx context.Context) error {
	s.notifyStatus()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.step(ctx); err != nil {
			return err
		}
	}
}

// step executes exactly one control step: the safety guard, then the logic
// of the current state. At most one transition happens per step.
func (s *Sequencer) step(ctx context.Context) error {
	st := s.State()

	// Guard: unsafe preempts everything in hardware-active states.
	if needsSafety(st) {
		if v := s.deps.Safety.Current(); !v.Safe {
			s.transition(Parking, events.CauseUnsafe, v.Reason)
			return nil
		}
		s.mu.Lock()
		want, why := s.parkWant, s.parkWhy
		s.parkWant, s.parkWhy = false, ""
		s.mu.Unlock()
		if want {
			s.transition(Parking, "park-requested", why)
			return nil
		}
	}

	switch st {
	case Sleeping:
		return s.stepSleeping(ctx)
	case Ready:
		return s.stepReady(ctx)
	case Scheduling:
		return s.stepScheduling(ctx)
	case Slewing:
		return s.stepSlewing(ctx)
	case Pointing:
		return s.stepPointing(ctx)
	case Imaging:
		return s.stepImaging(ctx)
	case Analyzing:
		return s.stepAnalyzing(ctx)
	case Parking:
		return s.stepParking(ctx)
	case Parked:
		s.transition(Housekeeping, "housekeeping")
		return nil
	case Housekeeping:
		return s.stepHousekeeping(ctx)
	}
	return fmt.Errorf("sequencer: unknown state %v", st)
}

func (s *Sequencer) stepSleeping(ctx context.Context) error {
	now := s.clock()
	if s.deps.Night.IsNight(now) && s.deps.Safety.Current().Safe {
		s.transition(Ready, "dusk")
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.cfg.IdlePoll):
	}
	return nil
}

func (s *Sequencer) stepReady(ctx context.Context) error {
	if s.deps.Power != nil {
		if err := s.deps.Power.Rails(ctx, true); err != nil {
			// The battery floor check fails closed if the rails
			// are genuinely dead.
			log.Printf("sequencer: powering rails: %v", err)
		}
	}
	s.transition(Scheduling, "ready")
	return nil
}

func (s *Sequencer) stepScheduling(ctx context.Context) error {
	target, err := s.deps.Scheduler.Next(ctx, s.clock())
	if errors.Is(err, schedule.ErrExhausted) {
		s.transition(Parking, events.CauseSchedulerExhausted, "no visible targets")
		return nil
	}
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	s.mu.Lock()
	s.target = target
	s.images = nil
	s.mu.Unlock()
	s.transition(Slewing, "target", target.Name)
	return nil
}

func (s *Sequencer) stepSlewing(ctx context.Context) error {
	s.mu.Lock()
	target := s.target
	s.mu.Unlock()
	slewCtx, cancel := context.WithTimeout(ctx, s.cfg.SlewTimeout)
	defer cancel()
	err := s.deps.Mount.Slew(slewCtx, target.RADeg, target.DecDeg)
	if err == nil {
		err = s.deps.Mount.WaitSettled(slewCtx)
	}
	switch {
	case err == nil:
		s.transition(Pointing, "slew-complete")
	case errors.Is(err, devlink.ErrUnreachable):
		s.recoverDevice(ctx, err)
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		// A slew timeout or a mount refusal is a hardware fault,
		// unsafe-equivalent.
		s.transition(Parking, events.CauseDeviceUnreachable, fmt.Sprintf("slew: %v", err))
	}
	return nil
}

func (s *Sequencer) stepPointing(ctx context.Context) error {
	s.mu.Lock()
	target := s.target
	s.mu.Unlock()
	result, err := s.deps.Corrector.Correct(ctx, target)
	switch {
	case err == nil:
		s.transition(Imaging, "pointing-ok",
			fmt.Sprintf("offset %.0f arcsec after %d attempts", result.SeparationArcsec, len(result.Attempts)))
	case errors.Is(err, pointing.ErrPointingFailed):
		// One bad target must not abort the night: skip it and ask
		// the scheduler for another.
		metrics.TargetsSkipped.Inc()
		s.deps.Scheduler.MarkDone(target.Name)
		s.mu.Lock()
		s.target = nil
		s.mu.Unlock()
		s.transition(Scheduling, events.CausePointingFailed, err.Error())
	case errors.Is(err, devlink.ErrUnreachable):
		s.recoverDevice(ctx, err)
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return fmt.Errorf("pointing: %w", err)
	}
	return nil
}

func (s *Sequencer) stepImaging(ctx context.Context) error {
	s.mu.Lock()
	target := s.target
	captured := len(s.images)
	s.mu.Unlock()

	// One exposure at a time; after a reconnect the step resumes where
	// it left off instead of re-shooting the whole plan.
	idx := 0
	for _, exp := range target.Plan {
		count := exp.Count
		if count < 1 {
			count = 1
		}
		for i := 0; i < count; i++ {
			idx++
			if idx <= captured {
				continue
			}
			image, err := s.deps.Camera.Capture(ctx, camera.Exposure{
				Duration: time.Duration(exp.Seconds * float64(time.Second)),
				Filter:   exp.Filter,
			})
			switch {
			case err == nil:
				s.mu.Lock()
				s.images = append(s.images, image)
				s.mu.Unlock()
			case errors.Is(err, devlink.ErrUnreachable):
				s.recoverDevice(ctx, err)
				return nil
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				// A single failed exposure is not fatal; record
				// it and move on.
				s.recordError("ExposureFailed", fmt.Sprintf("exposure %d: %v", idx, err))
				s.mu.Lock()
				s.images = append(s.images, "")
				s.mu.Unlock()
			}
			// Unsafe must interrupt between exposures, not after
			// the whole plan.
			if v := s.deps.Safety.Current(); !v.Safe {
				s.transition(Parking, events.CauseUnsafe, v.Reason)
				return nil
			}
		}
	}
	s.transition(Analyzing, "exposures-complete", fmt.Sprintf("%d exposures", idx))
	return nil
}

func (s *Sequencer) stepAnalyzing(ctx context.Context) error {
	s.mu.Lock()
	target := s.target
	images := append([]string(nil), s.images...)
	s.mu.Unlock()
	if s.deps.Analyzer != nil {
		if err := s.deps.Analyzer.Analyze(ctx, target, images); err != nil {
			// Analysis failures are logged, never fatal to the
			// sequence.
			log.Printf("sequencer: analyzing %s: %v", target.Name, err)
			s.recordError("AnalysisFailed", err.Error())
		}
	}
	s.deps.Scheduler.MarkDone(target.Name)
	metrics.TargetsCompleted.Inc()
	s.mu.Lock()
	s.target = nil
	s.mu.Unlock()
	s.transition(Scheduling, "analysis-complete")
	return nil
}

func (s *Sequencer) stepParking(ctx context.Context) error {
	parkCtx, cancel := context.WithTimeout(ctx, s.cfg.ParkTimeout)
	defer cancel()
	err := s.deps.Mount.Park(parkCtx)
	if err == nil {
		err = s.deps.Mount.WaitParked(parkCtx)
	}
	switch {
	case err == nil:
		s.transition(Parked, "parked")
		return nil
	case errors.Is(err, devlink.ErrUnreachable):
		s.mu.Lock()
		recovered := s.recovered
		s.mu.Unlock()
		if !recovered {
			if rerr := s.reconnect(ctx, err); rerr == nil {
				s.mu.Lock()
				s.recovered = true
				s.mu.Unlock()
				return nil
			}
		}
		// Parking itself failed: escalate so the supervisor backs
		// off and retries the park.
		return fmt.Errorf("parking: %w", err)
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return fmt.Errorf("parking: %w", err)
	}
}

func (s *Sequencer) stepHousekeeping(ctx context.Context) error {
	for _, exp := range s.cfg.DarkPlan {
		exp.Dark = true
		if _, err := s.deps.Camera.Capture(ctx, exp); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("sequencer: dark frame: %v", err)
			break
		}
	}
	if s.deps.Power != nil {
		if err := s.deps.Power.Rails(ctx, false); err != nil {
			log.Printf("sequencer: dropping rails: %v", err)
		}
	}
	if !s.deps.Night.IsNight(s.clock()) {
		// The night is over; everything becomes observable again
		// tomorrow.
		s.deps.Scheduler.Reset()
	}
	s.mu.Lock()
	s.images = nil
	s.mu.Unlock()
	s.transition(Sleeping, "housekeeping-done")
	return nil
}

// recoverDevice applies the fault policy for an unreachable device link:
// exactly one reconnect attempt per fault, then Parking.
func (s *Sequencer) recoverDevice(ctx context.Context, err error) {
	s.mu.Lock()
	recovered := s.recovered
	s.mu.Unlock()
	if recovered {
		// Second unreachable after a successful reconnect: give up.
		s.transition(Parking, events.CauseDeviceUnreachable, err.Error())
		return
	}
	if rerr := s.reconnect(ctx, err); rerr != nil {
		s.transition(Parking, events.CauseDeviceUnreachable, rerr.Error())
		return
	}
	s.mu.Lock()
	s.recovered = true
	s.mu.Unlock()
}

// reconnect finds the link named by the error and re-establishes it.
func (s *Sequencer) reconnect(ctx context.Context, cause error) error {
	name := "device"
	var ue *devlink.UnreachableError
	if errors.As(cause, &ue) {
		name = ue.Device
	}
	metrics.DeviceErrors.WithLabelValues(name).Inc()
	s.recordError(events.CauseDeviceUnreachable, cause.Error())
	dev, ok := s.deps.Devices[name]
	if !ok {
		return fmt.Errorf("no reconnectable device %q: %w", name, cause)
	}
	log.Printf("sequencer: reconnecting %s", name)
	return dev.Reconnect(ctx)
}

// transition records the event, then mutates the state. The event is
// written first so no transition is ever unrecorded.
func (s *Sequencer) transition(to State, cause string, detail ...string) {
	s.mu.Lock()
	from := s.state
	s.mu.Unlock()
	ev := events.Event{
		Timestamp: s.clock(),
		From:      from.String(),
		To:        to.String(),
		Cause:     cause,
	}
	if len(detail) > 0 {
		ev.Detail = detail[0]
	}
	s.deps.Recorder.Record(ev)

	s.mu.Lock()
	s.state = to
	s.since = s.clock()
	s.recovered = false
	s.mu.Unlock()

	metrics.Transitions.WithLabelValues(to.String()).Inc()
	metrics.State.Set(float64(to))
	metrics.PendingEvents.Set(float64(s.deps.Recorder.Pending()))
	log.Printf("sequencer: %v -> %v (%s) %s", from, to, cause, ev.Detail)
	s.notifyStatus()
}

// recordError writes a non-transition event (From == To) for a failure
// that did not change state.
func (s *Sequencer) recordError(cause, detail string) {
	st := s.State().String()
	s.deps.Recorder.Record(events.Event{
		Timestamp: s.clock(),
		From:      st,
		To:        st,
		Cause:     cause,
		Detail:    detail,
	})
}

func (s *Sequencer) notifyStatus() {
	if s.deps.StatusCallback == nil {
		return
	}
	s.deps.StatusCallback(s.Status())
}
