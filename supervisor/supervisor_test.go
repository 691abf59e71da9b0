package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ridgeline-obs/obsd/events"
	"github.com/ridgeline-obs/obsd/safety"
	"github.com/ridgeline-obs/obsd/schedule"
	"github.com/ridgeline-obs/obsd/sequencer"
)

type memStore struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *memStore) Append(ctx context.Context, ev events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *memStore) count(cause string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Cause == cause {
			n++
		}
	}
	return n
}

func (s *memStore) find(cause string) *events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].Cause == cause {
			return &s.events[i]
		}
	}
	return nil
}

type alwaysSafe struct{}

func (alwaysSafe) Current() safety.Verdict {
	return safety.Verdict{Safe: true, CheckedAt: time.Now()}
}

type alwaysNight struct{}

func (alwaysNight) IsNight(t time.Time) bool { return true }

type neverDay struct{}

func (neverDay) IsDay(t time.Time) bool { return false }

type alwaysDay struct{}

func (alwaysDay) IsDay(t time.Time) bool { return true }

// faultingScheduler returns an unexpected error, which the sequencer
// escalates out of Run.
type faultingScheduler struct{}

func (faultingScheduler) Next(ctx context.Context, now time.Time) (*schedule.Target, error) {
	return nil, errors.New("catalog db locked")
}

func (faultingScheduler) MarkDone(name string) {}
func (faultingScheduler) Reset()               {}

func TestRestartsFaultedSequencerWithBackoff(t *testing.T) {
	store := &memStore{}
	recorder := events.NewRecorder(store)
	seq := sequencer.New(sequencer.Config{IdlePoll: time.Millisecond}, sequencer.Deps{
		Safety:    alwaysSafe{},
		Night:     alwaysNight{},
		Scheduler: faultingScheduler{},
		Recorder:  recorder,
	})
	sup := New(Config{
		BackoffBase: 5 * time.Millisecond,
		BackoffCap:  20 * time.Millisecond,
		DawnPoll:    time.Hour,
	}, seq, recorder, neverDay{})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err := sup.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		t.Fatalf("run: got %v, want context end", err)
	}

	// 5+10+20+20... ms of backoff inside 300 ms: at least three faults,
	// each recorded and answered with a restart.
	faults := store.count(events.CauseSequencerFault)
	if faults < 3 {
		t.Errorf("recorded faults: got %d, want >= 3", faults)
	}
	ev := store.find(events.CauseSequencerFault)
	if ev.From != "Scheduling" {
		t.Errorf("fault recorded from %s, want Scheduling", ev.From)
	}
	if ev.To != "Sleeping" {
		t.Errorf("fault recorded to %s, want Sleeping", ev.To)
	}
}

// slowScheduler holds the machine in Scheduling long enough for the dawn
// watcher to fire while a hardware-active state is current.
type slowScheduler struct{}

func (slowScheduler) Next(ctx context.Context, now time.Time) (*schedule.Target, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(50 * time.Millisecond):
	}
	return &schedule.Target{
		Name: "M42", RADeg: 83.82, DecDeg: -5.39,
		Plan: []schedule.Exposure{{Seconds: 0.001, Count: 1}},
	}, nil
}

func (slowScheduler) MarkDone(name string) {}
func (slowScheduler) Reset()               {}

type noopMount struct{}

func (noopMount) Slew(ctx context.Context, raDeg, decDeg float64) error { return nil }
func (noopMount) WaitSettled(ctx context.Context) error                 { return nil }
func (noopMount) Park(ctx context.Context) error                        { return nil }
func (noopMount) WaitParked(ctx context.Context) error                  { return nil }

func TestDawnCutoffForcesPark(t *testing.T) {
	store := &memStore{}
	recorder := events.NewRecorder(store)
	seq := sequencer.New(sequencer.Config{IdlePoll: time.Millisecond}, sequencer.Deps{
		Safety:    alwaysSafe{},
		Night:     alwaysNight{},
		Mount:     noopMount{},
		Scheduler: slowScheduler{},
		Recorder:  recorder,
	})
	sup := New(Config{
		BackoffBase: time.Millisecond,
		BackoffCap:  time.Millisecond,
		DawnPoll:    5 * time.Millisecond,
	}, seq, recorder, alwaysDay{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for store.find("park-requested") == nil {
		select {
		case <-deadline:
			cancel()
			<-done
			t.Fatal("dawn cutoff never forced a park")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	ev := store.find("park-requested")
	if ev.Detail != "dawn" {
		t.Errorf("park reason: got %q, want %q", ev.Detail, "dawn")
	}
	if ev.To != "Parking" {
		t.Errorf("park event to %s, want Parking", ev.To)
	}
}
