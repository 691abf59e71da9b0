// Package supervisor runs the sequencer, restarts it after faults with
// exponential backoff, and enforces the hard dawn cutoff.
package supervisor

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ridgeline-obs/obsd/events"
	"github.com/ridgeline-obs/obsd/sequencer"
)

// Daybreak answers whether the hard cutoff has passed.
type Daybreak interface {
	IsDay(t time.Time) bool
}

type Config struct {
	// BackoffBase doubles per consecutive fault up to BackoffCap.
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// DawnPoll paces the cutoff check.
	DawnPoll time.Duration
}

type Supervisor struct {
	cfg      Config
	seq      *sequencer.Sequencer
	recorder *events.Recorder
	day      Daybreak
	clock    func() time.Time
}

func New(cfg Config, seq *sequencer.Sequencer, recorder *events.Recorder, day Daybreak) *Supervisor {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 30 * time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 10 * time.Minute
	}
	if cfg.DawnPoll <= 0 {
		cfg.DawnPoll = time.Minute
	}
	return &Supervisor{cfg: cfg, seq: seq, recorder: recorder, day: day, clock: time.Now}
}

// Run supervises until ctx is canceled. The sequencer's faults never escape
// past here: each one is recorded and answered with a backed-off restart
// from Sleeping.
func (s *Supervisor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.watchDawn(ctx) })
	g.Go(func() error { return s.runSequencer(ctx) })
	return g.Wait()
}

func (s *Supervisor) runSequencer(ctx context.Context) error {
	backoff := s.cfg.BackoffBase
	for {
		started := s.clock()
		err := s.seq.Run(ctx)
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return ctx.Err()
		}

		st := s.seq.State()
		// Reset resumes an interrupted park rather than skipping it.
		restart := sequencer.Sleeping
		if st == sequencer.Parking {
			restart = sequencer.Parking
		}
		log.Printf("supervisor: sequencer fault in %s: %v", st, err)
		s.recorder.Record(events.Event{
			Timestamp: s.clock(),
			From:      st.String(),
			To:        restart.String(),
			Cause:     events.CauseSequencerFault,
			Detail:    err.Error(),
		})

		// A run that survived a while earns a fresh backoff.
		if s.clock().Sub(started) > 5*time.Minute {
			backoff = s.cfg.BackoffBase
		}
		log.Printf("supervisor: restarting in %v", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.cfg.BackoffCap {
			backoff = s.cfg.BackoffCap
		}
		s.seq.Reset()
	}
}

// watchDawn forces the park sequence once local time passes dawn, whatever
// the sequencer is doing. After Parked the machine idles in Sleeping until
// the next dusk, which ends the cycle for the day.
func (s *Supervisor) watchDawn(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.DawnPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if !s.day.IsDay(s.clock()) {
			continue
		}
		switch s.seq.State() {
		case sequencer.Sleeping, sequencer.Parking, sequencer.Parked, sequencer.Housekeeping:
			// Already shut down or on the way.
		default:
			log.Printf("supervisor: dawn cutoff, forcing park")
			s.seq.RequestPark("dawn")
		}
	}
}
