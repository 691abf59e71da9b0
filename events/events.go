// Package events is the append-only audit trail: every state transition and
// every failure is recorded as one immutable Event. When a night is aborted,
// the event log is the sole record of why.
package events

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ridgeline-obs/obsd/metrics"
)

// Causes recorded for transitions forced by the error taxonomy. Ordinary
// transitions carry a short lowercase cause like "dusk" or "slew-complete".
const (
	CauseUnsafe             = "UnsafeCondition"
	CauseSchedulerExhausted = "SchedulerExhausted"
	CausePointingFailed     = "PointingFailed"
	CauseDeviceUnreachable  = "DeviceUnreachable"
	CauseSequencerFault     = "SequencerFault"
)

// Event is written once and never mutated.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	From      string    `json:"from_state"`
	To        string    `json:"to_state"`
	Cause     string    `json:"cause"`
	Detail    string    `json:"detail,omitempty"`
}

// Store appends events to some durable sink.
type Store interface {
	Append(ctx context.Context, ev Event) error
}

// Recorder writes events with a bounded timeout. When the store fails,
// events are buffered in memory up to a small bound and the oldest are
// dropped with a warning: losing audit history is acceptable, losing
// liveness is not.
type Recorder struct {
	store   Store
	timeout time.Duration
	maxBuf  int

	mu      sync.Mutex
	pending []Event
	dropped int
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, timeout: 2 * time.Second, maxBuf: 256}
}

// Record appends one event, never blocking longer than the write timeout.
func (r *Recorder) Record(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, ev)
	r.drain()
}

// Flush retries any buffered events, e.g. at shutdown.
func (r *Recorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drain()
}

// Pending reports the number of events waiting on a failed store.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Dropped reports the number of events lost to the buffer bound.
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// drain is called with the lock held.
func (r *Recorder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	for len(r.pending) > 0 {
		if err := r.store.Append(ctx, r.pending[0]); err != nil {
			log.Printf("events: append failed, %d buffered: %v", len(r.pending), err)
			break
		}
		r.pending = r.pending[1:]
	}
	if n := len(r.pending) - r.maxBuf; n > 0 {
		log.Printf("events: buffer full, dropping %d oldest events", n)
		r.pending = append([]Event(nil), r.pending[n:]...)
		r.dropped += n
		metrics.EventsDropped.Add(float64(n))
	}
}
