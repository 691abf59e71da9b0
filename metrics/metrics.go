// Package metrics registers the daemon's Prometheus instruments.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "obsd_state_transitions_total",
		Help: "State transitions by destination state.",
	}, []string{"to"})
	DeviceErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "obsd_device_errors_total",
		Help: "Unreachable errors by device.",
	}, []string{"device"})
	TargetsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "obsd_targets_completed_total",
		Help: "Targets fully imaged.",
	})
	TargetsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "obsd_targets_skipped_total",
		Help: "Targets skipped after pointing failure.",
	})
	EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "obsd_events_dropped_total",
		Help: "Events lost to the recorder's buffer bound.",
	})
	Safe = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "obsd_safe",
		Help: "1 while the safety monitor reports safe.",
	})
	State = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "obsd_state",
		Help: "Current sequencer state as its enum value.",
	})
	PendingEvents = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "obsd_events_pending",
		Help: "Events buffered waiting for the event store.",
	})
)

func init() {
	prometheus.MustRegister(
		Transitions,
		DeviceErrors,
		TargetsCompleted,
		TargetsSkipped,
		EventsDropped,
		Safe,
		State,
		PendingEvents,
	)
}
