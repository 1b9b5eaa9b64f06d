package livesync

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StatCollector counts the merge and channel events that matter when
// debugging "where did my update go": duplicates absorbed, stale counters
// dropped, reconnects and the joins re-issued after them, rollbacks.
// all methods are safe on a nil receiver, so components can be wired
// without a collector.
type StatCollector struct {
	eventsApplied   *prometheus.CounterVec
	duplicateEvents prometheus.Counter
	staleEvents     prometheus.Counter
	malformedEvents prometheus.Counter
	reconnects      prometheus.Counter
	resubscribes    prometheus.Counter
	rollbacks       prometheus.Counter
}

func NewStatCollector(reg prometheus.Registerer) *StatCollector {
	self := &StatCollector{
		eventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livesync_events_applied_total",
			Help: "Entity events applied to a synchronized collection, by kind.",
		}, []string{"kind"}),
		duplicateEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livesync_duplicate_events_total",
			Help: "Events absorbed as duplicates (at-least-once redelivery).",
		}),
		staleEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livesync_stale_events_total",
			Help: "Events dropped as stale (unknown id or non-increasing counter).",
		}),
		malformedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livesync_malformed_events_total",
			Help: "Events dropped because the payload could not be used.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livesync_reconnects_total",
			Help: "Channel transport reconnects.",
		}),
		resubscribes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livesync_resubscribes_total",
			Help: "Topic joins re-issued after a reconnect.",
		}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livesync_rollbacks_total",
			Help: "Optimistic writes rolled back after a server rejection.",
		}),
	}

	reg.MustRegister(
		self.eventsApplied,
		self.duplicateEvents,
		self.staleEvents,
		self.malformedEvents,
		self.reconnects,
		self.resubscribes,
		self.rollbacks,
	)

	return self
}

func (self *StatCollector) RecordApplied(kind string) {
	if self == nil {
		return
	}
	self.eventsApplied.WithLabelValues(kind).Inc()
}

func (self *StatCollector) RecordDuplicate() {
	if self == nil {
		return
	}
	self.duplicateEvents.Inc()
}

func (self *StatCollector) RecordStale() {
	if self == nil {
		return
	}
	self.staleEvents.Inc()
}

func (self *StatCollector) RecordMalformed() {
	if self == nil {
		return
	}
	self.malformedEvents.Inc()
}

func (self *StatCollector) RecordReconnect() {
	if self == nil {
		return
	}
	self.reconnects.Inc()
}

func (self *StatCollector) RecordResubscribe() {
	if self == nil {
		return
	}
	self.resubscribes.Inc()
}

func (self *StatCollector) RecordRollback() {
	if self == nil {
		return
	}
	self.rollbacks.Inc()
}
