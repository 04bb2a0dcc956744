// Package metrics holds the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "blind_match"

var (
	// MatchesCreated counts matches by the path that created them (find, queue)
	MatchesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "matches_created_total",
		Help:      "Matches created, by origin",
	}, []string{"origin"})

	// QueueEnqueued counts find-match calls that fell back to the queue
	QueueEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_enqueued_total",
		Help:      "Users placed in the waiting queue",
	})

	// MatchConflicts counts lost races on the one-live-match constraint
	MatchConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "match_conflicts_total",
		Help:      "Match creations rejected by the slot constraint, by side",
	}, []string{"side"})

	// Reveals counts reveals by mode (mutual, timer)
	Reveals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reveals_total",
		Help:      "Matches revealed, by mode",
	}, []string{"mode"})

	// CASRetries counts optimistic-lock retries on match rows
	CASRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "match_cas_retries_total",
		Help:      "Compare-and-swap retries on match rows",
	})

	// Exits counts exits by stage (pre_reveal, post_reveal)
	Exits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "exits_total",
		Help:      "Match exits, by stage",
	}, []string{"stage"})

	// MessagesSent counts persisted chat messages
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_sent_total",
		Help:      "Chat messages persisted",
	})

	// ScoringFallbacks counts find-match calls that used default scoring
	ScoringFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scoring_fallbacks_total",
		Help:      "Scoring collaborator fallbacks, by reason",
	}, []string{"reason"})

	// PushDropped counts notifications that were not delivered
	PushDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "push_dropped_total",
		Help:      "Push notifications dropped, by reason",
	}, []string{"reason"})

	// WSConnections tracks open realtime connections
	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ws",
		Name:      "connections",
		Help:      "Open websocket connections",
	})

	// WSEvents counts realtime events by direction and type
	WSEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ws",
		Name:      "events_total",
		Help:      "Realtime events, by direction and type",
	}, []string{"direction", "type"})

	// HTTPDuration tracks REST latency
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	}, []string{"method", "route", "status"})
)
