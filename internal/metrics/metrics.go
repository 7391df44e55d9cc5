package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive tracks the number of live IMAP sessions.
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailwatch_connections_active",
			Help: "Number of currently open IMAP sessions",
		},
	)

	// ReconnectsTotal counts automatic reconnection attempts after an
	// unexpected session end.
	ReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailwatch_reconnects_total",
			Help: "Total automatic reconnection attempts",
		},
	)

	// MessagesSyncedTotal counts messages upserted by the sync engine.
	MessagesSyncedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailwatch_messages_synced_total",
			Help: "Total messages processed and stored by folder sync",
		},
	)

	// MessagesSkippedTotal counts messages dropped due to decode or
	// analytics failures.
	MessagesSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailwatch_messages_skipped_total",
			Help: "Total messages skipped because they failed to decode",
		},
	)

	// SyncDuration observes the wall time of one folder sync pass.
	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailwatch_sync_duration_seconds",
			Help:    "Duration of a single folder sync pass",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
	)

	// ProbeFailuresTotal counts analytics probes that degraded to their
	// default result, by probe kind.
	ProbeFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailwatch_probe_failures_total",
			Help: "Total analytics probes that failed and degraded to defaults",
		},
		[]string{"probe"}, // mx, open_relay, tls
	)
)
