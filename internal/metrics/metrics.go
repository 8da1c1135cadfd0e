package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	SyncRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finsync_sync_runs_total",
			Help: "Sync run outcomes",
		},
		[]string{"result"}, // complete|offline|error|already_running
	)

	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finsync_events_total",
			Help: "Events processed by direction and outcome",
		},
		[]string{"direction", "outcome"}, // push|pull , pushed|failed|applied|skipped_duplicate|skipped_stale|error
	)

	OutboxPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "finsync_outbox_pending",
			Help: "Unsynced outbox entries eligible for push",
		},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		SyncRunsTotal,
		EventsTotal,
		OutboxPending,
	)
}
