package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the sync core.
type Metrics struct {
	ChangesAppended   *prometheus.CounterVec
	SyncBatches       prometheus.Counter
	SyncConflicts     *prometheus.CounterVec
	SyncRejected      prometheus.Counter
	DevicesRegistered prometheus.Counter
	DevicesRevoked    prometheus.Counter
	BridgeConsumed    prometheus.Counter
	BridgeDropped     prometheus.Counter
	BridgeFailed      prometheus.Counter
}

// New creates and registers all Prometheus metrics on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the metrics on the given registerer. Tests pass a fresh
// registry to avoid duplicate-registration panics.
func NewWith(reg prometheus.Registerer) *Metrics {
	promauto := promauto.With(reg)
	return &Metrics{
		ChangesAppended: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicsync_changes_appended_total",
			Help: "Total change records appended to the ledger, by source.",
		}, []string{"source"}),
		SyncBatches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clinicsync_sync_batches_total",
			Help: "Total upload batches processed.",
		}),
		SyncConflicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicsync_sync_conflicts_total",
			Help: "Total upload conflicts resolved, by strategy.",
		}, []string{"strategy"}),
		SyncRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clinicsync_sync_rejected_changes_total",
			Help: "Total upload changes rejected by per-change failures.",
		}),
		DevicesRegistered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clinicsync_devices_registered_total",
			Help: "Total devices registered.",
		}),
		DevicesRevoked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clinicsync_devices_revoked_total",
			Help: "Total devices revoked.",
		}),
		BridgeConsumed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clinicsync_bridge_events_consumed_total",
			Help: "Total domain events translated into ledger records.",
		}),
		BridgeDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clinicsync_bridge_events_dropped_total",
			Help: "Total domain events skipped as non-entity or self-originated.",
		}),
		BridgeFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clinicsync_bridge_events_failed_total",
			Help: "Total domain events left unacknowledged after append failures.",
		}),
	}
}
