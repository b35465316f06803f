package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncCyclesTotal counts sync cycles by outcome
	SyncCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopsync_cycles_total",
			Help: "Total number of sync cycles by outcome",
		},
		[]string{"connection", "outcome"},
	)

	// SyncCycleDuration tracks sync cycle duration
	SyncCycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shopsync_cycle_duration_seconds",
			Help:    "Sync cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"connection"},
	)

	// ReceiptsInserted counts receipts stored per shop
	ReceiptsInserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopsync_receipts_inserted_total",
			Help: "Total number of receipts inserted into the document store",
		},
		[]string{"shop"},
	)

	// NotesCreated counts follow-up notes created per shop
	NotesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopsync_notes_created_total",
			Help: "Total number of follow-up notes created",
		},
		[]string{"shop"},
	)

	// PagesSkipped counts remote result pages skipped for non-success status
	PagesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopsync_pages_skipped_total",
			Help: "Total number of remote result pages skipped due to non-success status",
		},
		[]string{"shop"},
	)

	// DeferredReceipts tracks the size of the unpaid deferred set per connection
	DeferredReceipts = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shopsync_deferred_receipts",
			Help: "Number of receipts deferred because payment has not cleared",
		},
		[]string{"connection"},
	)
)
