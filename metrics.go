package solite

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	opsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solite_store_operations_total",
		Help: "Store operations by kind",
	}, []string{"op"})

	syncedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "solite_store_synced_bytes_total",
		Help: "Bytes written to database files by Sync",
	})
)
