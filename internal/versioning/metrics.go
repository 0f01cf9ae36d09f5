package versioning

import "github.com/prometheus/client_golang/prometheus"

var (
	versionsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fieldver",
			Subsystem: "versioning",
			Name:      "versions_written_total",
			Help:      "Versions written by entity saves",
		},
		[]string{"model"},
	)
	rowsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fieldver",
			Subsystem: "versioning",
			Name:      "rows_written_total",
			Help:      "Version rows written, one per snapshotted field",
		},
		[]string{"model"},
	)
	rowsRead = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fieldver",
			Subsystem: "versioning",
			Name:      "rows_read_total",
			Help:      "Version rows read for regrouping",
		},
		[]string{"model"},
	)
)

func init() {
	prometheus.MustRegister(versionsWritten)
	prometheus.MustRegister(rowsWritten)
	prometheus.MustRegister(rowsRead)
}
