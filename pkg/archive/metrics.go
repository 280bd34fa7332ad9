package archive

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PagesWritten tracks archived pages by sink ("file", "redis")
	PagesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ckp_archive_pages_total",
			Help: "Total number of archived pages",
		},
		[]string{"sink"},
	)

	// BytesWritten tracks archived bytes by sink
	BytesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ckp_archive_bytes_total",
			Help: "Total number of archived bytes",
		},
		[]string{"sink"},
	)

	// WriteErrors tracks failed archive writes by sink
	WriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ckp_archive_errors_total",
			Help: "Total number of failed archive writes",
		},
		[]string{"sink"},
	)
)
