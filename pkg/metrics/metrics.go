// Package metrics exposes the Prometheus metrics of the exporter.
// All metrics are defined in their respective packages (job, pagination,
// dataset, mgmt, archive) to maintain modularity and avoid circular
// dependencies.
//
// This package provides the HTTP endpoint and documentation for all
// available metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Sternrassler/ckp-export/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the exporter.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Path is the URL path of the metrics endpoint.
const Path = "/metrics"

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server serves the metrics endpoint while an export runs.
type Server struct {
	srv      *http.Server
	listener net.Listener
	done     chan error
}

// Serve starts the metrics endpoint on addr (e.g. ":9090"). It stops when ctx
// is cancelled or Shutdown is called.
func Serve(ctx context.Context, addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle(Path, Handler())

	s := &Server{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: ln,
		done:     make(chan error, 1),
	}

	logger := logging.NewLogger(logging.ComponentMetrics)
	logger.Info().Str("addr", ln.Addr().String()).Msg("Serving metrics")

	go func() {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()
	context.AfterFunc(ctx, func() { _ = s.Shutdown(context.Background()) })

	return s, nil
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// Metrics Documentation
//
// Scheduler Metrics (pkg/job):
//   - ckp_tasks_total{category, state} (Counter): Terminal tasks by category and final state
//   - ckp_task_duration_seconds{category} (Histogram): Task runtime by category
//   - ckp_tasks_running (Gauge): Tasks holding a running slot
//   - ckp_tasks_waiting (Gauge): Queued tasks
//   - ckp_run_timeouts_total (Counter): Runs aborted by a task timeout
//
// Pagination Metrics (pkg/pagination):
//   - ckp_pagination_tasks_enqueued_total{category} (Counter): Follow-up page tasks by category
//
// Dataset Metrics (pkg/dataset):
//   - ckp_records_folded_total{result} (Counter): Records folded by merge result (inserted, replaced, kept)
//
// Request Metrics (pkg/mgmt):
//   - ckp_api_requests_total{command, status} (Counter): Management API requests by command and status
//   - ckp_api_request_duration_seconds{command} (Histogram): Request duration by command
//   - ckp_api_errors_total{class} (Counter): Errors by class (client, server, network, command)
//
// Archive Metrics (pkg/archive):
//   - ckp_archive_pages_total{sink} (Counter): Archived pages by sink
//   - ckp_archive_bytes_total{sink} (Counter): Archived bytes by sink
//   - ckp_archive_errors_total{sink} (Counter): Failed archive writes by sink
//
// Example Prometheus Queries:
//
//   # Task Failure Rate
//   sum(rate(ckp_tasks_total{state="failed"}[5m])) / sum(rate(ckp_tasks_total[5m]))
//
//   # Scheduler Saturation
//   ckp_tasks_running
//
//   # P95 Page Latency
//   histogram_quantile(0.95, rate(ckp_task_duration_seconds_bucket[5m]))
//
//   # Server Busy Errors
//   rate(ckp_api_errors_total{class="server"}[5m])
