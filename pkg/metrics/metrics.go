// Package metrics exposes the Prometheus registry for docket-sync.
// Metrics are defined in their respective packages (client, ratelimit, crawl)
// and registered via promauto; this package serves them.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry is the default Prometheus registry used by docket-sync.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("component", "metrics").Str("address", addr).Msg("Metrics listener starting")
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - docketsync_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - docketsync_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - docketsync_errors_total{class} (Counter): Errors by class (client, server, rate_limit, quota, timeout, network)
//
// Retry Metrics (pkg/client):
//   - docketsync_retries_total{error_class} (Counter): Retry attempts by error class
//   - docketsync_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - docketsync_retry_exhausted_total{error_class} (Counter): Requests that spent the whole retry budget
//
// Quota Metrics (pkg/ratelimit):
//   - docketsync_quota_used{backend} (Gauge): Requests counted in the current window (memory, redis)
//   - docketsync_quota_waits_total (Counter): Suspensions waiting for a free slot
//   - docketsync_quota_wait_seconds (Histogram): Time spent suspended
//   - docketsync_quota_rejections_total (Counter): Local rejections (wait longer than allowed)
//
// Crawl Metrics (pkg/crawl):
//   - docketsync_crawl_pages_total (Counter): Listing pages processed
//   - docketsync_crawl_passes_total (Counter): Completed passes
//   - docketsync_crawl_records_total{outcome} (Counter): Reconciled records (created, changed, unchanged)
//   - docketsync_crawl_watermark_timestamp_seconds (Gauge): Unix time of the installed watermark
//
// Example Prometheus Queries:
//
//   # Change rate
//   rate(docketsync_crawl_records_total{outcome="changed"}[1h])
//
//   # Quota pressure
//   docketsync_quota_used / 1000
//
//   # Provider error rate
//   rate(docketsync_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(docketsync_request_duration_seconds_bucket[5m]))
