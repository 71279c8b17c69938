// Package metrics exposes the process counters over Prometheus.
//
// Counters live on the default registry; Serve starts the optional
// scrape endpoint when metrics are enabled in config.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	logx "nftwatch/pkg/logx"
)

var (
	Passes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nftwatch_passes_total",
		Help: "Reconciliation passes completed, per collection.",
	}, []string{"collection"})

	FetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nftwatch_fetch_failures_total",
		Help: "Source fetches treated as empty batches, per collection and source.",
	}, []string{"collection", "source"})

	EventsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nftwatch_events_accepted_total",
		Help: "Events accepted for notification, per collection and category.",
	}, []string{"collection", "category"})

	EventsDeduped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nftwatch_events_deduped_total",
		Help: "Events rejected by the seen-id ledger, per collection and category.",
	}, []string{"collection", "category"})

	CooldownSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nftwatch_cooldown_suppressed_total",
		Help: "Trade events suppressed by the per-token cooldown, per collection.",
	}, []string{"collection"})

	NotifyFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nftwatch_notify_failures_total",
		Help: "Notification deliveries that failed after retries, per channel.",
	}, []string{"channel"})
)

// Serve runs the scrape endpoint until ctx is canceled.
func Serve(ctx context.Context, addr string, log logx.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	log.Info("metrics endpoint listening", logx.String("addr", addr))

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
