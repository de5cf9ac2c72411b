// Package metrics exposes the Prometheus scrape endpoint and a liveness
// probe for the routepulse binaries.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rsampath/routepulse/internal/logging"
)

// Handler returns the HTTP handler serving /metrics and /health.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Serve runs the metrics server on addr until it fails. It blocks, so
// callers start it on its own goroutine.
func Serve(addr string) {
	server := &http.Server{
		Addr:              addr,
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logging.Info().Str("addr", addr).Msg("metrics server listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Err(err).Msg("metrics server failed")
	}
}
