package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server exposes the Prometheus registry plus liveness and readiness probes
// for the sampling worker. Readiness flips on once the consumer is attached
// to the jobs queue, so orchestrators don't route health checks at a worker
// that isn't draining messages yet.
type Server struct {
	srv   *http.Server
	ready atomic.Bool
}

func newServer(port int) *Server {
	s := &Server{}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			http.Error(w, "consumer not started", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	return s
}

// StartServer serves /metrics, /healthz and /readyz in the background until
// Shutdown is called.
func StartServer(port int, logger *zap.Logger) *Server {
	s := newServer(port)

	go func() {
		logger.Info("metrics server starting", zap.Int("port", port))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	return s
}

// SetReady switches the /readyz response. Call with true once the consumer
// is started and with false before shutdown.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
