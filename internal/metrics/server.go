package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chainsync-io/evmsync/internal/health"
	"github.com/chainsync-io/evmsync/internal/logger"
)

// Server is the HTTP server that exposes Prometheus metrics alongside the
// liveness and readiness probes, per spec.md §4.10.
type Server struct {
	addr   string
	prober *health.Prober
	log    *logger.Logger

	server *http.Server
	stopCh chan struct{}
}

// NewServer builds the health/metrics server. listenAddr is typically
// ":9090"; prober answers the /healthz and /readyz endpoints.
func NewServer(listenAddr string, prober *health.Prober, log *logger.Logger) *Server {
	return &Server{
		addr:   listenAddr,
		prober: prober,
		log:    log.WithComponent("health-server"),
		stopCh: make(chan struct{}),
	}
}

// Start begins serving /metrics, /healthz, and /readyz, and begins the
// periodic system-metrics updater. It returns once the listener is up.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleLiveness)
	mux.HandleFunc("/readyz", s.handleReadiness)

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go s.updateSystemMetrics(ctx)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorw("health server stopped unexpectedly", "error", err)
		}
	}()

	s.log.Infow("health and metrics server listening", "addr", s.addr)
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	close(s.stopCh)
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics: failed to shut down health server: %w", err)
	}
	return nil
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if err := s.prober.Live(); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, "not live: %v", err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if err := s.prober.Ready(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, "not ready: %v", err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) updateSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			UpdateSystemMetrics()
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}
	}
}
