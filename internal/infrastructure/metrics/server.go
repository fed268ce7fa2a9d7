// Package metrics exposes the Prometheus scrape endpoint plus the handful
// of process-level slot gauges dashboards read (open orders, recovery
// queue depth, realized profit).
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pairgrid/internal/core"
)

// Server serves /metrics from the default Prometheus gatherer, which also
// carries everything the OTel Prometheus exporter registers.
type Server struct {
	port   int
	logger core.ILogger
	srv    *http.Server
}

// NewServer creates a metrics server on the given port.
func NewServer(port int, logger core.ILogger) *Server {
	return &Server{
		port:   port,
		logger: logger.WithField("component", "metrics_server"),
	}
}

// RegisterGauge installs a pull-style gauge evaluated at scrape time.
// Duplicate registration is logged and skipped rather than fatal, so a
// restarted wiring path can't panic the process.
func (s *Server) RegisterGauge(name, help string, fn func() float64) {
	gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn)
	if err := prometheus.Register(gauge); err != nil {
		s.logger.Warn("gauge registration skipped", "name", name, "error", err)
	}
}

// Start begins serving /metrics in a background goroutine.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	go func() {
		s.logger.Info("starting Prometheus metrics server", "port", s.port)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()
}

// Stop gracefully stops the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.logger.Info("stopping metrics server")
	return s.srv.Shutdown(ctx)
}
