package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"pairgrid/internal/core"
)

// Server exposes /health (liveness, aggregated from HealthManager) and
// /status (per-slot operator-visible status payloads) over HTTP.
// Slot status is collected through callbacks rather than a *slot.Runtime
// dependency, so this package never needs to import internal/slot.
type Server struct {
	port   int
	logger core.ILogger
	srv    *http.Server
	hm     *HealthManager
	mu     sync.RWMutex
	slots  map[int64]func() interface{}
}

// NewServer constructs a health/status server. slots maps slot id to a
// callback returning that slot's current status_payload.
func NewServer(port int, hm *HealthManager, slots map[int64]func() interface{}, logger core.ILogger) *Server {
	return &Server{
		port:   port,
		logger: logger.WithField("component", "health_server"),
		hm:     hm,
		slots:  slots,
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)

	s.srv = &http.Server{Addr: addrFor(s.port), Handler: mux}
	go func() {
		s.logger.Info("starting health server", "port", s.port)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("health server failed", "error", err)
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "ok"}
	if s.hm != nil {
		resp["components"] = s.hm.GetStatus()
		if failing := s.hm.Failing(); len(failing) > 0 {
			resp["status"] = "unhealthy"
			resp["failing"] = failing
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	payloads := make(map[string]interface{}, len(s.slots))
	for id, statusFn := range s.slots {
		payloads[strconv.FormatInt(id, 10)] = statusFn()
	}
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payloads)
}

func addrFor(port int) string {
	return fmt.Sprintf(":%d", port)
}
