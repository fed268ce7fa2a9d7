// Package health aggregates component liveness for the operator surface: a
// named registry of probe functions (scheduler loop, event log, worker
// pool) plus the HTTP server exposing them alongside
// per-slot status payloads.
package health

import (
	"sync"

	"pairgrid/internal/core"
)

// CheckFunc probes one component; a nil return means healthy. Probes must
// be cheap, since every /health request runs all of them.
type CheckFunc func() error

// HealthManager is the component probe registry. Output ordering follows
// registration order so repeated /health responses diff cleanly.
type HealthManager struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]CheckFunc
	names  []string
}

// NewHealthManager creates an empty registry. A nil logger is allowed for
// tests and optional wiring.
func NewHealthManager(logger core.ILogger) *HealthManager {
	hm := &HealthManager{checks: make(map[string]CheckFunc)}
	if logger != nil {
		hm.logger = logger.WithField("component", "health_manager")
	}
	return hm
}

// Register adds or replaces the probe for a component.
func (hm *HealthManager) Register(component string, check CheckFunc) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	if _, exists := hm.checks[component]; !exists {
		hm.names = append(hm.names, component)
	}
	hm.checks[component] = check
}

// GetStatus runs every probe and reports each component as "Healthy" or
// "Unhealthy: <reason>".
func (hm *HealthManager) GetStatus() map[string]string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	status := make(map[string]string, len(hm.checks))
	for component, check := range hm.checks {
		if err := check(); err != nil {
			status[component] = "Unhealthy: " + err.Error()
		} else {
			status[component] = "Healthy"
		}
	}
	return status
}

// Failing returns the names of failing components in registration order,
// empty when everything is healthy.
func (hm *HealthManager) Failing() []string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	var failing []string
	for _, name := range hm.names {
		if err := hm.checks[name](); err != nil {
			failing = append(failing, name)
			if hm.logger != nil {
				hm.logger.Warn("health check failing", "check", name, "error", err)
			}
		}
	}
	return failing
}

// IsHealthy reports whether every registered probe passes.
func (hm *HealthManager) IsHealthy() bool {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	for _, check := range hm.checks {
		if err := check(); err != nil {
			return false
		}
	}
	return true
}
