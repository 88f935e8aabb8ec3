package observability

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthChecker tracks liveness and readiness. The service is ready once
// every required component has reported in.
type HealthChecker struct {
	mu        sync.RWMutex
	pending   map[string]bool
	startTime time.Time
}

// NewHealthChecker creates a checker waiting on the named components.
func NewHealthChecker(components ...string) *HealthChecker {
	pending := make(map[string]bool, len(components))
	for _, c := range components {
		pending[c] = true
	}
	return &HealthChecker{pending: pending, startTime: time.Now()}
}

// MarkReady records that a component (recovery, postgres, nats) is up.
func (h *HealthChecker) MarkReady(component string) {
	h.mu.Lock()
	delete(h.pending, component)
	h.mu.Unlock()
}

// MarkNotReady puts a component back on the pending list.
func (h *HealthChecker) MarkNotReady(component string) {
	h.mu.Lock()
	h.pending[component] = true
	h.mu.Unlock()
}

// IsReady returns whether nothing is pending.
func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.pending) == 0
}

// Pending lists the components not yet ready, sorted.
func (h *HealthChecker) Pending() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.pending))
	for c := range h.pending {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// LivenessHandler always answers 200 while the process runs.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler answers 200 once ready and 503 with the pending
// components otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	pending := h.Pending()
	if len(pending) == 0 {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ready",
		})
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "not_ready",
		"pending": pending,
	})
}
