package handler

import (
	"context"
	"net/http"
	"time"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// HealthResponse represents the health check response
type HealthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	Services map[string]string `json:"services"`
}

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

func (h *Handler) dependencies() map[string]healthChecker {
	deps := make(map[string]healthChecker, 2)
	if h.db != nil {
		deps["postgres"] = h.db
	}
	if h.rdb != nil {
		deps["redis"] = h.rdb
	}
	return deps
}

// Health returns the health status of the service
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	services := make(map[string]string)
	status := "healthy"
	for name, dep := range h.dependencies() {
		if err := dep.HealthCheck(ctx); err != nil {
			h.log.Warn().Err(err).Str("service", name).Msg("health check failed")
			services[name] = "unhealthy"
			status = "degraded"
			continue
		}
		services[name] = "healthy"
	}
	if h.db == nil {
		services["store"] = "memory"
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, HealthResponse{Status: status, Version: Version, Services: services})
}

// Ready reports whether dependencies are reachable and a trust anchor is
// available.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, dep := range h.dependencies() {
		if err := dep.HealthCheck(ctx); err != nil {
			http.Error(w, name+" not ready", http.StatusServiceUnavailable)
			return
		}
	}
	if _, err := h.issuerSvc.ResolveRoot(ctx); err != nil {
		http.Error(w, "trust anchor not ready", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
