package api

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"
)

// healthCheckTimeout bounds each component check.
const healthCheckTimeout = 2 * time.Second

type componentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Version    string                     `json:"version"`
	Components map[string]componentHealth `json:"components"`
}

// handleHealth checks every registered component concurrently. Any failure
// turns the response into 503 "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.health))
	for name := range s.health {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]componentHealth, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Go(func() {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			if err := s.health[name].HealthCheck(ctx); err != nil {
				results[i] = componentHealth{Status: "unhealthy", Error: err.Error()}
				return
			}
			results[i] = componentHealth{Status: "ok"}
		})
	}
	wg.Wait()

	resp := healthResponse{
		Status:     "ok",
		Version:    s.version,
		Components: make(map[string]componentHealth, len(names)),
	}
	status := http.StatusOK
	for i, name := range names {
		resp.Components[name] = results[i]
		if results[i].Status != "ok" {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}

	if status != http.StatusOK {
		s.logger.Warn("health check degraded", "components", resp.Components)
	}
	writeJSON(w, status, resp)
}
