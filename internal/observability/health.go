package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const readinessTimeout = 5 * time.Second

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status       string                      `json:"status"`
	Service      string                      `json:"service"`
	Version      string                      `json:"version"`
	Timestamp    string                      `json:"timestamp"`
	ModelsLoaded *bool                       `json:"models_loaded,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the status of a dependency
type DependencyStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// HealthCheckFunc probes one dependency
type HealthCheckFunc func(ctx context.Context) (bool, error)

// DependencyCheck names a readiness probe
type DependencyCheck struct {
	Name  string
	Check HealthCheckFunc
}

// ServiceInfo identifies the service in health responses
type ServiceInfo struct {
	Name    string
	Version string
}

// HealthCheckHandler reports liveness. modelsLoaded says whether the analysis
// engines were constructed at startup; nil omits the field.
func HealthCheckHandler(info ServiceInfo, modelsLoaded func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := HealthStatus{
			Status:    "healthy",
			Service:   info.Name,
			Version:   info.Version,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		if modelsLoaded != nil {
			loaded := modelsLoaded()
			status.ModelsLoaded = &loaded
		}

		writeJSON(w, http.StatusOK, status)
	}
}

// ReadinessHandler runs every dependency probe under a shared timeout and
// answers 503 unless all of them pass
func ReadinessHandler(info ServiceInfo, checks ...DependencyCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		dependencies := make(map[string]DependencyStatus, len(checks))
		allHealthy := true

		for _, dep := range checks {
			if dep.Check == nil {
				continue
			}

			start := time.Now()
			healthy, err := dep.Check(ctx)
			latency := time.Since(start).Milliseconds()

			ds := DependencyStatus{Status: "healthy", LatencyMs: latency}
			if err != nil || !healthy {
				ds.Status = "unhealthy"
				allHealthy = false
				if err != nil {
					ds.Message = err.Error()
				}
			}
			dependencies[dep.Name] = ds
		}

		status := HealthStatus{
			Status:       "ready",
			Service:      info.Name,
			Version:      info.Version,
			Timestamp:    time.Now().UTC().Format(time.RFC3339),
			Dependencies: dependencies,
		}

		code := http.StatusOK
		if !allHealthy {
			status.Status = "not_ready"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := GetLogger()
		logger.Debug().Err(err).Msg("Failed to write health response")
	}
}
