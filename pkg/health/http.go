package health

import (
	"encoding/json"
	"net/http"
)

// Response is the JSON body of a probe endpoint.
type Response struct {
	Status  string                 `json:"status"`
	Checks  map[string]CheckStatus `json:"checks,omitempty"`
	Message string                 `json:"message,omitempty"`
}

// CheckStatus is one check's entry in the probe response.
type CheckStatus struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// LivenessHandler serves the liveness probe: 200 when alive, 503 when
// the process should be restarted.
func (c *Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := c.CheckLiveness(r.Context())
		writeResponse(w, status, err)
	}
}

// ReadinessHandler serves the readiness probe: 200 when the service can
// take traffic, 503 otherwise.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := c.CheckReadiness(r.Context())
		writeResponse(w, status, err)
	}
}

func writeResponse(w http.ResponseWriter, status Status, err error) {
	w.Header().Set("Content-Type", "application/json")

	resp := Response{Checks: make(map[string]CheckStatus, len(status.Checks))}
	if status.Healthy {
		resp.Status = "healthy"
		w.WriteHeader(http.StatusOK)
	} else {
		resp.Status = "unhealthy"
		w.WriteHeader(http.StatusServiceUnavailable)
		if err != nil {
			resp.Message = err.Error()
		}
	}

	for _, result := range status.Checks {
		cs := CheckStatus{Latency: result.Latency.String()}
		if result.Healthy {
			cs.Status = "ok"
		} else {
			cs.Status = "error"
			cs.Error = result.Error
		}
		resp.Checks[result.Name] = cs
	}

	_ = json.NewEncoder(w).Encode(resp)
}
