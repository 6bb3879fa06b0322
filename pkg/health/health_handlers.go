package health

import (
	"encoding/json"
	"net/http"
)

// HTTPHandler serves /health. Degraded still answers 200 so a stale monitor
// is visible without failing liveness.
func (hc *HealthChecker) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := hc.Check(r.Context())
		writeResponse(w, resp, resp.Status != StatusUnhealthy)
	}
}

// ReadinessHandler serves /ready, answering 200 only when every readiness
// check is healthy
func (hc *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := hc.CheckReadiness(r.Context())
		writeResponse(w, resp, resp.Status == StatusHealthy)
	}
}

func writeResponse(w http.ResponseWriter, resp Response, ok bool) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if ok {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(resp)
}
