package handlers

import (
	"net/http"

	"loopcard/internal/httpkit"
	"loopcard/internal/readiness"
)

// Healthz reports process liveness only; it never touches dependencies.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	httpkit.WriteJSON(w, 200, map[string]any{
		"status":  "ok",
		"service": "loopcard",
	})
}

// Readyz probes every dependency once and reports per-dependency outcomes.
// Results are computed fresh on every call.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ready, results := readiness.ProbeAll(ctx, h.checks)

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
		h.log.FromContext(ctx).Warn("readiness probe degraded", "results", results)
	}

	httpkit.WriteJSON(w, status, map[string]any{
		"ready":  ready,
		"checks": results,
	})
}
