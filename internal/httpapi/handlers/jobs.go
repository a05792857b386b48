package handlers

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"loopcard/internal/httpkit"
	"loopcard/internal/pkg/errors"
	"loopcard/internal/queue"
)

// keyPart constrains user and composition identifiers so they embed cleanly
// in Redis keys, object keys and URLs.
var keyPart = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

type SubmitJobRequest struct {
	User        string          `json:"user"`
	Composition string          `json:"composition"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

func (h *Handler) PostJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SubmitJobRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		httpkit.WriteErr(w, 400, string(errors.CodeValidation), "invalid json body", nil)
		return
	}

	req.User = strings.TrimSpace(req.User)
	req.Composition = strings.TrimSpace(req.Composition)
	if !keyPart.MatchString(req.User) {
		httpkit.WriteErr(w, 400, string(errors.CodeValidation), "user is required and must match [a-zA-Z0-9_-]{1,64}", map[string]any{"field": "user"})
		return
	}
	if !keyPart.MatchString(req.Composition) {
		httpkit.WriteErr(w, 400, string(errors.CodeValidation), "composition is required and must match [a-zA-Z0-9_-]{1,64}", map[string]any{"field": "composition"})
		return
	}

	jobID, coalesced, err := h.store.Submit(ctx, req.User, req.Composition, req.Payload)
	if err != nil {
		h.log.FromContext(ctx).Error("job submit failed", "error", err, "user", req.User, "composition", req.Composition)
		httpkit.WriteError(w, err)
		return
	}

	status := http.StatusCreated
	if coalesced {
		// An identical (user, composition) job is already in flight; hand
		// back its ID instead of queueing a duplicate.
		status = http.StatusOK
	}
	httpkit.WriteJSON(w, status, map[string]any{
		"job_id":    jobID,
		"coalesced": coalesced,
	})
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "jobID")

	job, err := h.store.Get(ctx, jobID)
	if err != nil {
		if errors.IsNotFound(err) && h.history != nil {
			job, err = h.history.Get(ctx, jobID)
		}
		if err != nil {
			httpkit.WriteError(w, err)
			return
		}
	}

	httpkit.WriteJSON(w, 200, map[string]any{"job": jobView(job)})
}

// GetCard redirects to the latest artifact for a (user, composition) key.
// This is the stable URL callers embed; it follows reruns automatically.
func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user := chi.URLParam(r, "user")
	composition := chi.URLParam(r, "composition")
	if !keyPart.MatchString(user) || !keyPart.MatchString(composition) {
		httpkit.WriteErr(w, 400, string(errors.CodeValidation), "invalid card key", nil)
		return
	}

	url, err := h.store.CachedArtifactURL(ctx, queue.Key(user, composition))
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}
	if url == "" {
		httpkit.WriteErr(w, 404, string(errors.CodeNotFound), "no artifact for this key yet", map[string]any{
			"user":        user,
			"composition": composition,
		})
		return
	}

	http.Redirect(w, r, url, http.StatusFound)
}

func jobView(job *queue.Job) map[string]any {
	out := map[string]any{
		"id":          job.ID,
		"user":        job.User,
		"composition": job.Composition,
		"status":      job.Status,
		"attempts":    job.Attempts,
		"created_at":  job.CreatedAt,
	}
	if job.Result != "" {
		out["result"] = job.Result
	}
	if job.Error != "" {
		out["error"] = job.Error
	}
	if !job.StartedAt.IsZero() {
		out["started_at"] = job.StartedAt
	}
	if !job.FinishedAt.IsZero() {
		out["finished_at"] = job.FinishedAt
	}
	return out
}
