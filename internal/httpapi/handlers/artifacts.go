package handlers

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"loopcard/internal/httpkit"
	"loopcard/internal/pkg/errors"
)

// StreamArtifact serves a stored GIF straight from the storage provider.
// Artifact URLs handed out on completion resolve here for localfs installs.
func (h *Handler) StreamArtifact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	objectKey := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if objectKey == "" || strings.Contains(objectKey, "..") {
		httpkit.WriteErr(w, 400, string(errors.CodeValidation), "invalid artifact key", nil)
		return
	}

	rc, ct, sizeBytes, err := h.storage.GetObject(ctx, objectKey)
	if err != nil {
		httpkit.WriteErr(w, 404, string(errors.CodeNotFound), "artifact not found", map[string]any{"object_key": objectKey})
		return
	}
	defer rc.Close()

	if ct == "" {
		ct = "image/gif"
	}
	w.Header().Set("Content-Type", ct)
	if sizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(sizeBytes, 10))
	}
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	_, _ = io.Copy(w, rc)
}
