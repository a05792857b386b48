package handlers

import (
	"context"
	"encoding/json"

	"loopcard/internal/pkg/logger"
	"loopcard/internal/ports"
	"loopcard/internal/queue"
	"loopcard/internal/readiness"
)

// JobStore is the queue surface the API needs: submission, status reads and
// the artifact URL cache.
type JobStore interface {
	Submit(ctx context.Context, user, composition string, payload json.RawMessage) (jobID string, coalesced bool, err error)
	Get(ctx context.Context, id string) (*queue.Job, error)
	CachedArtifactURL(ctx context.Context, key string) (string, error)
}

// Historian serves terminal jobs whose queue records have already expired.
type Historian interface {
	Get(ctx context.Context, id string) (*queue.Job, error)
}

type Deps struct {
	Store   JobStore
	History Historian // optional; nil disables the archive fallback
	Storage ports.StorageProvider
	Checks  []readiness.Check
	Log     *logger.Logger
}

type Handler struct {
	store   JobStore
	history Historian
	storage ports.StorageProvider
	checks  []readiness.Check
	log     *logger.Logger
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	return &Handler{
		store:   d.Store,
		history: d.History,
		storage: d.Storage,
		checks:  d.Checks,
		log:     log.WithComponent("httpapi"),
	}
}
