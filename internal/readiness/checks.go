package readiness

import (
	"context"
	"time"

	"loopcard/internal/engine"
	"loopcard/internal/pkg/retry"
	"loopcard/internal/ports"
)

// Pinger is the queue/cache store liveness surface.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Verifier validates upstream credentials.
type Verifier interface {
	Verify(ctx context.Context) error
}

// StoreCheck pings the queue/cache store; the store rejects anything but
// the exact expected reply.
func StoreCheck(store Pinger) Check {
	return Check{
		Name:   "store",
		Policy: retry.Policy{Attempts: 10, Delay: 1500 * time.Millisecond, Timeout: 5 * time.Second},
		Probe:  store.Ping,
	}
}

// ObjectStoreCheck ensures the artifact container exists, creating it when
// absent.
func ObjectStoreCheck(sp ports.StorageProvider) Check {
	return Check{
		Name:   "object-store",
		Policy: retry.Policy{Attempts: 10, Delay: 2 * time.Second, Timeout: 15 * time.Second},
		Probe:  sp.EnsureBucket,
	}
}

// AuthCheck verifies the upstream credentials are valid and reachable.
func AuthCheck(v Verifier) Check {
	return Check{
		Name:   "auth",
		Policy: retry.Policy{Attempts: 5, Delay: 2 * time.Second, Timeout: 15 * time.Second},
		Probe:  v.Verify,
	}
}

// WarmupCheck forces full engine and bundle initialization through the
// shared handle. Worker processes run it at startup; api processes skip it.
func WarmupCheck(h *engine.Handle) Check {
	return Check{
		Name:   "engine-warmup",
		Policy: retry.Policy{Attempts: 3, Delay: 2 * time.Second, Timeout: 120 * time.Second},
		Probe: func(ctx context.Context) error {
			eng, err := h.Acquire(ctx)
			if err != nil {
				return err
			}
			return eng.Warmup(ctx)
		},
	}
}
