package engine

import (
	"context"
	"sync"

	"loopcard/internal/pkg/errors"
)

// ErrClosed is returned by Acquire after the handle has been torn down.
var ErrClosed = errors.New(errors.CodeUnavailable, "engine handle is closed")

// Handle owns the process-wide engine instance. Initialization is lazy and
// funnelled: under concurrent demand exactly one factory call runs and every
// caller observes its outcome. A failed initialization resets the handle so
// a later Acquire may retry startup; the handle itself never retries.
//
// Constructed by the process main and shared across the pool.
type Handle struct {
	factory func(ctx context.Context) (Engine, error)

	mu     sync.Mutex
	eng    Engine
	round  *initRound
	closed bool
}

// initRound publishes the outcome of one in-flight initialization to every
// caller waiting on it. err is written before done is closed.
type initRound struct {
	done chan struct{}
	err  error
}

// NewHandle creates a handle around the given engine factory.
func NewHandle(factory func(ctx context.Context) (Engine, error)) *Handle {
	return &Handle{factory: factory}
}

// Acquire returns the ready engine, initializing it on first use. Concurrent
// callers during initialization all await the same attempt. A caller whose
// context expires while waiting detaches without aborting the attempt, so a
// later Acquire can still adopt the finished engine.
func (h *Handle) Acquire(ctx context.Context) (Engine, error) {
	for {
		h.mu.Lock()

		if h.closed {
			h.mu.Unlock()
			return nil, ErrClosed
		}
		if h.eng != nil {
			eng := h.eng
			h.mu.Unlock()
			return eng, nil
		}

		if r := h.round; r != nil {
			h.mu.Unlock()
			select {
			case <-r.done:
			case <-ctx.Done():
				return nil, errors.WrapWithCode(ctx.Err(), errors.CodeUnavailable, "engine.acquire", "canceled while awaiting initialization")
			}
			if r.err != nil {
				return nil, r.err
			}
			continue // pick up the installed engine
		}

		r := &initRound{done: make(chan struct{})}
		h.round = r
		h.mu.Unlock()

		eng, err := h.factory(ctx)

		h.mu.Lock()
		h.round = nil
		if err != nil {
			r.err = errors.WrapWithCode(err, errors.CodeUnavailable, "engine.init", "engine startup failed")
			h.mu.Unlock()
			close(r.done)
			return nil, r.err
		}
		if h.closed {
			// Teardown raced the initialization; the fresh engine must
			// not outlive the handle.
			r.err = ErrClosed
			h.mu.Unlock()
			close(r.done)
			_ = eng.Close()
			return nil, ErrClosed
		}
		h.eng = eng
		h.mu.Unlock()
		close(r.done)
		return eng, nil
	}
}

// Close tears down the engine and marks the handle closed. Idempotent;
// calling it with no engine ever initialized is a no-op.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	eng := h.eng
	h.eng = nil
	h.mu.Unlock()

	if eng != nil {
		return eng.Close()
	}
	return nil
}
