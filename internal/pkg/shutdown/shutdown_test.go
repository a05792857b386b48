package shutdown

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"loopcard/internal/pkg/logger"
)

func newTestLogger() *logger.Logger {
	var buf bytes.Buffer
	return logger.New(logger.Config{
		Level:  "debug",
		Format: "json",
		Output: &buf,
	})
}

func TestNewManager(t *testing.T) {
	log := newTestLogger()

	t.Run("with default timeout", func(t *testing.T) {
		mgr := NewManager(log, 0)
		if mgr.timeout != 30*time.Second {
			t.Errorf("expected default 30s timeout, got %s", mgr.timeout)
		}
	})

	t.Run("with custom timeout", func(t *testing.T) {
		mgr := NewManager(log, 10*time.Second)
		if mgr.timeout != 10*time.Second {
			t.Errorf("expected 10s timeout, got %s", mgr.timeout)
		}
	})
}

func TestRegister(t *testing.T) {
	mgr := NewManager(newTestLogger(), 5*time.Second)

	mgr.Register("test", func(ctx context.Context) error { return nil })

	if len(mgr.handlers) != 1 {
		t.Fatalf("expected 1 handler, got %d", len(mgr.handlers))
	}
	if mgr.handlers[0].Name != "test" {
		t.Errorf("expected handler name 'test', got %s", mgr.handlers[0].Name)
	}
}

func TestShutdown(t *testing.T) {
	t.Run("runs handlers in LIFO order", func(t *testing.T) {
		mgr := NewManager(newTestLogger(), 5*time.Second)

		var mu sync.Mutex
		var order []string
		record := func(name string) func(context.Context) error {
			return func(ctx context.Context) error {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return nil
			}
		}

		mgr.Register("first", record("first"))
		mgr.Register("second", record("second"))
		mgr.Register("third", record("third"))

		mgr.Shutdown()

		want := []string{"third", "second", "first"}
		for i, name := range want {
			if order[i] != name {
				t.Fatalf("expected order %v, got %v", want, order)
			}
		}
	})

	t.Run("handler error does not stop remaining handlers", func(t *testing.T) {
		mgr := NewManager(newTestLogger(), 5*time.Second)

		ran := false
		mgr.Register("inner", func(ctx context.Context) error {
			ran = true
			return nil
		})
		mgr.Register("failing", func(ctx context.Context) error {
			return errors.New("cleanup failed")
		})

		mgr.Shutdown()

		if !ran {
			t.Error("expected handler after failure to run")
		}
	})

	t.Run("second call is a no-op", func(t *testing.T) {
		mgr := NewManager(newTestLogger(), 5*time.Second)

		calls := 0
		mgr.Register("counter", func(ctx context.Context) error {
			calls++
			return nil
		})

		mgr.Shutdown()
		mgr.Shutdown()

		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})

	t.Run("closes done channel", func(t *testing.T) {
		mgr := NewManager(newTestLogger(), 5*time.Second)
		mgr.Shutdown()

		select {
		case <-mgr.Done():
		case <-time.After(time.Second):
			t.Error("expected done channel to be closed")
		}
	})

	t.Run("skips handlers after timeout", func(t *testing.T) {
		mgr := NewManager(newTestLogger(), 50*time.Millisecond)

		skipped := true
		mgr.Register("never-runs", func(ctx context.Context) error {
			skipped = false
			return nil
		})
		mgr.Register("slow", func(ctx context.Context) error {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			return ctx.Err()
		})

		mgr.Shutdown()

		if !skipped {
			t.Error("expected handler after timeout to be skipped")
		}
	})
}
