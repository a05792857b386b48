package localfs

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"loopcard/internal/ports"
)

func TestEnsureBucket(t *testing.T) {
	root := filepath.Join(t.TempDir(), "artifacts")
	l := New(root)

	if err := l.EnsureBucket(context.Background()); err != nil {
		t.Fatalf("EnsureBucket failed: %v", err)
	}
	if _, err := os.Stat(root); err != nil {
		t.Fatalf("expected root to exist: %v", err)
	}

	// Idempotent.
	if err := l.EnsureBucket(context.Background()); err != nil {
		t.Fatalf("second EnsureBucket failed: %v", err)
	}
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	l := New(t.TempDir())

	payload := []byte("GIF89a fake")
	out, err := l.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   "artifacts/alice/dark/abc.gif",
		ContentType: "image/gif",
		Reader:      bytes.NewReader(payload),
		Size:        int64(len(payload)),
	})
	if err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}
	if out.ObjectKey != "artifacts/alice/dark/abc.gif" {
		t.Errorf("unexpected object key %q", out.ObjectKey)
	}
	if out.Size != int64(len(payload)) {
		t.Errorf("expected size %d, got %d", len(payload), out.Size)
	}

	rc, contentType, size, err := l.GetObject(ctx, out.ObjectKey)
	if err != nil {
		t.Fatalf("GetObject failed: %v", err)
	}
	defer rc.Close()

	got, _ := io.ReadAll(rc)
	if !bytes.Equal(got, payload) {
		t.Error("round-tripped bytes differ")
	}
	if contentType != "image/gif" {
		t.Errorf("expected image/gif, got %q", contentType)
	}
	if size != int64(len(payload)) {
		t.Errorf("expected size %d, got %d", len(payload), size)
	}

	if err := l.DeleteObject(ctx, out.ObjectKey); err != nil {
		t.Fatalf("DeleteObject failed: %v", err)
	}
	if _, _, _, err := l.GetObject(ctx, out.ObjectKey); err == nil {
		t.Error("expected error reading deleted object")
	}
}

func TestPutObjectRequiresKey(t *testing.T) {
	l := New(t.TempDir())
	_, err := l.PutObject(context.Background(), ports.PutObjectInput{Reader: bytes.NewReader(nil)})
	if err == nil {
		t.Error("expected error for empty object key")
	}
}
