package worker

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"loopcard/internal/engine"
	"loopcard/internal/pkg/logger"
	"loopcard/internal/ports"
	"loopcard/internal/queue"
)

// --- fakes -----------------------------------------------------------------

type fakeStore struct {
	mu        sync.Mutex
	jobs      map[string]*queue.Job
	urls      map[string]string
	pending   chan string
	active    int
	maxActive int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:    make(map[string]*queue.Job),
		urls:    make(map[string]string),
		pending: make(chan string, 64),
	}
}

func (s *fakeStore) seed(id, user, composition string) {
	s.mu.Lock()
	s.jobs[id] = &queue.Job{
		ID:          id,
		User:        user,
		Composition: composition,
		Status:      queue.StatusQueued,
		CreatedAt:   time.Now().UTC(),
	}
	s.mu.Unlock()
	s.pending <- id
}

func (s *fakeStore) Dequeue(ctx context.Context, wait time.Duration) (string, error) {
	select {
	case id := <-s.pending:
		return id, nil
	case <-time.After(wait):
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *fakeStore) MarkActive(ctx context.Context, id string) (*queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, stderrors.New("job not found")
	}
	job.Status = queue.StatusActive
	job.Attempts++
	s.active++
	if s.active > s.maxActive {
		s.maxActive = s.active
	}
	c := *job
	return &c, nil
}

func (s *fakeStore) MarkCompleted(ctx context.Context, job *queue.Job, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.jobs[job.ID]
	stored.Status = queue.StatusCompleted
	stored.Result = url
	s.active--
	return nil
}

func (s *fakeStore) MarkFailed(ctx context.Context, job *queue.Job, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.jobs[job.ID]
	stored.Status = queue.StatusFailed
	stored.Error = errText
	s.active--
	return nil
}

func (s *fakeStore) CacheArtifactURL(ctx context.Context, key, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.urls[key] = url
	return nil
}

func (s *fakeStore) snapshot(id string) queue.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

type fakeEngine struct {
	render func(ctx context.Context, p engine.Payload) ([]byte, error)
}

func (f *fakeEngine) Warmup(ctx context.Context) error { return nil }
func (f *fakeEngine) Close() error                     { return nil }
func (f *fakeEngine) Render(ctx context.Context, p engine.Payload) ([]byte, error) {
	if f.render != nil {
		return f.render(ctx, p)
	}
	return []byte("raw video"), nil
}

type fakeConverter struct {
	err error
}

func (f *fakeConverter) Convert(ctx context.Context, raw []byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]byte("GIF89a"), raw...), nil
}

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string][]byte)}
}

func (f *fakeStorage) Provider() string                      { return "fake" }
func (f *fakeStorage) EnsureBucket(ctx context.Context) error { return nil }

func (f *fakeStorage) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	if f.putErr != nil {
		return ports.PutObjectOutput{}, f.putErr
	}
	data, _ := io.ReadAll(in.Reader)
	f.mu.Lock()
	f.objects[in.ObjectKey] = data
	f.mu.Unlock()
	return ports.PutObjectOutput{ObjectKey: in.ObjectKey, Size: int64(len(data))}, nil
}

func (f *fakeStorage) GetObject(ctx context.Context, objectKey string) (io.ReadCloser, string, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[objectKey]
	if !ok {
		return nil, "", 0, stderrors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(data)), "image/gif", int64(len(data)), nil
}

func (f *fakeStorage) DeleteObject(ctx context.Context, objectKey string) error { return nil }

type fakeArchive struct {
	mu   sync.Mutex
	jobs map[string]queue.Job
}

func (f *fakeArchive) Record(ctx context.Context, job *queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.jobs == nil {
		f.jobs = make(map[string]queue.Job)
	}
	f.jobs[job.ID] = *job
	return nil
}

// --- helpers ---------------------------------------------------------------

func quietLogger() *logger.Logger {
	var buf bytes.Buffer
	return logger.New(logger.Config{Level: "error", Format: "json", Output: &buf})
}

func startPool(t *testing.T, p *Pool) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("pool did not stop")
		}
	})
	return cancel
}

func waitTerminal(t *testing.T, store *fakeStore, id string) queue.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job := store.snapshot(id)
		if job.Status.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", id)
	return queue.Job{}
}

// --- tests -----------------------------------------------------------------

func TestPipelineSuccess(t *testing.T) {
	store := newFakeStore()
	storage := newFakeStorage()
	archive := &fakeArchive{}
	eng := &fakeEngine{}
	handle := engine.NewHandle(func(ctx context.Context) (engine.Engine, error) { return eng, nil })

	p := New(Deps{
		Store:         store,
		Engine:        handle,
		Converter:     &fakeConverter{},
		Storage:       storage,
		Archive:       archive,
		PublicBaseURL: "https://cards.example.com",
		RenderTimeout: time.Second,
		Concurrency:   1,
		Log:           quietLogger(),
	})

	store.seed("job-1", "alice", "dark")
	startPool(t, p)

	job := waitTerminal(t, store, "job-1")
	if job.Status != queue.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", job.Status, job.Error)
	}
	if job.Result == "" {
		t.Fatal("expected a non-empty artifact URL")
	}
	if !strings.HasPrefix(job.Result, "https://cards.example.com/artifacts/alice/dark/") {
		t.Errorf("unexpected artifact URL %q", job.Result)
	}
	if job.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", job.Attempts)
	}

	// Repeat status read is idempotent.
	if again := store.snapshot("job-1"); again.Result != job.Result {
		t.Errorf("expected stable result, got %q then %q", job.Result, again.Result)
	}

	// URL cached under the dedup key.
	store.mu.Lock()
	cached := store.urls["alice:dark"]
	store.mu.Unlock()
	if cached != job.Result {
		t.Errorf("expected cached URL %q, got %q", job.Result, cached)
	}

	// Terminal outcome archived.
	archive.mu.Lock()
	archived, ok := archive.jobs["job-1"]
	archive.mu.Unlock()
	if !ok || archived.Status != queue.StatusCompleted {
		t.Error("expected completed job in archive")
	}

	// Artifact actually uploaded.
	storage.mu.Lock()
	stored := len(storage.objects)
	storage.mu.Unlock()
	if stored != 1 {
		t.Errorf("expected 1 stored object, got %d", stored)
	}
}

func TestRenderTimeoutFailsJobPoolSurvives(t *testing.T) {
	store := newFakeStore()
	eng := &fakeEngine{
		render: func(ctx context.Context, p engine.Payload) ([]byte, error) {
			if p.User == "slow" {
				select {
				case <-time.After(time.Minute):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			return []byte("raw"), nil
		},
	}
	handle := engine.NewHandle(func(ctx context.Context) (engine.Engine, error) { return eng, nil })

	p := New(Deps{
		Store:         store,
		Engine:        handle,
		Converter:     &fakeConverter{},
		Storage:       newFakeStorage(),
		PublicBaseURL: "http://localhost",
		RenderTimeout: 30 * time.Millisecond,
		Concurrency:   1,
		Log:           quietLogger(),
	})

	store.seed("job-slow", "slow", "dark")
	store.seed("job-ok", "alice", "dark")
	startPool(t, p)

	slow := waitTerminal(t, store, "job-slow")
	if slow.Status != queue.StatusFailed {
		t.Fatalf("expected failed, got %s", slow.Status)
	}
	if !strings.Contains(strings.ToLower(slow.Error), "timeout") {
		t.Errorf("expected timeout in error, got %q", slow.Error)
	}

	// The worker freed up and served the next job.
	ok := waitTerminal(t, store, "job-ok")
	if ok.Status != queue.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", ok.Status, ok.Error)
	}
}

func TestTranscodeFailureCarriesDiagnostics(t *testing.T) {
	store := newFakeStore()
	handle := engine.NewHandle(func(ctx context.Context) (engine.Engine, error) { return &fakeEngine{}, nil })

	p := New(Deps{
		Store:         store,
		Engine:        handle,
		Converter:     &fakeConverter{err: stderrors.New("ffmpeg failed: muxer not found")},
		Storage:       newFakeStorage(),
		PublicBaseURL: "http://localhost",
		RenderTimeout: time.Second,
		Concurrency:   1,
		Log:           quietLogger(),
	})

	store.seed("job-1", "alice", "dark")
	startPool(t, p)

	job := waitTerminal(t, store, "job-1")
	if job.Status != queue.StatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if !strings.Contains(job.Error, "muxer not found") {
		t.Errorf("expected subprocess diagnostics in error, got %q", job.Error)
	}
	if !strings.Contains(job.Error, "pipeline.transcode") {
		t.Errorf("expected stage name in error, got %q", job.Error)
	}
}

func TestUploadFailureFailsJob(t *testing.T) {
	store := newFakeStore()
	storage := newFakeStorage()
	storage.putErr = stderrors.New("bucket unavailable")
	handle := engine.NewHandle(func(ctx context.Context) (engine.Engine, error) { return &fakeEngine{}, nil })

	p := New(Deps{
		Store:         store,
		Engine:        handle,
		Converter:     &fakeConverter{},
		Storage:       storage,
		PublicBaseURL: "http://localhost",
		RenderTimeout: time.Second,
		Concurrency:   1,
		Log:           quietLogger(),
	})

	store.seed("job-1", "alice", "dark")
	startPool(t, p)

	job := waitTerminal(t, store, "job-1")
	if job.Status != queue.StatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if !strings.Contains(job.Error, "pipeline.upload") {
		t.Errorf("expected upload stage in error, got %q", job.Error)
	}
}

func TestConcurrencyBound(t *testing.T) {
	store := newFakeStore()
	eng := &fakeEngine{
		render: func(ctx context.Context, p engine.Payload) ([]byte, error) {
			time.Sleep(30 * time.Millisecond)
			return []byte("raw"), nil
		},
	}
	handle := engine.NewHandle(func(ctx context.Context) (engine.Engine, error) { return eng, nil })

	const w = 2
	p := New(Deps{
		Store:         store,
		Engine:        handle,
		Converter:     &fakeConverter{},
		Storage:       newFakeStorage(),
		PublicBaseURL: "http://localhost",
		RenderTimeout: time.Second,
		Concurrency:   w,
		Log:           quietLogger(),
	})

	const burst = 6
	for i := 0; i < burst; i++ {
		store.seed(fmt.Sprintf("job-%d", i), fmt.Sprintf("user-%d", i), "dark")
	}
	startPool(t, p)

	for i := 0; i < burst; i++ {
		job := waitTerminal(t, store, fmt.Sprintf("job-%d", i))
		if job.Status != queue.StatusCompleted {
			t.Fatalf("job %d: expected completed, got %s (%s)", i, job.Status, job.Error)
		}
	}

	store.mu.Lock()
	max := store.maxActive
	store.mu.Unlock()
	if max > w {
		t.Errorf("observed %d concurrent active jobs, limit is %d", max, w)
	}
	if max < 2 {
		t.Errorf("expected distinct keys to run concurrently, observed max %d", max)
	}
}

func TestEngineInitFailureFailsJob(t *testing.T) {
	store := newFakeStore()
	handle := engine.NewHandle(func(ctx context.Context) (engine.Engine, error) {
		return nil, stderrors.New("browser launch failed")
	})

	p := New(Deps{
		Store:         store,
		Engine:        handle,
		Converter:     &fakeConverter{},
		Storage:       newFakeStorage(),
		PublicBaseURL: "http://localhost",
		RenderTimeout: time.Second,
		Concurrency:   1,
		Log:           quietLogger(),
	})

	store.seed("job-1", "alice", "dark")
	startPool(t, p)

	job := waitTerminal(t, store, "job-1")
	if job.Status != queue.StatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if !strings.Contains(job.Error, "browser launch failed") {
		t.Errorf("expected init failure in error, got %q", job.Error)
	}
}
