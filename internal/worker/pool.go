// Package worker runs the render pipeline: a bounded pool of goroutines
// pulling jobs off the queue and turning each one into a stored artifact.
package worker

import (
	"context"
	"sync"
	"time"

	"loopcard/internal/engine"
	"loopcard/internal/pkg/logger"
	"loopcard/internal/ports"
	"loopcard/internal/queue"
)

// JobStore is the worker-side surface of the queue store.
type JobStore interface {
	Dequeue(ctx context.Context, wait time.Duration) (string, error)
	MarkActive(ctx context.Context, id string) (*queue.Job, error)
	MarkCompleted(ctx context.Context, job *queue.Job, url string) error
	MarkFailed(ctx context.Context, job *queue.Job, errText string) error
	CacheArtifactURL(ctx context.Context, key, url string) error
}

// Converter turns raw rendered video into the distributable artifact.
type Converter interface {
	Convert(ctx context.Context, raw []byte) ([]byte, error)
}

// Archiver records terminal job outcomes durably. Optional.
type Archiver interface {
	Record(ctx context.Context, job *queue.Job) error
}

type Deps struct {
	Store     JobStore
	Engine    *engine.Handle
	Converter Converter
	Storage   ports.StorageProvider
	Archive   Archiver

	PublicBaseURL string
	RenderTimeout time.Duration
	Concurrency   int
	Log           *logger.Logger
}

// Pool dispatches dequeued jobs to at most Concurrency concurrent pipeline
// executions. The engine handle is owned by the caller and shared across
// every execution; the pool never closes it.
type Pool struct {
	store     JobStore
	engine    *engine.Handle
	converter Converter
	storage   ports.StorageProvider
	archive   Archiver

	publicBaseURL string
	renderTimeout time.Duration
	concurrency   int
	log           *logger.Logger
}

const dequeueWait = 30 * time.Second

func New(d Deps) *Pool {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	concurrency := d.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	renderTimeout := d.RenderTimeout
	if renderTimeout <= 0 {
		renderTimeout = 3 * time.Minute
	}

	return &Pool{
		store:         d.Store,
		engine:        d.Engine,
		converter:     d.Converter,
		storage:       d.Storage,
		archive:       d.Archive,
		publicBaseURL: d.PublicBaseURL,
		renderTimeout: renderTimeout,
		concurrency:   concurrency,
		log:           log.WithComponent("worker"),
	}
}

// Run serves jobs until ctx is canceled. It blocks; on cancellation every
// in-flight job runs to its terminal state before Run returns.
func (p *Pool) Run(ctx context.Context) error {
	p.log.Info("worker pool starting", "concurrency", p.concurrency)

	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.loop(ctx, n)
		}(i)
	}
	wg.Wait()

	p.log.Info("worker pool stopped")
	return ctx.Err()
}

func (p *Pool) loop(ctx context.Context, n int) {
	log := p.log.WithWorker(n)

	for {
		select {
		case <-ctx.Done():
			log.Info("worker stopping")
			return
		default:
		}

		jobID, err := p.store.Dequeue(ctx, dequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("worker stopping")
				return
			}
			log.Warn("dequeue error, retrying", "error", err.Error())
			time.Sleep(time.Second)
			continue
		}
		if jobID == "" {
			continue
		}

		// Detached from the loop context so a shutdown signal mid-job does
		// not abort the render; the shutdown grace period bounds the wait.
		jobCtx := logger.ContextWithJobID(context.WithoutCancel(ctx), jobID)
		jobLog := log.WithJobID(jobID)

		jobLog.Info("processing job")
		start := time.Now()

		if err := p.process(jobCtx, jobID); err != nil {
			jobLog.Error("job failed",
				"error", err.Error(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		} else {
			jobLog.Info("job completed",
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}
	}
}

// process owns one job from active to terminal. Pipeline errors become the
// job's failed result; they are never allowed to kill the worker.
func (p *Pool) process(ctx context.Context, jobID string) error {
	job, err := p.store.MarkActive(ctx, jobID)
	if err != nil {
		return err
	}

	url, pipeErr := p.pipeline(ctx, job)
	if pipeErr != nil {
		return p.fail(ctx, job, pipeErr)
	}

	if err := p.store.MarkCompleted(ctx, job, url); err != nil {
		return err
	}
	job.Status = queue.StatusCompleted
	job.Result = url
	job.FinishedAt = time.Now().UTC()
	p.archiveJob(ctx, job)
	return nil
}

func (p *Pool) fail(ctx context.Context, job *queue.Job, cause error) error {
	msg := cause.Error()
	if len(msg) > 2000 {
		msg = msg[:2000]
	}

	if err := p.store.MarkFailed(ctx, job, msg); err != nil {
		p.log.FromContext(ctx).Error("failed to record job failure", "error", err.Error())
	}
	job.Status = queue.StatusFailed
	job.Error = msg
	job.FinishedAt = time.Now().UTC()
	p.archiveJob(ctx, job)

	return cause
}

func (p *Pool) archiveJob(ctx context.Context, job *queue.Job) {
	if p.archive == nil {
		return
	}
	if err := p.archive.Record(ctx, job); err != nil {
		p.log.FromContext(ctx).Warn("archive write failed", "error", err.Error())
	}
}
