// Package history keeps a durable record of terminal job outcomes in
// Postgres, outliving the queue store's bounded retention.
package history

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"loopcard/internal/pkg/errors"
	"loopcard/internal/queue"
)

// Archive reads and writes the jobs_archive table.
type Archive struct {
	pool *pgxpool.Pool
}

func NewArchive(pool *pgxpool.Pool) *Archive {
	return &Archive{pool: pool}
}

// EnsureSchema creates the archive table when absent. Run once at boot.
func (a *Archive) EnsureSchema(ctx context.Context) error {
	_, err := a.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS jobs_archive (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			composition TEXT NOT NULL,
			status      TEXT NOT NULL,
			attempts    INT NOT NULL DEFAULT 0,
			result      TEXT,
			error_text  TEXT,
			created_at  TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return errors.Wrap(err, "history.schema", "archive schema setup failed")
	}
	return nil
}

// Record stores a terminal job. Re-recording the same job is a no-op so a
// worker crash between transition and archive stays safe to repeat.
func (a *Archive) Record(ctx context.Context, job *queue.Job) error {
	if !job.Status.Terminal() {
		return errors.Internalf("history.record: job %s is not terminal (%s)", job.ID, job.Status)
	}

	_, err := a.pool.Exec(ctx,
		`INSERT INTO jobs_archive (id, user_id, composition, status, attempts, result, error_text, created_at, finished_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 ON CONFLICT (id) DO NOTHING`,
		job.ID, job.User, job.Composition, string(job.Status), job.Attempts,
		nullIfEmpty(job.Result), nullIfEmpty(job.Error), job.CreatedAt, job.FinishedAt,
	)
	if err != nil {
		return errors.Wrap(err, "history.record", "archive insert failed")
	}
	return nil
}

// Get returns an archived job, used as the status fallback after the queue
// store evicts the record.
func (a *Archive) Get(ctx context.Context, id string) (*queue.Job, error) {
	job := &queue.Job{ID: id}
	var status, result, errText *string

	err := a.pool.QueryRow(ctx,
		`SELECT user_id, composition, status, attempts, result, error_text, created_at, finished_at
		 FROM jobs_archive WHERE id=$1`,
		id,
	).Scan(&job.User, &job.Composition, &status, &job.Attempts, &result, &errText, &job.CreatedAt, &job.FinishedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("job", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "history.get", "archive lookup failed")
	}

	if status != nil {
		job.Status = queue.Status(*status)
	}
	if result != nil {
		job.Result = *result
	}
	if errText != nil {
		job.Error = *errText
	}
	return job, nil
}

// Prune deletes archived jobs that finished more than age ago. Returns the
// number of rows removed.
func (a *Archive) Prune(ctx context.Context, age time.Duration) (int64, error) {
	tag, err := a.pool.Exec(ctx,
		`DELETE FROM jobs_archive WHERE finished_at < $1`,
		time.Now().UTC().Add(-age),
	)
	if err != nil {
		return 0, errors.Wrap(err, "history.prune", "archive prune failed")
	}
	return tag.RowsAffected(), nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
