// Package queue implements the Redis-backed job store: job records, the
// FIFO dispatch list, per-key dedup locks, and the artifact URL cache.
package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"loopcard/internal/pkg/errors"
)

const (
	jobKeyPrefix  = "loopcard:job:"
	lockKeyPrefix = "loopcard:lock:"
	urlKeyPrefix  = "loopcard:url:"
	queueKey      = "loopcard:jobs"

	// lockTTL is a safety valve: the dedup lock is normally released at the
	// terminal transition, but a worker that dies mid-job must not block its
	// key forever.
	lockTTL = 6 * time.Hour
)

// Store wraps the Redis client. BRPOP guarantees no two workers ever receive
// the same job; the dedup lock guarantees at most one live pipeline per key.
type Store struct {
	rdb       *redis.Client
	retention time.Duration
	urlTTL    time.Duration
}

// NewStore creates a Store. retention bounds how long terminal job records
// stay queryable before eviction.
func NewStore(rdb *redis.Client, retention time.Duration) *Store {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Store{rdb: rdb, retention: retention, urlTTL: retention}
}

// Ping round-trips the store and requires the exact expected reply.
func (s *Store) Ping(ctx context.Context) error {
	reply, err := s.rdb.Ping(ctx).Result()
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "store.ping", "store unreachable")
	}
	if reply != "PONG" {
		return errors.Newf(errors.CodeUnavailable, "store.ping: unexpected reply %q", reply)
	}
	return nil
}

// Submit enqueues a job for (user, composition). A still-pending or active
// job for the same key coalesces: the existing job's ID is returned and no
// new pipeline is started.
func (s *Store) Submit(ctx context.Context, user, composition string, payload json.RawMessage) (jobID string, coalesced bool, err error) {
	id := uuid.NewString()
	key := Key(user, composition)

	owner, acquired, err := acquireLock(ctx, s.rdb, lockKeyPrefix+key, id)
	if err != nil {
		return "", false, errors.Wrap(err, "store.submit", "dedup lock failed")
	}
	if !acquired {
		return owner, true, nil
	}

	job := &Job{
		ID:          id,
		User:        user,
		Composition: composition,
		Payload:     payload,
		Status:      StatusQueued,
		CreatedAt:   time.Now().UTC(),
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, jobKeyPrefix+id, jobFields(job))
	pipe.LPush(ctx, queueKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		_ = s.rdb.Del(ctx, lockKeyPrefix+key).Err()
		return "", false, errors.Wrap(err, "store.submit", "enqueue failed")
	}

	return id, false, nil
}

// lockCmds is the subset of redis commands the dedup handshake uses.
type lockCmds interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// acquireLock runs the dedup handshake for lockKey. Exactly one contender
// acquires; the rest get the owner's job ID. A lock released between the
// SetNX and the Get (the owner's job just went terminal) restarts the
// handshake rather than overwriting, so two contenders in that window can
// never both win.
func acquireLock(ctx context.Context, rdb lockCmds, lockKey, id string) (owner string, acquired bool, err error) {
	for {
		ok, err := rdb.SetNX(ctx, lockKey, id, lockTTL).Result()
		if err != nil {
			return "", false, err
		}
		if ok {
			return id, true, nil
		}

		owner, err := rdb.Get(ctx, lockKey).Result()
		if err == redis.Nil || (err == nil && owner == "") {
			continue
		}
		if err != nil {
			return "", false, err
		}
		return owner, false, nil
	}
}

// Dequeue blocks up to wait for the next job ID. Returns "" with no error
// when the wait elapses with an empty queue.
func (s *Store) Dequeue(ctx context.Context, wait time.Duration) (string, error) {
	res, err := s.rdb.BRPop(ctx, wait, queueKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if len(res) < 2 {
		return "", nil
	}
	return res[1], nil
}

// Get returns the job record, or a not-found error once it has been evicted.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	fields, err := s.rdb.HGetAll(ctx, jobKeyPrefix+id).Result()
	if err != nil {
		return nil, errors.Wrap(err, "store.get", "job lookup failed")
	}
	if len(fields) == 0 {
		return nil, errors.NotFound("job", id)
	}
	return jobFromFields(fields)
}

// MarkActive transitions the job to active, counts the dispatch attempt,
// and returns the full record for the worker to execute.
func (s *Store) MarkActive(ctx context.Context, id string) (*Job, error) {
	key := jobKeyPrefix + id

	pipe := s.rdb.TxPipeline()
	pipe.HIncrBy(ctx, key, "attempts", 1)
	pipe.HSet(ctx, key, map[string]any{
		"status":     string(StatusActive),
		"started_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errors.Wrap(err, "store.active", "failed to mark job active")
	}

	return s.Get(ctx, id)
}

// MarkCompleted records the artifact URL, starts the retention clock, and
// releases the dedup lock so a new submission for the key may run.
func (s *Store) MarkCompleted(ctx context.Context, job *Job, url string) error {
	return s.finish(ctx, job, map[string]any{
		"status":      string(StatusCompleted),
		"result":      url,
		"finished_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// MarkFailed records the failure description, starts the retention clock,
// and releases the dedup lock. Failure is terminal: the job is never
// requeued automatically.
func (s *Store) MarkFailed(ctx context.Context, job *Job, errText string) error {
	return s.finish(ctx, job, map[string]any{
		"status":      string(StatusFailed),
		"error":       errText,
		"finished_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Store) finish(ctx context.Context, job *Job, fields map[string]any) error {
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, jobKeyPrefix+job.ID, fields)
	pipe.Expire(ctx, jobKeyPrefix+job.ID, s.retention)
	pipe.Del(ctx, lockKeyPrefix+job.Key())
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "store.finish", "terminal transition failed")
	}
	return nil
}

// CacheArtifactURL persists the public URL for a (user, composition) key.
func (s *Store) CacheArtifactURL(ctx context.Context, key, url string) error {
	if err := s.rdb.Set(ctx, urlKeyPrefix+key, url, s.urlTTL).Err(); err != nil {
		return errors.Wrap(err, "store.cache", "url cache write failed")
	}
	return nil
}

// CachedArtifactURL returns the cached public URL, or "" when absent.
func (s *Store) CachedArtifactURL(ctx context.Context, key string) (string, error) {
	url, err := s.rdb.Get(ctx, urlKeyPrefix+key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "store.cache", "url cache read failed")
	}
	return url, nil
}

func jobFields(j *Job) map[string]any {
	fields := map[string]any{
		"id":          j.ID,
		"user":        j.User,
		"composition": j.Composition,
		"status":      string(j.Status),
		"attempts":    j.Attempts,
		"created_at":  j.CreatedAt.Format(time.RFC3339Nano),
	}
	if len(j.Payload) > 0 {
		fields["payload"] = string(j.Payload)
	}
	return fields
}

func jobFromFields(fields map[string]string) (*Job, error) {
	job := &Job{
		ID:          fields["id"],
		User:        fields["user"],
		Composition: fields["composition"],
		Status:      Status(fields["status"]),
		Result:      fields["result"],
		Error:       fields["error"],
	}
	if p := fields["payload"]; p != "" {
		job.Payload = json.RawMessage(p)
	}
	if v := fields["attempts"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.Internalf("store.decode: bad attempts %q", v)
		}
		job.Attempts = n
	}
	for field, dst := range map[string]*time.Time{
		"created_at":  &job.CreatedAt,
		"started_at":  &job.StartedAt,
		"finished_at": &job.FinishedAt,
	} {
		if v := fields[field]; v != "" {
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return nil, errors.Internalf("store.decode: bad %s %q", field, v)
			}
			*dst = t
		}
	}
	return job, nil
}
