package jobs

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"sumi/internal/apperr"
	"sumi/internal/model"
)

// Store persists async jobs in redis under a fixed TTL. Completion
// and failure rewrite the record and refresh the TTL.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{rdb: rdb, ttl: ttl, now: time.Now}
}

func jobKey(id string) string { return "job:" + id }

// newJobID returns a short opaque token, 12 hex characters.
func newJobID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Create registers a new processing job and returns it.
func (s *Store) Create(ctx context.Context, targetURL string, opts model.Options, callbackURL string) (*model.Job, error) {
	job := &model.Job{
		ID:          newJobID(),
		URL:         targetURL,
		Options:     opts,
		CallbackURL: callbackURL,
		Status:      model.JobProcessing,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.put(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Get loads a job by id; unknown or expired ids are JobNotFound.
func (s *Store) Get(ctx context.Context, id string) (*model.Job, error) {
	data, err := s.rdb.Get(ctx, jobKey(id)).Bytes()
	if err == redis.Nil {
		return nil, apperr.New(apperr.KindJobNotFound, "job not found")
	}
	if err != nil {
		return nil, apperr.New(apperr.KindCacheUnavailable, "job store unavailable")
	}
	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, apperr.New(apperr.KindJobNotFound, "job not found")
	}
	return &job, nil
}

// Complete marks the job done and attaches the result.
func (s *Store) Complete(ctx context.Context, id string, result *model.Result) (*model.Job, error) {
	return s.finish(ctx, id, func(job *model.Job) {
		job.Status = model.JobCompleted
		job.Result = result
	})
}

// Fail marks the job failed with an error message.
func (s *Store) Fail(ctx context.Context, id, message string) (*model.Job, error) {
	return s.finish(ctx, id, func(job *model.Job) {
		job.Status = model.JobFailed
		job.Error = message
	})
}

func (s *Store) finish(ctx context.Context, id string, mutate func(*model.Job)) (*model.Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	mutate(job)
	done := s.now().UTC()
	job.CompletedAt = &done
	if err := s.put(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Store) put(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return apperr.New(apperr.KindInternal, "job encode failed")
	}
	if err := s.rdb.Set(ctx, jobKey(job.ID), data, s.ttl).Err(); err != nil {
		return apperr.New(apperr.KindCacheUnavailable, "job store unavailable")
	}
	return nil
}
