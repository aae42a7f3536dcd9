// Package memory holds the job registry: the in-process source of truth for
// job state. Every read returns a deep copy and every mutation happens in one
// critical section, so concurrent front-ends and workers observe linearizable
// state.
//
// Without a Persister the registry lives in memory only and is lost on restart.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SGITme/whisper-MP3transcriber/internal/apperr"
	"github.com/SGITme/whisper-MP3transcriber/internal/entity"
)

var ErrInvalidTransition = errors.New("invalid job transition")

// Persister mirrors snapshots to durable storage (implementation: postgresql.JobRepository).
type Persister interface {
	Save(ctx context.Context, job *entity.Job) error
	Delete(ctx context.Context, id string) error
	LoadAll(ctx context.Context) ([]*entity.Job, error)
}

// Observer receives a snapshot after every successful mutation.
type Observer func(job *entity.Job)

type Option func(*JobRepository)

func WithObserver(o Observer) Option {
	return func(r *JobRepository) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}

func WithPersister(p Persister) Option {
	return func(r *JobRepository) { r.persister = p }
}

func WithClock(now func() time.Time) Option {
	return func(r *JobRepository) {
		if now != nil {
			r.now = now
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(r *JobRepository) {
		if log != nil {
			r.log = log
		}
	}
}

type CreateParams struct {
	Filename     string
	SourcePath   string
	Source       entity.Source
	RemoveSource bool
	Options      entity.Options
}

type JobRepository struct {
	mu   sync.RWMutex
	jobs map[string]*entity.Job
	seq  uint64

	// persistMu orders persister writes: a Save only goes out while the job
	// is still registered, and a Delete cannot interleave with it.
	persistMu sync.Mutex

	now       func() time.Time
	observers []Observer
	persister Persister
	log       *zap.Logger
}

func NewJobRepository(opts ...Option) *JobRepository {
	r := &JobRepository{
		jobs: make(map[string]*entity.Job),
		now:  func() time.Time { return time.Now().UTC() },
		log:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *JobRepository) Create(ctx context.Context, p CreateParams) (*entity.Job, error) {
	now := r.now()
	job := &entity.Job{
		ID:            uuid.NewString(),
		Filename:      p.Filename,
		SourcePath:    p.SourcePath,
		Source:        p.Source,
		RemoveSource:  p.RemoveSource,
		Options:       p.Options.Clone(),
		Status:        entity.StatusPending,
		Progress:      0,
		Message:       "queued",
		OutputFormats: []entity.Format{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	r.mu.Lock()
	r.seq++
	job.Version = r.seq
	r.jobs[job.ID] = job
	snap := job.Clone()
	r.mu.Unlock()

	r.notify(ctx, snap)
	return snap.Clone(), nil
}

func (r *JobRepository) Get(ctx context.Context, id string) (*entity.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, apperr.NotFound("job")
	}
	return job.Clone(), nil
}

// List returns every job in no particular order.
func (r *JobRepository) List(ctx context.Context) ([]*entity.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*entity.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job.Clone())
	}
	return out, nil
}

// Update applies fn to a copy of the job and commits it in one step.
// fn errors abort the update; the committed record must still satisfy the
// lifecycle invariants. Identity fields and the options snapshot cannot change.
func (r *JobRepository) Update(ctx context.Context, id string, fn func(job *entity.Job) error) (*entity.Job, error) {
	r.mu.Lock()
	cur, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return nil, apperr.NotFound("job")
	}

	next := cur.Clone()
	if err := fn(next); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if err := checkInvariants(cur, next); err != nil {
		r.mu.Unlock()
		return nil, err
	}

	next.ID = cur.ID
	next.Filename = cur.Filename
	next.SourcePath = cur.SourcePath
	next.Source = cur.Source
	next.RemoveSource = cur.RemoveSource
	next.Options = cur.Options.Clone()
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = r.now()
	r.seq++
	next.Version = r.seq
	r.jobs[id] = next
	snap := next.Clone()
	r.mu.Unlock()

	r.notify(ctx, snap)
	return snap.Clone(), nil
}

func (r *JobRepository) Delete(ctx context.Context, id string) error {
	if r.persister != nil {
		r.persistMu.Lock()
		defer r.persistMu.Unlock()
	}

	r.mu.Lock()
	if _, ok := r.jobs[id]; !ok {
		r.mu.Unlock()
		return apperr.NotFound("job")
	}
	delete(r.jobs, id)
	r.mu.Unlock()

	if r.persister != nil {
		if err := r.persister.Delete(ctx, id); err != nil {
			r.log.Warn("persist delete failed", zap.String("job_id", id), zap.Error(err))
		}
	}
	return nil
}

// Restore loads persisted jobs. Jobs that were still pending or processing
// when the previous process stopped cannot resume and are marked failed.
func (r *JobRepository) Restore(ctx context.Context) (int, error) {
	if r.persister == nil {
		return 0, nil
	}
	loaded, err := r.persister.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load persisted jobs: %w", err)
	}

	var interrupted []*entity.Job
	r.mu.Lock()
	for _, job := range loaded {
		if job == nil || job.ID == "" {
			continue
		}
		if job.Version > r.seq {
			r.seq = job.Version
		}
		r.jobs[job.ID] = job.Clone()
	}
	for _, job := range r.jobs {
		if job.Status.IsTerminal() {
			continue
		}
		job.Status = entity.StatusFailed
		job.Message = "interrupted by restart"
		job.Result = nil
		job.OutputFormats = []entity.Format{}
		job.UpdatedAt = r.now()
		r.seq++
		job.Version = r.seq
		interrupted = append(interrupted, job.Clone())
	}
	count := len(r.jobs)
	r.mu.Unlock()

	for _, job := range interrupted {
		if err := r.persister.Save(ctx, job); err != nil {
			r.log.Warn("persist restored job failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	return count, nil
}

func (r *JobRepository) notify(ctx context.Context, snap *entity.Job) {
	if r.persister != nil {
		r.persist(ctx, snap)
	}
	for _, o := range r.observers {
		o(snap.Clone())
	}
}

// persist saves snap unless the job was deleted after snap was taken.
func (r *JobRepository) persist(ctx context.Context, snap *entity.Job) {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	r.mu.RLock()
	_, ok := r.jobs[snap.ID]
	r.mu.RUnlock()
	if !ok {
		r.log.Debug("skip persist of deleted job", zap.String("job_id", snap.ID))
		return
	}
	if err := r.persister.Save(ctx, snap); err != nil {
		r.log.Warn("persist job failed", zap.String("job_id", snap.ID), zap.Error(err))
	}
}

func checkInvariants(cur, next *entity.Job) error {
	if !cur.Status.CanTransition(next.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, next.Status)
	}
	if next.Progress < 0 || next.Progress > 1 {
		return fmt.Errorf("%w: progress %.3f out of range", ErrInvalidTransition, next.Progress)
	}
	if cur.Status == entity.StatusProcessing && next.Progress < cur.Progress {
		return fmt.Errorf("%w: progress %.3f -> %.3f decreases", ErrInvalidTransition, cur.Progress, next.Progress)
	}
	if (next.Result != nil) != (next.Status == entity.StatusCompleted) {
		return fmt.Errorf("%w: result must be present exactly when completed", ErrInvalidTransition)
	}
	return nil
}
