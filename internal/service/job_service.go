package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/SGITme/whisper-MP3transcriber/internal/apperr"
	"github.com/SGITme/whisper-MP3transcriber/internal/entity"
	"github.com/SGITme/whisper-MP3transcriber/internal/repository/memory"
)

// JobRepository is the registry port (implementation: memory.JobRepository).
type JobRepository interface {
	Create(ctx context.Context, p memory.CreateParams) (*entity.Job, error)
	Get(ctx context.Context, id string) (*entity.Job, error)
	List(ctx context.Context) ([]*entity.Job, error)
	Delete(ctx context.Context, id string) error
}

// JobQueue is the producer side of Queue.
type JobQueue interface {
	Enqueue(ctx context.Context, jobID string) error
	Full() bool
}

// Defaults are applied to submissions that leave options empty.
type Defaults struct {
	Model    entity.Model
	Language string
	Formats  []entity.Format
}

type JobService struct {
	// admitMu serialises the capacity check with create+enqueue so a
	// rejected submission never publishes a job.
	admitMu   sync.Mutex
	repo      JobRepository
	queue     JobQueue
	outputDir string
	defaults  Defaults
	validate  *validator.Validate
	log       *zap.Logger
	now       func() time.Time
}

func NewJobService(repo JobRepository, queue JobQueue, outputDir string, defaults Defaults, log *zap.Logger) *JobService {
	if log == nil {
		log = zap.NewNop()
	}
	if defaults.Model == "" {
		defaults.Model = entity.ModelLarge
	}
	if len(defaults.Formats) == 0 {
		defaults.Formats = []entity.Format{entity.FormatTXT, entity.FormatSRT}
	}
	return &JobService{
		repo:      repo,
		queue:     queue,
		outputDir: outputDir,
		defaults:  defaults,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type SubmitRequest struct {
	SourcePath   string          `validate:"required"`
	Filename     string          `validate:"omitempty,max=255"`
	Model        entity.Model    `validate:"required,oneof=tiny base small medium large large-v2 large-v3"`
	Language     string          `validate:"omitempty,max=16,excludesall=/\\ "`
	Formats      []entity.Format `validate:"required,min=1,dive,oneof=txt srt vtt json"`
	Source       entity.Source   `validate:"required,oneof=upload cli watch"`
	RemoveSource bool
}

// Submit is the single entry point used by the HTTP, CLI and watcher front-ends.
// Invalid input is rejected before any job exists; the returned job is pending.
func (s *JobService) Submit(ctx context.Context, req SubmitRequest) (*entity.Job, error) {
	req = s.withDefaults(req)

	if err := s.validate.Struct(req); err != nil {
		return nil, apperr.Invalid("%s", describeValidation(err))
	}
	if !entity.IsAudioFile(req.Filename) {
		return nil, apperr.Invalid("unsupported format: %q", strings.ToLower(filepath.Ext(req.Filename)))
	}
	info, err := os.Stat(req.SourcePath)
	if err != nil {
		return nil, apperr.Invalid("cannot access source file: %s", req.SourcePath)
	}
	if info.IsDir() {
		return nil, apperr.Invalid("source is a directory: %s", req.SourcePath)
	}

	s.admitMu.Lock()
	defer s.admitMu.Unlock()
	if s.queue.Full() {
		s.log.Warn("queue full, submission rejected", zap.String("file", req.Filename))
		return nil, apperr.ErrQueueFull
	}

	job, err := s.repo.Create(ctx, memory.CreateParams{
		Filename:     req.Filename,
		SourcePath:   req.SourcePath,
		Source:       req.Source,
		RemoveSource: req.RemoveSource,
		Options: entity.Options{
			Model:    req.Model,
			Language: req.Language,
			Formats:  req.Formats,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := s.queue.Enqueue(ctx, job.ID); err != nil {
		_ = s.repo.Delete(ctx, job.ID)
		s.log.Warn("enqueue failed", zap.String("job_id", job.ID), zap.Error(err))
		return nil, err
	}

	s.log.Info("job submitted",
		zap.String("job_id", job.ID),
		zap.String("source", string(job.Source)),
		zap.String("file", job.Filename),
		zap.String("model", string(job.Options.Model)),
	)
	return job, nil
}

func (s *JobService) withDefaults(req SubmitRequest) SubmitRequest {
	req.SourcePath = strings.TrimSpace(req.SourcePath)
	if strings.TrimSpace(req.Filename) == "" {
		req.Filename = filepath.Base(req.SourcePath)
	}
	if req.Model == "" {
		req.Model = s.defaults.Model
	}
	req.Language = strings.TrimSpace(req.Language)
	if req.Language == "" {
		req.Language = s.defaults.Language
	}
	if len(req.Formats) == 0 {
		req.Formats = append([]entity.Format(nil), s.defaults.Formats...)
	}
	return req
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required", "min":
			parts = append(parts, field+" is required")
		case "oneof":
			parts = append(parts, fmt.Sprintf("invalid %s %q (allowed: %s)", strings.TrimRight(field, "]0123456789["), fe.Value(), fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("invalid %s", field))
		}
	}
	return strings.Join(parts, "; ")
}

func (s *JobService) GetJob(ctx context.Context, id string) (*entity.Job, error) {
	return s.repo.Get(ctx, id)
}

// ListJobs returns jobs newest first.
func (s *JobService) ListJobs(ctx context.Context) ([]*entity.Job, error) {
	jobs, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].Version > jobs[j].Version
	})
	return jobs, nil
}

// DeleteJob removes a finished job and its output files. Pending and
// processing jobs are rejected with apperr.ErrJobNotTerminal; retry after completion.
func (s *JobService) DeleteJob(ctx context.Context, id string) error {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !job.Status.IsTerminal() {
		return fmt.Errorf("%w: status is %s", apperr.ErrJobNotTerminal, job.Status)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if err := os.RemoveAll(entity.OutputDir(s.outputDir, id)); err != nil {
		s.log.Warn("remove job outputs failed", zap.String("job_id", id), zap.Error(err))
	}
	s.log.Info("job deleted", zap.String("job_id", id))
	return nil
}

// Download resolves the output file for a completed job and the file name to offer clients.
func (s *JobService) Download(ctx context.Context, id string, format entity.Format) (path string, name string, err error) {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return "", "", err
	}
	if job.Status != entity.StatusCompleted || job.Result == nil {
		return "", "", fmt.Errorf("%w: job is %s", apperr.ErrNotReady, job.Status)
	}

	path, ok := job.Result.Files[format]
	if !ok {
		return "", "", apperr.NotFound(fmt.Sprintf("output format %q", format))
	}
	if _, err := os.Stat(path); err != nil {
		return "", "", apperr.NotFound("output file")
	}
	return path, filepath.Base(path), nil
}

// PurgeFinished deletes terminal jobs not updated within maxAge.
func (s *JobService) PurgeFinished(ctx context.Context, maxAge time.Duration) (int, error) {
	jobs, err := s.repo.List(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-maxAge)
	purged := 0
	for _, job := range jobs {
		if !job.Status.IsTerminal() || job.UpdatedAt.After(cutoff) {
			continue
		}
		if err := s.DeleteJob(ctx, job.ID); err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return purged, err
		}
		purged++
	}
	return purged, nil
}

func (s *JobService) Defaults() Defaults {
	d := s.defaults
	d.Formats = append([]entity.Format(nil), d.Formats...)
	return d
}

func (s *JobService) Models() []entity.Model { return entity.Models() }

func (s *JobService) Formats() []entity.Format { return entity.Formats() }

func (s *JobService) SupportedExtensions() []string { return entity.AudioExtensions() }
