package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/SGITme/whisper-MP3transcriber/internal/apperr"
	"github.com/SGITme/whisper-MP3transcriber/internal/engine"
	"github.com/SGITme/whisper-MP3transcriber/internal/entity"
	"github.com/SGITme/whisper-MP3transcriber/internal/render"
)

type JobRepo interface {
	Get(ctx context.Context, id string) (*entity.Job, error)
	Update(ctx context.Context, id string, fn func(job *entity.Job) error) (*entity.Job, error)
}

// OutputSink receives completed jobs after their files are written (implementation: s3mirror.Mirror).
type OutputSink interface {
	Store(ctx context.Context, job *entity.Job) error
}

var errNotClaimable = errors.New("job is not pending")

type Config struct {
	OutputDir        string
	ProgressInterval time.Duration
	ProgressRate     float64
}

type Processor struct {
	repo   JobRepo
	engine engine.Engine
	cfg    Config
	sink   OutputSink
	log    *zap.Logger
	now    func() time.Time
}

func NewProcessor(repo JobRepo, eng engine.Engine, cfg Config, sink OutputSink, log *zap.Logger) *Processor {
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{
		repo:   repo,
		engine: eng,
		cfg:    cfg,
		sink:   sink,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Process runs one job to a terminal state. The returned error is for logging
// only: the job record already carries the failure.
func (p *Processor) Process(ctx context.Context, jobID string) error {
	start := time.Now()

	// pending -> processing; a job claimed twice is skipped
	job, err := p.repo.Update(ctx, jobID, func(j *entity.Job) error {
		if j.Status != entity.StatusPending {
			return errNotClaimable
		}
		j.Status = entity.StatusProcessing
		j.Progress = 0
		j.Message = "starting"
		return nil
	})
	if err != nil {
		p.log.Warn("claim failed", zap.String("job_id", jobID), zap.Error(err))
		return err
	}

	log := p.log.With(zap.String("job_id", job.ID), zap.String("file", job.Filename))
	log.Info("job started", zap.String("status", string(job.Status)), zap.String("model", string(job.Options.Model)))

	if job.RemoveSource {
		defer func() {
			if err := os.Remove(job.SourcePath); err != nil && !errors.Is(err, os.ErrNotExist) {
				log.Warn("remove source failed", zap.Error(err))
			}
		}()
	}

	result, procErr := p.run(ctx, job, log)
	if procErr != nil {
		msg := failureMessage(procErr)
		if _, err := p.repo.Update(context.WithoutCancel(ctx), job.ID, func(j *entity.Job) error {
			j.Status = entity.StatusFailed
			j.Message = msg
			j.Result = nil
			j.OutputFormats = []entity.Format{}
			return nil
		}); err != nil {
			log.Error("set failed status", zap.Error(err))
		}
		log.Warn("job failed",
			zap.String("status", string(entity.StatusFailed)),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("error", msg),
		)
		return procErr
	}

	completedAt := p.now()
	done, err := p.repo.Update(context.WithoutCancel(ctx), job.ID, func(j *entity.Job) error {
		j.Status = entity.StatusCompleted
		j.Progress = 1
		j.Message = "completed"
		j.Result = result
		j.OutputFormats = formatsOf(result)
		j.CompletedAt = &completedAt
		return nil
	})
	if err != nil {
		log.Error("set completed status", zap.Error(err))
		return err
	}

	log.Info("job completed",
		zap.String("status", string(done.Status)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		zap.Int("segments", len(result.Segments)),
	)

	if p.sink != nil {
		if err := p.sink.Store(ctx, done); err != nil {
			log.Warn("output sink failed", zap.Error(err))
		}
	}
	return nil
}

func (p *Processor) run(ctx context.Context, job *entity.Job, log *zap.Logger) (*entity.Result, error) {
	var size int64
	if info, err := os.Stat(job.SourcePath); err == nil {
		size = info.Size()
	}
	estimator := NewProgressEstimator(time.Now(), job.Options.Model, size)

	tracker := newProgressTracker(p.cfg.ProgressRate, func(progress float64, message string) {
		_, err := p.repo.Update(ctx, job.ID, func(j *entity.Job) error {
			if j.Status != entity.StatusProcessing || progress <= j.Progress {
				return errNotClaimable
			}
			j.Progress = progress
			if message != "" {
				j.Message = message
			}
			return nil
		})
		if err != nil && !errors.Is(err, errNotClaimable) {
			log.Debug("progress update dropped", zap.Error(err))
		}
	})

	engineCtx, stopTicker := context.WithCancel(ctx)
	tickerDone := make(chan struct{})
	go func() {
		defer close(tickerDone)
		ticker := time.NewTicker(p.cfg.ProgressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-engineCtx.Done():
				return
			case now := <-ticker.C:
				tracker.observe(estimator.At(now), "transcribing")
			}
		}
	}()

	transcript, err := p.engine.Transcribe(engineCtx, engine.Request{
		AudioPath: job.SourcePath,
		Options:   job.Options,
	}, func(fraction float64, message string) {
		// engine-native progress covers the transcription share of the work
		tracker.observe(fraction*MaxEstimatedProgress, message)
	})
	stopTicker()
	<-tickerDone
	if err != nil {
		log.Debug("engine stopped", zap.Float64("progress", tracker.value()), zap.Error(err))
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	tracker.observe(MaxEstimatedProgress, "writing output files")

	files, err := p.writeOutputs(job, transcript, log)
	if err != nil {
		return nil, err
	}

	return &entity.Result{
		Text:     transcript.Text,
		Language: transcript.Language,
		Duration: transcript.Duration,
		Model:    job.Options.Model,
		Segments: transcript.Segments,
		Files:    files,
	}, nil
}

// writeOutputs renders every requested format. Formats that fail are logged and
// left out; the job fails only when nothing could be written.
func (p *Processor) writeOutputs(job *entity.Job, tr engine.Transcript, log *zap.Logger) (map[entity.Format]string, error) {
	doc := render.Document{
		Text:     tr.Text,
		Language: tr.Language,
		Model:    job.Options.Model,
		Duration: tr.Duration,
		Segments: tr.Segments,
	}

	if err := os.MkdirAll(entity.OutputDir(p.cfg.OutputDir, job.ID), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create output dir: %v", apperr.ErrRender, err)
	}

	files := make(map[entity.Format]string, len(job.Options.Formats))
	var failures []string
	for _, f := range job.Options.Formats {
		data, err := render.Render(doc, f)
		if err == nil {
			path := entity.OutputPath(p.cfg.OutputDir, job, f)
			err = writeFileAtomic(path, data)
			if err == nil {
				files[f] = path
				continue
			}
		}
		log.Warn("render format failed", zap.String("format", string(f)), zap.Error(err))
		failures = append(failures, fmt.Sprintf("%s: %v", f, err))
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no output format could be written (%s)", apperr.ErrRender, strings.Join(failures, "; "))
	}
	return files, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func formatsOf(r *entity.Result) []entity.Format {
	out := make([]entity.Format, 0, len(r.Files))
	for _, f := range entity.Formats() {
		if _, ok := r.Files[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, apperr.ErrCancelled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out"
	case errors.Is(err, apperr.ErrResourceExhausted):
		return err.Error()
	case errors.Is(err, apperr.ErrRender):
		return err.Error()
	default:
		return "transcription failed: " + err.Error()
	}
}
