// Package watcher submits audio files that appear in a directory.
//
// Events are coalesced per path, then the file size is sampled until it stops
// changing, so files still being copied in are not picked up early.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/SGITme/whisper-MP3transcriber/internal/apperr"
	"github.com/SGITme/whisper-MP3transcriber/internal/entity"
	"github.com/SGITme/whisper-MP3transcriber/internal/service"
)

const completedDirName = "completed"

type Submitter interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*entity.Job, error)
}

// Updates is a stream of job snapshots (implementation: fanout.Subscription).
type Updates interface {
	Next(ctx context.Context) ([]*entity.Job, error)
}

type Config struct {
	Dir            string
	StableInterval time.Duration
	StableChecks   int
	MaxWait        time.Duration
	Debounce       time.Duration
	MoveCompleted  bool
}

func (c Config) withDefaults() Config {
	if c.StableInterval <= 0 {
		c.StableInterval = time.Second
	}
	if c.StableChecks < 2 {
		c.StableChecks = 2
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 10 * time.Minute
	}
	if c.Debounce <= 0 {
		c.Debounce = 500 * time.Millisecond
	}
	return c
}

type Status struct {
	Active    bool   `json:"active"`
	Path      string `json:"path"`
	Submitted int    `json:"submitted"`
}

type fileKey struct {
	size    int64
	modTime time.Time
}

type Watcher struct {
	submit Submitter
	base   Config
	log    *zap.Logger

	mu        sync.Mutex
	cfg       Config
	fsw       *fsnotify.Watcher
	cancel    context.CancelFunc
	done      chan struct{}
	debounced map[string]func(func())
	settling  map[string]bool
	seen      map[string]fileKey
	submitted int
}

func New(submit Submitter, cfg Config, log *zap.Logger) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{
		submit: submit,
		base:   cfg.withDefaults(),
		log:    log.Named("watcher"),
		seen:   make(map[string]fileKey),
	}
}

// Start watches dir (or the configured directory when dir is empty) until ctx
// is done or Stop is called. A running watcher is restarted on the new directory.
func (w *Watcher) Start(ctx context.Context, dir string) error {
	w.Stop()

	cfg := w.base
	if dir != "" {
		cfg.Dir = dir
	}
	if cfg.Dir == "" {
		return apperr.Invalid("watch directory is not configured")
	}
	abs, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return apperr.Invalid("watch directory %q: %v", cfg.Dir, err)
	}
	cfg.Dir = abs
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create watch directory: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	if err := fsw.Add(cfg.Dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch %s: %w", cfg.Dir, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	w.mu.Lock()
	w.cfg = cfg
	w.fsw = fsw
	w.cancel = cancel
	w.done = done
	w.debounced = make(map[string]func(func()))
	w.settling = make(map[string]bool)
	w.mu.Unlock()

	go w.loop(runCtx, fsw, done)

	w.log.Info("watching folder", zap.String("dir", cfg.Dir))
	return nil
}

// Stop is a no-op when the watcher is not running.
func (w *Watcher) Stop() {
	w.mu.Lock()
	fsw, cancel, done := w.fsw, w.cancel, w.done
	w.fsw, w.cancel, w.done = nil, nil, nil
	dir := w.cfg.Dir
	w.mu.Unlock()

	if fsw == nil {
		return
	}
	cancel()
	_ = fsw.Close()
	<-done
	w.log.Info("stopped watching folder", zap.String("dir", dir))
}

func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	path := w.cfg.Dir
	if path == "" {
		path = w.base.Dir
	}
	return Status{Active: w.fsw != nil, Path: path, Submitted: w.submitted}
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				w.schedule(ctx, ev.Name)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("fs watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) schedule(ctx context.Context, path string) {
	if !entity.IsAudioFile(path) {
		w.log.Debug("skip unsupported file", zap.String("path", path))
		return
	}

	w.mu.Lock()
	d, ok := w.debounced[path]
	if !ok {
		d = debounce.New(w.cfg.Debounce)
		w.debounced[path] = d
	}
	w.mu.Unlock()

	d(func() {
		w.mu.Lock()
		if w.settling[path] || ctx.Err() != nil {
			w.mu.Unlock()
			return
		}
		w.settling[path] = true
		w.mu.Unlock()

		go func() {
			defer func() {
				w.mu.Lock()
				delete(w.settling, path)
				w.mu.Unlock()
			}()
			w.settle(ctx, path)
		}()
	})
}

func (w *Watcher) settle(ctx context.Context, path string) {
	w.mu.Lock()
	cfg := w.cfg
	w.mu.Unlock()

	info, err := waitStable(ctx, path, cfg.StableInterval, cfg.StableChecks, cfg.MaxWait)
	if err != nil {
		w.log.Debug("file not ready", zap.String("path", path), zap.Error(err))
		return
	}

	key := fileKey{size: info.Size(), modTime: info.ModTime()}
	w.mu.Lock()
	if prev, ok := w.seen[path]; ok && prev == key {
		w.mu.Unlock()
		return
	}
	w.seen[path] = key
	w.mu.Unlock()

	job, err := w.submit.Submit(ctx, service.SubmitRequest{
		SourcePath: path,
		Filename:   filepath.Base(path),
		Source:     entity.SourceWatch,
	})
	if err != nil {
		w.mu.Lock()
		delete(w.seen, path)
		w.mu.Unlock()
		if errors.Is(err, apperr.ErrInvalidInput) {
			w.log.Debug("skip file", zap.String("path", path), zap.Error(err))
			return
		}
		w.log.Warn("submit watched file", zap.String("path", path), zap.Error(err))
		return
	}

	w.mu.Lock()
	w.submitted++
	w.mu.Unlock()
	w.log.Info("submitted watched file", zap.String("job_id", job.ID), zap.String("path", path))
}

var errNotStable = errors.New("file size did not settle")

// waitStable samples the size every interval until checks consecutive samples
// agree on a non-zero size.
func waitStable(ctx context.Context, path string, interval time.Duration, checks int, maxWait time.Duration) (os.FileInfo, error) {
	deadline := time.Now().Add(maxWait)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		last    int64 = -1
		matches int
	)
	for {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", path)
		}
		size := info.Size()
		if size > 0 && size == last {
			matches++
		} else {
			matches = 1
		}
		last = size
		if size > 0 && matches >= checks {
			return info, nil
		}
		if time.Now().After(deadline) {
			return nil, errNotStable
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Follow consumes job snapshots and moves sources of completed watched jobs
// into <dir>/completed when MoveCompleted is set. It returns when updates end.
func (w *Watcher) Follow(ctx context.Context, updates Updates) error {
	for {
		jobs, err := updates.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		for _, job := range jobs {
			w.handleUpdate(job)
		}
	}
}

// handleUpdate matches snapshots to watched files by source path, which is
// recorded in seen before Submit runs, so a job that completes before Submit
// returns is still recognised.
func (w *Watcher) handleUpdate(job *entity.Job) {
	if job.Status != entity.StatusCompleted || job.Source != entity.SourceWatch {
		return
	}
	path := job.SourcePath
	w.mu.Lock()
	_, ours := w.seen[path]
	move := w.base.MoveCompleted
	w.mu.Unlock()

	if !ours || !move {
		return
	}

	dest := filepath.Join(filepath.Dir(path), completedDirName, filepath.Base(path))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		w.log.Warn("create completed dir", zap.Error(err))
		return
	}
	if err := os.Rename(path, dest); err != nil {
		w.log.Warn("move completed file", zap.String("path", path), zap.Error(err))
		return
	}
	w.mu.Lock()
	delete(w.seen, path)
	w.mu.Unlock()
	w.log.Info("moved completed file", zap.String("job_id", job.ID), zap.String("dest", dest))
}
