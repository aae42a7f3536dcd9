package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SGITme/whisper-MP3transcriber/internal/apperr"
	"github.com/SGITme/whisper-MP3transcriber/internal/engine"
	"github.com/SGITme/whisper-MP3transcriber/internal/entity"
	"github.com/SGITme/whisper-MP3transcriber/internal/repository/memory"
	"github.com/SGITme/whisper-MP3transcriber/internal/service"
)

type fakeEngine struct {
	mu     sync.Mutex
	calls  []string
	delay  time.Duration
	failOn map[string]error
}

func (e *fakeEngine) Transcribe(ctx context.Context, req engine.Request, progress engine.ProgressFunc) (engine.Transcript, error) {
	e.mu.Lock()
	e.calls = append(e.calls, filepath.Base(req.AudioPath))
	err := e.failOn[filepath.Base(req.AudioPath)]
	e.mu.Unlock()

	if progress != nil {
		progress(0.5, "transcribing")
	}
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return engine.Transcript{}, ctx.Err()
		}
	}
	if err != nil {
		return engine.Transcript{}, err
	}
	if progress != nil {
		progress(1, "transcribing")
	}
	return engine.Transcript{
		Text:     "Hello world",
		Language: "en",
		Duration: 2.5,
		Segments: []entity.Segment{
			{ID: 1, Start: 0, End: 1.2, Text: "Hello"},
			{ID: 2, Start: 1.2, End: 2.5, Text: "world"},
		},
	}, nil
}

type recorder struct {
	mu    sync.Mutex
	snaps []*entity.Job
}

func (r *recorder) observe(job *entity.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, job)
}

func (r *recorder) all() []*entity.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*entity.Job(nil), r.snaps...)
}

type fakeSink struct {
	mu     sync.Mutex
	stored []string
}

func (s *fakeSink) Store(ctx context.Context, job *entity.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored = append(s.stored, job.ID)
	return nil
}

type harness struct {
	repo   *memory.JobRepository
	rec    *recorder
	eng    *fakeEngine
	proc   *Processor
	sink   *fakeSink
	outDir string
	inDir  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		rec:    &recorder{},
		eng:    &fakeEngine{failOn: map[string]error{}},
		sink:   &fakeSink{},
		outDir: t.TempDir(),
		inDir:  t.TempDir(),
	}
	h.repo = memory.NewJobRepository(memory.WithObserver(h.rec.observe))
	h.proc = NewProcessor(h.repo, h.eng, Config{
		OutputDir:        h.outDir,
		ProgressInterval: 5 * time.Millisecond,
	}, h.sink, nil)
	return h
}

func (h *harness) submit(t *testing.T, name string, formats ...entity.Format) *entity.Job {
	t.Helper()
	path := filepath.Join(h.inDir, name)
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))
	job, err := h.repo.Create(context.Background(), memory.CreateParams{
		Filename:   name,
		SourcePath: path,
		Source:     entity.SourceCLI,
		Options:    entity.Options{Model: entity.ModelTiny, Formats: formats},
	})
	require.NoError(t, err)
	return job
}

func TestProcessor_CompletesAndWritesFormats(t *testing.T) {
	h := newHarness(t)
	job := h.submit(t, "a.mp3", entity.FormatTXT, entity.FormatSRT)

	require.NoError(t, h.proc.Process(context.Background(), job.ID))

	got, err := h.repo.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCompleted, got.Status)
	assert.Equal(t, 1.0, got.Progress)
	assert.Equal(t, "completed", got.Message)
	assert.Equal(t, []entity.Format{entity.FormatTXT, entity.FormatSRT}, got.OutputFormats)
	require.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.Result)
	assert.Equal(t, entity.ModelTiny, got.Result.Model)

	txt, err := os.ReadFile(filepath.Join(h.outDir, job.ID, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Hello\nworld\n", string(txt))

	srt, err := os.ReadFile(filepath.Join(h.outDir, job.ID, "a.srt"))
	require.NoError(t, err)
	assert.Equal(t, "1\n00:00:00,000 --> 00:00:01,200\nHello\n\n2\n00:00:01,200 --> 00:00:02,500\nworld\n\n", string(srt))

	assert.Equal(t, []string{job.ID}, h.sink.stored)
}

func TestProcessor_JSONOutputCarriesModel(t *testing.T) {
	h := newHarness(t)
	job := h.submit(t, "b.wav", entity.FormatJSON)

	require.NoError(t, h.proc.Process(context.Background(), job.ID))

	raw, err := os.ReadFile(filepath.Join(h.outDir, job.ID, "b.json"))
	require.NoError(t, err)

	var doc struct {
		Text     string `json:"text"`
		Metadata struct {
			Model    string  `json:"model"`
			Duration float64 `json:"duration"`
		} `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "Hello world", doc.Text)
	assert.Equal(t, "tiny", doc.Metadata.Model)
	assert.Equal(t, 2.5, doc.Metadata.Duration)
}

func TestProcessor_ProgressMonotonicAndOnlyCompletedReachesOne(t *testing.T) {
	h := newHarness(t)
	h.eng.delay = 40 * time.Millisecond
	job := h.submit(t, "slow.wav", entity.FormatTXT)

	require.NoError(t, h.proc.Process(context.Background(), job.ID))

	var (
		last     float64
		statuses []entity.JobStatus
	)
	for _, snap := range h.rec.all() {
		if snap.ID != job.ID {
			continue
		}
		assert.GreaterOrEqual(t, snap.Progress, last, "progress decreased at version %d", snap.Version)
		last = snap.Progress
		if snap.Status != entity.StatusCompleted {
			assert.Less(t, snap.Progress, 1.0)
		}
		if len(statuses) == 0 || statuses[len(statuses)-1] != snap.Status {
			statuses = append(statuses, snap.Status)
		}
	}
	assert.Equal(t, []entity.JobStatus{entity.StatusPending, entity.StatusProcessing, entity.StatusCompleted}, statuses)
}

func TestProcessor_EngineFailureMarksFailed(t *testing.T) {
	h := newHarness(t)
	h.eng.failOn["bad.mp3"] = &engine.Error{Stage: "transcribe", Message: "whisper crashed", Kind: apperr.ErrEngine}
	job := h.submit(t, "bad.mp3", entity.FormatTXT)

	err := h.proc.Process(context.Background(), job.ID)
	require.ErrorIs(t, err, apperr.ErrEngine)

	got, _ := h.repo.Get(context.Background(), job.ID)
	assert.Equal(t, entity.StatusFailed, got.Status)
	assert.Contains(t, got.Message, "whisper crashed")
	assert.Nil(t, got.Result)
	assert.Empty(t, got.OutputFormats)
	assert.Empty(t, h.sink.stored)
}

func TestProcessor_ResourceExhaustionKeepsHint(t *testing.T) {
	h := newHarness(t)
	h.eng.failOn["big.mp3"] = &engine.Error{Stage: "transcribe", Message: "out of memory, try a smaller model", Kind: apperr.ErrResourceExhausted}
	job := h.submit(t, "big.mp3", entity.FormatTXT)

	_ = h.proc.Process(context.Background(), job.ID)

	got, _ := h.repo.Get(context.Background(), job.ID)
	assert.Equal(t, entity.StatusFailed, got.Status)
	assert.Contains(t, got.Message, "smaller model")
}

func TestProcessor_CancelledContext(t *testing.T) {
	h := newHarness(t)
	h.eng.delay = time.Second
	job := h.submit(t, "a.mp3", entity.FormatTXT)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	err := h.proc.Process(ctx, job.ID)
	require.ErrorIs(t, err, context.Canceled)

	got, _ := h.repo.Get(context.Background(), job.ID)
	assert.Equal(t, entity.StatusFailed, got.Status)
	assert.Equal(t, "cancelled", got.Message)
}

func TestProcessor_UnknownFormatIsSkipped(t *testing.T) {
	h := newHarness(t)
	job := h.submit(t, "a.mp3", entity.FormatTXT, entity.Format("docx"))

	require.NoError(t, h.proc.Process(context.Background(), job.ID))

	got, _ := h.repo.Get(context.Background(), job.ID)
	assert.Equal(t, entity.StatusCompleted, got.Status)
	assert.Equal(t, []entity.Format{entity.FormatTXT}, got.OutputFormats)
}

func TestProcessor_AllFormatsFailing(t *testing.T) {
	h := newHarness(t)
	job := h.submit(t, "a.mp3", entity.Format("docx"))

	err := h.proc.Process(context.Background(), job.ID)
	require.ErrorIs(t, err, apperr.ErrRender)

	got, _ := h.repo.Get(context.Background(), job.ID)
	assert.Equal(t, entity.StatusFailed, got.Status)
}

func TestProcessor_SkipsJobThatIsNotPending(t *testing.T) {
	h := newHarness(t)
	job := h.submit(t, "a.mp3", entity.FormatTXT)
	require.NoError(t, h.proc.Process(context.Background(), job.ID))

	err := h.proc.Process(context.Background(), job.ID)
	require.ErrorIs(t, err, errNotClaimable)
	assert.Len(t, h.eng.calls, 1)
}

func TestProcessor_RemovesUploadedSource(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(h.inDir, "upload.mp3")
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))
	job, err := h.repo.Create(context.Background(), memory.CreateParams{
		Filename:     "upload.mp3",
		SourcePath:   path,
		Source:       entity.SourceUpload,
		RemoveSource: true,
		Options:      entity.Options{Model: entity.ModelTiny, Formats: []entity.Format{entity.FormatVTT}},
	})
	require.NoError(t, err)

	require.NoError(t, h.proc.Process(context.Background(), job.ID))
	assert.NoFileExists(t, path)
}

func TestPool_FailureDoesNotStopWorkerAndRunsAllJobs(t *testing.T) {
	h := newHarness(t)
	h.eng.failOn["2.mp3"] = errors.New("boom")
	queue := service.NewMemoryQueue(16)

	var ids []string
	for i := 1; i <= 4; i++ {
		job := h.submit(t, fmt.Sprintf("%d.mp3", i), entity.FormatTXT)
		ids = append(ids, job.ID)
		require.NoError(t, queue.Enqueue(context.Background(), job.ID))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = NewPool(queue, h.proc, 1, nil).Run(ctx)
	}()

	require.Eventually(t, func() bool {
		for _, id := range ids {
			job, err := h.repo.Get(context.Background(), id)
			if err != nil || !job.Status.IsTerminal() {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	statuses := map[entity.JobStatus]int{}
	for _, id := range ids {
		job, _ := h.repo.Get(context.Background(), id)
		statuses[job.Status]++
	}
	assert.Equal(t, 3, statuses[entity.StatusCompleted])
	assert.Equal(t, 1, statuses[entity.StatusFailed])
	assert.Equal(t, []string{"1.mp3", "2.mp3", "3.mp3", "4.mp3"}, h.eng.calls, "single worker keeps FIFO order")
}

func TestPool_ConcurrentWorkersProcessEachJobOnce(t *testing.T) {
	h := newHarness(t)
	h.eng.delay = 10 * time.Millisecond
	queue := service.NewMemoryQueue(64)

	const n = 12
	var ids []string
	for i := 0; i < n; i++ {
		job := h.submit(t, fmt.Sprintf("c%02d.mp3", i), entity.FormatTXT, entity.FormatJSON)
		ids = append(ids, job.ID)
		require.NoError(t, queue.Enqueue(context.Background(), job.ID))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = NewPool(queue, h.proc, 4, nil).Run(ctx)
	}()

	require.Eventually(t, func() bool {
		for _, id := range ids {
			job, err := h.repo.Get(context.Background(), id)
			if err != nil || job.Status != entity.StatusCompleted {
				return false
			}
		}
		return true
	}, 3*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	h.eng.mu.Lock()
	defer h.eng.mu.Unlock()
	assert.Len(t, h.eng.calls, n)
	for _, id := range ids {
		assert.DirExists(t, filepath.Join(h.outDir, id))
	}
}

func TestProgressEstimator(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	e := NewProgressEstimator(start, entity.ModelBase, 0)

	assert.Equal(t, 0.0, e.At(start))
	assert.Equal(t, 0.0, e.At(start.Add(-time.Second)))

	prev := 0.0
	for i := 1; i <= 100; i++ {
		p := e.At(start.Add(time.Duration(i) * 5 * time.Second))
		assert.GreaterOrEqual(t, p, prev)
		assert.Less(t, p, MaxEstimatedProgress+1e-9)
		prev = p
	}
	assert.InDelta(t, MaxEstimatedProgress, prev, 0.01)
}

func TestProgressTracker_ClampsAndNeverDecreases(t *testing.T) {
	var committed []float64
	tr := newProgressTracker(0, func(p float64, _ string) { committed = append(committed, p) })

	tr.observe(0.3, "")
	tr.observe(0.2, "")
	tr.observe(1.0, "")
	tr.observe(0.95, "")

	assert.Equal(t, []float64{0.3, MaxEstimatedProgress}, committed)
	assert.Equal(t, MaxEstimatedProgress, tr.value())
}
