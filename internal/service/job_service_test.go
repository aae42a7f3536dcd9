package service_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SGITme/whisper-MP3transcriber/internal/apperr"
	"github.com/SGITme/whisper-MP3transcriber/internal/entity"
	"github.com/SGITme/whisper-MP3transcriber/internal/repository/memory"
	"github.com/SGITme/whisper-MP3transcriber/internal/service"
)

type fakeQueue struct {
	enqueuedIDs []string
	enqueueErr  error
	full        bool
}

func (q *fakeQueue) Full() bool { return q.full }

func (q *fakeQueue) Enqueue(ctx context.Context, jobID string) error {
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.enqueuedIDs = append(q.enqueuedIDs, jobID)
	return nil
}

type fixture struct {
	repo   *memory.JobRepository
	queue  *fakeQueue
	svc    *service.JobService
	outDir string
	inDir  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:   memory.NewJobRepository(),
		queue:  &fakeQueue{},
		outDir: t.TempDir(),
		inDir:  t.TempDir(),
	}
	f.svc = service.NewJobService(f.repo, f.queue, f.outDir, service.Defaults{
		Model:   entity.ModelBase,
		Formats: []entity.Format{entity.FormatTXT},
	}, nil)
	return f
}

func (f *fixture) audio(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(f.inDir, name)
	require.NoError(t, os.WriteFile(path, []byte("ID3"), 0o644))
	return path
}

// complete drives a job to completed and writes its txt output.
func (f *fixture) complete(t *testing.T, id string) string {
	t.Helper()
	ctx := context.Background()
	job, err := f.repo.Get(ctx, id)
	require.NoError(t, err)

	out := entity.OutputPath(f.outDir, job, entity.FormatTXT)
	require.NoError(t, os.MkdirAll(filepath.Dir(out), 0o755))
	require.NoError(t, os.WriteFile(out, []byte("hello\n"), 0o644))

	_, err = f.repo.Update(ctx, id, func(j *entity.Job) error {
		j.Status = entity.StatusProcessing
		return nil
	})
	require.NoError(t, err)
	_, err = f.repo.Update(ctx, id, func(j *entity.Job) error {
		j.Status = entity.StatusCompleted
		j.Progress = 1
		j.OutputFormats = []entity.Format{entity.FormatTXT}
		j.Result = &entity.Result{Text: "hello", Files: map[entity.Format]string{entity.FormatTXT: out}}
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestJobService_Submit_AppliesDefaultsAndEnqueues(t *testing.T) {
	f := newFixture(t)
	path := f.audio(t, "Meeting.MP3")

	job, err := f.svc.Submit(context.Background(), service.SubmitRequest{
		SourcePath: path,
		Source:     entity.SourceCLI,
	})
	require.NoError(t, err)

	assert.Equal(t, entity.StatusPending, job.Status)
	assert.Equal(t, "Meeting.MP3", job.Filename)
	assert.Equal(t, entity.ModelBase, job.Options.Model)
	assert.Equal(t, []entity.Format{entity.FormatTXT}, job.Options.Formats)
	assert.Equal(t, []string{job.ID}, f.queue.enqueuedIDs)
}

func TestJobService_Submit_RejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	audio := f.audio(t, "a.wav")
	notes := f.audio(t, "notes.txt")

	tests := []struct {
		name string
		req  service.SubmitRequest
		want string
	}{
		{"unsupported extension", service.SubmitRequest{SourcePath: notes, Source: entity.SourceUpload}, "unsupported format"},
		{"unknown model", service.SubmitRequest{SourcePath: audio, Source: entity.SourceUpload, Model: "huge"}, "model"},
		{"unknown output format", service.SubmitRequest{SourcePath: audio, Source: entity.SourceUpload, Formats: []entity.Format{"docx"}}, "formats"},
		{"missing source kind", service.SubmitRequest{SourcePath: audio}, "source is required"},
		{"missing file", service.SubmitRequest{SourcePath: filepath.Join(f.inDir, "gone.mp3"), Source: entity.SourceCLI}, "cannot access"},
		{"empty path", service.SubmitRequest{Source: entity.SourceCLI}, "sourcepath is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Submit(context.Background(), tt.req)
			require.ErrorIs(t, err, apperr.ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	jobs, _ := f.repo.List(context.Background())
	assert.Empty(t, jobs, "rejected submissions must not create jobs")
	assert.Empty(t, f.queue.enqueuedIDs)
}

func TestJobService_Submit_QueueFullRollsBack(t *testing.T) {
	f := newFixture(t)
	f.queue.enqueueErr = apperr.ErrQueueFull

	_, err := f.svc.Submit(context.Background(), service.SubmitRequest{
		SourcePath: f.audio(t, "a.flac"),
		Source:     entity.SourceWatch,
	})
	require.ErrorIs(t, err, apperr.ErrQueueFull)

	jobs, _ := f.repo.List(context.Background())
	assert.Empty(t, jobs)
}

func TestJobService_Submit_FullQueuePublishesNothing(t *testing.T) {
	f := newFixture(t)
	var published []*entity.Job
	f.repo = memory.NewJobRepository(memory.WithObserver(func(job *entity.Job) {
		published = append(published, job)
	}))
	f.svc = service.NewJobService(f.repo, f.queue, f.outDir, service.Defaults{}, nil)
	f.queue.full = true

	_, err := f.svc.Submit(context.Background(), service.SubmitRequest{
		SourcePath: f.audio(t, "a.mp3"),
		Source:     entity.SourceUpload,
	})
	require.ErrorIs(t, err, apperr.ErrQueueFull)

	assert.Empty(t, published, "a rejected submission must not reach subscribers")
	jobs, _ := f.repo.List(context.Background())
	assert.Empty(t, jobs)
	assert.Empty(t, f.queue.enqueuedIDs)
}

func TestJobService_ListJobs_NewestFirst(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	f.repo = memory.NewJobRepository(memory.WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}))
	f.svc = service.NewJobService(f.repo, f.queue, f.outDir, service.Defaults{}, nil)

	var ids []string
	for _, name := range []string{"1.mp3", "2.mp3", "3.mp3"} {
		job, err := f.svc.Submit(context.Background(), service.SubmitRequest{SourcePath: f.audio(t, name), Source: entity.SourceCLI})
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}

	jobs, err := f.svc.ListJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, []string{jobs[0].ID, jobs[1].ID, jobs[2].ID})
}

func TestJobService_DeleteJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.svc.Submit(ctx, service.SubmitRequest{SourcePath: f.audio(t, "a.mp3"), Source: entity.SourceUpload})
	require.NoError(t, err)

	err = f.svc.DeleteJob(ctx, job.ID)
	require.ErrorIs(t, err, apperr.ErrJobNotTerminal, "pending jobs cannot be deleted")

	out := f.complete(t, job.ID)
	require.NoError(t, f.svc.DeleteJob(ctx, job.ID))

	_, err = f.svc.GetJob(ctx, job.ID)
	require.ErrorIs(t, err, apperr.ErrNotFound)
	assert.NoFileExists(t, out)
	assert.NoDirExists(t, entity.OutputDir(f.outDir, job.ID))

	require.ErrorIs(t, f.svc.DeleteJob(ctx, job.ID), apperr.ErrNotFound)

	_, _, err = f.svc.Download(ctx, job.ID, entity.FormatTXT)
	require.ErrorIs(t, err, apperr.ErrNotFound, "download after delete")
}

func TestJobService_Download(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.svc.Submit(ctx, service.SubmitRequest{SourcePath: f.audio(t, "talk.m4a"), Source: entity.SourceUpload})
	require.NoError(t, err)

	_, _, err = f.svc.Download(ctx, job.ID, entity.FormatTXT)
	require.ErrorIs(t, err, apperr.ErrNotReady)

	out := f.complete(t, job.ID)

	path, name, err := f.svc.Download(ctx, job.ID, entity.FormatTXT)
	require.NoError(t, err)
	assert.Equal(t, out, path)
	assert.Equal(t, "talk.txt", name)

	_, _, err = f.svc.Download(ctx, job.ID, entity.FormatSRT)
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, _, err = f.svc.Download(ctx, "nope", entity.FormatTXT)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestJobService_PurgeFinished(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	done, err := f.svc.Submit(ctx, service.SubmitRequest{SourcePath: f.audio(t, "a.mp3"), Source: entity.SourceCLI})
	require.NoError(t, err)
	pending, err := f.svc.Submit(ctx, service.SubmitRequest{SourcePath: f.audio(t, "b.mp3"), Source: entity.SourceCLI})
	require.NoError(t, err)
	f.complete(t, done.ID)

	n, err := f.svc.PurgeFinished(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.svc.GetJob(ctx, pending.ID)
	require.NoError(t, err)
	_, err = f.svc.GetJob(ctx, done.ID)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}
