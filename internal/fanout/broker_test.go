package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SGITme/whisper-MP3transcriber/internal/entity"
)

func snap(id string, version uint64, progress float64) *entity.Job {
	return &entity.Job{ID: id, Version: version, Progress: progress, Status: entity.StatusProcessing}
}

func next(t *testing.T, s *Subscription) []*entity.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	jobs, err := s.Next(ctx)
	require.NoError(t, err)
	return jobs
}

func TestBroker_CoalescesToNewestPerJob(t *testing.T) {
	b := NewBroker()
	s := b.Subscribe()
	defer s.Close()

	b.Publish(snap("a", 1, 0.1))
	b.Publish(snap("b", 2, 0.0))
	b.Publish(snap("a", 3, 0.5))

	jobs := next(t, s)
	require.Len(t, jobs, 2)
	assert.Equal(t, "b", jobs[0].ID)
	assert.Equal(t, "a", jobs[1].ID)
	assert.Equal(t, uint64(3), jobs[1].Version)
}

func TestBroker_NeverDeliversStaleSnapshot(t *testing.T) {
	b := NewBroker()
	s := b.Subscribe()
	defer s.Close()

	b.Publish(snap("a", 5, 0.5))
	require.Len(t, next(t, s), 1)

	// out-of-order publish from a concurrent mutation
	b.Publish(snap("a", 4, 0.4))
	b.Publish(snap("a", 5, 0.5))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := s.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	b.Publish(snap("a", 6, 0.6))
	jobs := next(t, s)
	require.Len(t, jobs, 1)
	assert.Equal(t, uint64(6), jobs[0].Version)
}

func TestBroker_NoReplayForLateSubscriber(t *testing.T) {
	b := NewBroker()
	b.Publish(snap("a", 1, 0))

	s := b.Subscribe()
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBroker_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := NewBroker()
	slow := b.Subscribe()
	defer slow.Close()
	fast := b.Subscribe()
	defer fast.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for v := uint64(1); v <= 1000; v++ {
			b.Publish(snap("a", v, float64(v)/1000))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a subscriber that never reads")
	}

	jobs := next(t, fast)
	require.Len(t, jobs, 1)
	assert.Equal(t, uint64(1000), jobs[0].Version)
}

func TestBroker_PublishedSnapshotIsCopied(t *testing.T) {
	b := NewBroker()
	s := b.Subscribe()
	defer s.Close()

	job := snap("a", 1, 0.1)
	b.Publish(job)
	job.Progress = 0.9

	assert.Equal(t, 0.1, next(t, s)[0].Progress)
}

func TestSubscription_ForgetsFinishedJobsAfterRetireInterval(t *testing.T) {
	b := NewBroker()
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return clock }
	s := b.Subscribe()
	defer s.Close()

	done := snap("a", 2, 1)
	done.Status = entity.StatusCompleted
	b.Publish(done)
	require.Len(t, next(t, s), 1)

	// still remembered: a late lower version is dropped
	b.Publish(snap("a", 1, 0.5))
	b.Publish(snap("b", 3, 0.1))
	jobs := next(t, s)
	require.Len(t, jobs, 1)
	assert.Equal(t, "b", jobs[0].ID)

	clock = clock.Add(finishedTTL)
	b.Publish(snap("b", 4, 0.2))
	require.Len(t, next(t, s), 1)

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.NotContains(t, s.delivered, "a")
	assert.NotContains(t, s.finished, "a")
	assert.Equal(t, uint64(4), s.delivered["b"])
}

func TestBroker_Close(t *testing.T) {
	b := NewBroker()
	s := b.Subscribe()
	assert.Equal(t, 1, b.Subscribers())

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Next(context.Background())
		errCh <- err
	}()

	b.Close()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Next did not return after broker close")
	}

	late := b.Subscribe()
	_, err := late.Next(context.Background())
	require.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 0, b.Subscribers())
}

func TestSubscription_CloseUnregisters(t *testing.T) {
	b := NewBroker()
	s := b.Subscribe()
	s.Close()
	s.Close()

	assert.Equal(t, 0, b.Subscribers())
	b.Publish(snap("a", 1, 0))
	select {
	case <-s.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

type fakePublisher struct {
	mu       sync.Mutex
	channels []string
	payloads [][]byte
	err      error
}

func (p *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	p.mu.Lock()
	defer p.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	if p.err != nil {
		cmd.SetErr(p.err)
		return cmd
	}
	p.channels = append(p.channels, channel)
	p.payloads = append(p.payloads, message.([]byte))
	cmd.SetVal(1)
	return cmd
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payloads)
}

func TestRedisRelay_ForwardsSnapshots(t *testing.T) {
	b := NewBroker()
	pub := &fakePublisher{}
	relay := NewRedisRelay(b, pub, "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool { return b.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	b.Publish(snap("a", 1, 0.25))
	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, "transcriber:jobs", pub.channels[0])
	var got entity.Job
	require.NoError(t, json.Unmarshal(pub.payloads[0], &got))
	assert.Equal(t, "a", got.ID)
	assert.Equal(t, 0.25, got.Progress)
}

func TestRedisRelay_PublishErrorsDoNotStopRelay(t *testing.T) {
	b := NewBroker()
	pub := &fakePublisher{err: errors.New("connection refused")}
	relay := NewRedisRelay(b, pub, "jobs", nil)

	done := make(chan error, 1)
	go func() { done <- relay.Run(context.Background()) }()

	require.Eventually(t, func() bool { return b.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	b.Publish(snap("a", 1, 0))

	pub.mu.Lock()
	pub.err = nil
	pub.mu.Unlock()
	b.Publish(snap("a", 2, 0.5))

	require.Eventually(t, func() bool { return pub.count() >= 1 }, time.Second, 5*time.Millisecond)
	b.Close()
	require.NoError(t, <-done)
}
