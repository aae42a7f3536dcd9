package worker

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/SGITme/whisper-MP3transcriber/internal/entity"
)

// MaxEstimatedProgress is the ceiling for progress while the engine still runs.
// Only a completed job reports 1.0.
const MaxEstimatedProgress = 0.9

// seconds of work per MiB of audio, rough per-model guesses
var secondsPerMiB = map[entity.Model]float64{
	entity.ModelTiny:    1,
	entity.ModelBase:    2,
	entity.ModelSmall:   5,
	entity.ModelMedium:  12,
	entity.ModelLarge:   25,
	entity.ModelLargeV2: 25,
	entity.ModelLargeV3: 25,
}

// ProgressEstimator synthesizes a monotonic progress curve for engines that do
// not report progress themselves. The curve approaches MaxEstimatedProgress
// asymptotically and never reaches it.
type ProgressEstimator struct {
	start    time.Time
	expected time.Duration
}

func NewProgressEstimator(start time.Time, model entity.Model, sizeBytes int64) ProgressEstimator {
	perMiB, ok := secondsPerMiB[model]
	if !ok {
		perMiB = 10
	}
	expected := time.Duration(float64(sizeBytes) / (1 << 20) * perMiB * float64(time.Second))
	if expected < 10*time.Second {
		expected = 10 * time.Second
	}
	return ProgressEstimator{start: start, expected: expected}
}

func (e ProgressEstimator) At(now time.Time) float64 {
	elapsed := now.Sub(e.start)
	if elapsed <= 0 {
		return 0
	}
	return MaxEstimatedProgress * (1 - math.Exp(-float64(elapsed)/float64(e.expected)))
}

// progressTracker merges estimated and engine-reported progress into one
// non-decreasing series and throttles how often it is committed.
type progressTracker struct {
	mu      sync.Mutex
	current float64
	limiter *rate.Limiter
	commit  func(progress float64, message string)
}

func newProgressTracker(perSecond float64, commit func(float64, string)) *progressTracker {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &progressTracker{
		limiter: rate.NewLimiter(limit, 1),
		commit:  commit,
	}
}

// observe records a candidate value; values are clamped to the running ceiling.
// Commits happen under the tracker lock so they reach the registry in order.
func (t *progressTracker) observe(progress float64, message string) {
	if math.IsNaN(progress) {
		return
	}
	progress = math.Max(0, math.Min(progress, MaxEstimatedProgress))

	t.mu.Lock()
	defer t.mu.Unlock()
	if progress <= t.current {
		return
	}
	if !t.limiter.Allow() {
		return
	}
	t.current = progress
	t.commit(progress, message)
}

func (t *progressTracker) value() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}
