// Package engine wraps the speech-to-text model behind a blocking Transcribe call.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/SGITme/whisper-MP3transcriber/internal/apperr"
	"github.com/SGITme/whisper-MP3transcriber/internal/entity"
)

type Request struct {
	AudioPath string
	Options   entity.Options
}

type Transcript struct {
	Text     string
	Language string
	Duration float64
	Segments []entity.Segment
}

// ProgressFunc receives the engine's own progress estimate in [0,1].
type ProgressFunc func(fraction float64, message string)

type Engine interface {
	Transcribe(ctx context.Context, req Request, progress ProgressFunc) (Transcript, error)
}

// WithTimeout bounds every Transcribe call of e. A zero d returns e unchanged.
func WithTimeout(e Engine, d time.Duration) Engine {
	if d <= 0 {
		return e
	}
	return timeoutEngine{next: e, d: d}
}

type timeoutEngine struct {
	next Engine
	d    time.Duration
}

func (t timeoutEngine) Transcribe(ctx context.Context, req Request, progress ProgressFunc) (Transcript, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.Transcribe(ctx, req, progress)
}

// Error is a stage-aware engine failure. Kind is apperr.ErrEngine or
// apperr.ErrResourceExhausted; Err keeps the underlying cause.
type Error struct {
	Stage   string
	Message string
	Output  string
	Kind    error
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	kind := e.Kind
	if kind == nil {
		kind = apperr.ErrEngine
	}
	return target == kind
}

func emitProgress(cb ProgressFunc, fraction float64, message string) {
	if cb != nil {
		cb(fraction, message)
	}
}

var exhaustionMarkers = []string{
	"out of memory",
	"cuda error: out of memory",
	"cannot allocate memory",
	"memoryerror",
	"killed",
}

// looksExhausted reports whether engine output points at memory pressure.
func looksExhausted(output string) bool {
	lower := strings.ToLower(output)
	for _, marker := range exhaustionMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func normalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}

// lastLines keeps the tail of noisy tool output for error messages.
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
