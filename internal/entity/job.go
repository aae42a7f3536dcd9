package entity

import (
	"time"
)

type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a job in status s may move to status to.
// processing -> processing is allowed so progress updates pass through the same check.
func (s JobStatus) CanTransition(to JobStatus) bool {
	switch s {
	case StatusPending:
		return to == StatusPending || to == StatusProcessing
	case StatusProcessing:
		return to == StatusProcessing || to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// Source names the front-end that submitted a job.
type Source string

const (
	SourceUpload Source = "upload"
	SourceCLI    Source = "cli"
	SourceWatch  Source = "watch"
)

type Options struct {
	Model    Model    `json:"model"`
	Language string   `json:"language,omitempty"`
	Formats  []Format `json:"formats"`
}

func (o Options) Clone() Options {
	out := o
	out.Formats = append([]Format(nil), o.Formats...)
	return out
}

// AutoLanguage reports whether the engine should detect the language itself.
func (o Options) AutoLanguage() bool {
	return o.Language == "" || o.Language == "auto"
}

type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type Result struct {
	Text     string            `json:"text"`
	Language string            `json:"language"`
	Duration float64           `json:"duration"`
	Model    Model             `json:"model"`
	Segments []Segment         `json:"segments"`
	Files    map[Format]string `json:"files"`
}

func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := *r
	out.Segments = append([]Segment(nil), r.Segments...)
	if r.Files != nil {
		out.Files = make(map[Format]string, len(r.Files))
		for k, v := range r.Files {
			out.Files[k] = v
		}
	}
	return &out
}

type Job struct {
	ID            string     `json:"id"`
	Filename      string     `json:"filename"`
	SourcePath    string     `json:"source_path"`
	Source        Source     `json:"source"`
	RemoveSource  bool       `json:"-"`
	Options       Options    `json:"options"`
	Status        JobStatus  `json:"status"`
	Progress      float64    `json:"progress"`
	Message       string     `json:"message"`
	Result        *Result    `json:"result,omitempty"`
	OutputFormats []Format   `json:"output_formats"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Version       uint64     `json:"version"`
}

// Clone returns a deep copy so callers never share mutable state with the registry.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	out.Options = j.Options.Clone()
	out.Result = j.Result.Clone()
	out.OutputFormats = append([]Format(nil), j.OutputFormats...)
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
