package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/SGITme/whisper-MP3transcriber/internal/apperr"
	"github.com/SGITme/whisper-MP3transcriber/internal/entity"
)

// OpenAI talks to an OpenAI-compatible /v1/audio/transcriptions endpoint
// (the hosted API or a self-hosted whisper server).
type OpenAI struct {
	baseURL     string
	apiKey      string
	remoteModel string
	client      *http.Client
}

// NewOpenAI builds a client. remoteModel overrides the job's model name when
// the server expects its own identifiers (e.g. "whisper-1").
func NewOpenAI(baseURL, apiKey, remoteModel string, timeout time.Duration) *OpenAI {
	if timeout <= 0 {
		timeout = 60 * time.Minute
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://api.openai.com"
	}
	return &OpenAI{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		remoteModel: remoteModel,
		client:      &http.Client{Timeout: timeout},
	}
}

type verboseJSON struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		ID    int     `json:"id"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func (o *OpenAI) Transcribe(ctx context.Context, req Request, progress ProgressFunc) (Transcript, error) {
	f, err := os.Open(req.AudioPath)
	if err != nil {
		return Transcript{}, &Error{Stage: "decode", Message: "cannot open audio", Err: err}
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	model := o.remoteModel
	if model == "" {
		model = string(req.Options.Model)
	}
	fields := map[string]string{
		"model":           model,
		"response_format": "verbose_json",
		"temperature":     "0",
	}
	if lang := normalizeLanguage(req.Options.Language); lang != "" {
		fields["language"] = lang
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return Transcript{}, &Error{Stage: "upload", Message: "build request", Err: err}
		}
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(req.AudioPath))
	if err != nil {
		return Transcript{}, &Error{Stage: "upload", Message: "build request", Err: err}
	}
	if _, err := io.Copy(fw, f); err != nil {
		return Transcript{}, &Error{Stage: "upload", Message: "read audio", Err: err}
	}
	if err := mw.Close(); err != nil {
		return Transcript{}, &Error{Stage: "upload", Message: "build request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/audio/transcriptions", &body)
	if err != nil {
		return Transcript{}, &Error{Stage: "upload", Message: "build request", Err: err}
	}
	if o.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	emitProgress(progress, 0, "uploading audio")
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return Transcript{}, &Error{Stage: "transcribe", Message: "transcription request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		e := &Error{
			Stage:   "transcribe",
			Message: fmt.Sprintf("transcription server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b))),
		}
		switch resp.StatusCode {
		case http.StatusTooManyRequests, http.StatusInsufficientStorage:
			e.Kind = apperr.ErrResourceExhausted
			e.Message += "; try a smaller model"
		case http.StatusBadRequest, http.StatusUnsupportedMediaType:
			e.Stage = "decode"
		}
		return Transcript{}, e
	}

	var out verboseJSON
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Transcript{}, &Error{Stage: "parse", Message: "cannot parse transcription response", Err: err}
	}

	tr := Transcript{Text: strings.TrimSpace(out.Text), Language: out.Language, Duration: out.Duration}
	for i, s := range out.Segments {
		tr.Segments = append(tr.Segments, entity.Segment{ID: i + 1, Start: s.Start, End: s.End, Text: strings.TrimSpace(s.Text)})
	}
	if len(tr.Segments) == 0 && tr.Text != "" {
		tr.Segments = []entity.Segment{{ID: 1, Start: 0, End: tr.Duration, Text: tr.Text}}
	}
	if tr.Duration == 0 && len(tr.Segments) > 0 {
		tr.Duration = tr.Segments[len(tr.Segments)-1].End
	}
	return tr, nil
}
