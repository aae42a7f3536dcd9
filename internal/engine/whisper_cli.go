package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/SGITme/whisper-MP3transcriber/internal/apperr"
	"github.com/SGITme/whisper-MP3transcriber/internal/entity"
)

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability. onStderr sees
// every stderr line (split on \r as well, so progress bars arrive live).
type commandRunner interface {
	Run(ctx context.Context, name string, args []string, onStderr func(line string)) (commandResult, error)
}

type execRunner struct{}

func (r *execRunner) Run(ctx context.Context, name string, args []string, onStderr func(line string)) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout

	pipe, err := cmd.StderrPipe()
	if err != nil {
		return commandResult{ExitCode: -1}, err
	}
	if err := cmd.Start(); err != nil {
		return commandResult{ExitCode: -1}, err
	}

	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(scanLinesOrCR)
	for scanner.Scan() {
		line := scanner.Text()
		stderr.WriteString(line)
		stderr.WriteByte('\n')
		if onStderr != nil {
			onStderr(line)
		}
	}

	err = cmd.Wait()
	result := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

func scanLinesOrCR(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

var tqdmPercent = regexp.MustCompile(`(\d{1,3})%\|`)

// WhisperCLI runs the openai-whisper command line tool and reads back its JSON output.
type WhisperCLI struct {
	binary    string
	device    string
	runner    commandRunner
	lookPath  func(file string) (string, error)
	mkdirTemp func(dir, pattern string) (string, error)
	removeAll func(path string) error
	readDir   func(name string) ([]os.DirEntry, error)
	readFile  func(name string) ([]byte, error)
}

func NewWhisperCLI(binary, device string) *WhisperCLI {
	if strings.TrimSpace(binary) == "" {
		binary = "whisper"
	}
	return &WhisperCLI{
		binary:    binary,
		device:    device,
		runner:    &execRunner{},
		lookPath:  exec.LookPath,
		mkdirTemp: os.MkdirTemp,
		removeAll: os.RemoveAll,
		readDir:   os.ReadDir,
		readFile:  os.ReadFile,
	}
}

type cliOutput struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		ID    int     `json:"id"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func (w *WhisperCLI) Transcribe(ctx context.Context, req Request, progress ProgressFunc) (Transcript, error) {
	bin, err := w.lookPath(w.binary)
	if err != nil {
		return Transcript{}, &Error{
			Stage:   "load",
			Message: fmt.Sprintf("whisper executable %q not found", w.binary),
			Err:     err,
		}
	}

	tempDir, err := w.mkdirTemp("", "transcriber-*")
	if err != nil {
		return Transcript{}, &Error{Stage: "load", Message: "failed to create temporary workspace", Err: err}
	}
	defer func() { _ = w.removeAll(tempDir) }()

	emitProgress(progress, 0, "loading model "+string(req.Options.Model))
	args := buildWhisperArgs(req, w.device, tempDir)

	onStderr := func(line string) {
		m := tqdmPercent.FindStringSubmatch(line)
		if m == nil {
			return
		}
		pct, err := strconv.Atoi(m[1])
		if err != nil || pct > 100 {
			return
		}
		emitProgress(progress, float64(pct)/100, "transcribing")
	}

	res, runErr := w.runner.Run(ctx, bin, args, onStderr)
	if runErr != nil {
		return Transcript{}, classifyRunError(ctx, req, res, runErr)
	}

	raw, err := w.readOutput(tempDir)
	if err != nil {
		return Transcript{}, &Error{Stage: "parse", Message: "whisper completed but produced no transcript", Output: lastLines(res.Stderr, 5), Err: err}
	}

	var out cliOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return Transcript{}, &Error{Stage: "parse", Message: "cannot parse whisper output", Err: err}
	}

	tr := Transcript{
		Text:     strings.TrimSpace(out.Text),
		Language: out.Language,
	}
	if tr.Language == "" {
		tr.Language = normalizeLanguage(req.Options.Language)
	}
	for i, s := range out.Segments {
		tr.Segments = append(tr.Segments, entity.Segment{ID: i + 1, Start: s.Start, End: s.End, Text: strings.TrimSpace(s.Text)})
	}
	if n := len(tr.Segments); n > 0 {
		tr.Duration = tr.Segments[n-1].End
	}
	return tr, nil
}

func (w *WhisperCLI) readOutput(dir string) ([]byte, error) {
	entries, err := w.readDir(dir)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.EqualFold(filepath.Ext(entry.Name()), ".json") {
			return w.readFile(filepath.Join(dir, entry.Name()))
		}
	}
	return nil, os.ErrNotExist
}

func classifyRunError(ctx context.Context, req Request, res commandResult, runErr error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &Error{Stage: "transcribe", Message: "transcription interrupted", Err: ctxErr}
	}
	if errors.Is(runErr, exec.ErrNotFound) {
		return &Error{Stage: "load", Message: "whisper executable not found", Err: runErr}
	}

	output := lastLines(res.Stderr, 5)
	if looksExhausted(res.Stderr) || res.ExitCode == 137 {
		return &Error{
			Stage:   "load",
			Message: fmt.Sprintf("out of memory running model %q; try a smaller model", req.Options.Model),
			Output:  output,
			Kind:    apperr.ErrResourceExhausted,
			Err:     runErr,
		}
	}
	if strings.Contains(res.Stderr, "Failed to load audio") {
		return &Error{Stage: "decode", Message: "cannot decode audio (unsupported or corrupt input)", Output: output, Err: runErr}
	}

	msg := fmt.Sprintf("whisper exited with code %d", res.ExitCode)
	if output != "" {
		msg += ": " + output
	}
	return &Error{Stage: "transcribe", Message: msg, Output: output, Err: runErr}
}

// buildWhisperArgs mirrors the decoding settings of the reference tool:
// deterministic beam search plus anti-hallucination thresholds.
func buildWhisperArgs(req Request, device, outputDir string) []string {
	args := []string{
		req.AudioPath,
		"--model", string(req.Options.Model),
		"--task", "transcribe",
		"--output_format", "json",
		"--output_dir", outputDir,
		"--verbose", "False",
		"--beam_size", "5",
		"--temperature", "0",
		"--condition_on_previous_text", "False",
		"--compression_ratio_threshold", "2.4",
		"--logprob_threshold", "-1.0",
		"--no_speech_threshold", "0.6",
	}
	if lang := normalizeLanguage(req.Options.Language); lang != "" {
		args = append(args, "--language", lang)
	}
	if d := strings.TrimSpace(device); d != "" && d != "auto" {
		args = append(args, "--device", d)
		if d == "cpu" {
			args = append(args, "--fp16", "False")
		}
	}
	return args
}
