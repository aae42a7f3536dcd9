package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/SGITme/whisper-MP3transcriber/internal/app"
	"github.com/SGITme/whisper-MP3transcriber/internal/entity"
	"github.com/SGITme/whisper-MP3transcriber/internal/service"
)

var manifestPath string

var transcribeCmd = &cobra.Command{
	Use:   "transcribe [FILE...]",
	Short: "Transcribe audio files and wait for the results",
	Long: `Submit audio files as jobs, show their progress and print a summary.

The command exits non-zero when any job fails. Files with an unsupported
extension are skipped.

Examples:
  transcriber transcribe talk.mp3
  transcriber transcribe *.mp3 -m small -f txt,vtt -l en
  transcriber transcribe --manifest batch.yaml`,
	RunE: runTranscribe,
}

func init() {
	rootCmd.AddCommand(transcribeCmd)
	transcribeCmd.Flags().StringVar(&manifestPath, "manifest", "", "YAML batch manifest listing files and per-file options")
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	var reqs []service.SubmitRequest
	if manifestPath != "" {
		m, err := LoadManifest(manifestPath)
		if err != nil {
			return err
		}
		reqs = m.Requests()
	}
	for _, path := range args {
		reqs = append(reqs, service.SubmitRequest{SourcePath: path, Source: entity.SourceCLI})
	}
	if len(reqs) == 0 {
		return errors.New("no input files: pass FILE arguments or --manifest")
	}

	ctx, stop, a, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer stop()
	defer a.Close()

	out := cmd.OutOrStdout()
	d := a.Jobs.Defaults()
	fmt.Fprintln(out, "Whisper Transcriber CLI")
	fmt.Fprintf(out, "Model: %s\n", d.Model)
	fmt.Fprintf(out, "Output: %s\n", a.Config.Paths.OutputDir)
	fmt.Fprintf(out, "Formats: %s\n\n", joinFormats(d.Formats))

	sum, err := runBatch(ctx, out, a, reqs)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Complete: %d done, %d failed, %d skipped.\n", sum.Completed, sum.Failed, sum.Skipped)
	if sum.Failed > 0 {
		return fmt.Errorf("%d of %d jobs failed", sum.Failed, len(reqs))
	}
	return nil
}

type batchSummary struct {
	Completed int
	Failed    int
	Skipped   int
}

// runBatch submits reqs, runs the workers until every accepted job is
// terminal and reports progress to out. It subscribes before submitting so
// no update is missed.
func runBatch(ctx context.Context, out io.Writer, a *app.App, reqs []service.SubmitRequest) (batchSummary, error) {
	var sum batchSummary

	sub := a.Events.Subscribe()
	defer sub.Close()

	workCtx, cancel := context.WithCancel(ctx)
	workersDone := make(chan error, 1)
	go func() { workersDone <- a.RunWorkers(workCtx) }()
	defer func() {
		cancel()
		<-workersDone
	}()

	names := map[string]string{}
	for _, req := range reqs {
		name := filepath.Base(req.SourcePath)
		if !entity.IsAudioFile(req.SourcePath) {
			fmt.Fprintf(out, "[SKIP] Unsupported format: %s\n", req.SourcePath)
			sum.Skipped++
			continue
		}
		job, err := a.Jobs.Submit(ctx, req)
		if err != nil {
			fmt.Fprintf(out, "[ERROR] %s: %v\n", req.SourcePath, err)
			sum.Failed++
			continue
		}
		names[job.ID] = name
	}

	bars := map[string]bool{}
	for len(names) > 0 {
		jobs, err := sub.Next(ctx)
		if err != nil {
			return sum, err
		}
		for _, job := range jobs {
			name, ok := names[job.ID]
			if !ok {
				continue
			}
			switch job.Status {
			case entity.StatusProcessing:
				if !bars[job.ID] {
					fmt.Fprintf(out, "[PROCESSING] %s\n", name)
					bars[job.ID] = true
				}
				fmt.Fprintf(out, "\r  %s", progressLine(job.Progress, job.Message))
			case entity.StatusCompleted:
				fmt.Fprintf(out, "\r  %s\n", progressLine(1, "completed"))
				fmt.Fprintf(out, "[DONE] %s\n", name)
				if r := job.Result; r != nil {
					fmt.Fprintf(out, "  Language: %s\n", r.Language)
					fmt.Fprintf(out, "  Duration: %.1fs\n", r.Duration)
					fmt.Fprintf(out, "  Text length: %d chars\n", len([]rune(r.Text)))
					fmt.Fprintf(out, "  Files: %s\n", joinFiles(r.Files))
				}
				fmt.Fprintln(out)
				sum.Completed++
				delete(names, job.ID)
			case entity.StatusFailed:
				if bars[job.ID] {
					fmt.Fprintln(out)
				}
				fmt.Fprintf(out, "[ERROR] %s: %s\n\n", name, job.Message)
				sum.Failed++
				delete(names, job.ID)
			}
		}
	}
	return sum, nil
}

const barWidth = 30

func progressLine(p float64, msg string) string {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	filled := int(barWidth * p)
	bar := strings.Repeat("=", filled) + strings.Repeat("-", barWidth-filled)
	return fmt.Sprintf("[%s] %5.1f%% - %s", bar, p*100, msg)
}

func joinFormats(fs []entity.Format) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = string(f)
	}
	return strings.Join(parts, ", ")
}

func joinFiles(files map[entity.Format]string) string {
	var parts []string
	for _, f := range entity.Formats() {
		if p, ok := files[f]; ok {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
