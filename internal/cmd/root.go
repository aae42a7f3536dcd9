// Package cmd implements the transcriber command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/SGITme/whisper-MP3transcriber/internal/app"
	"github.com/SGITme/whisper-MP3transcriber/internal/config"
	"github.com/SGITme/whisper-MP3transcriber/internal/observability"
)

var (
	cfgFile  string
	logLevel string
	verbose  bool
	model    string
	output   string
	formats  string
	language string
	host     string
	port     int
	workers  int
)

var rootCmd = &cobra.Command{
	Use:   "transcriber",
	Short: "Speech-to-text job service",
	Long: `transcriber turns audio files into TXT, SRT, VTT and JSON transcripts.

Jobs can be submitted over HTTP, from the command line or by dropping files
into a watched folder. All front-ends share one queue and one runner.

Examples:
  transcriber serve --port 3000
  transcriber transcribe talk.mp3 interview.wav -f txt,vtt
  transcriber transcribe --manifest batch.yaml
  transcriber watch ./inbox -m small`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default ./transcriber.yaml or ~/.config/transcriber/transcriber.yaml)")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Shorthand for --log-level debug")
	pf.StringVarP(&model, "model", "m", "", "Default whisper model (tiny, base, small, medium, large, large-v2, large-v3)")
	pf.StringVarP(&output, "output", "o", "", "Output directory for transcripts")
	pf.StringVarP(&formats, "format", "f", "", "Output formats, comma-separated (txt,srt,vtt,json)")
	pf.StringVarP(&language, "language", "l", "", "Language code, auto-detected when empty")
	pf.StringVar(&host, "host", "", "Host to bind the HTTP server to")
	pf.IntVarP(&port, "port", "p", 0, "Port for the HTTP server")
	pf.IntVar(&workers, "workers", 0, "Number of concurrent transcription workers")
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// flagOverrides maps the flags the user actually set onto config keys.
func flagOverrides(cmd *cobra.Command) map[string]any {
	out := map[string]any{}
	flags := cmd.Flags()

	if flags.Changed("model") {
		setKey(out, "defaults.model", model)
	}
	if flags.Changed("language") {
		setKey(out, "defaults.language", language)
	}
	if flags.Changed("format") {
		setKey(out, "defaults.formats", strings.Split(formats, ","))
	}
	if flags.Changed("output") {
		setKey(out, "paths.output_dir", output)
	}
	if flags.Changed("host") {
		setKey(out, "server.host", host)
	}
	if flags.Changed("port") {
		setKey(out, "server.port", port)
	}
	if flags.Changed("workers") {
		setKey(out, "runner.workers", workers)
	}
	if flags.Changed("log-level") {
		setKey(out, "logging.level", logLevel)
	}
	if verbose {
		setKey(out, "logging.level", "debug")
	}
	return out
}

// setKey stores v under a dotted key as nested maps, the shape viper merges.
func setKey(m map[string]any, key string, v any) {
	parts := strings.Split(key, ".")
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = v
}

func loadConfig(cmd *cobra.Command, extra ...map[string]any) (*config.Config, error) {
	overrides := append([]map[string]any{flagOverrides(cmd)}, extra...)
	return config.Load(cfgFile, overrides...)
}

// bootstrap loads configuration and builds the application. The returned
// context is cancelled on SIGINT or SIGTERM.
func bootstrap(cmd *cobra.Command, extra ...map[string]any) (context.Context, context.CancelFunc, *app.App, error) {
	cfg, err := loadConfig(cmd, extra...)
	if err != nil {
		return nil, nil, nil, err
	}
	log, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, nil, err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		stop()
		_ = log.Sync()
		return nil, nil, nil, err
	}
	log.Debug("configuration loaded",
		zap.String("model", cfg.Defaults.Model),
		zap.Strings("formats", cfg.Defaults.Formats),
		zap.String("engine", cfg.Engine.Kind),
		zap.Int("workers", cfg.Runner.Workers),
	)
	return ctx, stop, a, nil
}
