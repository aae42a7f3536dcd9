package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch [DIR]",
	Short: "Transcribe audio files dropped into a folder",
	Long: `Watch a folder and submit every new audio file once it stops growing.

Completed sources are moved to DIR/completed unless watch.move_completed is
off. Without DIR the configured paths.watch_dir is used.

Examples:
  transcriber watch ./inbox
  transcriber watch ./inbox -m small -f txt,srt,vtt`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	extra := map[string]any{}
	if len(args) == 1 {
		setKey(extra, "paths.watch_dir", args[0])
	}

	ctx, stop, a, err := bootstrap(cmd, extra)
	if err != nil {
		return err
	}
	defer stop()
	defer a.Close()

	if err := a.Watcher.Start(ctx, ""); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	d := a.Jobs.Defaults()
	fmt.Fprintln(out, "Whisper Transcriber - Watch Mode")
	fmt.Fprintf(out, "Watching: %s\n", a.Watcher.Status().Path)
	fmt.Fprintf(out, "Model: %s\n", d.Model)
	fmt.Fprintf(out, "Output: %s\n", a.Config.Paths.OutputDir)
	fmt.Fprintf(out, "Formats: %s\n\n", joinFormats(d.Formats))
	fmt.Fprintln(out, "Press Ctrl+C to stop")

	err = a.RunWorkers(ctx)
	fmt.Fprintf(out, "\nStopping... %d files submitted.\n", a.Watcher.Status().Submitted)
	return err
}
