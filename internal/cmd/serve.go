package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var serveWatch string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the job runner and the optional folder watcher",
	Long: `Run the HTTP API together with the job runner.

The folder watcher starts as well when watch.enabled is set or --watch is
given; it can also be started later through POST /api/watch/start.

Examples:
  transcriber serve
  transcriber serve --host 0.0.0.0 --port 3000 --workers 2
  transcriber serve --watch ./inbox`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveWatch, "watch", "", "Also watch this directory for new audio files")
}

func runServe(cmd *cobra.Command, args []string) error {
	extra := map[string]any{}
	if serveWatch != "" {
		setKey(extra, "paths.watch_dir", serveWatch)
		setKey(extra, "watch.enabled", true)
	}

	ctx, stop, a, err := bootstrap(cmd, extra)
	if err != nil {
		return err
	}
	defer stop()
	defer a.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "Starting server at http://%s\n", a.Config.Server.Addr())
	return a.Serve(ctx)
}
