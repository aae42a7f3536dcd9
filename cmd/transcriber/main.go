// @title       Transcriber API
// @version     1.0
// @description Speech-to-text job service: upload audio, follow progress, download TXT/SRT/VTT/JSON transcripts.
// @BasePath    /
package main

import (
	_ "github.com/SGITme/whisper-MP3transcriber/docs"
	"github.com/SGITme/whisper-MP3transcriber/internal/cmd"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)
	cmd.Execute()
}
