package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SGITme/whisper-MP3transcriber/internal/entity"
)

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(`
defaults:
  model: small
  formats: [txt, vtt]
files:
  - path: talk.mp3
  - path: interview.wav
    model: base
    language: de
    formats: "srt, json"
`))
	require.NoError(t, err)

	reqs := m.Requests()
	require.Len(t, reqs, 2)

	assert.Equal(t, "talk.mp3", reqs[0].SourcePath)
	assert.Equal(t, entity.ModelSmall, reqs[0].Model)
	assert.Equal(t, []entity.Format{entity.FormatTXT, entity.FormatVTT}, reqs[0].Formats)
	assert.Equal(t, entity.SourceCLI, reqs[0].Source)

	assert.Equal(t, entity.ModelBase, reqs[1].Model)
	assert.Equal(t, "de", reqs[1].Language)
	assert.Equal(t, []entity.Format{entity.FormatSRT, entity.FormatJSON}, reqs[1].Formats)
}

func TestParseManifest_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ``},
		{"no files", "defaults:\n  model: small\n"},
		{"missing path", "files:\n  - model: small\n"},
		{"unknown field", "files:\n  - path: a.mp3\n    speed: 2\n"},
		{"bad formats", "files:\n  - path: a.mp3\n    formats: {txt: true}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.raw))
			require.Error(t, err)
		})
	}
}

func TestParseManifest_EmptyFieldsLeftForServiceDefaults(t *testing.T) {
	m, err := ParseManifest([]byte("files:\n  - path: a.mp3\n"))
	require.NoError(t, err)

	req := m.Requests()[0]
	assert.Empty(t, req.Model)
	assert.Empty(t, req.Language)
	assert.Empty(t, req.Formats)
}

func TestLoadManifest_ResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "batch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("files:\n  - path: a.mp3\n  - path: /abs/b.wav\n"), 0o644))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a.mp3"), m.Files[0].Path)
	assert.Equal(t, "/abs/b.wav", m.Files[1].Path)

	_, err = LoadManifest(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}
