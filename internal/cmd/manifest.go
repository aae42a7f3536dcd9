package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/SGITme/whisper-MP3transcriber/internal/entity"
	"github.com/SGITme/whisper-MP3transcriber/internal/service"
)

// Manifest describes a CLI batch:
//
//	defaults:
//	  model: small
//	  formats: [txt, vtt]
//	files:
//	  - path: talk.mp3
//	  - path: interview.wav
//	    language: de
//	    formats: txt,json
type Manifest struct {
	Defaults ManifestEntry   `yaml:"defaults"`
	Files    []ManifestEntry `yaml:"files"`
}

type ManifestEntry struct {
	Path     string     `yaml:"path"`
	Model    string     `yaml:"model"`
	Language string     `yaml:"language"`
	Formats  FormatList `yaml:"formats"`
}

// FormatList accepts either a YAML sequence or a comma-separated string.
type FormatList []entity.Format

func (l *FormatList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*l = entity.ParseFormats(node.Value)
		return nil
	case yaml.SequenceNode:
		var raw []string
		if err := node.Decode(&raw); err != nil {
			return err
		}
		*l = entity.ParseFormats(strings.Join(raw, ","))
		return nil
	default:
		return fmt.Errorf("line %d: formats must be a list or a comma-separated string", node.Line)
	}
}

// LoadManifest reads a manifest file. Relative file paths are resolved
// against the manifest's directory.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := ParseManifest(raw)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	base := filepath.Dir(path)
	for i := range m.Files {
		if !filepath.IsAbs(m.Files[i].Path) {
			m.Files[i].Path = filepath.Join(base, m.Files[i].Path)
		}
	}
	return m, nil
}

func ParseManifest(raw []byte) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	if len(m.Files) == 0 {
		return nil, fmt.Errorf("no files listed")
	}
	for i, f := range m.Files {
		if strings.TrimSpace(f.Path) == "" {
			return nil, fmt.Errorf("files[%d]: path is required", i)
		}
	}
	return &m, nil
}

// Requests expands the manifest into submissions. Entry fields win over the
// manifest defaults; anything still empty falls back to the service defaults.
func (m *Manifest) Requests() []service.SubmitRequest {
	out := make([]service.SubmitRequest, 0, len(m.Files))
	for _, f := range m.Files {
		req := service.SubmitRequest{
			SourcePath: f.Path,
			Model:      entity.Model(firstNonEmpty(f.Model, m.Defaults.Model)),
			Language:   firstNonEmpty(f.Language, m.Defaults.Language),
			Source:     entity.SourceCLI,
		}
		switch {
		case len(f.Formats) > 0:
			req.Formats = append([]entity.Format(nil), f.Formats...)
		case len(m.Defaults.Formats) > 0:
			req.Formats = append([]entity.Format(nil), m.Defaults.Formats...)
		}
		out = append(out, req)
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
