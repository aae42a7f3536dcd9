package entity

import (
	"path/filepath"
	"strings"
)

type Model string

const (
	ModelTiny    Model = "tiny"
	ModelBase    Model = "base"
	ModelSmall   Model = "small"
	ModelMedium  Model = "medium"
	ModelLarge   Model = "large"
	ModelLargeV2 Model = "large-v2"
	ModelLargeV3 Model = "large-v3"
)

var models = []Model{ModelTiny, ModelBase, ModelSmall, ModelMedium, ModelLarge, ModelLargeV2, ModelLargeV3}

func Models() []Model {
	return append([]Model(nil), models...)
}

func (m Model) Valid() bool {
	for _, known := range models {
		if m == known {
			return true
		}
	}
	return false
}

type Format string

const (
	FormatTXT  Format = "txt"
	FormatSRT  Format = "srt"
	FormatVTT  Format = "vtt"
	FormatJSON Format = "json"
)

var formats = []Format{FormatTXT, FormatSRT, FormatVTT, FormatJSON}

func Formats() []Format {
	return append([]Format(nil), formats...)
}

func (f Format) Valid() bool {
	for _, known := range formats {
		if f == known {
			return true
		}
	}
	return false
}

func (f Format) Ext() string {
	return "." + string(f)
}

// ParseFormats splits a comma-separated list such as "txt, srt" and drops
// empty items and duplicates while keeping the first-seen order.
func ParseFormats(raw string) []Format {
	var out []Format
	seen := map[Format]bool{}
	for _, part := range strings.Split(raw, ",") {
		f := Format(strings.ToLower(strings.TrimSpace(part)))
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

var audioExtensions = []string{".mp3", ".wav", ".m4a", ".flac", ".ogg", ".wma", ".aac", ".mp4", ".webm"}

func AudioExtensions() []string {
	return append([]string(nil), audioExtensions...)
}

// IsAudioFile matches the file extension case-insensitively against AudioExtensions.
func IsAudioFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, known := range audioExtensions {
		if ext == known {
			return true
		}
	}
	return false
}

// Stem returns the file name without directory and extension, "transcript" when empty.
func Stem(name string) string {
	base := filepath.Base(name)
	stem := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if stem == "" || stem == "." || stem == string(filepath.Separator) {
		return "transcript"
	}
	return stem
}
