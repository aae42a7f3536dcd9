// Package render turns timed segments into transcript files.
package render

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/SGITme/whisper-MP3transcriber/internal/apperr"
	"github.com/SGITme/whisper-MP3transcriber/internal/entity"
)

type Document struct {
	Text     string
	Language string
	Model    entity.Model
	Duration float64
	Segments []entity.Segment
}

func Render(doc Document, f entity.Format) ([]byte, error) {
	switch f {
	case entity.FormatTXT:
		return TXT(doc), nil
	case entity.FormatSRT:
		return SRT(doc.Segments), nil
	case entity.FormatVTT:
		return VTT(doc.Segments), nil
	case entity.FormatJSON:
		return JSON(doc)
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", apperr.ErrRender, f)
	}
}

func TXT(doc Document) []byte {
	if len(doc.Segments) == 0 {
		text := strings.TrimSpace(doc.Text)
		if text == "" {
			return []byte{}
		}
		return []byte(text + "\n")
	}

	var b strings.Builder
	for _, seg := range doc.Segments {
		b.WriteString(strings.TrimSpace(seg.Text))
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func SRT(segments []entity.Segment) []byte {
	var b strings.Builder
	for i, seg := range segments {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			i+1,
			FormatTimestamp(seg.Start, ','),
			FormatTimestamp(seg.End, ','),
			strings.TrimSpace(seg.Text),
		)
	}
	return []byte(b.String())
}

func VTT(segments []entity.Segment) []byte {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, seg := range segments {
		fmt.Fprintf(&b, "%s --> %s\n%s\n\n",
			FormatTimestamp(seg.Start, '.'),
			FormatTimestamp(seg.End, '.'),
			strings.TrimSpace(seg.Text),
		)
	}
	return []byte(b.String())
}

type jsonDocument struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Segments []entity.Segment `json:"segments"`
	Metadata jsonMetadata     `json:"metadata"`
}

type jsonMetadata struct {
	Model    entity.Model `json:"model"`
	Duration float64      `json:"duration"`
}

func JSON(doc Document) ([]byte, error) {
	segments := make([]entity.Segment, len(doc.Segments))
	for i, seg := range doc.Segments {
		seg.ID = i + 1
		seg.Text = strings.TrimSpace(seg.Text)
		segments[i] = seg
	}

	b, err := json.MarshalIndent(jsonDocument{
		Text:     strings.TrimSpace(doc.Text),
		Language: doc.Language,
		Segments: segments,
		Metadata: jsonMetadata{Model: doc.Model, Duration: doc.Duration},
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrRender, err)
	}
	return append(b, '\n'), nil
}

// FormatTimestamp renders seconds as HH:MM:SS<sep>mmm, rounded to the nearest millisecond.
func FormatTimestamp(seconds float64, sep byte) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	ms := int64(math.Round(seconds * 1000))
	h := ms / 3_600_000
	ms -= h * 3_600_000
	m := ms / 60_000
	ms -= m * 60_000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", h, m, s, sep, ms)
}

// ParseTimestamp reads HH:MM:SS,mmm or HH:MM:SS.mmm back into seconds.
func ParseTimestamp(ts string) (float64, error) {
	ts = strings.TrimSpace(ts)
	cut := strings.LastIndexAny(ts, ",.")
	if cut < 0 {
		return 0, fmt.Errorf("timestamp %q: missing millisecond separator", ts)
	}
	clock := strings.Split(ts[:cut], ":")
	if len(clock) != 3 || len(ts[cut+1:]) != 3 {
		return 0, fmt.Errorf("timestamp %q: want HH:MM:SS,mmm", ts)
	}

	var parts [4]int64
	for i, raw := range append(clock, ts[cut+1:]) {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("timestamp %q: bad field %q", ts, raw)
		}
		parts[i] = v
	}
	if parts[1] > 59 || parts[2] > 59 {
		return 0, fmt.Errorf("timestamp %q: minutes/seconds out of range", ts)
	}

	ms := parts[0]*3_600_000 + parts[1]*60_000 + parts[2]*1000 + parts[3]
	return float64(ms) / 1000, nil
}
