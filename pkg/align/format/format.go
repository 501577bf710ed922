// Package format renders aligned transcripts for their two consumers: a
// newline-separated "[MM:SS] Speaker: Text" string embedded in LLM prompts,
// and a JSON document driving clickable timestamps in a UI.
//
// All functions are pure and deterministic.
package format

import (
	"fmt"
	"math"
	"strings"

	"github.com/MrWong99/transcriptalign/pkg/types"
)

// Timestamp renders seconds as "MM:SS", or "H:MM:SS" from one hour on.
// Fractions are truncated; negative values render as "00:00".
func Timestamp(seconds float64) string {
	if math.IsNaN(seconds) || seconds < 0 {
		seconds = 0
	}
	total := int64(seconds)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// ForPrompt renders one line per segment. Segments with a start time are
// prefixed with "[MM:SS] " (or "[H:MM:SS] "); the others keep just
// "Speaker: Text" so no content is lost.
func ForPrompt(segs []types.AlignedSegment) string {
	var b strings.Builder
	for i, s := range segs {
		if i > 0 {
			b.WriteByte('\n')
		}
		if s.Start != nil {
			b.WriteByte('[')
			b.WriteString(Timestamp(*s.Start))
			b.WriteString("] ")
		}
		writeTurn(&b, s.Speaker, s.Text)
	}
	return b.String()
}

// Plain renders "Speaker: Text" lines without timestamps.
func Plain(segs []types.AlignedSegment) string {
	var b strings.Builder
	for i, s := range segs {
		if i > 0 {
			b.WriteByte('\n')
		}
		writeTurn(&b, s.Speaker, s.Text)
	}
	return b.String()
}

func writeTurn(b *strings.Builder, speaker, text string) {
	b.WriteString(speaker)
	b.WriteString(": ")
	b.WriteString(text)
}
