// Package types defines the shared types used across all transcriptalign packages.
//
// These types form the lingua franca between the token builder, segmenter,
// aligner, formatter and orchestrator. Each package defines its own domain
// types; cross-cutting data structures live here to avoid circular imports.
package types

import "time"

// Token is a single timestamped word from a speech-to-text engine.
// Tokens are produced once, in non-decreasing Start order, and are discarded
// after alignment.
type Token struct {
	// Word is the normalized form used for matching: lowercase with
	// punctuation stripped.
	Word string

	// Raw is the word as the engine reported it, kept for display and debugging.
	Raw string

	// Start and End are offsets from the beginning of the audio in seconds.
	Start float64
	End   float64

	// Confidence is the engine's word confidence in [0, 1].
	Confidence float64
}

// TranscriptSegment is one speaker turn of the clean transcript.
type TranscriptSegment struct {
	// Speaker is the speaker label, e.g. "Operator" or "Tim Cook - CEO".
	Speaker string

	// Text is the body of the turn.
	Text string

	// Index is the 0-based position of the segment in speaking order.
	Index int
}

// MatchStatus classifies how well a segment was located in the audio.
type MatchStatus string

const (
	// StatusMatched means the best window scored at or above the match threshold.
	StatusMatched MatchStatus = "matched"

	// StatusLowConfidence means the best window scored between the weak and
	// match thresholds. Timestamps are present but should be treated with care.
	StatusLowConfidence MatchStatus = "low_confidence"

	// StatusUnmatched means no window reached the weak threshold. Start and End
	// are nil.
	StatusUnmatched MatchStatus = "unmatched"
)

// Valid reports whether s is one of the defined statuses.
func (s MatchStatus) Valid() bool {
	switch s {
	case StatusMatched, StatusLowConfidence, StatusUnmatched:
		return true
	}
	return false
}

// AlignedSegment is a transcript segment annotated with its location in the audio.
type AlignedSegment struct {
	TranscriptSegment

	// Start and End are the window boundaries in seconds. Both are nil when
	// Status is StatusUnmatched.
	Start *float64
	End   *float64

	// Score is the similarity of the chosen window in [0, 1]; zero when unmatched.
	Score float64

	// Status is the match classification.
	Status MatchStatus

	// TokenStart and TokenEnd are the inclusive token indices of the chosen
	// window, or -1 when unmatched.
	TokenStart int
	TokenEnd   int
}

// HasTimestamps reports whether the segment carries a start time.
func (s AlignedSegment) HasTimestamps() bool { return s.Start != nil }

// Unmatched returns an AlignedSegment for seg with no timestamps.
func Unmatched(seg TranscriptSegment) AlignedSegment {
	return AlignedSegment{
		TranscriptSegment: seg,
		Status:            StatusUnmatched,
		TokenStart:        -1,
		TokenEnd:          -1,
	}
}

// AlignmentStats summarises an alignment run.
type AlignmentStats struct {
	Matched       int
	LowConfidence int
	Unmatched     int

	// Tokens is the number of tokens the run aligned against.
	Tokens int

	// Duration is the wall-clock time spent in alignment (excluding transcription).
	Duration time.Duration
}

// AlignmentResult is the final output of an alignment run.
type AlignmentResult struct {
	// ID identifies the run for storage and event publishing.
	ID string

	// Source is a free-form provenance tag, e.g. the audio URL or the
	// transcript's origin.
	Source string

	// Segments has exactly one entry per input segment, in input order.
	Segments []AlignedSegment

	// MatchRate is the fraction of segments with StatusMatched.
	MatchRate float64

	// Formatted is the LLM-ready timestamped transcript.
	Formatted string

	// Degraded is true when the result was produced without a token stream,
	// e.g. because transcription failed.
	Degraded bool

	Stats     AlignmentStats
	CreatedAt time.Time
}

// MatchRate returns the fraction of segs whose status is StatusMatched.
// It returns 0 for an empty slice.
func MatchRate(segs []AlignedSegment) float64 {
	if len(segs) == 0 {
		return 0
	}
	var n int
	for _, s := range segs {
		if s.Status == StatusMatched {
			n++
		}
	}
	return float64(n) / float64(len(segs))
}

// CountStatuses tallies segs by status. Tokens and Duration are left zero.
func CountStatuses(segs []AlignedSegment) AlignmentStats {
	var st AlignmentStats
	for _, s := range segs {
		switch s.Status {
		case StatusMatched:
			st.Matched++
		case StatusLowConfidence:
			st.LowConfidence++
		default:
			st.Unmatched++
		}
	}
	return st
}
