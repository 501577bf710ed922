package format

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/MrWong99/transcriptalign/pkg/types"
)

// UISegment is one entry of the UI's aligned transcript. A nil StartSeconds
// means no timestamp jump is available for the segment.
type UISegment struct {
	Speaker      string            `json:"speaker"`
	Text         string            `json:"text"`
	StartSeconds *float64          `json:"start_seconds"`
	EndSeconds   *float64          `json:"end_seconds"`
	MatchStatus  types.MatchStatus `json:"match_status"`
}

// DocumentJSON is the persisted and served form of an alignment result.
type DocumentJSON struct {
	Source            string      `json:"source"`
	OverallMatchRate  float64     `json:"overall_match_rate"`
	AlignedTranscript []UISegment `json:"aligned_transcript"`
}

// ErrInvalidDocument is returned by [UnmarshalResult] for JSON that does not
// describe an alignment result.
var ErrInvalidDocument = errors.New("format: invalid alignment document")

// ForUI converts segments to their UI form. Times are rounded to
// milliseconds; the returned slice is never nil.
func ForUI(segs []types.AlignedSegment) []UISegment {
	out := make([]UISegment, len(segs))
	for i, s := range segs {
		out[i] = UISegment{
			Speaker:      s.Speaker,
			Text:         s.Text,
			StartSeconds: roundedCopy(s.Start),
			EndSeconds:   roundedCopy(s.End),
			MatchStatus:  s.Status,
		}
	}
	return out
}

// Document builds the JSON document for r.
func Document(r *types.AlignmentResult) DocumentJSON {
	return DocumentJSON{
		Source:            r.Source,
		OverallMatchRate:  r.MatchRate,
		AlignedTranscript: ForUI(r.Segments),
	}
}

// MarshalResult encodes r as its JSON document.
func MarshalResult(r *types.AlignmentResult) ([]byte, error) {
	data, err := json.Marshal(Document(r))
	if err != nil {
		return nil, fmt.Errorf("format: marshal result: %w", err)
	}
	return data, nil
}

// UnmarshalResult decodes a JSON document back into a result. Segment
// indices are assigned in document order, Formatted is recomputed and the
// status counts are rebuilt. Token indices are not part of the document and
// come back as -1.
func UnmarshalResult(data []byte) (*types.AlignmentResult, error) {
	var doc DocumentJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	if doc.AlignedTranscript == nil {
		return nil, fmt.Errorf("%w: missing aligned_transcript", ErrInvalidDocument)
	}

	segs := make([]types.AlignedSegment, len(doc.AlignedTranscript))
	for i, u := range doc.AlignedTranscript {
		if !u.MatchStatus.Valid() {
			return nil, fmt.Errorf("%w: segment %d has match_status %q", ErrInvalidDocument, i, u.MatchStatus)
		}
		segs[i] = types.AlignedSegment{
			TranscriptSegment: types.TranscriptSegment{Speaker: u.Speaker, Text: u.Text, Index: i},
			Start:             u.StartSeconds,
			End:               u.EndSeconds,
			Status:            u.MatchStatus,
			TokenStart:        -1,
			TokenEnd:          -1,
		}
	}

	return &types.AlignmentResult{
		Source:    doc.Source,
		Segments:  segs,
		MatchRate: doc.OverallMatchRate,
		Formatted: ForPrompt(segs),
		Stats:     types.CountStatuses(segs),
	}, nil
}

func roundedCopy(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r := math.Round(*v*1000) / 1000
	return &r
}
