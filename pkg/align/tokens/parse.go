package tokens

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/MrWong99/transcriptalign/pkg/provider/stt"
)

// wordArrayPaths are probed in order to find the word list in engine JSON.
// Grouped layouts (segments, utterances, results) are flattened.
var wordArrayPaths = []string{
	"words",
	"results.channels.0.alternatives.0.words", // Deepgram pre-recorded
	"channel.alternatives.0.words",            // Deepgram live message
	"transcript.words",
}

var groupPaths = []string{
	"segments",            // Whisper verbose_json
	"utterances",          // Deepgram/AssemblyAI utterances
	"results.utterances",  // Deepgram utterances=true
	"results",             // Google Speech results[].alternatives[0].words
	"monologues",          // Rev.ai style
	"transcription.words", // nested flat list
}

var (
	wordKeys       = []string{"punctuated_word", "word", "text", "value"}
	startKeys      = []string{"start", "start_time", "startTime", "startOffset", "ts"}
	endKeys        = []string{"end", "end_time", "endTime", "endOffset", "end_ts"}
	confidenceKeys = []string{"confidence", "probability", "p"}
)

// ParseWords reads word timings from engine JSON. Accepted layouts are a
// top-level array of words, an object with a "words" array, Deepgram's
// results.channels[].alternatives[].words, and segment- or utterance-grouped
// lists whose entries carry their own "words" (or Google-style
// alternatives[0].words).
//
// Each word needs a text field (punctuated_word, word or text) and numeric
// start and end offsets in seconds. Offsets may also be strings such as
// "1.500s" or {"seconds":1,"nanos":500000000}. Confidence (confidence or
// probability) defaults to 1.
func ParseWords(data []byte) ([]stt.WordDetail, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedTokenStream)
	}
	root := gjson.ParseBytes(data)

	arr, ok := locateWords(root)
	if !ok {
		return nil, fmt.Errorf("%w: no word list found", ErrMalformedTokenStream)
	}

	out := make([]stt.WordDetail, 0, len(arr))
	for i, w := range arr {
		if !w.IsObject() {
			return nil, fmt.Errorf("%w: word %d is not an object", ErrMalformedTokenStream, i)
		}
		text, ok := firstString(w, wordKeys)
		if !ok {
			return nil, fmt.Errorf("%w: word %d has no text", ErrMalformedTokenStream, i)
		}
		start, err := firstOffset(w, startKeys)
		if err != nil {
			return nil, fmt.Errorf("%w: word %d (%q) start: %v", ErrMalformedTokenStream, i, text, err)
		}
		end, err := firstOffset(w, endKeys)
		if err != nil {
			return nil, fmt.Errorf("%w: word %d (%q) end: %v", ErrMalformedTokenStream, i, text, err)
		}
		conf := 1.0
		for _, k := range confidenceKeys {
			if v := w.Get(k); v.Exists() && v.Type == gjson.Number {
				conf = v.Float()
				break
			}
		}
		out = append(out, stt.WordDetail{Word: text, Start: start, End: end, Confidence: conf})
	}
	return out, nil
}

func locateWords(root gjson.Result) ([]gjson.Result, bool) {
	if root.IsArray() {
		items := root.Array()
		// An array of groups rather than words.
		if len(items) > 0 && items[0].Get("words").IsArray() {
			return flattenGroups(items), true
		}
		return items, true
	}
	for _, p := range wordArrayPaths {
		if v := root.Get(p); v.IsArray() {
			return v.Array(), true
		}
	}
	for _, p := range groupPaths {
		v := root.Get(p)
		if !v.IsArray() {
			continue
		}
		groups := v.Array()
		if len(groups) == 0 {
			continue
		}
		if words := flattenGroups(groups); len(words) > 0 {
			return words, true
		}
	}
	return nil, false
}

func flattenGroups(groups []gjson.Result) []gjson.Result {
	var out []gjson.Result
	for _, g := range groups {
		switch {
		case g.Get("words").IsArray():
			out = append(out, g.Get("words").Array()...)
		case g.Get("alternatives.0.words").IsArray():
			out = append(out, g.Get("alternatives.0.words").Array()...)
		case g.Get("elements").IsArray():
			out = append(out, g.Get("elements").Array()...)
		}
	}
	return out
}

func firstString(w gjson.Result, keys []string) (string, bool) {
	for _, k := range keys {
		if v := w.Get(k); v.Exists() && v.Type == gjson.String {
			return v.String(), true
		}
	}
	return "", false
}

func firstOffset(w gjson.Result, keys []string) (time.Duration, error) {
	for _, k := range keys {
		v := w.Get(k)
		if !v.Exists() {
			continue
		}
		return parseOffset(v)
	}
	return 0, fmt.Errorf("missing (want one of %s)", strings.Join(keys, ", "))
}

// parseOffset accepts seconds as a number, a numeric string with optional
// "s" suffix, or a protobuf-style {"seconds","nanos"} object.
func parseOffset(v gjson.Result) (time.Duration, error) {
	switch {
	case v.Type == gjson.Number:
		return secondsToDuration(v.Float()), nil
	case v.Type == gjson.String:
		s := strings.TrimSuffix(strings.TrimSpace(v.String()), "s")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid offset %q", v.String())
		}
		return secondsToDuration(f), nil
	case v.IsObject():
		secs := v.Get("seconds")
		nanos := v.Get("nanos")
		if !secs.Exists() && !nanos.Exists() {
			return 0, fmt.Errorf("invalid offset %s", v.Raw)
		}
		// protobuf JSON encodes int64 seconds as a string.
		return time.Duration(secs.Int())*time.Second + time.Duration(nanos.Int()), nil
	}
	return 0, fmt.Errorf("invalid offset %s", v.Raw)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
