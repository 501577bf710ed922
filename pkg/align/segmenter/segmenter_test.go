package segmenter_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/transcriptalign/pkg/align/segmenter"
	"github.com/MrWong99/transcriptalign/pkg/types"
)

type turn struct{ speaker, text string }

func assertTurns(t *testing.T, got []types.TranscriptSegment, want []turn) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d segments %+v, want %d", len(got), got, len(want))
	}
	for i, w := range want {
		if got[i].Speaker != w.speaker || got[i].Text != w.text {
			t.Errorf("segment %d = {%q, %q}, want {%q, %q}", i, got[i].Speaker, got[i].Text, w.speaker, w.text)
		}
		if got[i].Index != i {
			t.Errorf("segment %d has Index %d", i, got[i].Index)
		}
	}
}

const earningsCall = `Operator

Good day, and welcome to the third quarter earnings call.

Tim Cook - CEO

Thank you. Good afternoon, everyone.
We had a record quarter.

Analyst - Goldman Sachs

Congrats on the quarter. Can you talk about margins?
`

func TestSplit_BlankLineLayout(t *testing.T) {
	t.Parallel()

	got, err := segmenter.Split(earningsCall)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	assertTurns(t, got, []turn{
		{"Operator", "Good day, and welcome to the third quarter earnings call."},
		{"Tim Cook - CEO", "Thank you. Good afternoon, everyone. We had a record quarter."},
		{"Analyst - Goldman Sachs", "Congrats on the quarter. Can you talk about margins?"},
	})
}

func TestSplit_CompactLayoutWithWrappedLines(t *testing.T) {
	t.Parallel()

	text := "Operator\r\nGood morning and welcome.\r\nJane Doe - CFO\r\nRevenue grew in the\r\nAmericas region\r\nand in Europe.\r\n"
	got, err := segmenter.Split(text)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	assertTurns(t, got, []turn{
		{"Operator", "Good morning and welcome."},
		{"Jane Doe - CFO", "Revenue grew in the Americas region and in Europe."},
	})
}

func TestSplit_LeadingTextGoesToUnknown(t *testing.T) {
	t.Parallel()

	got, err := segmenter.Split("Welcome to the transcript.\n\nOperator\n\nHello all.")
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	assertTurns(t, got, []turn{
		{segmenter.UnknownSpeaker, "Welcome to the transcript."},
		{"Operator", "Hello all."},
	})
}

func TestSplit_TrailingColonLabel(t *testing.T) {
	t.Parallel()

	got, err := segmenter.Split("Operator:\nHello there.")
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	assertTurns(t, got, []turn{{"Operator", "Hello there."}})
}

func TestSplit_OmitsEmptyTurns(t *testing.T) {
	t.Parallel()

	got, err := segmenter.Split("Operator\n\nTim Cook - CEO\n\nThanks, everyone.")
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	assertTurns(t, got, []turn{{"Tim Cook - CEO", "Thanks, everyone."}})
}

func TestSplit_CompactConsecutiveLabels(t *testing.T) {
	t.Parallel()

	got, err := segmenter.Split("Operator\nJohn Doe - CEO\nHello.\nAnalyst\nThanks, John.")
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	assertTurns(t, got, []turn{
		{"John Doe - CEO", "Hello."},
		{"Analyst", "Thanks, John."},
	})
}

func TestSplit_LongLineIsBody(t *testing.T) {
	t.Parallel()

	long := "Our Services Business Reached An All Time High Across Every Geographic Segment"
	got, err := segmenter.Split("Operator\n\n" + long + "\n\nThank you.")
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	assertTurns(t, got, []turn{{"Operator", long + " Thank you."}})
}

func TestSplit_MaxLabelLength(t *testing.T) {
	t.Parallel()

	got, err := segmenter.Split("Operator\n\nHi.\n\nTim Cook - CEO\n\nThanks.", segmenter.WithMaxLabelLength(10))
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	assertTurns(t, got, []turn{{"Operator", "Hi. Tim Cook - CEO Thanks."}})
}

func TestSplit_Empty(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "  \n\t \n"} {
		if _, err := segmenter.Split(in); !errors.Is(err, segmenter.ErrEmptyTranscript) {
			t.Errorf("Split(%q) error = %v, want ErrEmptyTranscript", in, err)
		}
	}

	only, err := segmenter.NewAllowList([]string{"Operator"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := segmenter.Split("Operator", segmenter.WithClassifier(only)); !errors.Is(err, segmenter.ErrEmptyTranscript) {
		t.Errorf("labels only: error = %v, want ErrEmptyTranscript", err)
	}
}

func TestSplit_AllowListResolvesAmbiguousLines(t *testing.T) {
	t.Parallel()

	text := "Operator\n\nGood morning\n\nTim Cook\n\nHello."

	// The heuristic reads "Good morning" as a label.
	got, err := segmenter.Split(text)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	assertTurns(t, got, []turn{{"Tim Cook", "Hello."}})

	known, err := segmenter.NewAllowList([]string{"Operator", "Tim Cook"})
	if err != nil {
		t.Fatal(err)
	}
	got, err = segmenter.Split(text, segmenter.WithClassifier(known))
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	assertTurns(t, got, []turn{
		{"Operator", "Good morning"},
		{"Tim Cook", "Hello."},
	})
}

func TestAllowList(t *testing.T) {
	t.Parallel()

	a, err := segmenter.NewAllowList([]string{"Operator", " Tim Cook "}, `^Analyst\b`)
	if err != nil {
		t.Fatalf("NewAllowList: %v", err)
	}
	tests := []struct {
		line string
		want bool
	}{
		{"Operator", true},
		{"operator:", true},
		{"Tim Cook - CEO", true},
		{"Tim Cook, Chief Executive Officer", true},
		{"Analyst - Morgan Stanley", true},
		{"Revenue", false},
		{"Timothy", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := a.IsSpeakerLabel(tt.line, segmenter.LineContext{}); got != tt.want {
			t.Errorf("IsSpeakerLabel(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}

	if _, err := segmenter.NewAllowList(nil, "("); err == nil {
		t.Error("expected error for invalid pattern")
	}
}

func TestHeuristic(t *testing.T) {
	t.Parallel()

	h := segmenter.Heuristic{}
	next := segmenter.LineContext{HasNext: true, Next: "Body text."}
	tests := []struct {
		name string
		line string
		ctx  segmenter.LineContext
		want bool
	}{
		{"name", "Operator", next, true},
		{"name and title", "Tim Cook - CEO", next, true},
		{"trailing colon", "Jane Doe:", next, true},
		{"sentence", "Thank you.", next, false},
		{"question", "Any questions?", next, false},
		{"lowercase", "and in Europe", next, false},
		{"last line", "Operator", segmenter.LineContext{}, false},
		{"continuation", "Americas region", segmenter.LineContext{HasNext: true, Prev: "Revenue grew in the"}, false},
		{"after finished sentence", "Operator", segmenter.LineContext{HasNext: true, Prev: "That's all."}, true},
		{"after a label", "John Doe - CEO", segmenter.LineContext{HasNext: true, Prev: "Operator", PrevIsLabel: true}, true},
		{"after an unfinished line", "John Doe - CEO", segmenter.LineContext{HasNext: true, Prev: "Operator"}, false},
		{"too many words", "One Two Three Four Five Six Seven Eight Nine Ten Eleven", next, false},
		{"digits only", "2024", next, false},
	}
	for _, tt := range tests {
		if got := h.IsSpeakerLabel(tt.line, tt.ctx); got != tt.want {
			t.Errorf("%s: IsSpeakerLabel(%q) = %v, want %v", tt.name, tt.line, got, tt.want)
		}
	}
}

func TestAny(t *testing.T) {
	t.Parallel()

	known, err := segmenter.NewAllowList([]string{"good morning"})
	if err != nil {
		t.Fatal(err)
	}
	never := segmenter.ClassifierFunc(func(string, segmenter.LineContext) bool { return false })
	c := segmenter.Any{never, known, segmenter.Heuristic{}}

	ctx := segmenter.LineContext{HasNext: true}
	if !c.IsSpeakerLabel("Good Morning", ctx) {
		t.Error("allow-listed line should be a label")
	}
	if !c.IsSpeakerLabel("Operator", ctx) {
		t.Error("heuristic label should be a label")
	}
	if c.IsSpeakerLabel("Thank you.", ctx) {
		t.Error("sentence should not be a label")
	}
}

func TestSplit_CustomClassifierSeesContext(t *testing.T) {
	t.Parallel()

	var seen []segmenter.LineContext
	c := segmenter.ClassifierFunc(func(line string, ctx segmenter.LineContext) bool {
		seen = append(seen, ctx)
		return strings.HasPrefix(line, ">>")
	})
	got, err := segmenter.Split(">> Host\nhi\n\n>> Guest\nhello", segmenter.WithClassifier(c))
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	assertTurns(t, got, []turn{{">> Host", "hi"}, {">> Guest", "hello"}})

	if len(seen) != 4 {
		t.Fatalf("classifier called %d times, want 4 (blank lines skipped)", len(seen))
	}
	if seen[2].Index != 3 || seen[2].Prev != "" || seen[2].Next != "hello" {
		t.Errorf("context for third line = %+v", seen[2])
	}
	if seen[3].HasNext {
		t.Error("last line should report no next line")
	}
	if !seen[1].PrevIsLabel || seen[1].Prev != ">> Host" || seen[2].PrevIsLabel {
		t.Errorf("PrevIsLabel = %v then %v, want true then false", seen[1].PrevIsLabel, seen[2].PrevIsLabel)
	}
}

func TestFromHTML(t *testing.T) {
	t.Parallel()

	page := `<html><head><style>p{}</style><script>var x = "Operator";</script></head>
<body>
<nav><p>Home</p></nav>
<div id="content">
  <p><strong>Operator</strong></p>
  <p>Good day, and welcome
     to the call.</p>
  <p><strong>Tim Cook</strong> - CEO</p>
  <ul><li>Thank you. Revenue was up.</li></ul>
</div>
</body></html>`

	text, err := segmenter.FromHTML(strings.NewReader(page))
	if err != nil {
		t.Fatalf("FromHTML: %v", err)
	}
	want := "Operator\n\nGood day, and welcome to the call.\n\nTim Cook - CEO\n\nThank you. Revenue was up."
	if text != want {
		t.Fatalf("FromHTML =\n%q\nwant\n%q", text, want)
	}

	got, err := segmenter.Split(text)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	assertTurns(t, got, []turn{
		{"Operator", "Good day, and welcome to the call."},
		{"Tim Cook - CEO", "Thank you. Revenue was up."},
	})
}

func TestFromHTML_PlainBodyAndEmpty(t *testing.T) {
	t.Parallel()

	text, err := segmenter.FromHTML(strings.NewReader("<html><body>Operator\n\nHello.</body></html>"))
	if err != nil {
		t.Fatalf("FromHTML: %v", err)
	}
	if text != "Operator\n\nHello." {
		t.Errorf("FromHTML = %q", text)
	}

	if _, err := segmenter.FromHTML(strings.NewReader("<html><body><script>x()</script></body></html>")); !errors.Is(err, segmenter.ErrEmptyTranscript) {
		t.Errorf("expected ErrEmptyTranscript, got %v", err)
	}
}
