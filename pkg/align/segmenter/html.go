package segmenter

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const blockSelector = "p, li, h1, h2, h3, h4, h5, h6, blockquote"

// FromHTML extracts the text of a transcript page into the plain line layout
// [Split] expects: one line per paragraph, blank lines between paragraphs.
// Speaker headings in their own paragraph, such as <p><strong>Operator</strong></p>,
// therefore end up on their own line. Scripts, styles and navigation are
// ignored.
func FromHTML(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", errors.Join(errors.New("segmenter: parse HTML"), err)
	}
	doc.Find("script, style, noscript, nav, header, footer").Remove()

	var paras []string
	doc.Find(blockSelector).Each(func(_ int, sel *goquery.Selection) {
		// Outer blocks whose paragraphs are visited on their own.
		if sel.Find(blockSelector).Length() > 0 {
			return
		}
		if text := collapseSpace(sel.Text()); text != "" {
			paras = append(paras, text)
		}
	})

	if len(paras) == 0 {
		// No block markup: fall back to the body's text lines.
		for _, line := range strings.Split(doc.Find("body").Text(), "\n") {
			if text := collapseSpace(line); text != "" {
				paras = append(paras, text)
			}
		}
	}
	if len(paras) == 0 {
		return "", fmt.Errorf("%w: no text in HTML", ErrEmptyTranscript)
	}
	return strings.Join(paras, "\n\n"), nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
