// Package sanitize strips markup from text before it is persisted or fed to
// downstream pipeline stages. ML providers occasionally wrap prose in HTML
// or markdown; uploaded .html case files need their readable text pulled out
// of the tag soup.
package sanitize

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

var (
	// strictPolicy removes all HTML tags and attributes.
	strictPolicy = bluemonday.StrictPolicy()
)

// Text strips all HTML tags and returns plain text. Applied to ML-returned
// prose (summaries, rewrites, translations) before it is written to the
// blob store.
func Text(input string) string {
	return strings.TrimSpace(strictPolicy.Sanitize(input))
}

// HTMLText extracts the readable text of an HTML document. Script, style
// and head content are dropped and whitespace runs are collapsed. Used as
// the local extraction fast path for .html artifacts.
func HTMLText(content []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	doc.Find("script, style, noscript, head").Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	return strings.Join(strings.Fields(root.Text()), " "), nil
}
