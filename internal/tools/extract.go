package tools

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var collapseSpace = regexp.MustCompile(`[ \t]+`)

// extractText pulls readable text out of rendered HTML, trying the given
// CSS selectors in order and accepting the first that yields at least minLen
// characters. Falls back to the whole body. The selector list is a scraping
// heuristic against unversioned markup, not a contract.
func extractText(html string, selectors []string, minLen int) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}
	doc.Find("script, style, noscript, nav, header, footer").Remove()

	for _, sel := range selectors {
		text := cleanText(doc.Find(sel).Text())
		if len(text) >= minLen {
			return text, true
		}
	}

	body := cleanText(doc.Find("body").Text())
	return body, len(body) >= minLen
}

// stripMarkup flattens an HTML or CML fragment to plain text.
func stripMarkup(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return cleanText(fragment)
	}
	return cleanText(doc.Text())
}

func cleanText(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(collapseSpace.ReplaceAllString(line, " "))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// cmlText digs the markup out of an openCourseAssets definition blob and
// flattens it. The definition nests the CML under definition.value in most
// observed payloads, with a bare value as an occasional alternative.
func cmlText(definition json.RawMessage) string {
	if len(definition) == 0 {
		return ""
	}
	var nested struct {
		Value string `json:"value"`
		DTD   string `json:"dtdId"`
	}
	if err := json.Unmarshal(definition, &nested); err == nil && nested.Value != "" {
		return stripMarkup(nested.Value)
	}
	var plain string
	if err := json.Unmarshal(definition, &plain); err == nil && plain != "" {
		return stripMarkup(plain)
	}
	return ""
}
