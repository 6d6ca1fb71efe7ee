// Package classify decides whether a discovered link is a navigational page
// or a minute-body payload file, per spec §4.4. Extraction is done with
// goquery rather than a hand-rolled HTML tokenizer.
package classify

import (
	"io"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Score is the minute-likeliness score returned by LooksLikeMinute.
type Score int

// Score values, per spec §4.4.
const (
	ScoreNone Score = 0
	ScoreHint Score = 1
	ScoreKeyword Score = 2
)

// Classifier evaluates links against the configured keyword / extension /
// URL-hint vocabularies.
type Classifier struct {
	keywords []string
	fileExts map[string]struct{}
	urlHints []string
}

// New builds a Classifier. Extensions are normalized to lowercase,
// dot-prefixed form.
func New(keywords, fileExts, urlHints []string) *Classifier {
	exts := make(map[string]struct{}, len(fileExts))
	for _, e := range fileExts {
		exts[normalizeExt(e)] = struct{}{}
	}
	return &Classifier{
		keywords: keywords,
		fileExts: exts,
		urlHints: urlHints,
	}
}

func normalizeExt(e string) string {
	e = strings.ToLower(strings.TrimSpace(e))
	if e == "" {
		return e
	}
	if !strings.HasPrefix(e, ".") {
		e = "." + e
	}
	return e
}

// IsMinuteFile reports whether rawURL's last path segment has one of the
// configured body-file extensions.
func (c *Classifier) IsMinuteFile(rawURL string) bool {
	ext := normalizeExt(path.Ext(stripQuery(rawURL)))
	if ext == "" {
		return false
	}
	_, ok := c.fileExts[ext]
	return ok
}

// LooksLikeMinute scores a link by keyword presence (in the URL or its
// anchor text) then URL-hint presence, per spec §4.4.
func (c *Classifier) LooksLikeMinute(rawURL, anchorText string) Score {
	haystack := strings.ToLower(rawURL + " " + anchorText)
	for _, kw := range c.keywords {
		if kw == "" {
			continue
		}
		// Keywords are mostly Japanese script, not ASCII-foldable, so a
		// direct substring check on the un-lowered haystack is also tried.
		if strings.Contains(haystack, strings.ToLower(kw)) || strings.Contains(rawURL+" "+anchorText, kw) {
			return ScoreKeyword
		}
	}
	for _, hint := range c.urlHints {
		if hint == "" {
			continue
		}
		if strings.Contains(strings.ToLower(rawURL), strings.ToLower(hint)) {
			return ScoreHint
		}
	}
	return ScoreNone
}

// Link is one anchor extracted from an HTML page.
type Link struct {
	URL        string
	AnchorText string
}

// ExtractLinks parses the HTML read from r and returns every anchor href,
// unresolved, with its visible text; resolving hrefs against the page URL
// is left to the caller. Empty, fragment-only, javascript:, mailto: and
// tel: hrefs are skipped.
func ExtractLinks(r io.Reader) ([]Link, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}

	var links []Link
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") ||
			strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") {
			return
		}
		links = append(links, Link{
			URL:        href,
			AnchorText: strings.TrimSpace(s.Text()),
		})
	})
	return links, nil
}

func stripQuery(rawURL string) string {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
