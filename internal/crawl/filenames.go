package crawl

import (
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode"
)

var unsafeNameChars = regexp.MustCompile(`[\\/:*?"<>|]+`)
var whitespaceRun = regexp.MustCompile(`\s+`)

// maxNameBytes caps a sanitized filename at 200 bytes of UTF-8, per spec
// §4.7's filename-safety rule.
const maxNameBytes = 200

// safeName strips filesystem-unsafe characters and control characters,
// collapses whitespace, and truncates to maxNameBytes without splitting a
// multi-byte rune.
func safeName(s string) string {
	s = strings.TrimSpace(s)
	s = unsafeNameChars.ReplaceAllString(s, "")
	s = whitespaceRun.ReplaceAllString(s, " ")
	s = stripControl(s)
	return truncateUTF8(s, maxNameBytes)
}

func stripControl(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func truncateUTF8(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	b := []byte(s)[:maxBytes]
	for len(b) > 0 && !isUTF8Boundary(b) {
		b = b[:len(b)-1]
	}
	return string(b)
}

func isUTF8Boundary(b []byte) bool {
	if len(b) == 0 {
		return true
	}
	last := b[len(b)-1]
	// A continuation byte (10xxxxxx) means we cut mid-rune.
	return last&0xC0 != 0x80
}

// lastPathSegment returns the final non-empty path segment of rawURL, or
// "" when the path is empty or "/".
func lastPathSegment(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	trimmed := strings.Trim(u.Path, "/")
	if trimmed == "" {
		return ""
	}
	return path.Base(trimmed)
}

// pageFilename derives the on-disk name for a saved HTML page, falling
// back to contentHash when the URL yields no usable segment.
func pageFilename(rawURL, contentHash string) string {
	name := safeName(lastPathSegment(rawURL))
	if name == "" {
		name = contentHash
	}
	if !strings.HasSuffix(strings.ToLower(name), ".html") && !strings.HasSuffix(strings.ToLower(name), ".htm") {
		name += ".html"
	}
	return name
}

// fileBaseName derives the on-disk base name for a downloaded payload
// file, falling back to contentHash when the URL yields no usable
// segment. The original extension (if any) is preserved.
func fileBaseName(rawURL, contentHash string) string {
	name := safeName(lastPathSegment(rawURL))
	if name == "" {
		return contentHash
	}
	return name
}
