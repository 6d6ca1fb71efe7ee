// Package urlnorm normalizes and resolves URLs so the crawler's visited-set
// and scope checks agree on a single canonical form, per spec §4.4/§4.7.
package urlnorm

import (
	"fmt"
	"net/url"
	"strings"
)

// Normalize standardizes a URL to avoid duplicate visits: lowercases the
// scheme and host, strips default ports and the fragment, collapses
// duplicate path slashes, and defaults an empty path to "/". The query
// string and path percent-encoding are left exactly as fetched.
func Normalize(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""

	u.Path = collapseSlashes(u.Path)
	if u.RawPath != "" {
		u.RawPath = collapseSlashes(u.RawPath)
	}
	if u.Path == "" {
		u.Path = "/"
		u.RawPath = ""
	}

	return u.String(), nil
}

// collapseSlashes reduces any run of consecutive slashes in a path to one.
func collapseSlashes(path string) string {
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	return path
}

// Resolve joins base and ref (an href taken from an anchor tag) and
// normalizes the result.
func Resolve(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse ref url: %w", err)
	}
	resolved := baseURL.ResolveReference(refURL)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", resolved.Scheme)
	}
	return Normalize(resolved.String())
}

// PathPrefix returns the first non-empty path segment, defaulting to "/",
// matching the upstream city-grouping convention.
func PathPrefix(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "/"
	}
	trimmed := strings.Trim(u.Path, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.SplitN(trimmed, "/", 2)
	return "/" + parts[0]
}

// SameDomain reports whether a and b share the same host (case-insensitive).
func SameDomain(a, b string) bool {
	ua, err1 := url.Parse(a)
	ub, err2 := url.Parse(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return strings.EqualFold(ua.Hostname(), ub.Hostname())
}

// SamePathPrefix reports whether candidate's full path begins with seed's
// full path, on the same host (spec §4.7's frontier scope rule — not to be
// confused with PathPrefix's first-segment grouping).
func SamePathPrefix(seed, candidate string) bool {
	if !SameDomain(seed, candidate) {
		return false
	}
	su, err1 := url.Parse(seed)
	cu, err2 := url.Parse(candidate)
	if err1 != nil || err2 != nil {
		return false
	}

	seedPath := su.Path
	if seedPath == "" {
		seedPath = "/"
	}
	candidatePath := cu.Path
	if candidatePath == "" {
		candidatePath = "/"
	}

	if candidatePath == strings.TrimSuffix(seedPath, "/") {
		return true
	}
	return strings.HasPrefix(candidatePath, seedPath)
}
