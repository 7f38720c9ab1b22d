// Package proxy implements the request-facing half of the image proxy: URL
// normalization, the referer gate, and the dispatcher that routes each
// request to a cache hit, an in-flight fetch, or a fresh download.
package proxy

import (
	"regexp"
	"strings"

	"github.com/pixelvault/pixelvault/pkg/transform"
)

// schemeRepair fixes the single-slash scheme that path splitting produces:
// "http:/example.com" came in as "http://example.com" before the router
// collapsed empty segments.
var schemeRepair = regexp.MustCompile(`(?i)^(https?):/([^/])`)

var schemePrefix = regexp.MustCompile(`(?i)^https?://`)

// Normalize parses a request path (mount prefix already stripped) into an
// upstream URL and transform options. ok is false when the path does not
// encode a usable URL.
//
// Accepted forms, segment by segment: an optional leading "still", then up
// to two all-digit segments read as width and height, then the upstream URL
// itself. The URL portion may omit its scheme, use "&amp;" for "&", and
// contain literal spaces.
func Normalize(path string) (string, transform.Options, bool) {
	path = strings.TrimLeft(path, "/")
	if path == "" {
		return "", transform.Options{}, false
	}

	var segments []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}

	var opts transform.Options
	if len(segments) > 0 && segments[0] == "still" {
		opts.Still = true
		segments = segments[1:]
	}
	if len(segments) > 0 && allDigits(segments[0]) {
		opts.Width = parseDigits(segments[0])
		segments = segments[1:]

		if len(segments) > 0 && allDigits(segments[0]) {
			opts.Height = parseDigits(segments[0])
			segments = segments[1:]
		}
	}

	raw := strings.Join(segments, "/")
	raw = strings.ReplaceAll(raw, "&amp;", "&")
	raw = strings.ReplaceAll(raw, " ", "%20")
	raw = schemeRepair.ReplaceAllString(raw, "$1://$2")
	if raw != "" && !schemePrefix.MatchString(raw) {
		raw = "http://" + raw
	}

	if raw == "" {
		return "", transform.Options{}, false
	}
	return raw, opts, true
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// parseDigits converts an all-digit segment, saturating instead of failing
// on absurd values.
func parseDigits(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
		if n > 1<<20 {
			return 1 << 20
		}
	}
	return n
}
