package proxy

import (
	"fmt"
	"regexp"
)

// RefererGate enforces the allowed-referer pattern list. The policy is
// permissive on absence: with no patterns configured, or no Referer header
// on the request, everything passes. Only a present referer that matches no
// pattern is turned away, with a redirect to the bare upstream URL.
type RefererGate struct {
	patterns []*regexp.Regexp
}

// NewRefererGate compiles the configured patterns.
func NewRefererGate(patterns []string) (*RefererGate, error) {
	g := &RefererGate{}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid referer pattern %q: %w", p, err)
		}
		g.patterns = append(g.patterns, re)
	}
	return g, nil
}

// Allow reports whether a request with the given referer may proceed.
func (g *RefererGate) Allow(referer string) bool {
	if len(g.patterns) == 0 || referer == "" {
		return true
	}
	for _, re := range g.patterns {
		if re.MatchString(referer) {
			return true
		}
	}
	return false
}
