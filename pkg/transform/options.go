// Package transform describes the image transformations a request can ask
// for: still-frame extraction and proportional, shrink-only resizing.
package transform

import (
	"fmt"
	"strings"
)

// Options is the set of transformations applied to an upstream image.
//
// A width or height of zero means "not specified". When both dimensions are
// zero and Still is false, no transformation is performed.
type Options struct {
	Still  bool `json:"still,omitempty"`
	Width  int  `json:"width,omitempty"`
	Height int  `json:"height,omitempty"`
}

// IsZero reports whether no transformation is requested.
func (o Options) IsZero() bool {
	return !o.Still && o.Width == 0 && o.Height == 0
}

// HasResize reports whether a resize dimension is present.
func (o Options) HasResize() bool {
	return o.Width > 0 || o.Height > 0
}

// String returns a canonical representation used in fingerprints and logs.
// Equal option sets always produce equal strings.
func (o Options) String() string {
	if o.IsZero() {
		return ""
	}
	var parts []string
	if o.Still {
		parts = append(parts, "still")
	}
	if o.Width > 0 || o.Height > 0 {
		parts = append(parts, fmt.Sprintf("%dx%d", o.Width, o.Height))
	}
	return strings.Join(parts, ",")
}
