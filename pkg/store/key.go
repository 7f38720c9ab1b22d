package store

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/pixelvault/pixelvault/pkg/transform"
)

// Fingerprint is the stable identifier for a cached artifact, derived from
// the normalized upstream URL and the transform options. Equal (url, options)
// pairs always yield equal fingerprints. It doubles as the single-flight key.
type Fingerprint string

// NewFingerprint derives the fingerprint for a normalized URL and options.
func NewFingerprint(url string, opts transform.Options) Fingerprint {
	h := sha256.New()
	h.Write([]byte(url))
	h.Write([]byte{0})
	h.Write([]byte(opts.String()))
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

func (f Fingerprint) String() string {
	return string(f)
}

// Short returns a truncated fingerprint for logging.
func (f Fingerprint) Short() string {
	if len(f) > 12 {
		return string(f[:12])
	}
	return string(f)
}
