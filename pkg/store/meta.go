package store

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// ErrorTag marks a sticky negative result in a metadata record. A record
// carrying a tag has no payload file and short-circuits future requests
// until it expires.
type ErrorTag string

const (
	// TagTooLarge is recorded when the upstream advertises a Content-Length
	// beyond the configured cap. It is the only error persisted to disk.
	TagTooLarge ErrorTag = "toolarge"

	// TagBadFormat and TagCannotRead never persist; they exist so error
	// responses and assets share one vocabulary with the cache.
	TagBadFormat  ErrorTag = "badformat"
	TagCannotRead ErrorTag = "cannotread"
)

// Metadata is the sidecar record stored next to a payload file.
//
// Header holds the full response header set to replay on a hit. ETag and
// LastModified are indexed separately so conditional revalidation does not
// need to parse the header map.
type Metadata struct {
	Header         http.Header `json:"header"`
	ETag           string      `json:"etag"`
	LastModified   string      `json:"last_modified"`
	ErrorTag       ErrorTag    `json:"error_tag,omitempty"`
	OriginalLength int64       `json:"original_length,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// ContentLength returns the stored Content-Length header as an int64,
// or -1 when absent or malformed.
func (m *Metadata) ContentLength() int64 {
	n, err := strconv.ParseInt(m.Header.Get("Content-Length"), 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// expired reports whether the record is older than ttl at the given instant.
func (m *Metadata) expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(m.CreatedAt) > ttl
}

func unmarshalMetadata(data []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m.Header == nil {
		m.Header = make(http.Header)
	}
	return &m, nil
}
