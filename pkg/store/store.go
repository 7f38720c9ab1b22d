// Package store implements the on-disk content-addressed cache.
//
// Each entry is a payload file plus a JSON metadata sidecar, keyed by
// fingerprint. Payloads live under a two-level fan-out derived from the
// first two characters of the fingerprint so directory sizes stay bounded:
//
//	<root>/<f[0]>/<f[1]>/<fingerprint>
//	<root>/<f[0]>/<f[1]>/<fingerprint>-meta
//
// Entries are immutable once written: a fetch replaces the whole entry by
// writing through a temporary file and renaming it into place. The store
// never evicts proactively; entries older than the TTL simply report as
// absent on lookup.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// DefaultTTL is how long a cache entry stays valid. Roughly one month.
const DefaultTTL = 30 * 24 * time.Hour

// ErrNotFound is returned by Open when no payload exists for a fingerprint.
var ErrNotFound = errors.New("store: entry not found")

// Store is the filesystem-backed cache. Safe for concurrent use; writers
// of a given fingerprint are serialized externally by the single-flight
// registry, and readers always get a freshly opened descriptor.
type Store struct {
	root string
	ttl  time.Duration

	// now is swappable for TTL tests.
	now func() time.Time
}

// New creates a Store rooted at root, creating the directory if needed.
// A ttl of zero selects DefaultTTL.
func New(root string, ttl time.Duration) (*Store, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache root: %w", err)
	}
	return &Store{root: root, ttl: ttl, now: time.Now}, nil
}

// Root returns the cache root directory.
func (s *Store) Root() string {
	return s.root
}

// PayloadPath returns the fan-out path of the payload file for fp.
// The file may or may not exist.
func (s *Store) PayloadPath(fp Fingerprint) string {
	h := fp.String()
	return filepath.Join(s.root, h[0:1], h[1:2], h)
}

func (s *Store) metaPath(fp Fingerprint) string {
	return s.PayloadPath(fp) + "-meta"
}

// Lookup returns the metadata record for fp and whether a payload file is
// present. An entry is reported absent (nil, false, nil) when the sidecar is
// missing, unreadable, expired, or when a payload-bearing record has lost
// its payload file.
func (s *Store) Lookup(fp Fingerprint) (*Metadata, bool, error) {
	data, err := os.ReadFile(s.metaPath(fp))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading metadata: %w", err)
	}

	meta, err := unmarshalMetadata(data)
	if err != nil {
		// Corrupt sidecar: treat as absent and let a re-fetch replace it.
		return nil, false, nil
	}
	if meta.expired(s.ttl, s.now()) {
		return nil, false, nil
	}

	payloadExists := false
	if _, err := os.Stat(s.PayloadPath(fp)); err == nil {
		payloadExists = true
	}

	// A record that should have a payload but doesn't is absent.
	if meta.ErrorTag == "" && !payloadExists {
		return nil, false, nil
	}
	return meta, payloadExists, nil
}

// Open returns a fresh read handle on the payload for fp, positioned at zero.
func (s *Store) Open(fp Fingerprint) (*os.File, error) {
	f, err := os.Open(s.PayloadPath(fp))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

// Promote atomically installs the completed temp file at tempPath as the
// payload for fp and writes the metadata sidecar. The temp file must be
// closed before calling. On success the temp file no longer exists.
func (s *Store) Promote(fp Fingerprint, tempPath string, meta *Metadata) error {
	dst := s.PayloadPath(fp)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	if err := rename(tempPath, dst); err != nil {
		return fmt.Errorf("promoting payload: %w", err)
	}
	if err := s.writeMeta(fp, meta); err != nil {
		// Leave the payload in place; a missing sidecar reads as absent
		// and the next fetch overwrites both.
		return err
	}
	return nil
}

// MarkError stores a metadata-only record carrying a sticky error tag.
// Any stale payload file for fp is removed first.
func (s *Store) MarkError(fp Fingerprint, tag ErrorTag) error {
	dst := s.PayloadPath(fp)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	_ = os.Remove(dst)

	return s.writeMeta(fp, &Metadata{
		Header:    make(http.Header),
		ErrorTag:  tag,
		CreatedAt: s.now(),
	})
}

// Remove deletes the payload and sidecar for fp, if present.
func (s *Store) Remove(fp Fingerprint) error {
	err1 := os.Remove(s.PayloadPath(fp))
	err2 := os.Remove(s.metaPath(fp))
	if err1 != nil && !os.IsNotExist(err1) {
		return err1
	}
	if err2 != nil && !os.IsNotExist(err2) {
		return err2
	}
	return nil
}

// writeMeta writes the sidecar atomically via temp file + rename.
func (s *Store) writeMeta(fp Fingerprint, meta *Metadata) error {
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = s.now()
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshalling metadata: %w", err)
	}

	mp := s.metaPath(fp)
	tmp, err := os.CreateTemp(filepath.Dir(mp), ".meta-*")
	if err != nil {
		return fmt.Errorf("creating metadata temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing metadata temp: %w", err)
	}
	if err := os.Rename(tmpName, mp); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("installing metadata: %w", err)
	}
	return nil
}

// rename moves src to dst, falling back to a copy when the paths are on
// different filesystems (temp spool dir on another mount).
func rename(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.CreateTemp(filepath.Dir(dst), ".payload-*")
	if err != nil {
		return err
	}
	tmpName := out.Name()

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmpName)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Remove(src)
}
