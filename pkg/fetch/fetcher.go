// Package fetch drives streaming upstream downloads for the proxy.
//
// A fetch is a small state machine: validate the response headers, sniff the
// leading bytes for a supported image format, spill the body to a temp file
// while enforcing the size cap, optionally hand the file to the resize pool,
// then promote it into the cache store and fan the result out to every
// waiter registered for the fingerprint. Exactly one fetch per fingerprint
// runs at a time; the single-flight registry enforces that upstream.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/pixelvault/pixelvault/internal/logger"
	"github.com/pixelvault/pixelvault/pkg/bufpool"
	"github.com/pixelvault/pixelvault/pkg/flight"
	"github.com/pixelvault/pixelvault/pkg/metrics"
	"github.com/pixelvault/pixelvault/pkg/store"
	"github.com/pixelvault/pixelvault/pkg/transform"
)

const (
	// DefaultMaxSize caps upstream payloads at 4 MiB.
	DefaultMaxSize = 4 << 20

	// upstreamTimeout bounds the whole upstream exchange, headers and body.
	upstreamTimeout = 60 * time.Second

	// outerDeadline is a guard slightly past the client timeout so a
	// misbehaving transport cannot strand waiters.
	outerDeadline = 61 * time.Second

	// maxAge is the Cache-Control lifetime advertised to clients.
	maxAge = 86400

	// HeaderOriginalLength reports the pre-transform payload size on
	// resized responses.
	HeaderOriginalLength = "X-Image-Original-Length"
)

// Result is what every waiter of a fetch receives. Exactly one of the three
// shapes applies: a success carrying metadata, an error tag matching a
// static error asset, or an internal failure.
type Result struct {
	// Meta is the stored metadata record on success, nil otherwise.
	Meta *store.Metadata

	// ErrTag names the error asset to serve when the fetch failed in a way
	// the client should see as an image placeholder.
	ErrTag store.ErrorTag

	// Internal marks a local I/O failure; the dispatcher answers 500.
	Internal bool
}

// OK reports whether the fetch produced a servable cache entry.
func (r Result) OK() bool {
	return r.Meta != nil && r.ErrTag == "" && !r.Internal
}

// Resizer is the transform hand-off the fetcher needs from the worker pool.
type Resizer interface {
	Resize(ctx context.Context, path string, opts transform.Options) (int64, error)
}

// Config assembles a Fetcher's collaborators.
type Config struct {
	Store    *store.Store
	Registry *flight.Registry[Result]
	Resizer  Resizer

	// MaxSize caps payload bytes; zero selects DefaultMaxSize.
	MaxSize int64

	// TempDir is the process-private spool directory. Empty means create
	// one under the system temp dir.
	TempDir string

	// Client overrides the upstream HTTP client, mainly for tests.
	Client *http.Client

	Metrics *metrics.Metrics
}

// Fetcher downloads upstream images into the cache store. Safe for
// concurrent use; each Fetch call owns its fingerprint exclusively because
// only single-flight leaders call it.
type Fetcher struct {
	store    *store.Store
	registry *flight.Registry[Result]
	resizer  Resizer
	client   *http.Client
	maxSize  int64
	tempDir  string
	deadline time.Duration
	metrics  *metrics.Metrics
}

// New creates a Fetcher, setting up the temp spool directory.
func New(cfg Config) (*Fetcher, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: upstreamTimeout}
	}
	if cfg.TempDir == "" {
		dir, err := os.MkdirTemp("", "pixelvault-spool-")
		if err != nil {
			return nil, fmt.Errorf("creating spool directory: %w", err)
		}
		cfg.TempDir = dir
	} else if err := os.MkdirAll(cfg.TempDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating spool directory: %w", err)
	}

	deadline := outerDeadline
	if cfg.Client.Timeout > 0 {
		deadline = cfg.Client.Timeout + time.Second
	}

	return &Fetcher{
		store:    cfg.Store,
		registry: cfg.Registry,
		resizer:  cfg.Resizer,
		client:   cfg.Client,
		maxSize:  cfg.MaxSize,
		tempDir:  cfg.TempDir,
		deadline: deadline,
		metrics:  cfg.Metrics,
	}, nil
}

// Fetch runs one upstream download to completion and fans the result out to
// every waiter registered for fp. It deliberately ignores the caller's
// context: a client that disconnects drops its waiter slot, but the fetch
// still finishes so the payload populates the cache.
func (f *Fetcher) Fetch(rawURL string, opts transform.Options, fp store.Fingerprint) {
	start := time.Now()
	f.metrics.FetchStarted()

	res, size := f.run(rawURL, opts, fp)

	label := "ok"
	switch {
	case res.Internal:
		label = "internal"
	case res.ErrTag != "":
		label = string(res.ErrTag)
	}
	f.metrics.FetchFinished(label, size, time.Since(start))

	served := f.registry.Complete(fp.String(), res)
	logger.Debug("fetch complete",
		logger.KeyURL, rawURL,
		logger.KeyFingerprint, fp.Short(),
		logger.KeyOutcome, label,
		logger.KeyBytes, size,
		logger.KeyDuration, time.Since(start),
		"waiters", served,
	)
}

// run executes the download state machine and returns the result plus the
// payload size (zero unless a payload was fully received).
func (f *Fetcher) run(rawURL string, opts transform.Options, fp store.Fingerprint) (Result, int64) {
	ctx, cancel := context.WithTimeout(context.Background(), f.deadline)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Result{ErrTag: store.TagCannotRead}, 0
	}

	resp, err := f.client.Do(req)
	if err != nil {
		logger.Debug("upstream request failed",
			logger.KeyURL, rawURL, logger.KeyError, err)
		return Result{ErrTag: store.TagCannotRead}, 0
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Debug("upstream non-200",
			logger.KeyURL, rawURL, logger.KeyStatus, resp.StatusCode)
		return Result{ErrTag: store.TagCannotRead}, 0
	}

	// A declared size over the cap is the one error worth remembering:
	// the origin told us outright the resource will never fit.
	if resp.ContentLength > f.maxSize {
		if err := f.store.MarkError(fp, store.TagTooLarge); err != nil {
			logger.Warn("recording sticky error failed",
				logger.KeyFingerprint, fp.Short(), logger.KeyError, err)
		}
		return Result{ErrTag: store.TagTooLarge}, 0
	}

	// Sniff on the first bytes; the stream may legitimately end sooner.
	sniffBuf := make([]byte, sniffLimit)
	n, err := io.ReadFull(resp.Body, sniffBuf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return Result{ErrTag: store.TagCannotRead}, 0
	}
	sniffBuf = sniffBuf[:n]

	contentType, ok := sniffContentType(sniffBuf)
	if !ok {
		return Result{ErrTag: store.TagBadFormat}, 0
	}

	tmpPath := filepath.Join(f.tempDir, uuid.NewString())
	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return Result{Internal: true}, 0
	}
	discard := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	if _, err := tmp.Write(sniffBuf); err != nil {
		discard()
		return Result{Internal: true}, 0
	}

	total := int64(n)
	buf := bufpool.Get()
	copied, err := io.CopyBuffer(tmp, io.LimitReader(resp.Body, f.maxSize-total+1), buf)
	bufpool.Put(buf)
	total += copied
	if err != nil {
		discard()
		return Result{ErrTag: store.TagCannotRead}, 0
	}
	if total > f.maxSize {
		// Discovered mid-stream, so transient: the next attempt may hit a
		// smarter origin that declares its length.
		discard()
		return Result{ErrTag: store.TagTooLarge}, 0
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return Result{Internal: true}, 0
	}

	return f.finalize(ctx, resp, rawURL, opts, fp, tmpPath, contentType, total)
}

// finalize applies the optional transform, builds the replay headers, and
// promotes the temp file into the cache.
func (f *Fetcher) finalize(ctx context.Context, resp *http.Response, rawURL string, opts transform.Options, fp store.Fingerprint, tmpPath, contentType string, originalLen int64) (Result, int64) {
	contentLen := originalLen
	transformed := false

	if !opts.IsZero() {
		newLen, err := f.resizer.Resize(ctx, tmpPath, opts)
		if err != nil {
			logger.Warn("transform failed",
				logger.KeyURL, rawURL,
				logger.KeyTransform, opts.String(),
				logger.KeyError, err)
			os.Remove(tmpPath)
			return Result{ErrTag: store.TagCannotRead}, 0
		}
		contentLen = newLen
		transformed = true
	}

	lastModified := resp.Header.Get("Last-Modified")
	if lastModified == "" {
		lastModified = time.Now().UTC().Format(http.TimeFormat)
	}
	etag := resp.Header.Get("Etag")
	if etag == "" {
		etag = urlETag(rawURL)
	}

	header := make(http.Header)
	header.Set("Content-Type", contentType)
	header.Set("Content-Length", strconv.FormatInt(contentLen, 10))
	header.Set("Cache-Control", fmt.Sprintf("public, max-age=%d", maxAge))
	header.Set("Last-Modified", lastModified)
	header.Set("Etag", etag)
	if transformed {
		header.Set(HeaderOriginalLength, strconv.FormatInt(originalLen, 10))
	}

	meta := &store.Metadata{
		Header:         header,
		ETag:           etag,
		LastModified:   lastModified,
		OriginalLength: originalLen,
	}

	if err := f.store.Promote(fp, tmpPath, meta); err != nil {
		logger.Error("cache promote failed",
			logger.KeyFingerprint, fp.Short(), logger.KeyError, err)
		os.Remove(tmpPath)
		return Result{Internal: true}, 0
	}
	return Result{Meta: meta}, contentLen
}

// urlETag derives a deterministic ETag for origins that serve none.
func urlETag(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}
