package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelvault/pixelvault/pkg/flight"
	"github.com/pixelvault/pixelvault/pkg/store"
	"github.com/pixelvault/pixelvault/pkg/transform"
)

type stubResizer struct {
	length int64
	err    error
	calls  atomic.Int64
}

func (s *stubResizer) Resize(_ context.Context, _ string, _ transform.Options) (int64, error) {
	s.calls.Add(1)
	return s.length, s.err
}

func newTestFetcher(t *testing.T, maxSize int64, resizer Resizer) (*Fetcher, *store.Store, *flight.Registry[Result]) {
	t.Helper()
	st, err := store.New(t.TempDir(), 0)
	require.NoError(t, err)

	reg := flight.NewRegistry[Result]()
	f, err := New(Config{
		Store:    st,
		Registry: reg,
		Resizer:  resizer,
		MaxSize:  maxSize,
		TempDir:  t.TempDir(),
	})
	require.NoError(t, err)
	return f, st, reg
}

func await(t *testing.T, tk *flight.Ticket[Result]) Result {
	t.Helper()
	select {
	case res := <-tk.C:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for fan-out")
		return Result{}
	}
}

func pngPayload(size int) []byte {
	buf := append([]byte{}, "\x89PNG\r\n\x1a\n"...)
	for len(buf) < size {
		buf = append(buf, byte(len(buf)))
	}
	return buf[:size]
}

func TestFetchSuccess(t *testing.T) {
	payload := pngPayload(50 * 1024)
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(payload)
	}))
	defer srv.Close()

	f, st, reg := newTestFetcher(t, DefaultMaxSize, nil)
	fp := store.NewFingerprint(srv.URL, transform.Options{})

	tk, leader := reg.Join(fp.String())
	require.True(t, leader)
	f.Fetch(srv.URL, transform.Options{}, fp)

	res := await(t, tk)
	require.True(t, res.OK())
	assert.Equal(t, "image/png", res.Meta.Header.Get("Content-Type"))
	assert.Equal(t, fmt.Sprint(len(payload)), res.Meta.Header.Get("Content-Length"))
	assert.Equal(t, "public, max-age=86400", res.Meta.Header.Get("Cache-Control"))
	assert.NotEmpty(t, res.Meta.ETag)
	assert.NotEmpty(t, res.Meta.LastModified)
	assert.Equal(t, int64(1), hits.Load())

	meta, payloadExists, err := st.Lookup(fp)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.True(t, payloadExists)

	rd, err := st.Open(fp)
	require.NoError(t, err)
	defer rd.Close()
	stored, err := io.ReadAll(rd)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, stored))
}

func TestFetchUpstreamHeadersPreserved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Etag", `"origin-tag"`)
		w.Header().Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
		w.Write(pngPayload(256))
	}))
	defer srv.Close()

	f, _, reg := newTestFetcher(t, DefaultMaxSize, nil)
	fp := store.NewFingerprint(srv.URL, transform.Options{})
	tk, _ := reg.Join(fp.String())
	f.Fetch(srv.URL, transform.Options{}, fp)

	res := await(t, tk)
	require.True(t, res.OK())
	assert.Equal(t, `"origin-tag"`, res.Meta.ETag)
	assert.Equal(t, "Mon, 02 Jan 2006 15:04:05 GMT", res.Meta.LastModified)
}

func TestFetchSniffOverridesUpstreamContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A misconfigured origin labels the PNG as text.
		w.Header().Set("Content-Type", "text/plain")
		w.Write(pngPayload(512))
	}))
	defer srv.Close()

	f, st, reg := newTestFetcher(t, DefaultMaxSize, nil)
	fp := store.NewFingerprint(srv.URL, transform.Options{})
	tk, _ := reg.Join(fp.String())
	f.Fetch(srv.URL, transform.Options{}, fp)

	res := await(t, tk)
	require.True(t, res.OK())
	assert.Equal(t, "image/png", res.Meta.Header.Get("Content-Type"))

	meta, payloadExists, err := st.Lookup(fp)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.True(t, payloadExists)
	assert.Equal(t, "image/png", meta.Header.Get("Content-Type"))
}

func TestFetchNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f, st, reg := newTestFetcher(t, DefaultMaxSize, nil)
	fp := store.NewFingerprint(srv.URL, transform.Options{})
	tk, _ := reg.Join(fp.String())
	f.Fetch(srv.URL, transform.Options{}, fp)

	res := await(t, tk)
	assert.Equal(t, store.TagCannotRead, res.ErrTag)

	// Transport-class failures are never cached.
	meta, _, err := st.Lookup(fp)
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestFetchTooLargeFromHeaderIsSticky(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Small enough for the server to emit a Content-Length header.
		w.Write(pngPayload(64))
	}))
	defer srv.Close()

	f, st, reg := newTestFetcher(t, 10, nil)
	fp := store.NewFingerprint(srv.URL, transform.Options{})
	tk, _ := reg.Join(fp.String())
	f.Fetch(srv.URL, transform.Options{}, fp)

	res := await(t, tk)
	assert.Equal(t, store.TagTooLarge, res.ErrTag)

	meta, payloadExists, err := st.Lookup(fp)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, store.TagTooLarge, meta.ErrorTag)
	assert.False(t, payloadExists)
}

func TestFetchTooLargeMidStreamIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Flushing forces chunked encoding, so no Content-Length header.
		fl := w.(http.Flusher)
		w.Write(pngPayload(1024))
		fl.Flush()
		w.Write(bytes.Repeat([]byte{0xAB}, 8*1024))
		fl.Flush()
	}))
	defer srv.Close()

	f, st, reg := newTestFetcher(t, 4*1024, nil)
	fp := store.NewFingerprint(srv.URL, transform.Options{})
	tk, _ := reg.Join(fp.String())
	f.Fetch(srv.URL, transform.Options{}, fp)

	res := await(t, tk)
	assert.Equal(t, store.TagTooLarge, res.ErrTag)

	meta, _, err := st.Lookup(fp)
	require.NoError(t, err)
	assert.Nil(t, meta, "mid-stream cap violations must not stick")
}

func TestFetchBadFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>definitely not an image</body></html>"))
	}))
	defer srv.Close()

	f, st, reg := newTestFetcher(t, DefaultMaxSize, nil)
	fp := store.NewFingerprint(srv.URL, transform.Options{})
	tk, _ := reg.Join(fp.String())
	f.Fetch(srv.URL, transform.Options{}, fp)

	res := await(t, tk)
	assert.Equal(t, store.TagBadFormat, res.ErrTag)

	meta, _, err := st.Lookup(fp)
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestFetchFansOutToAllWaiters(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(pngPayload(512))
	}))
	defer srv.Close()

	f, _, reg := newTestFetcher(t, DefaultMaxSize, nil)
	fp := store.NewFingerprint(srv.URL, transform.Options{})

	const waiters = 10
	tickets := make([]*flight.Ticket[Result], waiters)
	leaders := 0
	for i := range tickets {
		tk, leader := reg.Join(fp.String())
		tickets[i] = tk
		if leader {
			leaders++
		}
	}
	require.Equal(t, 1, leaders)

	f.Fetch(srv.URL, transform.Options{}, fp)

	first := await(t, tickets[0])
	require.True(t, first.OK())
	for _, tk := range tickets[1:] {
		res := await(t, tk)
		assert.Same(t, first.Meta, res.Meta)
	}
	assert.Equal(t, int64(1), hits.Load())
}

func TestFetchAppliesTransform(t *testing.T) {
	payload := pngPayload(2048)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	rz := &stubResizer{length: 640}
	f, _, reg := newTestFetcher(t, DefaultMaxSize, rz)

	opts := transform.Options{Width: 100, Height: 100}
	fp := store.NewFingerprint(srv.URL, opts)
	tk, _ := reg.Join(fp.String())
	f.Fetch(srv.URL, opts, fp)

	res := await(t, tk)
	require.True(t, res.OK())
	assert.Equal(t, int64(1), rz.calls.Load())
	assert.Equal(t, "640", res.Meta.Header.Get("Content-Length"))
	assert.Equal(t, fmt.Sprint(len(payload)), res.Meta.Header.Get(HeaderOriginalLength))
	assert.Equal(t, int64(len(payload)), res.Meta.OriginalLength)
}

func TestFetchTransformFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(pngPayload(256))
	}))
	defer srv.Close()

	rz := &stubResizer{err: fmt.Errorf("decoder blew up")}
	f, st, reg := newTestFetcher(t, DefaultMaxSize, rz)

	opts := transform.Options{Still: true}
	fp := store.NewFingerprint(srv.URL, opts)
	tk, _ := reg.Join(fp.String())
	f.Fetch(srv.URL, opts, fp)

	res := await(t, tk)
	assert.Equal(t, store.TagCannotRead, res.ErrTag)

	meta, _, err := st.Lookup(fp)
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestFetchConnectionRefused(t *testing.T) {
	f, _, reg := newTestFetcher(t, DefaultMaxSize, nil)
	url := "http://127.0.0.1:1/img.png"
	fp := store.NewFingerprint(url, transform.Options{})
	tk, _ := reg.Join(fp.String())
	f.Fetch(url, transform.Options{}, fp)

	res := await(t, tk)
	assert.Equal(t, store.TagCannotRead, res.ErrTag)
}

func TestURLETagDeterministic(t *testing.T) {
	a := urlETag("http://example.com/a.png")
	b := urlETag("http://example.com/a.png")
	c := urlETag("http://example.com/b.png")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Regexp(t, `^"[0-9a-f]{32}"$`, a)
}
