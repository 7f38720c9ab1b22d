package proxy

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelvault/pixelvault/pkg/assets"
	"github.com/pixelvault/pixelvault/pkg/fetch"
	"github.com/pixelvault/pixelvault/pkg/flight"
	"github.com/pixelvault/pixelvault/pkg/store"
)

func pngPayload(size int) []byte {
	buf := append([]byte{}, "\x89PNG\r\n\x1a\n"...)
	for len(buf) < size {
		buf = append(buf, byte(len(buf)))
	}
	return buf[:size]
}

type handlerEnv struct {
	handler *Handler
	store   *store.Store
}

func newTestHandler(t *testing.T, maxSize int64, refererPatterns, bypassHosts []string) *handlerEnv {
	t.Helper()

	st, err := store.New(t.TempDir(), 0)
	require.NoError(t, err)

	reg := flight.NewRegistry[fetch.Result]()
	fetcher, err := fetch.New(fetch.Config{
		Store:    st,
		Registry: reg,
		MaxSize:  maxSize,
		TempDir:  t.TempDir(),
	})
	require.NoError(t, err)

	lib, err := assets.Load("")
	require.NoError(t, err)

	gate, err := NewRefererGate(refererPatterns)
	require.NoError(t, err)

	return &handlerEnv{
		handler: NewHandler(HandlerConfig{
			Store:       st,
			Registry:    reg,
			Fetcher:     fetcher,
			Assets:      lib,
			Gate:        gate,
			BypassHosts: bypassHosts,
		}),
		store: st,
	}
}

func (e *handlerEnv) get(t *testing.T, path string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func TestHandlerFetchesAndCaches(t *testing.T) {
	payload := pngPayload(50 * 1024)
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(payload)
	}))
	defer srv.Close()

	env := newTestHandler(t, fetch.DefaultMaxSize, nil, nil)

	w := env.get(t, "/"+srv.URL+"/img.png", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, bytes.Equal(payload, w.Body.Bytes()))
	assert.NotEmpty(t, w.Header().Get("Etag"))
	assert.NotEmpty(t, w.Header().Get("Last-Modified"))
	assert.Equal(t, int64(1), hits.Load())

	// Second request is answered from the cache.
	w = env.get(t, "/"+srv.URL+"/img.png", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bytes.Equal(payload, w.Body.Bytes()))
	assert.Equal(t, int64(1), hits.Load())
}

func TestHandlerConditionalRevalidation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(pngPayload(256))
	}))
	defer srv.Close()

	env := newTestHandler(t, fetch.DefaultMaxSize, nil, nil)
	path := "/" + srv.URL + "/img.png"

	first := env.get(t, path, nil)
	require.Equal(t, http.StatusOK, first.Code)
	etag := first.Header().Get("Etag")
	lastModified := first.Header().Get("Last-Modified")
	require.NotEmpty(t, etag)
	require.NotEmpty(t, lastModified)

	w := env.get(t, path, http.Header{"If-None-Match": {etag}})
	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Equal(t, etag, w.Header().Get("Etag"))
	assert.Empty(t, w.Body.Bytes())

	w = env.get(t, path, http.Header{"If-Modified-Since": {lastModified}})
	assert.Equal(t, http.StatusNotModified, w.Code)

	// A stale validator still gets the full body.
	w = env.get(t, path, http.Header{"If-None-Match": {`"something-else"`}})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Body.Bytes())
}

func TestHandlerUncacheBypassesRead(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(pngPayload(128))
	}))
	defer srv.Close()

	env := newTestHandler(t, fetch.DefaultMaxSize, nil, nil)
	path := "/" + srv.URL + "/img.png"

	env.get(t, path, nil)
	require.Equal(t, int64(1), hits.Load())

	w := env.get(t, path+"?uncache=1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(2), hits.Load(), "uncache must refetch")

	// The refetched payload replaced the same entry; plain reads hit it.
	env.get(t, path, nil)
	assert.Equal(t, int64(2), hits.Load())
}

func TestHandlerBypassHosts(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(pngPayload(128))
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	env := newTestHandler(t, fetch.DefaultMaxSize, nil, []string{u.Hostname()})
	path := "/" + srv.URL + "/img.png"

	env.get(t, path, nil)
	env.get(t, path, nil)
	assert.Equal(t, int64(2), hits.Load(), "bypassed host must skip cache reads")
}

func TestHandlerRefererRedirect(t *testing.T) {
	env := newTestHandler(t, fetch.DefaultMaxSize, []string{`^https?://good\.example/`}, nil)

	w := env.get(t, "/http://origin.example/img.png",
		http.Header{"Referer": {"https://evil.example/"}})
	require.Equal(t, http.StatusMovedPermanently, w.Code)
	assert.Equal(t, "http://origin.example/img.png", w.Header().Get("Location"))
}

func TestHandlerRejectsBadPaths(t *testing.T) {
	env := newTestHandler(t, fetch.DefaultMaxSize, nil, nil)

	assert.Equal(t, http.StatusNotFound, env.get(t, "/", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.get(t, "/favicon.ico", nil).Code)
}

func TestHandlerStickyTooLarge(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(pngPayload(64))
	}))
	defer srv.Close()

	env := newTestHandler(t, 10, nil, nil)
	path := "/" + srv.URL + "/huge.png"

	w := env.get(t, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/gif", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("GIF8")))
	require.Equal(t, int64(1), hits.Load())

	// Second request short-circuits on the sticky error.
	w = env.get(t, path, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/gif", w.Header().Get("Content-Type"))
	assert.Equal(t, int64(1), hits.Load())
}

func TestHandlerBadFormatIsRetried(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("<html>not an image</html>"))
	}))
	defer srv.Close()

	env := newTestHandler(t, fetch.DefaultMaxSize, nil, nil)
	path := "/" + srv.URL + "/page.html"

	w := env.get(t, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("GIF8")))

	env.get(t, path, nil)
	assert.Equal(t, int64(2), hits.Load(), "badformat must not stick")
}

func TestHandlerCoalescesConcurrentRequests(t *testing.T) {
	var hits atomic.Int64
	release := make(chan struct{})
	payload := pngPayload(1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		w.Write(payload)
	}))
	defer srv.Close()

	env := newTestHandler(t, fetch.DefaultMaxSize, nil, nil)
	front := httptest.NewServer(env.handler)
	defer front.Close()

	const clients = 10
	bodies := make([][]byte, clients)
	var wg sync.WaitGroup
	wg.Add(clients)
	for i := 0; i < clients; i++ {
		go func(i int) {
			defer wg.Done()
			resp, err := http.Get(front.URL + "/" + srv.URL + "/img.png")
			if err != nil {
				return
			}
			defer resp.Body.Close()
			bodies[i], _ = io.ReadAll(resp.Body)
		}(i)
	}

	// Give every client time to join the flight, then let the origin go.
	for hits.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), hits.Load(), "concurrent requests must share one fetch")
	for i, body := range bodies {
		assert.True(t, bytes.Equal(payload, body), "client %d body mismatch", i)
	}
}
