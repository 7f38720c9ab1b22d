package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func echoPath() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(r.URL.Path))
	})
}

func TestRouterHealthz(t *testing.T) {
	router := NewRouter(echoPath(), "/")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Body.String() != "ok\n" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestRouterPreservesEmbeddedURL(t *testing.T) {
	router := NewRouter(echoPath(), "/")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/http://example.com/img.png", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Body.String(); got != "/http://example.com/img.png" {
		t.Errorf("proxied path = %q, double slashes must survive", got)
	}
}

func TestRouterMountPrefix(t *testing.T) {
	router := NewRouter(echoPath(), "/img")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/img/http://example.com/a.png", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Body.String(); got != "/http://example.com/a.png" {
		t.Errorf("stripped path = %q", got)
	}

	// Outside the prefix there is nothing to serve.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/other/x.png", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status outside prefix = %d, want 404", w.Code)
	}
}
