package assets

import (
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/pixelvault/pixelvault/pkg/store"
)

func TestLoad_PlaceholdersWhenDirEmpty(t *testing.T) {
	l, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	for _, tag := range []store.ErrorTag{store.TagTooLarge, store.TagBadFormat, store.TagCannotRead} {
		a := l.Get(tag)
		if len(a.Body) == 0 {
			t.Errorf("asset %s has empty body", tag)
		}
		if !bytes.HasPrefix(a.Body, []byte("GIF8")) {
			t.Errorf("asset %s is not a GIF (starts with % x)", tag, a.Body[:4])
		}
		if a.ContentType != "image/gif" {
			t.Errorf("asset %s content type = %q", tag, a.ContentType)
		}
	}
}

func TestLoad_FilesOverridePlaceholders(t *testing.T) {
	dir := t.TempDir()
	custom := []byte("GIF89a-custom-bytes")
	if err := os.WriteFile(filepath.Join(dir, "toolarge.gif"), custom, 0o644); err != nil {
		t.Fatal(err)
	}

	l, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := l.Get(store.TagTooLarge).Body; !bytes.Equal(got, custom) {
		t.Errorf("expected custom asset bytes, got %d bytes", len(got))
	}
	// Other tags still fall back.
	if len(l.Get(store.TagBadFormat).Body) == 0 {
		t.Error("badformat placeholder missing")
	}
}

func TestGet_UnknownTagFallsBack(t *testing.T) {
	l, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(l.Get(store.ErrorTag("nope")).Body) == 0 {
		t.Error("unknown tag should map to the cannot-read asset")
	}
}

func TestWrite_CompleteResponse(t *testing.T) {
	l, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	rr := httptest.NewRecorder()
	l.Write(rr, store.TagBadFormat)

	if rr.Code != 200 {
		t.Errorf("status = %d, want 200", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); got != "image/gif" {
		t.Errorf("Content-Type = %q", got)
	}
	want := strconv.Itoa(rr.Body.Len())
	if got := rr.Header().Get("Content-Length"); got != want {
		t.Errorf("Content-Length = %q, want %q", got, want)
	}
}

func TestReload_PicksUpNewFile(t *testing.T) {
	dir := t.TempDir()
	l, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	before := l.Get(store.TagCannotRead).Body

	custom := []byte("GIF89a-replacement")
	if err := os.WriteFile(filepath.Join(dir, "cannotread.gif"), custom, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := l.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	after := l.Get(store.TagCannotRead).Body
	if bytes.Equal(before, after) {
		t.Error("Reload() did not pick up the new asset file")
	}
	if !bytes.Equal(after, custom) {
		t.Error("Reload() loaded unexpected bytes")
	}
}
