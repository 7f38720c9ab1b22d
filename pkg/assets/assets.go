// Package assets holds the static error images served on bad-format,
// too-large, and cannot-read outcomes.
//
// Images are loaded from an asset directory at startup and kept in memory;
// every response gets a fresh reader over the shared bytes. When a file is
// missing a generated placeholder GIF is used instead, so the proxy serves
// sensible errors even with an empty asset directory.
package assets

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/pixelvault/pixelvault/internal/logger"
	"github.com/pixelvault/pixelvault/pkg/store"
)

// Asset is one pre-loaded error response body.
type Asset struct {
	Body        []byte
	ContentType string
}

// fileNames maps error tags to their on-disk asset names.
var fileNames = map[store.ErrorTag]string{
	store.TagTooLarge:   "toolarge.gif",
	store.TagBadFormat:  "badformat.gif",
	store.TagCannotRead: "cannotread.gif",
}

// placeholder fill colors, one per tag, used when no asset file exists.
var placeholderColors = map[store.ErrorTag]color.RGBA{
	store.TagTooLarge:   {R: 0xE6, G: 0x7E, B: 0x22, A: 0xFF},
	store.TagBadFormat:  {R: 0x7F, G: 0x8C, B: 0x8D, A: 0xFF},
	store.TagCannotRead: {R: 0xC0, G: 0x39, B: 0x2C, A: 0xFF},
}

// Library serves the error assets. Safe for concurrent use; Reload swaps
// the asset set atomically under the lock.
type Library struct {
	dir string

	mu    sync.RWMutex
	byTag map[store.ErrorTag]Asset
}

// Load builds a Library from the asset files in dir. Missing or unreadable
// files fall back to generated placeholders. An empty dir skips file loading
// entirely.
func Load(dir string) (*Library, error) {
	l := &Library{dir: dir}
	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Reload re-reads the asset files, replacing the in-memory set.
func (l *Library) Reload() error {
	byTag := make(map[store.ErrorTag]Asset, len(fileNames))
	for tag, name := range fileNames {
		var body []byte
		if l.dir != "" {
			if data, err := os.ReadFile(filepath.Join(l.dir, name)); err == nil {
				body = data
			}
		}
		if body == nil {
			var err error
			body, err = placeholderGIF(placeholderColors[tag])
			if err != nil {
				return fmt.Errorf("generating placeholder for %s: %w", tag, err)
			}
		}
		byTag[tag] = Asset{Body: body, ContentType: "image/gif"}
	}

	l.mu.Lock()
	l.byTag = byTag
	l.mu.Unlock()
	return nil
}

// Get returns the asset for tag. Unknown tags map to the cannot-read asset.
func (l *Library) Get(tag store.ErrorTag) Asset {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if a, ok := l.byTag[tag]; ok {
		return a
	}
	return l.byTag[store.TagCannotRead]
}

// Write serves the asset for tag as a complete 200 response with
// pre-measured Content-Length.
func (l *Library) Write(w http.ResponseWriter, tag store.ErrorTag) {
	a := l.Get(tag)
	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Body)))
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(a.Body)
}

// Watch reloads the library whenever a file in the asset directory changes.
// It blocks until done is closed or the watcher fails; callers run it in
// its own goroutine. A Library with no directory returns immediately.
func (l *Library) Watch(done <-chan struct{}) error {
	if l.dir == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating asset watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("watching asset dir %q: %w", l.dir, err)
	}

	for {
		select {
		case <-done:
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := l.Reload(); err != nil {
				logger.Warn("asset reload failed", logger.KeyError, err)
				continue
			}
			logger.Info("error assets reloaded", logger.KeyPath, ev.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("asset watcher error", logger.KeyError, err)
		}
	}
}

// placeholderGIF encodes a small single-color GIF.
func placeholderGIF(c color.RGBA) ([]byte, error) {
	img := image.NewPaletted(image.Rect(0, 0, 16, 16), color.Palette{c})
	var buf bytes.Buffer
	if err := gif.Encode(&buf, img, nil); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
