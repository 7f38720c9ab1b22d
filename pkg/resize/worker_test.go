package resize

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pixelvault/pixelvault/pkg/transform"
)

func TestRunWorkerProcessesJobs(t *testing.T) {
	dir := t.TempDir()
	path := writeTestPNG(t, dir, 80, 80)

	var in bytes.Buffer
	enc := json.NewEncoder(&in)
	if err := enc.Encode(job{ID: 1, Path: path, Width: 20}); err != nil {
		t.Fatal(err)
	}
	if err := enc.Encode(job{ID: 2, Path: dir + "/missing.png", Width: 20}); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := RunWorker(&in, &out); err != nil {
		t.Fatalf("RunWorker: %v", err)
	}

	dec := json.NewDecoder(&out)

	var first reply
	if err := dec.Decode(&first); err != nil {
		t.Fatalf("decoding first reply: %v", err)
	}
	if first.ID != 1 || first.Error != "" || first.Length <= 0 {
		t.Errorf("unexpected first reply: %+v", first)
	}

	var second reply
	if err := dec.Decode(&second); err != nil {
		t.Fatalf("decoding second reply: %v", err)
	}
	if second.ID != 2 || second.Error == "" {
		t.Errorf("expected error reply for missing file, got %+v", second)
	}

	img := decodeFile(t, path)
	if got := img.Bounds(); got.Dx() != 20 || got.Dy() != 20 {
		t.Errorf("worker resized to %dx%d, want 20x20", got.Dx(), got.Dy())
	}
}

func TestRunWorkerEmptyInput(t *testing.T) {
	if err := RunWorker(bytes.NewReader(nil), &bytes.Buffer{}); err != nil {
		t.Fatalf("RunWorker on empty input: %v", err)
	}
}

// The cat command echoes each job line straight back, which decodes as a
// reply with the matching ID. That exercises the pool's spawn, dispatch,
// and recycle paths without depending on the built binary.
func TestPoolRoundTrip(t *testing.T) {
	p := NewPool(Config{Workers: 2, RecycleAfter: 3, Command: []string{"cat"}}, nil)
	p.Start(context.Background())
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Enough jobs to force at least one recycle.
	for i := 0; i < 10; i++ {
		if _, err := p.Resize(ctx, "/tmp/whatever.png", transform.Options{Width: 10}); err != nil {
			t.Fatalf("Resize %d: %v", i, err)
		}
	}
}

func TestPoolResizeHonorsContext(t *testing.T) {
	p := NewPool(Config{Workers: 1, Command: []string{"cat"}}, nil)
	// Never started; the job is never picked up.

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Resize(ctx, "x.png", transform.Options{Width: 10}); err == nil {
		t.Error("expected context error from unstarted pool")
	}
}

func TestPoolDefaults(t *testing.T) {
	p := NewPool(Config{}, nil)
	if p.cfg.Workers != DefaultWorkers {
		t.Errorf("Workers = %d, want %d", p.cfg.Workers, DefaultWorkers)
	}
	if p.cfg.RecycleAfter != DefaultRecycleAfter {
		t.Errorf("RecycleAfter = %d, want %d", p.cfg.RecycleAfter, DefaultRecycleAfter)
	}
}
