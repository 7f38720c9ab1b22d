package bufpool

import (
	"bytes"
	"io"
	"sync"
	"testing"
)

func TestGetReturnsFullSizeBuffer(t *testing.T) {
	buf := Get()
	defer Put(buf)

	if len(buf) != CopySize {
		t.Errorf("len = %d, want %d", len(buf), CopySize)
	}
	if cap(buf) != CopySize {
		t.Errorf("cap = %d, want %d", cap(buf), CopySize)
	}
}

func TestPutDropsForeignBuffers(t *testing.T) {
	// Wrong-capacity slices must be dropped, not pooled, and never panic.
	Put(nil)
	Put(make([]byte, 10))
	Put(make([]byte, CopySize*2))

	buf := Get()
	defer Put(buf)
	if cap(buf) != CopySize {
		t.Errorf("cap = %d, want %d", cap(buf), CopySize)
	}
}

func TestPutRestoresLengthAfterReslice(t *testing.T) {
	buf := Get()
	Put(buf[:1])

	got := Get()
	defer Put(got)
	if len(got) != CopySize {
		t.Errorf("len = %d, want %d", len(got), CopySize)
	}
}

func TestCopyBufferRoundTrip(t *testing.T) {
	src := bytes.Repeat([]byte("pixelvault"), 20_000)

	buf := Get()
	defer Put(buf)

	var dst bytes.Buffer
	n, err := io.CopyBuffer(&dst, bytes.NewReader(src), buf)
	if err != nil {
		t.Fatalf("CopyBuffer: %v", err)
	}
	if n != int64(len(src)) || !bytes.Equal(src, dst.Bytes()) {
		t.Errorf("copied %d bytes, want %d", n, len(src))
	}
}

func TestConcurrentGetPut(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(seed byte) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				buf := Get()
				buf[0] = seed
				if len(buf) != CopySize {
					t.Errorf("len = %d, want %d", len(buf), CopySize)
				}
				Put(buf)
			}
		}(byte(i))
	}
	wg.Wait()
}
