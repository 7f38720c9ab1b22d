// Package bufpool provides reusable copy buffers for payload streaming.
//
// Every proxied image is copied at least twice: upstream body to the spool
// file, and cache file to the client. Pooling the copy buffers keeps those
// hot paths allocation-free. All operations are safe for concurrent use.
package bufpool

import "sync"

// CopySize is the buffer size used for payload streaming. 64KB amortizes
// syscall overhead on multi-megabyte images without hoarding memory per
// request.
const CopySize = 64 << 10

var pool = sync.Pool{
	New: func() any {
		buf := make([]byte, CopySize)
		return &buf
	},
}

// Get returns a CopySize byte slice for use with io.CopyBuffer. Pair every
// Get with a Put, usually via defer.
func Get() []byte {
	return *pool.Get().(*[]byte)
}

// Put returns a buffer to the pool. Buffers not obtained from Get are
// dropped rather than pooled.
func Put(buf []byte) {
	if cap(buf) != CopySize {
		return
	}
	buf = buf[:CopySize]
	pool.Put(&buf)
}
