package cerise

import "sync"

// BufferPool is the allocator contract used by the pooled-byte decode
// operations. Rent returns a writable buffer of at least min bytes; Release
// returns a previously rented buffer. Implementations must be safe for
// concurrent use.
type BufferPool interface {
	Rent(min int) []byte
	Release(buf []byte)
}

// DefaultBufferPool is the pool used by ReplyDecoders constructed without an
// explicit one. It is backed by sync.Pool, so rented buffers not released
// are simply collected by the GC.
var DefaultBufferPool BufferPool = &syncBufferPool{}

// rented buffers are rounded up to a power of two so the pool converges on a
// small set of sizes instead of fragmenting
const minRentSize = 64

type syncBufferPool struct {
	p sync.Pool
}

func (sp *syncBufferPool) Rent(min int) []byte {
	if buf, ok := sp.p.Get().([]byte); ok && cap(buf) >= min {
		return buf[:cap(buf)]
	}
	size := minRentSize
	for size < min {
		size *= 2
	}
	return make([]byte, size)
}

func (sp *syncBufferPool) Release(buf []byte) {
	//nolint:staticcheck // pooling byte slices by value is intentional here
	sp.p.Put(buf)
}

// PooledBytes is a decoded payload held in pool-rented memory instead of an
// owned string: a handle over the rented buffer plus the valid length within
// it. The caller owns the handle and must call Release when done with it;
// the decoder never releases on the caller's behalf.
type PooledBytes struct {
	pool BufferPool
	buf  []byte
	n    int
}

// Bytes returns the valid portion of the rented buffer. The returned slice
// is only valid until Release is called.
func (pb *PooledBytes) Bytes() []byte {
	return pb.buf[:pb.n]
}

// Len returns the number of valid bytes.
func (pb *PooledBytes) Len() int {
	return pb.n
}

// String copies the valid bytes into an owned string. The copy remains valid
// after Release.
func (pb *PooledBytes) String() string {
	return string(pb.buf[:pb.n])
}

// Release returns the underlying buffer to the pool. Release is idempotent;
// after the first call Bytes returns an empty slice.
func (pb *PooledBytes) Release() {
	if pb.buf == nil {
		return
	}
	pb.pool.Release(pb.buf)
	pb.buf = nil
	pb.n = 0
}
