// Package bufpool provides reusable copy buffers for transfers. Pooling
// keeps GC pressure flat when a job runs many workers over many files.
package bufpool

import (
	"sync"
	"sync/atomic"
)

// Pool hands out byte buffers of a fixed size. Buffers returned with a
// different length are dropped rather than pooled.
type Pool struct {
	size   int
	pool   sync.Pool
	allocs atomic.Int64
}

// New creates a pool of buffers of the given size in bytes.
func New(size int) *Pool {
	p := &Pool{size: size}
	p.pool.New = func() any {
		p.allocs.Add(1)
		buf := make([]byte, size)
		return &buf
	}
	return p
}

// Size returns the buffer size this pool hands out.
func (p *Pool) Size() int {
	return p.size
}

// Get retrieves a buffer from the pool. Return it with Put when done.
//
//	buf := pool.Get()
//	defer pool.Put(buf)
//	n, err := r.Read(*buf)
func (p *Pool) Get() *[]byte {
	return p.pool.Get().(*[]byte)
}

// Put returns a buffer to the pool for reuse. The buffer must not be
// used after the call. Wrong-sized buffers are discarded.
func (p *Pool) Put(buf *[]byte) {
	if buf != nil && len(*buf) == p.size {
		p.pool.Put(buf)
	}
}

// Allocations returns how many buffers the pool has created so far.
func (p *Pool) Allocations() int64 {
	return p.allocs.Load()
}
