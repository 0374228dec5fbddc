// Package pool provides a typed wrapper around sync.Pool with creation metrics.
package pool

import (
	"bytes"
	"sync"

	"github.com/linchenxuan/conduit/metrics"
)

// Pool is a sync.Pool of *T that counts objects created because it was empty.
type Pool[T any] struct {
	Name  string // Name is the pool dimension in metrics.
	reset func(*T)
	pool  sync.Pool
}

// NewPool creates an instrumented pool. newFunc builds an empty item and
// reset, when not nil, clears an item before it is pooled again.
func NewPool[T any](name string, newFunc func() *T, reset func(*T)) *Pool[T] {
	p := &Pool[T]{Name: name, reset: reset}
	dim := metrics.Dimension{metrics.DimPoolName: name}
	p.pool.New = func() any {
		metrics.IncrCounterWithDimGroup(metrics.NamePoolCreateTotal, metrics.GroupConduit, 1, dim)
		return newFunc()
	}
	return p
}

// Get retrieves an item, creating one if the pool is empty.
func (p *Pool[T]) Get() *T {
	return p.pool.Get().(*T)
}

// Put resets x and adds it back for reuse.
func (p *Pool[T]) Put(x *T) {
	if x == nil {
		return
	}
	if p.reset != nil {
		p.reset(x)
	}
	p.pool.Put(x)
}

// _maxPooledBuffer keeps oversized buffers from pinning memory in the pool.
const _maxPooledBuffer = 1 << 20

var _buffers = NewPool("bytesbuffer", func() *bytes.Buffer { return &bytes.Buffer{} }, (*bytes.Buffer).Reset)

// GetBuffer returns an empty buffer from the shared buffer pool.
func GetBuffer() *bytes.Buffer {
	return _buffers.Get()
}

// PutBuffer returns buf to the shared buffer pool.
func PutBuffer(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > _maxPooledBuffer {
		return
	}
	_buffers.Put(buf)
}
