package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type item struct {
	vals []int
}

func TestPoolReset(t *testing.T) {
	p := NewPool("items", func() *item { return &item{} }, func(i *item) { i.vals = i.vals[:0] })
	it := p.Get()
	assert.NotNil(t, it)
	it.vals = append(it.vals, 1, 2)
	p.Put(it)
	assert.Empty(t, it.vals)
	p.Put(nil)
	assert.NotNil(t, p.Get())
}

func TestBufferPool(t *testing.T) {
	buf := GetBuffer()
	buf.WriteString("hello")
	PutBuffer(buf)
	assert.Equal(t, 0, buf.Len())

	again := GetBuffer()
	assert.Equal(t, 0, again.Len())
	PutBuffer(again)
	PutBuffer(nil)
}
