// Package generic holds small type-parameterized helpers.
package generic

import "sync"

// Pool is a typed sync.Pool.
type Pool[T any] struct {
	pool sync.Pool
}

func NewPool[T any](generate func() T) *Pool[T] {
	return &Pool[T]{
		pool: sync.Pool{
			New: func() any {
				return generate()
			},
		},
	}
}

func (p *Pool[T]) Get() T {
	return p.pool.Get().(T)
}

func (p *Pool[T]) Put(value T) {
	p.pool.Put(value)
}

// BufferPool recycles byte slices for packet handling. Buffers larger than
// maxRetained are not returned to the pool.
type BufferPool struct {
	pool        *Pool[*[]byte]
	maxRetained int
}

func NewBufferPool(initialSize, maxRetained int) *BufferPool {
	return &BufferPool{
		pool: NewPool(func() *[]byte {
			b := make([]byte, 0, initialSize)
			return &b
		}),
		maxRetained: maxRetained,
	}
}

// Get returns a buffer of length n.
func (p *BufferPool) Get(n int) *[]byte {
	b := p.pool.Get()
	if cap(*b) < n {
		*b = make([]byte, n)
	}
	*b = (*b)[:n]
	return b
}

func (p *BufferPool) Put(b *[]byte) {
	if b == nil || (p.maxRetained > 0 && cap(*b) > p.maxRetained) {
		return
	}
	*b = (*b)[:0]
	p.pool.Put(b)
}
