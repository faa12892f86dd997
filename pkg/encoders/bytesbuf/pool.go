// Package bytesbuf provides a concurrent-safe []byte pool for outgoing wire
// frames. Buffers are zeroed before reuse so a recycled frame cannot leak a
// previous one's signature or content.
package bytesbuf

import (
	"sync"

	"relaypool.dev/pkg/utils/units"
)

// Pool is a concurrent-safe pool of []byte objects.
type Pool struct {
	pool sync.Pool
}

// NewPool creates a new buffer pool.
func NewPool() *Pool {
	return &Pool{
		pool: sync.Pool{
			New: func() interface{} {
				return make([]byte, 0, units.Kb)
			},
		},
	}
}

// Get returns an empty buffer from the pool, allocating when the pool is
// empty. Append to it and hand it back with Put once the bytes are dead.
func (p *Pool) Get() []byte {
	return p.pool.Get().([]byte)
}

// Put zeroes the buffer and returns it to the pool with length reset.
func (p *Pool) Put(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	p.pool.Put(buf[:0])
}

// DefaultPool serves callers that do not manage their own pool.
var DefaultPool = NewPool()

// Get returns a buffer from the default pool.
func Get() []byte {
	return DefaultPool.Get()
}

// Put zeroes the buffer and returns it to the default pool.
func Put(buf []byte) {
	DefaultPool.Put(buf)
}
