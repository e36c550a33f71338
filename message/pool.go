package message

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	DefaultPoolSize = 16
	// DefaultBufferCap is the IPv6 minimum link MTU.
	DefaultBufferCap = 1280
)

type PoolOptions struct {
	// Size is the number of buffers the pool can hand out at once.
	Size uint
	// BufferCap is the maximum number of bytes a buffer can hold.
	BufferCap uint
}

func DefaultPoolOptions() PoolOptions {
	return PoolOptions{Size: DefaultPoolSize, BufferCap: DefaultBufferCap}
}

func (o PoolOptions) validate() error {
	if o.Size == 0 {
		return errors.New("pool size must be greater than zero")
	}
	if o.BufferCap == 0 {
		return errors.New("buffer capacity must be greater than zero")
	}
	return nil
}

// Stats counts buffer lifecycle events. For every allocated buffer exactly
// one of Released or Transferred is eventually incremented.
type Stats struct {
	Allocated   uint64
	Released    uint64
	Transferred uint64
	Exhausted   uint64
}

// InUse is the number of buffers currently owned by callers.
func (s Stats) InUse() uint64 {
	return s.Allocated - s.Released - s.Transferred
}

type slot struct {
	data []byte
}

type Pool struct {
	mu    sync.Mutex
	free  *slotRing
	stats Stats

	opts PoolOptions
}

func NewPool(opts PoolOptions) *Pool {
	if err := opts.validate(); err != nil {
		panic(err)
	}

	p := &Pool{
		free: newSlotRing(opts.Size),
		opts: opts,
	}
	for i := uint(0); i < opts.Size; i++ {
		p.free.push(&slot{data: make([]byte, 0, opts.BufferCap)})
	}

	return p
}

// Allocate takes a buffer from the pool. Exhaustion is reported as
// [ErrPoolExhausted] and is expected under load.
func (p *Pool) Allocate(settings Settings) (*Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.free.pop()
	if s == nil {
		p.stats.Exhausted++
		return nil, ErrPoolExhausted
	}
	p.stats.Allocated++

	return &Buffer{
		id:       uuid.New(),
		settings: settings,
		pool:     p,
		slot:     s,
	}, nil
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Available returns the number of free buffers.
func (p *Pool) Available() uint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.free.len()
}

func (p *Pool) BufferCap() uint { return p.opts.BufferCap }

func (p *Pool) put(s *slot, transferred bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s.data = s.data[:0]
	if !p.free.push(s) {
		// Slots never outnumber the ring, so this means a slot was returned twice.
		panic("message: pool overflow")
	}

	if transferred {
		p.stats.Transferred++
	} else {
		p.stats.Released++
	}
}
