// Package bufpool recycles scratch byte buffers in fixed size classes so
// large-document processing stays memory-bounded.
//
// Buffers are borrowed with Get and returned with Put. They never cross a
// public API boundary: anything handed to a caller is copied out first.
//
//	buf := bufpool.Get(32 << 10)
//	defer bufpool.Put(buf)
package bufpool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// Size classes, smallest first.
var classSizes = [...]int{1 << 10, 4 << 10, 16 << 10, 64 << 10, 256 << 10}

// DefaultMaxRetained is the capacity above which a returned buffer is
// dropped instead of pooled.
const DefaultMaxRetained = 1 << 20

// Config configures a Pool.
type Config struct {
	// MaxRetained drops returned buffers whose capacity exceeds it
	// (default 1 MiB).
	MaxRetained int

	// EnableMetrics turns on the atomic counters behind Stats.
	EnableMetrics bool
}

func (c *Config) defaults() {
	if c.MaxRetained <= 0 {
		c.MaxRetained = DefaultMaxRetained
	}
}

// Pool is a set of per-class sync.Pools created on first use.
type Pool struct {
	cfg     Config
	classes [len(classSizes)]class
	m       metrics
}

type class struct {
	once sync.Once
	pool *sync.Pool
}

type metrics struct {
	acquires    atomic.Int64
	allocations atomic.Int64
	releases    atomic.Int64
	discards    atomic.Int64
	inUse       atomic.Int64
	peakInUse   atomic.Int64
}

// Stats is a snapshot of pool counters. All zero unless EnableMetrics.
type Stats struct {
	Acquires    int64 `json:"acquires"`
	Reuses      int64 `json:"reuses"`
	Allocations int64 `json:"allocations"`
	Releases    int64 `json:"releases"`
	Discards    int64 `json:"discards"`
	InUse       int64 `json:"in_use"`
	PeakInUse   int64 `json:"peak_in_use"`
}

// New creates a Pool.
func New(cfg Config) *Pool {
	cfg.defaults()
	return &Pool{cfg: cfg}
}

// classFor returns the index of the smallest class that fits n, or -1 when
// n is larger than every class.
func classFor(n int) int {
	for i, s := range classSizes {
		if n <= s {
			return i
		}
	}
	return -1
}

// classOf returns the largest class whose size is <= capacity, or -1.
func classOf(capacity int) int {
	idx := -1
	for i, s := range classSizes {
		if capacity >= s {
			idx = i
		}
	}
	return idx
}

func (p *Pool) class(i int) *sync.Pool {
	c := &p.classes[i]
	c.once.Do(func() {
		size := classSizes[i]
		c.pool = &sync.Pool{New: func() any {
			if p.cfg.EnableMetrics {
				p.m.allocations.Add(1)
			}
			return bytes.NewBuffer(make([]byte, 0, size))
		}}
	})
	return c.pool
}

// Get returns an empty buffer with capacity >= n.
func (p *Pool) Get(n int) *bytes.Buffer {
	if p.cfg.EnableMetrics {
		p.m.acquires.Add(1)
		cur := p.m.inUse.Add(1)
		for {
			peak := p.m.peakInUse.Load()
			if cur <= peak || p.m.peakInUse.CompareAndSwap(peak, cur) {
				break
			}
		}
	}
	i := classFor(n)
	if i < 0 {
		if p.cfg.EnableMetrics {
			p.m.allocations.Add(1)
		}
		return bytes.NewBuffer(make([]byte, 0, n))
	}
	b := p.class(i).Get().(*bytes.Buffer)
	b.Reset()
	if b.Cap() < n {
		b.Grow(n)
	}
	return b
}

// Put resets b and returns it to the class matching its capacity. Buffers
// that grew past MaxRetained, or are smaller than the smallest class, are
// dropped. Put(nil) is a no-op.
func (p *Pool) Put(b *bytes.Buffer) {
	if b == nil {
		return
	}
	if p.cfg.EnableMetrics {
		p.m.releases.Add(1)
		p.m.inUse.Add(-1)
	}
	i := classOf(b.Cap())
	if b.Cap() > p.cfg.MaxRetained || i < 0 {
		if p.cfg.EnableMetrics {
			p.m.discards.Add(1)
		}
		return
	}
	b.Reset()
	p.class(i).Put(b)
}

// Stats returns a snapshot of the counters.
func (p *Pool) Stats() Stats {
	s := Stats{
		Acquires:    p.m.acquires.Load(),
		Allocations: p.m.allocations.Load(),
		Releases:    p.m.releases.Load(),
		Discards:    p.m.discards.Load(),
		InUse:       p.m.inUse.Load(),
		PeakInUse:   p.m.peakInUse.Load(),
	}
	if r := s.Acquires - s.Allocations; r > 0 {
		s.Reuses = r
	}
	return s
}

// Default is the process-wide pool used by the built-in extractors.
var Default = New(Config{EnableMetrics: true})

// Get borrows a buffer from Default.
func Get(n int) *bytes.Buffer { return Default.Get(n) }

// Put returns a buffer to Default.
func Put(b *bytes.Buffer) { Default.Put(b) }

// Builder is a pooled string builder. String copies, so the result never
// aliases pooled memory.
type Builder struct {
	buf *bytes.Buffer
	p   *Pool
}

// GetBuilder borrows a Builder with capacity >= n from p.
func (p *Pool) GetBuilder(n int) *Builder { return &Builder{buf: p.Get(n), p: p} }

// GetBuilder borrows a Builder from Default.
func GetBuilder(n int) *Builder { return Default.GetBuilder(n) }

func (b *Builder) WriteString(s string) (int, error) { return b.buf.WriteString(s) }
func (b *Builder) WriteByte(c byte) error            { return b.buf.WriteByte(c) }
func (b *Builder) WriteRune(r rune) (int, error)     { return b.buf.WriteRune(r) }
func (b *Builder) Write(p []byte) (int, error)       { return b.buf.Write(p) }
func (b *Builder) Len() int                          { return b.buf.Len() }
func (b *Builder) Reset()                            { b.buf.Reset() }

// String returns a copy of the accumulated text.
func (b *Builder) String() string { return b.buf.String() }

// Release returns the builder's buffer to its pool. The builder must not be
// used afterwards.
func (b *Builder) Release() {
	if b.buf == nil {
		return
	}
	b.p.Put(b.buf)
	b.buf = nil
}

// PutBuilder releases b. Equivalent to b.Release().
func PutBuilder(b *Builder) { b.Release() }
