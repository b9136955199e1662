package bufpool

import (
	"bytes"
	"sync"
	"testing"
)

func TestGet_CapacityAndEmpty(t *testing.T) {
	p := New(Config{})
	for _, n := range []int{0, 1, 1024, 1025, 5000, 70_000, 300_000} {
		b := p.Get(n)
		if b.Len() != 0 {
			t.Errorf("Get(%d): len %d, want 0", n, b.Len())
		}
		if b.Cap() < n {
			t.Errorf("Get(%d): cap %d", n, b.Cap())
		}
		p.Put(b)
	}
}

func TestPut_ResetsBeforeReuse(t *testing.T) {
	p := New(Config{})
	b := p.Get(100)
	b.WriteString("secret")
	p.Put(b)

	// sync.Pool may or may not hand the same buffer back; either way it
	// must be empty.
	again := p.Get(100)
	if again.Len() != 0 {
		t.Fatalf("reused buffer not reset: %q", again.String())
	}
}

func TestPut_DiscardsOversized(t *testing.T) {
	p := New(Config{EnableMetrics: true, MaxRetained: 64 << 10})
	b := p.Get(10)
	b.Grow(200 << 10)
	p.Put(b)

	s := p.Stats()
	if s.Discards != 1 {
		t.Errorf("discards: got %d, want 1", s.Discards)
	}
	if s.InUse != 0 {
		t.Errorf("in use: got %d", s.InUse)
	}
}

func TestPut_Nil(t *testing.T) {
	New(Config{}).Put(nil)
}

func TestStats_PeakInUse(t *testing.T) {
	p := New(Config{EnableMetrics: true})
	bufs := make([]*bytes.Buffer, 5)
	for i := range bufs {
		bufs[i] = p.Get(512)
	}
	for _, b := range bufs {
		p.Put(b)
	}
	s := p.Stats()
	if s.PeakInUse != 5 || s.InUse != 0 || s.Acquires != 5 || s.Releases != 5 {
		t.Errorf("stats: %+v", s)
	}
}

func TestStats_DisabledStaysZero(t *testing.T) {
	p := New(Config{})
	p.Put(p.Get(10))
	if s := p.Stats(); s != (Stats{}) {
		t.Errorf("metrics disabled but got %+v", s)
	}
}

func TestConcurrentUse(t *testing.T) {
	p := New(Config{EnableMetrics: true})
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b := p.Get((i*j)%70_000 + 1)
				b.WriteByte(byte(j))
				p.Put(b)
			}
		}(i)
	}
	wg.Wait()
	if s := p.Stats(); s.InUse != 0 || s.Acquires != 3200 {
		t.Errorf("stats after concurrent use: %+v", s)
	}
}

func TestBuilder_StringIsCopy(t *testing.T) {
	p := New(Config{})
	b := p.GetBuilder(16)
	b.WriteString("hello ")
	b.WriteRune('w')
	b.WriteByte('!')
	s := b.String()
	b.Release()

	// Reuse the pool; the earlier string must be unaffected.
	other := p.GetBuilder(16)
	other.WriteString("XXXXXXXX")
	if s != "hello w!" {
		t.Fatalf("string aliased pooled memory: %q", s)
	}
	other.Release()
	other.Release() // double release is a no-op
}

func TestEstimatePoolSize(t *testing.T) {
	tests := []struct {
		size     int64
		mime     string
		count    int
		capacity int
	}{
		{5_000, "application/pdf", 6, 1024},
		{500_000, "application/pdf", 8, 16384},
		{5_000_000, "application/pdf", 10, 65536},
		{50_000_000, "application/pdf", 12, 262144},
		{50_000, "text/plain", 2, 4096},
		{50_000, "application/x-unknown", 3, 4096},
	}
	for _, tt := range tests {
		h := EstimatePoolSize(tt.size, tt.mime)
		if h.StringBufferCount != tt.count || h.StringBufferCapacity != tt.capacity {
			t.Errorf("%d %s: got %+v", tt.size, tt.mime, h)
		}
		if h.ByteBufferCapacity != tt.capacity*8 || h.ByteBufferCount < 1 {
			t.Errorf("%d %s: byte buffers %+v", tt.size, tt.mime, h)
		}
	}
	if h := EstimatePoolSize(1000, "application/pdf"); h.EstimatedTextSize != 250 {
		t.Errorf("pdf text estimate: got %d", h.EstimatedTextSize)
	}
}
