// Package governor bounds how much extraction work runs at once.
//
// Two limits exist. Submit admits orchestration tasks in submission order
// through a weighted semaphore capped at MaxConcurrent. Blocking hands CPU-heavy or
// blocking calls (OCR, PDF parsing, large decompression) to a fixed-size
// worker pool so orchestration goroutines never sit on them.
package governor

import (
	"context"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hazyhaar/docextract/docerr"
)

// Config configures a Governor.
type Config struct {
	// MaxConcurrent caps admitted tasks. Default runtime.NumCPU().
	MaxConcurrent int

	// BlockingWorkers is the size of the blocking pool. Default runtime.NumCPU().
	BlockingWorkers int

	// Timeout bounds each submitted task. 0 means none.
	Timeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = runtime.NumCPU()
	}
	if c.BlockingWorkers <= 0 {
		c.BlockingWorkers = runtime.NumCPU()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Stats is a snapshot of governor activity.
type Stats struct {
	Running    int64 `json:"running"`
	PeakRun    int64 `json:"peak_running"`
	Completed  int64 `json:"completed"`
	Queued     int64 `json:"queued"`
	Blocking   int64 `json:"blocking_running"`
	PoolQueued int64 `json:"blocking_queued"`
}

// Governor admits tasks and runs blocking work. Safe for concurrent use.
type Governor struct {
	cfg    Config
	sem    *semaphore.Weighted
	jobs   chan job
	wg     sync.WaitGroup
	closed atomic.Bool
	once   sync.Once
	done   chan struct{}

	// Admission queue, drained in order by dispatch.
	qmu     sync.Mutex
	pending []*ticket
	notify  chan struct{}
	stopCtx context.Context
	stop    context.CancelFunc

	running   atomic.Int64
	peak      atomic.Int64
	completed atomic.Int64
	blocking  atomic.Int64
	queued    atomic.Int64
}

type job struct {
	ctx context.Context
	fn  func()
}

// ticket is one submitted task waiting for admission. Exactly one of start
// and fail is called.
type ticket struct {
	ctx    context.Context
	start  func(release func())
	fail   func(error)
	detach func() bool
}

func errClosed() error { return docerr.Execution("governor is closed") }

// New creates a Governor and starts its blocking pool and admission
// dispatcher.
func New(cfg Config) *Governor {
	cfg.defaults()
	g := &Governor{
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		jobs:   make(chan job),
		done:   make(chan struct{}),
		notify: make(chan struct{}, 1),
	}
	g.stopCtx, g.stop = context.WithCancel(context.Background())
	for i := 0; i < cfg.BlockingWorkers; i++ {
		g.wg.Add(1)
		go g.worker()
	}
	g.wg.Add(1)
	go g.dispatch()
	cfg.Logger.Debug("governor started",
		"max_concurrent", cfg.MaxConcurrent,
		"blocking_workers", cfg.BlockingWorkers,
	)
	return g
}

// MaxConcurrent returns the admission cap.
func (g *Governor) MaxConcurrent() int { return g.cfg.MaxConcurrent }

func (g *Governor) worker() {
	defer g.wg.Done()
	for {
		select {
		case j := <-g.jobs:
			g.queued.Add(-1)
			if j.ctx.Err() != nil {
				continue
			}
			g.blocking.Add(1)
			j.fn()
			g.blocking.Add(-1)
		case <-g.done:
			return
		}
	}
}

// enqueue appends t to the admission queue, or fails it when closed.
func (g *Governor) enqueue(t *ticket) {
	g.qmu.Lock()
	if g.closed.Load() {
		g.qmu.Unlock()
		t.fail(errClosed())
		return
	}
	t.detach = context.AfterFunc(t.ctx, func() { g.withdraw(t) })
	g.pending = append(g.pending, t)
	g.qmu.Unlock()

	select {
	case g.notify <- struct{}{}:
	default:
	}
}

// withdraw fails t if its context ended while it was still queued.
func (g *Governor) withdraw(t *ticket) {
	g.qmu.Lock()
	i := slices.Index(g.pending, t)
	if i >= 0 {
		g.pending = slices.Delete(g.pending, i, i+1)
	}
	g.qmu.Unlock()
	if i >= 0 {
		t.fail(docerr.FromContext(t.ctx.Err()))
	}
}

func (g *Governor) next() *ticket {
	for {
		g.qmu.Lock()
		if len(g.pending) > 0 {
			t := g.pending[0]
			g.pending[0] = nil
			g.pending = g.pending[1:]
			g.qmu.Unlock()
			return t
		}
		g.qmu.Unlock()
		select {
		case <-g.notify:
		case <-g.done:
			return nil
		}
	}
}

// dispatch admits queued tickets one at a time, oldest first, so a later
// submission never overtakes an earlier one.
func (g *Governor) dispatch() {
	defer g.wg.Done()
	for {
		t := g.next()
		if t == nil {
			return
		}
		t.detach()

		ctx, cancel := context.WithCancel(t.ctx)
		stop := context.AfterFunc(g.stopCtx, cancel)
		release, err := g.Acquire(ctx)
		stop()
		cancel()
		if err != nil {
			if g.closed.Load() && t.ctx.Err() == nil {
				err = errClosed()
			}
			t.fail(err)
			continue
		}
		t.start(release)
	}
}

// Close stops the blocking pool and the admission queue after in-flight
// work finishes. Tasks still queued fail; Submit and Blocking fail
// afterwards.
func (g *Governor) Close() {
	g.once.Do(func() {
		g.qmu.Lock()
		g.closed.Store(true)
		queued := g.pending
		g.pending = nil
		g.qmu.Unlock()

		g.stop()
		close(g.done)
		for _, t := range queued {
			t.detach()
			t.fail(errClosed())
		}
		g.wg.Wait()
		g.cfg.Logger.Debug("governor stopped")
	})
}

// Stats returns current counters.
func (g *Governor) Stats() Stats {
	g.qmu.Lock()
	queued := int64(len(g.pending))
	g.qmu.Unlock()
	return Stats{
		Queued:     queued,
		Running:    g.running.Load(),
		PeakRun:    g.peak.Load(),
		Completed:  g.completed.Load(),
		Blocking:   g.blocking.Load(),
		PoolQueued: g.queued.Load(),
	}
}

// Acquire waits for an admission slot. The returned release must be called
// exactly once. It fails when ctx ends first or the governor is closed.
func (g *Governor) Acquire(ctx context.Context) (release func(), err error) {
	if g.closed.Load() {
		return nil, errClosed()
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, docerr.FromContext(err)
	}
	n := g.running.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.running.Add(-1)
			g.completed.Add(1)
			g.sem.Release(1)
		})
	}, nil
}

// Do runs fn under an admission slot and the configured timeout.
func (g *Governor) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Submit(ctx, g, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}).Wait(context.Background())
	return err
}

// Blocking runs fn on the blocking pool and waits for it. If ctx ends
// first, Blocking returns the context error; fn, if already started, runs
// to completion in the background and its result is dropped.
func (g *Governor) Blocking(ctx context.Context, fn func() error) error {
	_, err := Run(ctx, g, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

// Run is Blocking for functions returning a value. Panics in fn become
// internal errors.
func Run[T any](ctx context.Context, g *Governor, fn func() (T, error)) (T, error) {
	var zero T
	if g.closed.Load() {
		return zero, docerr.Execution("governor is closed")
	}
	type outcome struct {
		v   T
		err error
	}
	out := make(chan outcome, 1)
	j := job{ctx: ctx, fn: func() {
		v, err := docerr.Guard("governor:blocking", nil, fn)
		out <- outcome{v, err}
	}}

	g.queued.Add(1)
	select {
	case g.jobs <- j:
	case <-ctx.Done():
		g.queued.Add(-1)
		return zero, docerr.FromContext(ctx.Err())
	case <-g.done:
		g.queued.Add(-1)
		return zero, docerr.Execution("governor is closed")
	}

	select {
	case o := <-out:
		return o.v, o.err
	case <-ctx.Done():
		return zero, docerr.FromContext(ctx.Err())
	}
}
