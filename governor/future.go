package governor

import (
	"context"

	"github.com/hazyhaar/docextract/docerr"
)

// Future is the pending result of a submitted task.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Done is closed when the task has finished or failed admission.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the task finishes or ctx ends. A ctx ending here does
// not cancel the task; cancel the context passed to Submit for that.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, docerr.FromContext(ctx.Err())
	}
}

// Submit queues fn for an admission slot and returns immediately. Tasks
// are admitted in submission order. The slot is released when fn returns,
// or never taken if ctx ends while queued. With a configured Timeout, fn
// sees a context bounded by it. Panics in fn become internal errors.
func Submit[T any](ctx context.Context, g *Governor, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	g.enqueue(&ticket{
		ctx: ctx,
		fail: func(err error) {
			f.err = err
			close(f.done)
		},
		start: func(release func()) {
			go func() {
				defer close(f.done)
				defer release()
				f.val, f.err = runTask(ctx, g, fn)
			}()
		},
	})
	return f
}

func runTask[T any](ctx context.Context, g *Governor, fn func(ctx context.Context) (T, error)) (T, error) {
	runCtx := ctx
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}
	v, err := docerr.Guard("governor:task", nil, func() (T, error) { return fn(runCtx) })
	if err != nil && runCtx.Err() != nil && ctx.Err() == nil {
		err = docerr.FromContext(runCtx.Err())
	}
	return v, err
}
