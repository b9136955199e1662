package docerr

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"
)

// Fault is the diagnostic snapshot captured when a plugin panics.
type Fault struct {
	Op      string            `json:"op"`
	Value   string            `json:"value"`
	Stack   string            `json:"stack"`
	Context map[string]string `json:"context,omitempty"`
	At      time.Time         `json:"at"`
}

var (
	lastErr   atomic.Pointer[Error]
	lastFault atomic.Pointer[Fault]
)

// Record stores err as the process-wide last error. Foreign callers that
// cannot receive Go errors read it back with LastErrorCode and LastError.
func Record(err error) {
	if err == nil {
		return
	}
	lastErr.Store(Ensure(err, KindInternal))
}

// LastError returns the most recently recorded error, or nil.
func LastError() *Error { return lastErr.Load() }

// LastErrorCode returns the code of the last recorded error, or 0.
func LastErrorCode() int {
	if e := lastErr.Load(); e != nil {
		return e.Code()
	}
	return 0
}

// LastFault returns the most recent panic snapshot, or nil.
func LastFault() *Fault { return lastFault.Load() }

// ResetLast clears the last error and fault. Tests use it between cases.
func ResetLast() {
	lastErr.Store(nil)
	lastFault.Store(nil)
}

// Guard runs fn and converts a panic into an internal error carrying the
// panic value, the stack and ctxAttrs. The fault is also kept for LastFault.
func Guard[T any](op string, ctxAttrs map[string]string, fn func() (T, error)) (res T, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		f := &Fault{
			Op:      op,
			Value:   fmt.Sprint(r),
			Stack:   string(debug.Stack()),
			Context: ctxAttrs,
			At:      time.Now().UTC(),
		}
		lastFault.Store(f)

		e := Internal("%s panicked: %v", op, r)
		e.Stage = op
		for k, v := range ctxAttrs {
			e.WithContext(k, v)
		}
		if re, ok := r.(error); ok {
			e.Cause = re
		}
		var zero T
		res, err = zero, e
		Record(e)
	}()
	return fn()
}

// FromContext maps a context error to an execution error. Other errors pass
// through unchanged.
func FromContext(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(KindExecution, err, "timed out")
	case errors.Is(err, context.Canceled):
		return Wrap(KindExecution, err, "cancelled")
	}
	return err
}
