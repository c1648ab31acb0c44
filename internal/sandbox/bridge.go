package sandbox

import (
	"context"
	"time"

	"github.com/dop251/goja"

	"github.com/quailhq/quail/internal/marshal"
	"github.com/quailhq/quail/internal/qerr"
)

// settlement carries the outcome of one host asynchronous operation back to
// the session goroutine. The raw host value crosses here; marshalling into
// the guest happens on the session goroutine, which is the only one allowed
// to touch the interpreter.
type settlement struct {
	idx     int // disposal-registry index of the pending operation
	value   any
	err     error
	resolve func(any) error
	reject  func(any) error
}

// newAsync maps a host asynchronous operation to a guest-visible promise.
// The promise is returned immediately; the operation runs on its own
// goroutine and its settlement is delivered through the session's channel
// in completion order. Settling a guest promise runs the guest's queued
// continuations before control returns, so every settlement is a
// settle-then-drain step.
func (s *Session) newAsync(name string, op func(ctx context.Context) (any, error)) *goja.Promise {
	promise, resolve, reject := s.vm.NewPromise()

	// The pending operation is itself a disposable resource: created when
	// the capability starts the host action, released when settlement
	// completes (or swept at session teardown if it never settles).
	idx := s.register("async:"+name, nil)
	s.pending++

	ctx := s.evalCtx
	if ctx == nil {
		ctx = context.Background()
	}

	go func() {
		value, err := op(ctx)
		st := settlement{
			idx:     idx,
			value:   value,
			err:     err,
			resolve: resolve,
			reject:  reject,
		}
		// An abandoned session stops pumping; its close signal releases
		// any still-running operation goroutines.
		select {
		case s.settlements <- st:
		case <-s.done:
		}
	}()
	return promise
}

// nextSettlement waits for the next host settlement, bounded by the
// evaluation deadline and the caller's context.
func (s *Session) nextSettlement(ctx context.Context, deadline time.Time) (settlement, error) {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return settlement{}, qerr.New(qerr.ErrScriptTimeout, "script evaluation timed out")
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case st := <-s.settlements:
		return st, nil
	case <-timer.C:
		return settlement{}, qerr.New(qerr.ErrScriptTimeout, "script evaluation timed out")
	case <-ctx.Done():
		return settlement{}, qerr.Wrap(qerr.ErrScriptExecution, ctx.Err(), "evaluation cancelled")
	}
}

// applySettlement resolves or rejects the guest handle for one settled host
// operation. Resolving runs the guest's pending continuation queue before
// returning, so no other settlement is processed until this one's
// continuations have run. Uncatchable engine errors raised while the
// continuations run (an interrupt landing mid-delivery) come back through
// the resolving function's return value.
func (s *Session) applySettlement(st settlement) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = qerr.Newf(qerr.ErrInternal, "settlement delivery failed: %v", r)
		}
	}()

	s.pending--
	_ = s.releaseAt(st.idx)

	var deliverErr error
	if st.err != nil {
		deliverErr = st.reject(s.rejectValue(st.err))
	} else {
		deliverErr = st.resolve(s.resolveValue(st.value))
	}
	if deliverErr != nil {
		if _, ok := deliverErr.(*goja.InterruptedError); ok {
			return qerr.New(qerr.ErrScriptTimeout, "script evaluation timed out")
		}
		return qerr.Wrap(qerr.ErrInternal, deliverErr, "settlement delivery failed")
	}
	return nil
}

// resolveValue marshals a successful host result into the guest.
// Circular-safe mode: request/response payloads may legitimately contain
// repeated nested structures.
func (s *Session) resolveValue(v any) goja.Value {
	return marshal.ToGuest(s.vm, marshal.BreakCycles(v))
}

// rejectValue produces the guest-visible rejection reason for a host
// failure. Marshalling the error must never itself throw uncaught: if it
// fails, a minimal object carrying only the message is produced instead.
func (s *Session) rejectValue(hostErr error) (v goja.Value) {
	defer func() {
		if r := recover(); r != nil {
			v = s.vm.ToValue(map[string]any{"message": hostErr.Error()})
		}
	}()
	return marshal.ToGuest(s.vm, marshal.NormalizeError(hostErr))
}
