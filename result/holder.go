// Package result correlates inbound responses with the callers waiting for them.
//
//	caller:     ch := h.Put(rid) ──write request──> ... Wait(ctx, rid, ch, timeout)
//	read loop:  response(rid) ──> h.Signal(rid, resp) ──> ch <- resp ──> caller wakes
//
// Each rid has at most one waiter and at most one delivery. Signal uses
// LoadAndDelete, so a second signal for the same rid, or a signal after the waiter
// timed out and deregistered, finds nothing and is dropped.
package result

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"hippo4j-rpc/message"
	"hippo4j-rpc/rpcerr"
)

// Holder maps request ids to one-slot waiter channels.
type Holder struct {
	pending sync.Map // map[string]chan *message.Response
	size    atomic.Int64
}

func NewHolder() *Holder {
	return &Holder{}
}

// Put registers a waiter for rid and returns the channel its response will arrive on.
// Register before writing the request, otherwise a fast response can race past it.
func (h *Holder) Put(rid string) <-chan *message.Response {
	ch := make(chan *message.Response, 1) // buffered: Signal never blocks the read loop
	if _, loaded := h.pending.Swap(rid, ch); !loaded {
		h.size.Add(1)
	}
	return ch
}

// Signal delivers resp to the waiter registered under rid. It reports false when
// nobody is waiting, in which case the response is dropped.
func (h *Holder) Signal(rid string, resp *message.Response) bool {
	v, ok := h.pending.LoadAndDelete(rid)
	if !ok {
		return false
	}
	h.size.Add(-1)
	v.(chan *message.Response) <- resp
	return true
}

// Get reports whether a waiter is still registered under rid.
func (h *Holder) Get(rid string) bool {
	_, ok := h.pending.Load(rid)
	return ok
}

// Remove deregisters rid without delivering anything.
func (h *Holder) Remove(rid string) {
	if _, ok := h.pending.LoadAndDelete(rid); ok {
		h.size.Add(-1)
	}
}

// Len returns the number of registered waiters.
func (h *Holder) Len() int {
	return int(h.size.Load())
}

// Wait blocks until the response for rid arrives, timeout elapses or ctx is done.
// On timeout the waiter is removed, so a late response is dropped by Signal.
// A zero or negative timeout waits on ctx alone. An expired ctx deadline is a
// *rpcerr.TimeoutError as well; cancellation returns ctx.Err().
func (h *Holder) Wait(ctx context.Context, rid string, ch <-chan *message.Response, timeout time.Duration) (*message.Response, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case resp := <-ch:
		if resp == nil {
			return nil, &rpcerr.TimeoutError{Op: "response", Key: rid, After: timeout}
		}
		return resp, nil
	case <-expired:
		h.Remove(rid)
		return nil, &rpcerr.TimeoutError{Op: "response", Key: rid, After: timeout}
	case <-ctx.Done():
		h.Remove(rid)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &rpcerr.TimeoutError{Op: "response", Key: rid}
		}
		return nil, ctx.Err()
	}
}
