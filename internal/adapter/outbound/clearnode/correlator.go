package clearnode

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tollgate-labs/tollgate/internal/port/outbound"
	"github.com/tollgate-labs/tollgate/pkg/rpc"
)

// DefaultMaxPending bounds the number of in-flight requests.
const DefaultMaxPending = 1024

type result struct {
	msg rpc.Inbound
	err error
}

// pendingCall is resolved exactly once: only the goroutine that removes it
// from the table may send on ch.
type pendingCall struct {
	method rpc.Method
	ch     chan result
}

// correlator matches responses to requests by id and fans pushes out to
// method observers.
type correlator struct {
	nextID atomic.Uint64
	max    int

	mu      sync.Mutex
	pending map[uint64]*pendingCall

	obsMu     sync.RWMutex
	observers map[rpc.Method][]func(rpc.Inbound)
}

func newCorrelator(maxPending int) *correlator {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	return &correlator{
		max:       maxPending,
		pending:   make(map[uint64]*pendingCall),
		observers: make(map[rpc.Method][]func(rpc.Inbound)),
	}
}

// next returns a fresh request id. Ids are never reused within a process.
func (c *correlator) next() uint64 {
	return c.nextID.Add(1)
}

func (c *correlator) register(id uint64, method rpc.Method) (*pendingCall, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) >= c.max {
		return nil, fmt.Errorf("%w: %d in flight", outbound.ErrTooManyPending, len(c.pending))
	}
	p := &pendingCall{method: method, ch: make(chan result, 1)}
	c.pending[id] = p
	return p, nil
}

func (c *correlator) take(id uint64) (*pendingCall, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	return p, ok
}

// resolve completes the pending request id. It reports false when id is
// not pending, e.g. a late response after a timeout.
func (c *correlator) resolve(id uint64, r result) bool {
	p, ok := c.take(id)
	if !ok {
		return false
	}
	p.ch <- r
	return true
}

// wait blocks until id is resolved, the timeout elapses, or ctx is done.
// On timeout the entry is removed; if a response won the race it is returned.
func (c *correlator) wait(ctx context.Context, id uint64, p *pendingCall, timeout time.Duration) (rpc.Inbound, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-p.ch:
		return r.msg, r.err
	case <-timer.C:
		if _, ok := c.take(id); ok {
			return rpc.Inbound{}, fmt.Errorf("%w: %s after %s", outbound.ErrRequestTimeout, p.method, timeout)
		}
	case <-ctx.Done():
		if _, ok := c.take(id); ok {
			return rpc.Inbound{}, ctx.Err()
		}
	}
	r := <-p.ch
	return r.msg, r.err
}

// dispatch routes an inbound message. Pushes go to observers and never
// resolve a request. It reports whether the message was consumed.
func (c *correlator) dispatch(in rpc.Inbound) bool {
	if in.Method.IsPush() {
		c.obsMu.RLock()
		fns := c.observers[in.Method]
		c.obsMu.RUnlock()
		for _, fn := range fns {
			fn(in)
		}
		return len(fns) > 0
	}
	return c.resolve(in.ID, result{msg: in, err: in.Err()})
}

// failAll resolves every pending request with err and returns how many there were.
func (c *correlator) failAll(err error) int {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint64]*pendingCall)
	c.mu.Unlock()

	for _, p := range pending {
		p.ch <- result{err: err}
	}
	return len(pending)
}

func (c *correlator) inFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *correlator) subscribe(method rpc.Method, fn func(rpc.Inbound)) {
	c.obsMu.Lock()
	c.observers[method] = append(c.observers[method], fn)
	c.obsMu.Unlock()
}
