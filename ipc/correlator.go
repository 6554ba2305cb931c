package ipc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yllada/datagate-shell/common"
)

type outcome struct {
	reply Reply
	err   error
}

// Request is one outstanding command registered with a Correlator.
type Request struct {
	ID       string
	Deadline time.Time // zero means no deadline beyond the caller's context

	done chan outcome
}

// Correlator matches replies to outstanding commands by id. Each request
// is completed exactly once: by its reply, by a transport failure, or by
// removal on cancellation.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*Request
}

// NewCorrelator creates an empty correlator.
func NewCorrelator() *Correlator {
	return &Correlator{pending: make(map[string]*Request)}
}

// Register adds a pending entry for id.
func (c *Correlator) Register(id string, deadline time.Time) (*Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.pending[id]; exists {
		return nil, fmt.Errorf("%w: %s", common.ErrDuplicateRequest, id)
	}
	req := &Request{ID: id, Deadline: deadline, done: make(chan outcome, 1)}
	c.pending[id] = req
	return req, nil
}

// Complete delivers reply to the matching request. It returns false when no
// request with that id is outstanding.
func (c *Correlator) Complete(reply Reply) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.pending[reply.ID]
	if !ok {
		return false
	}
	delete(c.pending, reply.ID)
	req.done <- outcome{reply: reply}
	return true
}

// Remove drops the entry for id without completing it. It returns false
// when the entry was already completed or failed.
func (c *Correlator) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	return true
}

// FailAll fails every outstanding request with err and returns how many
// were failed.
func (c *Correlator) FailAll(err error) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.pending)
	for id, req := range c.pending {
		delete(c.pending, id)
		req.done <- outcome{err: err}
	}
	return n
}

// Len returns the number of outstanding requests.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Await blocks until req completes, ctx is done, or req's deadline passes.
// On cancellation the entry is removed and an error wrapping both
// common.ErrCancelled and the context error is returned. A reply that
// raced with the cancellation still wins.
func (c *Correlator) Await(ctx context.Context, req *Request) (Reply, error) {
	var expired <-chan time.Time
	if !req.Deadline.IsZero() {
		timer := time.NewTimer(time.Until(req.Deadline))
		defer timer.Stop()
		expired = timer.C
	}

	var cause error
	select {
	case o := <-req.done:
		return o.reply, o.err
	case <-ctx.Done():
		cause = ctx.Err()
	case <-expired:
		cause = context.DeadlineExceeded
	}

	if !c.Remove(req.ID) {
		o := <-req.done
		return o.reply, o.err
	}
	return Reply{}, fmt.Errorf("%w: %w", common.ErrCancelled, cause)
}
