package admission

import (
	"context"
	"sync"
)

// Pending is the deferred result of a submitted request. It resolves
// exactly once, with the transport's handle or with an error.
type Pending struct {
	id   uint64
	done chan struct{}
	once sync.Once

	handle string
	err    error
}

func newPending(id uint64) *Pending {
	return &Pending{id: id, done: make(chan struct{})}
}

func failedPending(id uint64, err error) *Pending {
	p := newPending(id)
	p.resolve("", err)
	return p
}

// resolve settles the result. Later calls are ignored.
func (p *Pending) resolve(handle string, err error) bool {
	settled := false
	p.once.Do(func() {
		p.handle = handle
		p.err = err
		settled = true
		close(p.done)
	})
	return settled
}

// ID returns the request id. Ids increase monotonically per Limiter.
func (p *Pending) ID() uint64 {
	return p.id
}

// Done is closed once the request is resolved.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Result returns the outcome without blocking. It returns ErrPending while
// the request is queued.
func (p *Pending) Result() (string, error) {
	select {
	case <-p.done:
		return p.handle, p.err
	default:
		return "", ErrPending
	}
}

// Wait blocks until the request resolves or ctx is done. Cancelling ctx
// only stops the wait: a queued request stays queued.
func (p *Pending) Wait(ctx context.Context) (string, error) {
	select {
	case <-p.done:
		return p.handle, p.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
