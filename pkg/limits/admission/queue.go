package admission

import (
	"time"

	"github.com/filecoin-project/go-clock"
)

// queuedRequest is demand that could not be admitted on submission. It is
// owned by exactly one endpoint queue until admitted, expired or swept.
type queuedRequest struct {
	id       uint64
	req      Request
	keys     []string // normalized endpoint keys
	enqueued time.Time
	pending  *Pending
	timer    *clock.Timer
	owner    *endpointState
}

// requestQueue is an endpoint's admission queue. High priority entries form
// a FIFO prefix; everything else follows in arrival order.
type requestQueue struct {
	items []*queuedRequest
	highs int
}

func (q *requestQueue) len() int {
	return len(q.items)
}

func (q *requestQueue) front() *queuedRequest {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// push inserts r according to its priority.
func (q *requestQueue) push(r *queuedRequest) {
	if r.req.Priority != PriorityHigh {
		q.items = append(q.items, r)
		return
	}

	q.items = append(q.items, nil)
	copy(q.items[q.highs+1:], q.items[q.highs:])
	q.items[q.highs] = r
	q.highs++
}

// remove deletes r, preserving the order of the remaining entries.
func (q *requestQueue) remove(r *queuedRequest) bool {
	for i, it := range q.items {
		if it != r {
			continue
		}
		copy(q.items[i:], q.items[i+1:])
		q.items[len(q.items)-1] = nil
		q.items = q.items[:len(q.items)-1]
		if r.req.Priority == PriorityHigh {
			q.highs--
		}
		return true
	}
	return false
}

// drainAll empties the queue and returns its entries in order.
func (q *requestQueue) drainAll() []*queuedRequest {
	items := q.items
	q.items = nil
	q.highs = 0
	return items
}
