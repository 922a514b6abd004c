package admission

import "testing"

func TestRequestQueue_Ordering(t *testing.T) {
	var q requestQueue

	mk := func(id uint64, p Priority) *queuedRequest {
		return &queuedRequest{id: id, req: Request{Priority: p}}
	}

	n1, h1, l1, h2, n2 := mk(1, PriorityNormal), mk(2, PriorityHigh), mk(3, PriorityLow), mk(4, PriorityHigh), mk(5, PriorityNormal)
	for _, r := range []*queuedRequest{n1, h1, l1, h2, n2} {
		q.push(r)
	}

	assertOrder := func(want ...uint64) {
		t.Helper()
		if q.len() != len(want) {
			t.Fatalf("Expected %d entries, got %d", len(want), q.len())
		}
		for i, id := range want {
			if q.items[i].id != id {
				t.Fatalf("Position %d: expected %d, got %d", i, id, q.items[i].id)
			}
		}
	}

	assertOrder(2, 4, 1, 3, 5)

	if !q.remove(h1) {
		t.Fatal("Expected remove to succeed")
	}
	assertOrder(4, 1, 3, 5)

	// A new high goes behind the remaining high, ahead of normal.
	q.push(mk(6, PriorityHigh))
	assertOrder(4, 6, 1, 3, 5)

	if q.remove(h1) {
		t.Error("Expected second remove to fail")
	}

	if got := q.drainAll(); len(got) != 5 || q.len() != 0 || q.highs != 0 {
		t.Errorf("Expected drainAll to empty the queue, got %d left", q.len())
	}
}

func TestSlots(t *testing.T) {
	s := newSlots(2)

	s.acquire()
	s.acquire()
	if s.available() || s.remaining() != 0 {
		t.Errorf("Expected no capacity, current=%d", s.current)
	}

	s.release()
	s.release()
	s.release()
	if s.current != 0 {
		t.Errorf("Expected floor at zero, got %d", s.current)
	}
	if s.remaining() != 2 {
		t.Errorf("Expected 2 remaining, got %d", s.remaining())
	}
}
