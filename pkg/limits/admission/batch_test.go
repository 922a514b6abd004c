package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"mercator-hq/relayguard/pkg/relay"
)

func authorKeys(n int) []string {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("%064x", i+1)
	}
	return keys
}

func TestBatchProfileRequests_SplitsIntoSubBatches(t *testing.T) {
	l, _ := newTestLimiter(t, Config{})
	rec := &recorder{}

	keys := authorKeys(45)
	// Duplicates must not count toward batch size.
	keys = append(keys, keys[0], keys[21], keys[44])

	pendings := l.BatchProfileRequests(keys, nil, []string{relayA}, rec.transport("profiles"))
	if len(pendings) != 3 {
		t.Fatalf("Expected 3 sub-batches, got %d", len(pendings))
	}
	if _, err := WaitAll(context.Background(), pendings); err != nil {
		t.Fatalf("WaitAll failed: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	wantSizes := []int{20, 20, 5}
	seen := map[string]bool{}
	for i, filters := range rec.calls {
		if len(filters) != 1 {
			t.Fatalf("Expected one filter per sub-batch, got %d", len(filters))
		}
		f := filters[0]
		if len(f.Authors) != wantSizes[i] || f.Limit != wantSizes[i] {
			t.Errorf("Sub-batch %d: expected %d authors and limit, got %d/%d", i, wantSizes[i], len(f.Authors), f.Limit)
		}
		if len(f.Kinds) != 1 || f.Kinds[0] != relay.KindMetadata {
			t.Errorf("Sub-batch %d: expected metadata kind, got %v", i, f.Kinds)
		}
		for _, a := range f.Authors {
			if seen[a] {
				t.Errorf("Author %s requested twice", a)
			}
			seen[a] = true
		}
	}
	if len(seen) != 45 {
		t.Errorf("Expected 45 distinct authors, got %d", len(seen))
	}
}

func TestBatchProfileRequests_HighPriority(t *testing.T) {
	l, _ := newTestLimiter(t, Config{EndpointMaxConcurrent: 1})
	rec := &recorder{}

	mustSucceed(t, l.Submit(request(rec.transport("running"), relayA)))
	mustBePending(t, l.Submit(request(rec.transport("normal"), relayA)))

	pendings := l.BatchProfileRequests(authorKeys(25), nil, []string{relayA}, rec.transport("profiles"))
	for _, p := range pendings {
		mustBePending(t, p)
	}

	for i := 0; i < 3; i++ {
		l.NotifySubscriptionEnd([]string{relayA})
	}

	want := []string{"running", "profiles", "profiles", "normal"}
	got := rec.order()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestBatchProfileRequests_Dispatch(t *testing.T) {
	l, _ := newTestLimiter(t, Config{})

	var mu sync.Mutex
	got := map[string]string{}
	onItem := func(pubkey string, meta relay.Metadata) {
		mu.Lock()
		defer mu.Unlock()
		got[pubkey] = meta.Name()
	}

	transport := func(filters []relay.Filter, onEvent EventHandler, endpoints []string) (string, error) {
		onEvent(relay.Event{PubKey: "alice", Kind: relay.KindMetadata, Content: `{"name":"Alice"}`})
		onEvent(relay.Event{PubKey: "mallory", Kind: relay.KindMetadata, Content: `not json`})
		onEvent(relay.Event{PubKey: "bob", Kind: relay.KindMetadata, Content: `{"name":"Bob"}`})
		return "sub-1", nil
	}

	pendings := l.BatchProfileRequests([]string{"alice", "mallory", "bob"}, onItem, []string{relayA}, transport)
	if len(pendings) != 1 {
		t.Fatalf("Expected one sub-batch, got %d", len(pendings))
	}
	if h := mustSucceed(t, pendings[0]); h != "sub-1" {
		t.Errorf("Expected sub-1, got %q", h)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got["alice"] != "Alice" || got["bob"] != "Bob" {
		t.Errorf("Expected alice and bob dispatched, malformed skipped; got %v", got)
	}
}

func TestBatchProfileRequests_Empty(t *testing.T) {
	l, _ := newTestLimiter(t, Config{})

	if p := l.BatchProfileRequests([]string{"", ""}, nil, []string{relayA}, (&recorder{}).transport("x")); p != nil {
		t.Errorf("Expected no requests for empty keys, got %d", len(p))
	}
}

func TestWaitAll(t *testing.T) {
	l, _ := newTestLimiter(t, Config{})
	rec := &recorder{}

	pendings := []*Pending{
		l.Submit(request(rec.transport("a"), relayA)),
		l.Submit(request(rec.transport("b"), relayB)),
	}
	handles, err := WaitAll(context.Background(), pendings)
	if err != nil {
		t.Fatalf("WaitAll failed: %v", err)
	}
	if handles[0] != "a#1" || handles[1] != "b#2" {
		t.Errorf("Expected handles in submission order, got %v", handles)
	}

	boom := errors.New("boom")
	pendings = append(pendings, l.Submit(request(failingTransport(boom), relayC)))
	if _, err := WaitAll(context.Background(), pendings); !errors.Is(err, boom) {
		t.Errorf("Expected transport error from WaitAll, got %v", err)
	}
}
