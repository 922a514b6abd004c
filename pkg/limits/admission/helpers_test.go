package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/filecoin-project/go-clock"

	"mercator-hq/relayguard/pkg/relay"
)

const (
	relayA = "wss://relay-a.example.com"
	relayB = "wss://relay-b.example.com"
	relayC = "wss://relay-c.example.com"
)

// recorder is a transport that records every invocation in order.
type recorder struct {
	mu     sync.Mutex
	labels []string
	calls  [][]relay.Filter
}

// transport returns a Transport tagged with label. Handles are "label#n".
func (r *recorder) transport(label string) Transport {
	return func(filters []relay.Filter, onEvent EventHandler, endpoints []string) (string, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.labels = append(r.labels, label)
		r.calls = append(r.calls, filters)
		return fmt.Sprintf("%s#%d", label, len(r.labels)), nil
	}
}

func (r *recorder) order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.labels...)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.labels)
}

func failingTransport(err error) Transport {
	return func([]relay.Filter, EventHandler, []string) (string, error) {
		return "", err
	}
}

func newTestLimiter(t *testing.T, cfg Config, opts ...Option) (*Limiter, *clock.Mock) {
	t.Helper()

	mock := clock.NewMock()
	mock.Set(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	l := New(cfg, append([]Option{WithClock(mock)}, opts...)...)
	t.Cleanup(func() { l.Close() })

	return l, mock
}

func request(transport Transport, endpoints ...string) Request {
	return Request{
		Filters:   []relay.Filter{{Kinds: []int{relay.KindTextNote}}},
		Endpoints: endpoints,
		Transport: transport,
	}
}

// waitDone waits in real time for p to resolve.
func waitDone(t *testing.T, p *Pending) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	h, err := p.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("request %d did not resolve", p.ID())
	}
	return h, err
}

func mustBePending(t *testing.T, p *Pending) {
	t.Helper()
	if _, err := p.Result(); !errors.Is(err, ErrPending) {
		t.Fatalf("Expected request %d to be pending, got %v", p.ID(), err)
	}
}

func mustSucceed(t *testing.T, p *Pending) string {
	t.Helper()
	h, err := p.Result()
	if err != nil {
		t.Fatalf("Expected request %d to be admitted, got %v", p.ID(), err)
	}
	return h
}
