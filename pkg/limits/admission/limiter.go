package admission

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/filecoin-project/go-clock"

	"mercator-hq/relayguard/pkg/relay"
)

// endpointState is the per-endpoint bookkeeping. It is created on first
// reference and kept for the life of the Limiter (or until Reset).
type endpointState struct {
	url           string
	slots         slots
	minInterval   time.Duration
	lastRequest   time.Time
	queue         requestQueue
	intervalTimer *clock.Timer
}

// Limiter is the subscription admission controller.
type Limiter struct {
	mu        sync.Mutex
	cfg       Config
	global    slots
	endpoints map[string]*endpointState
	nextID    uint64
	closed    bool

	clock    clock.Clock
	logger   *slog.Logger
	observer Observer

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock sets the time source for timeouts, intervals and the sweep.
func WithClock(clk clock.Clock) Option {
	return func(l *Limiter) {
		if clk != nil {
			l.clock = clk
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(l *Limiter) {
		if o != nil {
			l.observer = o
		}
	}
}

// New creates a Limiter and starts its sweep loop. Zero config fields take
// their defaults. Call Close to stop it.
func New(cfg Config, opts ...Option) *Limiter {
	cfg = cfg.withDefaults()

	l := &Limiter{
		cfg:       cfg,
		global:    newSlots(cfg.GlobalMaxConcurrent),
		endpoints: make(map[string]*endpointState),
		clock:     clock.New(),
		logger:    slog.Default().With("component", "limits.admission"),
		observer:  noopObserver{},
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	ticker := l.clock.Ticker(cfg.SweepInterval)
	l.wg.Add(1)
	go l.sweepLoop(ticker)

	return l
}

// Config returns the effective configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}

// Submit requests admission and returns the deferred result. An admitted
// request has already been handed to its transport when Submit returns;
// a queued one resolves later. Validation failures and full queues resolve
// the result immediately.
func (l *Limiter) Submit(req Request) *Pending {
	if req.Priority == "" {
		req.Priority = PriorityNormal
	}
	keys, endpoints := normalizeEndpoints(req.Endpoints)
	req.Endpoints = endpoints

	l.mu.Lock()
	l.nextID++
	id := l.nextID

	var invalid error
	switch {
	case l.closed:
		invalid = ErrLimiterClosed
	case len(keys) == 0:
		invalid = ErrNoEndpoints
	case req.Transport == nil:
		invalid = ErrNilTransport
	}
	if invalid != nil {
		l.mu.Unlock()
		reason := ReasonInvalid
		if invalid == ErrLimiterClosed {
			reason = ReasonClosed
		}
		l.observer.ObserveRejected(reason)
		return failedPending(id, &RequestError{RequestID: id, Endpoints: endpoints, Err: invalid})
	}

	if ok, _ := l.evaluateLocked(keys); ok {
		l.reserveLocked(keys)
		l.observeStateLocked()
		l.mu.Unlock()

		p := newPending(id)
		if err := l.admit(id, req, keys, p, 0); err != nil {
			l.drain(keys)
		}
		return p
	}

	r, err := l.enqueueLocked(id, req, keys)
	l.mu.Unlock()

	if err != nil {
		l.logger.Warn("admission queue full, rejecting subscription request",
			"request_id", id,
			"endpoints", endpoints,
			"max_queue_size", l.cfg.MaxQueueSize,
		)
		l.observer.ObserveRejected(ReasonQueueFull)
		return failedPending(id, err)
	}

	l.logger.Debug("subscription request queued",
		"request_id", id,
		"endpoint", r.owner.url,
		"priority", string(req.Priority),
	)
	l.observer.ObserveQueued(r.owner.url, req.Priority)
	return r.pending
}

// RequestSubscription submits req and waits for its handle. Cancelling ctx
// stops the wait only; a queued request stays queued until admitted or
// expired.
func (l *Limiter) RequestSubscription(ctx context.Context, req Request) (string, error) {
	return l.Submit(req).Wait(ctx)
}

// NotifySubscriptionEnd returns one global slot and one slot on each named
// endpoint, never going below zero, then drains the named endpoints'
// queues. Other queues are drained too while global capacity remains.
func (l *Limiter) NotifySubscriptionEnd(endpoints []string) {
	keys, _ := normalizeEndpoints(endpoints)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.global.release()
	for _, k := range keys {
		l.endpointLocked(k).slots.release()
	}
	l.observeStateLocked()
	l.mu.Unlock()

	l.drain(keys)
}

// Stats returns a snapshot of counters and queue lengths.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Stats{
		Active:    l.global.current,
		Max:       l.global.limit,
		Available: l.global.remaining(),
		Endpoints: make(map[string]EndpointStats, len(l.endpoints)),
	}
	for url, ep := range l.endpoints {
		s.Endpoints[url] = EndpointStats{
			Active:    ep.slots.current,
			Queued:    ep.queue.len(),
			Max:       ep.slots.limit,
			Available: ep.slots.remaining(),
		}
		s.Queued += ep.queue.len()
	}
	return s
}

// Reset clears every counter and queue. Queued requests fail with
// ErrLimiterReset. Intended for tests and debugging only.
func (l *Limiter) Reset() {
	l.mu.Lock()
	dropped := l.detachAllLocked()
	l.endpoints = make(map[string]*endpointState)
	l.global.reset()
	l.observeStateLocked()
	l.mu.Unlock()

	l.logger.Warn("limiter reset", "dropped_requests", len(dropped))
	for _, r := range dropped {
		l.failQueued(r, ErrLimiterReset, ReasonReset)
	}
}

// Close stops the sweep loop and fails every queued request with
// ErrLimiterClosed. Close is idempotent.
func (l *Limiter) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.wg.Wait()

		l.mu.Lock()
		l.closed = true
		dropped := l.detachAllLocked()
		l.observeStateLocked()
		l.mu.Unlock()

		for _, r := range dropped {
			l.failQueued(r, ErrLimiterClosed, ReasonClosed)
		}
	})
	return nil
}

// endpointLocked returns the state for a normalized endpoint key,
// creating it on first reference.
func (l *Limiter) endpointLocked(key string) *endpointState {
	if ep, ok := l.endpoints[key]; ok {
		return ep
	}

	limit := l.cfg.EndpointMaxConcurrent
	interval := l.cfg.EndpointMinInterval
	if o, ok := l.cfg.Endpoints[key]; ok {
		if o.MaxConcurrent > 0 {
			limit = o.MaxConcurrent
		}
		if o.MinInterval > 0 {
			interval = o.MinInterval
		}
	}

	ep := &endpointState{
		url:         key,
		slots:       newSlots(limit),
		minInterval: interval,
	}
	l.endpoints[key] = ep
	return ep
}

// evaluateLocked decides whether a request for keys can be admitted now.
// When the only obstacle is an endpoint's minimum interval, wait is the
// time until every interval has elapsed.
func (l *Limiter) evaluateLocked(keys []string) (admit bool, wait time.Duration) {
	if !l.global.available() {
		return false, 0
	}

	now := l.clock.Now()
	capacity := true
	for _, k := range keys {
		ep := l.endpointLocked(k)
		if !ep.slots.available() {
			capacity = false
			continue
		}
		if ep.minInterval > 0 && !ep.lastRequest.IsZero() {
			if elapsed := now.Sub(ep.lastRequest); elapsed < ep.minInterval {
				wait = max(wait, ep.minInterval-elapsed)
			}
		}
	}

	if !capacity {
		return false, 0
	}
	return wait == 0, wait
}

func (l *Limiter) reserveLocked(keys []string) {
	now := l.clock.Now()
	l.global.acquire()
	for _, k := range keys {
		ep := l.endpointLocked(k)
		ep.slots.acquire()
		ep.lastRequest = now
	}
}

func (l *Limiter) rollbackLocked(keys []string) {
	l.global.release()
	for _, k := range keys {
		l.endpointLocked(k).slots.release()
	}
}

// admit invokes the transport for a request whose slots are reserved and
// settles p. On failure the reservation is rolled back and the error is
// returned so the caller can drain the freed capacity.
func (l *Limiter) admit(id uint64, req Request, keys []string, p *Pending, waited time.Duration) error {
	handle, err := invoke(req)
	if err != nil {
		l.mu.Lock()
		l.rollbackLocked(keys)
		l.observeStateLocked()
		l.mu.Unlock()

		l.logger.Warn("subscription transport failed",
			"request_id", id,
			"endpoints", req.Endpoints,
			"error", err,
		)
		l.observer.ObserveRejected(ReasonTransportError)

		rerr := &RequestError{
			RequestID: id,
			Endpoints: req.Endpoints,
			Waited:    waited,
			Err:       ErrSubscriptionFailed,
			Cause:     err,
		}
		p.resolve("", rerr)
		return rerr
	}

	l.observer.ObserveAdmitted(req.Priority, waited)
	p.resolve(handle, nil)
	return nil
}

// invoke calls the transport, converting a panic into an error.
func invoke(req Request) (handle string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panic: %v", r)
		}
	}()
	return req.Transport(req.Filters, req.OnEvent, req.Endpoints)
}

// enqueueLocked places the request on the shortest queue among its
// endpoints (first endpoint on ties) and arms its timeout.
func (l *Limiter) enqueueLocked(id uint64, req Request, keys []string) (*queuedRequest, error) {
	target := l.endpointLocked(keys[0])
	for _, k := range keys[1:] {
		if ep := l.endpointLocked(k); ep.queue.len() < target.queue.len() {
			target = ep
		}
	}

	if target.queue.len() >= l.cfg.MaxQueueSize {
		return nil, &RequestError{RequestID: id, Endpoints: req.Endpoints, Err: ErrQueueFull}
	}

	r := &queuedRequest{
		id:       id,
		req:      req,
		keys:     keys,
		enqueued: l.clock.Now(),
		pending:  newPending(id),
		owner:    target,
	}
	target.queue.push(r)
	r.timer = l.clock.AfterFunc(l.cfg.QueueTimeout, func() { l.expire(r) })

	if head := target.queue.front(); head != nil {
		if ok, wait := l.evaluateLocked(head.keys); !ok && wait > 0 {
			l.scheduleDrainLocked(target, wait)
		}
	}

	l.observeStateLocked()
	return r, nil
}

// scheduleDrainLocked arms a one-shot drain of ep after wait, used when the
// queue head is held back only by a minimum interval.
func (l *Limiter) scheduleDrainLocked(ep *endpointState, wait time.Duration) {
	if ep.intervalTimer != nil {
		return
	}
	ep.intervalTimer = l.clock.AfterFunc(wait, func() {
		l.mu.Lock()
		ep.intervalTimer = nil
		l.mu.Unlock()
		l.drainEndpoint(ep.url)
	})
}

// drain drains the queues of keys, then every other queue while global
// capacity remains.
func (l *Limiter) drain(keys []string) {
	drained := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		l.drainEndpoint(k)
		drained[k] = struct{}{}
	}

	l.mu.Lock()
	if !l.global.available() {
		l.mu.Unlock()
		return
	}
	var others []string
	for url, ep := range l.endpoints {
		if _, done := drained[url]; !done && ep.queue.len() > 0 {
			others = append(others, url)
		}
	}
	l.mu.Unlock()

	sort.Strings(others)
	for _, url := range others {
		l.drainEndpoint(url)
	}
}

// drainEndpoint admits queue heads of one endpoint for as long as they are
// admissible. Each admitted head runs its own transport and settles its own
// pending result.
func (l *Limiter) drainEndpoint(key string) {
	for {
		l.mu.Lock()
		ep, ok := l.endpoints[key]
		if !ok || l.closed {
			l.mu.Unlock()
			return
		}

		head := ep.queue.front()
		if head == nil {
			l.mu.Unlock()
			return
		}

		admit, wait := l.evaluateLocked(head.keys)
		if !admit {
			if wait > 0 {
				l.scheduleDrainLocked(ep, wait)
			}
			l.mu.Unlock()
			return
		}

		ep.queue.remove(head)
		head.owner = nil
		head.timer.Stop()
		l.reserveLocked(head.keys)
		waited := l.clock.Since(head.enqueued)
		l.observeStateLocked()
		l.mu.Unlock()

		l.logger.Debug("queued subscription request admitted",
			"request_id", head.id,
			"endpoint", key,
			"waited", waited,
		)
		// A failed transport has already rolled back; keep draining.
		_ = l.admit(head.id, head.req, head.keys, head.pending, waited)
	}
}

// expire fails a request whose timeout fired while it was still queued.
func (l *Limiter) expire(r *queuedRequest) {
	l.mu.Lock()
	owner := r.owner
	if owner == nil {
		l.mu.Unlock()
		return
	}
	owner.queue.remove(r)
	r.owner = nil
	l.observeStateLocked()
	l.mu.Unlock()

	l.logger.Warn("queued subscription request timed out",
		"request_id", r.id,
		"endpoint", owner.url,
		"timeout", l.cfg.QueueTimeout,
	)
	l.failQueued(r, ErrAdmissionTimeout, ReasonTimeout)

	// The expired request may have been blocking the head of the queue.
	l.drainEndpoint(owner.url)
}

// detachAllLocked empties every queue, stopping all timers, and returns the
// removed requests.
func (l *Limiter) detachAllLocked() []*queuedRequest {
	var out []*queuedRequest
	for _, ep := range l.endpoints {
		if ep.intervalTimer != nil {
			ep.intervalTimer.Stop()
			ep.intervalTimer = nil
		}
		for _, r := range ep.queue.drainAll() {
			r.timer.Stop()
			r.owner = nil
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// failQueued settles a removed request with err.
func (l *Limiter) failQueued(r *queuedRequest, sentinel error, reason string) {
	err := &RequestError{
		RequestID: r.id,
		Endpoints: r.req.Endpoints,
		Waited:    l.clock.Since(r.enqueued),
		Err:       sentinel,
	}
	if r.pending.resolve("", err) {
		l.observer.ObserveRejected(reason)
	}
}

func (l *Limiter) observeStateLocked() {
	queued := 0
	for _, ep := range l.endpoints {
		queued += ep.queue.len()
	}
	l.observer.ObserveState(l.global.current, queued)
}

func (l *Limiter) sweepLoop(ticker *clock.Ticker) {
	defer l.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				l.logger.Info("stale queued requests swept", "count", n)
			}
		case <-l.done:
			return
		}
	}
}

// Sweep removes every queued request older than QueueTimeout, failing it
// with ErrAdmissionTimeout, and returns how many were removed. It runs
// periodically as a backstop to the per-request timers.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	now := l.clock.Now()
	var stale []*queuedRequest
	affected := make(map[string]struct{})
	for url, ep := range l.endpoints {
		for _, r := range append([]*queuedRequest(nil), ep.queue.items...) {
			if now.Sub(r.enqueued) > l.cfg.QueueTimeout {
				ep.queue.remove(r)
				r.owner = nil
				r.timer.Stop()
				stale = append(stale, r)
				affected[url] = struct{}{}
			}
		}
	}
	if len(stale) > 0 {
		l.observeStateLocked()
	}
	l.mu.Unlock()

	for _, r := range stale {
		l.failQueued(r, ErrAdmissionTimeout, ReasonTimeout)
	}
	for url := range affected {
		l.drainEndpoint(url)
	}
	return len(stale)
}

// normalizeEndpoints dedupes endpoints by normalized URL. It returns the
// normalized keys and the first spelling of each, both in input order.
func normalizeEndpoints(raw []string) (keys, endpoints []string) {
	seen := make(map[string]struct{}, len(raw))
	for _, e := range raw {
		k := relay.NormalizeURL(e)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
		endpoints = append(endpoints, e)
	}
	return keys, endpoints
}
