// Package admission gates subscription requests toward relay endpoints.
//
// # Overview
//
// A Limiter enforces two ceilings on outstanding subscriptions: a global
// one and one per endpoint. A request that targets several endpoints is
// admitted only if the global ceiling and every target endpoint allow it
// (all-or-nothing); otherwise it waits in the queue of whichever target
// endpoint has the shortest queue.
//
// Admission invokes the caller's Transport synchronously. A transport error
// or panic rolls back every counter the attempt incremented and fails the
// request with ErrSubscriptionFailed.
//
// # Queueing
//
// Each endpoint queue is bounded by MaxQueueSize; a full queue fails the
// request immediately with ErrQueueFull. High priority requests are served
// FIFO among themselves and ahead of every queued normal or low request.
// A queued request that is not admitted within QueueTimeout fails with
// ErrAdmissionTimeout. A periodic sweep removes anything older than
// QueueTimeout as a backstop to the per-request timers.
//
// Capacity is returned with NotifySubscriptionEnd, which drains the named
// endpoints' queues (and other queues while global headroom remains) by
// invoking each queued request's own transport.
//
// # Usage
//
//	limiter := admission.New(admission.DefaultConfig(),
//	    admission.WithLogger(logger),
//	)
//	defer limiter.Close()
//
//	handle, err := limiter.RequestSubscription(ctx, admission.Request{
//	    Filters:   []relay.Filter{{Kinds: []int{relay.KindTextNote}, Limit: 50}},
//	    OnEvent:   onEvent,
//	    Endpoints: []string{"wss://relay.example.com"},
//	    Transport: pool.Subscribe,
//	})
//	if err != nil {
//	    return err
//	}
//	defer limiter.NotifySubscriptionEnd([]string{"wss://relay.example.com"})
//
// # Time
//
// Timers and the sweep run on an injectable clock (WithClock), so tests can
// advance virtual time with a mock clock.
//
// # Thread Safety
//
// Limiter is safe for concurrent use. Transports are invoked without the
// limiter lock held and may call back into the Limiter.
package admission
