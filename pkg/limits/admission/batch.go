package admission

import (
	"context"

	"golang.org/x/sync/errgroup"

	"mercator-hq/relayguard/pkg/relay"
)

// ProfileHandler receives one decoded metadata document per author.
type ProfileHandler func(pubkey string, meta relay.Metadata)

// BatchProfileRequests fetches metadata for many authors. Keys are
// deduplicated in first-seen order and split into sub-batches of
// ProfileBatchSize; each sub-batch is submitted as one high priority request
// with a single metadata filter. Events whose content is not a metadata
// document are logged and skipped.
//
// The returned slice holds one pending result per sub-batch, in order.
// It is empty when keys is empty.
func (l *Limiter) BatchProfileRequests(keys []string, onItem ProfileHandler, endpoints []string, transport Transport) []*Pending {
	authors := dedupe(keys)
	if len(authors) == 0 {
		return nil
	}

	onEvent := func(ev relay.Event) {
		meta, err := relay.ParseMetadata(ev.Content)
		if err != nil {
			l.logger.Warn("skipping malformed profile metadata",
				"pubkey", ev.PubKey,
				"event_id", ev.ID,
				"error", err,
			)
			return
		}
		if onItem != nil {
			onItem(ev.PubKey, meta)
		}
	}

	size := l.cfg.ProfileBatchSize
	pendings := make([]*Pending, 0, (len(authors)+size-1)/size)
	for start := 0; start < len(authors); start += size {
		batch := authors[start:min(start+size, len(authors))]
		pendings = append(pendings, l.Submit(Request{
			Filters: []relay.Filter{{
				Kinds:   []int{relay.KindMetadata},
				Authors: batch,
				Limit:   len(batch),
			}},
			OnEvent:   onEvent,
			Endpoints: endpoints,
			Transport: transport,
			Priority:  PriorityHigh,
		}))
	}

	return pendings
}

// WaitAll waits for every pending result and returns the handles in order.
// It returns the first error encountered; on error the remaining waits are
// abandoned (the requests themselves are unaffected).
func WaitAll(ctx context.Context, pendings []*Pending) ([]string, error) {
	handles := make([]string, len(pendings))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range pendings {
		g.Go(func() error {
			h, err := p.Wait(gctx)
			if err != nil {
				return err
			}
			handles[i] = h
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return handles, nil
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
