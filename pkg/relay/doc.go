// Package relay defines the protocol shapes exchanged with relay endpoints.
//
// # Overview
//
// The types in this package are opaque to the admission layer: filters are
// passed through to the caller-supplied transport verbatim, and events are
// delivered back to subscription callbacks unchanged. Only the profile
// batching path looks inside events, to decode metadata documents.
//
// # Filters
//
// A Filter selects events by id, kind, author, referenced event, referenced
// pubkey or topic, optionally bounded by time and result count:
//
//	f := relay.Filter{
//	    Kinds:   []int{relay.KindMetadata},
//	    Authors: []string{pubkey},
//	    Limit:   1,
//	}
//
// # Metadata
//
// Kind 0 events carry a JSON metadata document in their content:
//
//	meta, err := relay.ParseMetadata(ev.Content)
//	if err != nil {
//	    // malformed content, skip the event
//	}
//	fmt.Println(meta.Name())
package relay
