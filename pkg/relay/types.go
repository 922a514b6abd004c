package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Event kinds used by this module.
const (
	// KindMetadata is the replaceable profile metadata event.
	KindMetadata = 0

	// KindTextNote is a short text note.
	KindTextNote = 1

	// KindContacts is the contact list event.
	KindContacts = 3
)

// Filter is a subscription query. Field names follow the relay wire format.
type Filter struct {
	// IDs selects events by id.
	IDs []string `json:"ids,omitempty" yaml:"ids,omitempty"`

	// Kinds selects events by kind.
	Kinds []int `json:"kinds,omitempty" yaml:"kinds,omitempty"`

	// Authors selects events by author pubkey.
	Authors []string `json:"authors,omitempty" yaml:"authors,omitempty"`

	// EventRefs selects events referencing these event ids ("e" tags).
	EventRefs []string `json:"#e,omitempty" yaml:"event_refs,omitempty"`

	// PubkeyRefs selects events referencing these pubkeys ("p" tags).
	PubkeyRefs []string `json:"#p,omitempty" yaml:"pubkey_refs,omitempty"`

	// Topics selects events tagged with these topics ("t" tags).
	Topics []string `json:"#t,omitempty" yaml:"topics,omitempty"`

	// Since is the lower bound on created_at (unix seconds).
	Since *int64 `json:"since,omitempty" yaml:"since,omitempty"`

	// Until is the upper bound on created_at (unix seconds).
	Until *int64 `json:"until,omitempty" yaml:"until,omitempty"`

	// Limit caps the number of stored events returned.
	Limit int `json:"limit,omitempty" yaml:"limit,omitempty"`
}

// Event is a signed protocol event as delivered by a relay.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Metadata is a decoded profile metadata document.
type Metadata map[string]any

// ErrInvalidMetadata is returned when event content is not a metadata object.
var ErrInvalidMetadata = errors.New("invalid metadata content")

// ParseMetadata decodes the content of a metadata event.
// The content must be a JSON object.
func ParseMetadata(content string) (Metadata, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: empty content", ErrInvalidMetadata)
	}

	var meta Metadata
	if err := json.Unmarshal([]byte(content), &meta); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	if meta == nil {
		return nil, fmt.Errorf("%w: not an object", ErrInvalidMetadata)
	}

	return meta, nil
}

// Name returns the "name" field.
func (m Metadata) Name() string { return m.str("name") }

// DisplayName returns "display_name", falling back to the legacy "displayName".
func (m Metadata) DisplayName() string {
	if v := m.str("display_name"); v != "" {
		return v
	}
	return m.str("displayName")
}

// Picture returns the "picture" field.
func (m Metadata) Picture() string { return m.str("picture") }

// About returns the "about" field.
func (m Metadata) About() string { return m.str("about") }

// NIP05 returns the "nip05" identifier.
func (m Metadata) NIP05() string { return m.str("nip05") }

func (m Metadata) str(key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// NormalizeURL canonicalizes a relay endpoint URL so that equivalent
// spellings share one set of endpoint limits.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimRight(strings.ToLower(raw), "/")
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")

	return u.String()
}
