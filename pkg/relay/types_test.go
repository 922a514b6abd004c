package relay

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseMetadata(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
		want    string
	}{
		{name: "valid", content: `{"name":"alice","picture":"https://x/a.png"}`, want: "alice"},
		{name: "whitespace", content: "  {\"name\":\"bob\"}  ", want: "bob"},
		{name: "empty", content: "", wantErr: true},
		{name: "not json", content: "hello", wantErr: true},
		{name: "array", content: `["a"]`, wantErr: true},
		{name: "null", content: "null", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta, err := ParseMetadata(tt.content)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidMetadata) {
					t.Fatalf("Expected ErrInvalidMetadata, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMetadata failed: %v", err)
			}
			if meta.Name() != tt.want {
				t.Errorf("Expected name %q, got %q", tt.want, meta.Name())
			}
		})
	}
}

func TestMetadata_DisplayNameFallback(t *testing.T) {
	meta := Metadata{"displayName": "Legacy"}
	if got := meta.DisplayName(); got != "Legacy" {
		t.Errorf("Expected legacy display name, got %q", got)
	}

	meta["display_name"] = "Current"
	if got := meta.DisplayName(); got != "Current" {
		t.Errorf("Expected display_name to win, got %q", got)
	}

	if got := (Metadata{"name": 42}).Name(); got != "" {
		t.Errorf("Expected empty name for non-string value, got %q", got)
	}
}

func TestFilter_WireFormat(t *testing.T) {
	since := int64(1700000000)
	f := Filter{
		Kinds:     []int{KindMetadata},
		Authors:   []string{"abc"},
		EventRefs: []string{"e1"},
		Topics:    []string{"go"},
		Since:     &since,
		Limit:     20,
	}

	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	for _, key := range []string{"kinds", "authors", "#e", "#t", "since", "limit"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("Expected key %q in %s", key, data)
		}
	}
	for _, key := range []string{"ids", "#p", "until"} {
		if _, ok := raw[key]; ok {
			t.Errorf("Expected key %q to be omitted in %s", key, data)
		}
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"wss://Relay.Example.com/", "wss://relay.example.com"},
		{"  wss://relay.example.com  ", "wss://relay.example.com"},
		{"WSS://relay.example.com/path/", "wss://relay.example.com/path"},
		{"", ""},
		{"relay-a", "relay-a"},
	}

	for _, tt := range tests {
		if got := NormalizeURL(tt.in); got != tt.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
