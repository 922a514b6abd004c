package logging

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// RedactPattern is a named regular expression and its replacement.
type RedactPattern struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// Redactor masks secret key material in log fields.
// A nil *Redactor passes everything through.
type Redactor struct {
	patterns []*redactPattern
	enabled  bool
}

// redactPattern contains a compiled regex and replacement string.
type redactPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// Built-in pattern names.
const (
	PatternNsec           = "nsec"
	PatternBearerToken    = "bearer_token"
	PatternPassword       = "password"
	PatternURLCredentials = "url_credentials"
)

var defaultPatterns = []RedactPattern{
	// bech32-encoded secret keys
	{Name: PatternNsec, Pattern: `\bnsec1[02-9ac-hj-np-z]{20,}\b`, Replacement: "nsec1***"},
	{Name: PatternBearerToken, Pattern: `Bearer\s+[a-zA-Z0-9\-._~+/]+=*`, Replacement: "Bearer ***"},
	{Name: PatternPassword, Pattern: `(password|passwd|pwd)[:=]\s*[^\s]+`, Replacement: "$1: ***"},
	// userinfo in relay or HTTP URLs
	{Name: PatternURLCredentials, Pattern: `\b(wss?|https?)://[^/\s:@]+:[^/\s@]+@`, Replacement: "$1://***@"},
}

var sensitiveKeys = []string{
	"secret", "seckey", "nsec",
	"private_key", "privatekey",
	"password", "passwd",
	"token", "authorization",
}

// NewRedactor creates a Redactor with the built-in patterns followed by
// the custom ones. Custom patterns that fail to compile are an error.
func NewRedactor(custom []RedactPattern) (*Redactor, error) {
	r := &Redactor{enabled: true}

	for _, p := range defaultPatterns {
		r.patterns = append(r.patterns, &redactPattern{
			name:        p.Name,
			regex:       regexp.MustCompile(p.Pattern),
			replacement: p.Replacement,
		})
	}

	for _, p := range custom {
		regex, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("redact pattern %q: %w", p.Name, err)
		}
		r.patterns = append(r.patterns, &redactPattern{
			name:        p.Name,
			regex:       regex,
			replacement: p.Replacement,
		})
	}

	return r, nil
}

// Patterns returns the names of the active patterns in evaluation order.
func (r *Redactor) Patterns() []string {
	if r == nil {
		return nil
	}
	names := make([]string, len(r.patterns))
	for i, p := range r.patterns {
		names[i] = p.name
	}
	return names
}

// RedactString applies every pattern to value.
func (r *Redactor) RedactString(value string) string {
	if r == nil || !r.enabled || value == "" {
		return value
	}

	redacted := value
	for _, pattern := range r.patterns {
		redacted = pattern.regex.ReplaceAllString(redacted, pattern.replacement)
	}

	return redacted
}

// RedactAttr masks the value of a sensitive key and applies the patterns to
// string values. Groups are walked recursively.
func (r *Redactor) RedactAttr(a slog.Attr) slog.Attr {
	if r == nil || !r.enabled {
		return a
	}

	a.Value = a.Value.Resolve()

	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		redacted := make([]slog.Attr, len(group))
		for i, ga := range group {
			redacted[i] = r.RedactAttr(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(redacted...)}
	}

	if isSensitiveKey(a.Key) {
		return slog.String(a.Key, redactValue(a.Value))
	}

	if a.Value.Kind() == slog.KindString {
		return slog.String(a.Key, r.RedactString(a.Value.String()))
	}

	return a
}

// RedactArgs redacts variadic log arguments of the form key1, value1, ...
func (r *Redactor) RedactArgs(args ...any) []any {
	if r == nil || !r.enabled || len(args) == 0 {
		return args
	}

	redacted := make([]any, len(args))
	copy(redacted, args)

	for i := 1; i < len(redacted); i += 2 {
		if key, ok := redacted[i-1].(string); ok && isSensitiveKey(key) {
			redacted[i] = redactValue(slog.AnyValue(redacted[i]))
			continue
		}
		if str, ok := redacted[i].(string); ok {
			redacted[i] = r.RedactString(str)
		}
	}

	return redacted
}

// isSensitiveKey reports whether a key name indicates secret data.
func isSensitiveKey(key string) bool {
	lowerKey := strings.ToLower(key)
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(lowerKey, sensitive) {
			return true
		}
	}
	return false
}

// redactValue keeps a four character hint of string values.
func redactValue(v slog.Value) string {
	if v.Kind() != slog.KindString {
		return "***"
	}
	s := v.String()
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "***"
}

// RedactSecretKey masks a hex or bech32 secret key, keeping the bech32 prefix.
func RedactSecretKey(key string) string {
	if strings.HasPrefix(key, "nsec1") {
		return "nsec1***"
	}
	return "***"
}
