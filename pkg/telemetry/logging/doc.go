// Package logging configures structured logging for relayguard.
//
// The package wraps log/slog with JSON, text and console output, a level
// that can be changed at runtime (config reloads call SetLevel), and a
// handler that masks secret key material before it reaches the writer.
//
// # Usage
//
//	logger, err := logging.New(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	    Redact: true,
//	})
//	if err != nil {
//	    return err
//	}
//
//	limiter := admission.New(cfg, admission.WithLogger(logger.Component("limits.admission")))
//
// # Redaction
//
// With Redact enabled the handler rewrites attributes:
//
//   - bech32 secret keys: nsec1qy2... → nsec1***
//   - values under keys containing secret, private_key, token, password: first four characters kept
//   - bearer tokens and URL userinfo
//
// Additional patterns are supplied through Config.RedactPatterns.
//
// # Context fields
//
// Request IDs, subscription handles and endpoints stored with WithRequestID,
// WithSubscription and WithEndpoint are added to every record logged with
// that context.
package logging
