// Package httpclient builds the HTTP clients used by outgoing webhook steps
// and the language model completer.
//
// A client is a stack of round trippers over a pooled TLS 1.2+ transport:
//
//	rate limit -> retry -> logging -> base transport
//
// The logging layer sets the User-Agent, propagates the trace context and
// logs each request with sensitive query parameters redacted. The retry layer
// retries 5xx, 408 and 429 responses and transient network errors with
// exponential backoff and jitter. Only GET, HEAD and OPTIONS are retried
// unless AllowNonIdempotentRetry is set. The rate limit layer applies a
// token bucket per destination host.
//
//	cfg := httpclient.DefaultConfig()
//	cfg.RateLimit = 5
//	client, err := httpclient.New(cfg)
package httpclient
