// Package httpclient provides the HTTP client factory shared by dispatch
// adapters and health probers.
//
// Clients are built with consistent timeout, retry, and logging behavior:
//   - Automatic retry with exponential backoff and jitter
//   - Retry-After header support for 429 responses
//   - Request logging with sanitized URLs (sensitive parameters redacted)
//   - User-Agent header injection
//   - TLS 1.2 minimum (TLS 1.3 preferred)
//   - Connection pooling
//
// # Usage
//
//	cfg := httpclient.DefaultConfig()
//	cfg.UserAgent = "foreman-github-adapter/1.0"
//	client, err := httpclient.New(cfg)
//	if err != nil {
//	    return err
//	}
//	resp, err := client.Get("https://api.example.com/resource")
//
// # Retry behavior
//
// Transient failures are retried with exponential backoff:
//   - HTTP 5xx server errors
//   - HTTP 429 (rate limit), honouring Retry-After
//   - HTTP 408 (request timeout)
//   - Network errors (connection refused, reset, temporary DNS failures)
//
// 4xx client errors other than 408 and 429 are never retried. Only
// idempotent methods (GET, HEAD, OPTIONS) retry by default. Dispatch
// triggers are POSTs and are not retried here; retrying a trigger is a
// scheduling decision, not a transport one.
package httpclient
