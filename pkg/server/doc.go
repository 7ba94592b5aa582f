// Package server provides the HTTP admission API.
//
// Endpoints:
//
//	POST /v1/check   - run an admission check for a credential and endpoint
//	GET  /v1/stats   - usage statistics for one credential
//	GET  /v1/system  - service-wide statistics
//	POST /v1/reset   - clear the counters for one credential
//	GET  /healthz    - liveness probe
//	GET  /metrics    - Prometheus metrics (when enabled)
//
// A denied check answers 429 with a Retry-After header carrying whole
// seconds until the window resets. Allowed checks answer 200 with the
// remaining allowance in X-RateLimit-Remaining.
package server
