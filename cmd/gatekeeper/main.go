// Gatekeeper is a rate-limit admission service.
//
// It answers one question per request: may this caller perform this
// operation right now? Admission is decided against fixed-window
// counters kept per scope (credential, sub-identity, endpoint), every
// decision is recorded in a usage ledger, and aggregated statistics are
// served over HTTP.
//
// Usage:
//
//	# Start server with default configuration
//	gatekeeper run
//
//	# Start with custom configuration file
//	gatekeeper run --config /path/to/config.yaml
//
//	# Validate configuration without starting the server
//	gatekeeper run --dry-run
//
//	# Show version information
//	gatekeeper version
package main

func main() {
	Execute()
}
