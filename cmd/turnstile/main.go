// Turnstile is a multi-dimensional admission control service.
//
// It decides, per request, whether a caller may perform an operation by
// checking the whitelist, the block registry, flood detection and the
// user, address, endpoint, tenant and global buckets. Buckets live in
// process or, in distributed mode, in Redis behind a circuit breaker.
//
// Usage:
//
//	# Start the server with built-in defaults
//	turnstile run
//
//	# Start with a configuration file (hot-reloaded)
//	turnstile run --config /etc/turnstile/config.yaml
//
//	# Validate a configuration file
//	turnstile validate --config config.yaml
//
//	# Print the effective configuration
//	turnstile config show --format yaml
//
//	# Exercise the engine locally
//	turnstile check --operation auth.login --user u-1 --count 20
//
//	# Show version information
//	turnstile version
package main

import "os"

func main() {
	os.Exit(Execute())
}
