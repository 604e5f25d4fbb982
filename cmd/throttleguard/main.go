// Command throttleguard runs the request guard: per-subject rate limiting and
// behavioral anomaly detection in front of a healthcare API.
//
// Usage:
//
//	# Start the server with config.yaml from the working directory
//	throttleguard run
//
//	# Inspect and reset a running server
//	throttleguard stats --addr 127.0.0.1:8080
//	throttleguard reset user-42
//
//	# Query the audit trail
//	throttleguard audit query --action rate_limit_exceeded --since 24h
//
//	# Check a configuration file
//	throttleguard validate --config /etc/throttleguard/config.yaml
package main

import (
	"fmt"
	"os"

	"github.com/rpzk/throttleguard/pkg/cli"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}
