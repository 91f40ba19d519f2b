/*
main.go - Application entry point

PURPOSE:
  ledgerd runs the prepaid balance ledger: the HTTP API, the notification
  watcher and the expiry scheduler. One-shot maintenance commands share the
  same wiring.

COMMANDS:
  serve                 Start the HTTP server (default)
  sweep                 Run one expiry sweep and exit
  reconcile <balance>   Print a balance's reconciliation report

CONFIGURATION:
  --config path/to/ledger.yaml, then .env, then LEDGER_* variables, then
  command-line flags. See config/config.go.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop scheduler and watcher
  4. Close broker, dispatcher and database

EXAMPLES:
  ledgerd serve --db=":memory:" --port=3000
  ledgerd sweep --config=./ledger.yaml
  ledgerd reconcile BAL00412345
*/
package main

import (
	"fmt"
	"os"
)

var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
