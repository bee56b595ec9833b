package simulate

import "os"

// ShowHelp prints usage information for the simulation tool.
func ShowHelp() {
	os.Stdout.WriteString(`Tiara Simulation Tool
=====================

Submits predictions for many fans, publishes an official result through
the admin API and checks every served score against a local computation.
The official result of the target service is cleared first.

Usage:
  go run ./cmd/simulate [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -admin-key string
        Admin key (default $TIARA_ADMIN_KEY)
  -fans int
        Number of fans submitting a prediction (default 2000)
  -top int
        Leaderboard entries to fetch and check (default 50)
  -workers int
        Concurrent requests (default CPU cores * 2)
  -timeout duration
        HTTP request timeout (default 10s)
  -settle duration
        Max wait for recomputed scores (default 1m)
  -seed uint
        Generator seed; 0 picks a random one
  -verbose
        Log every fetched leaderboard entry
  -help
        Show this help message
`)
}
