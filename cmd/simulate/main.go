package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/tiara/internal/simulate"
	"github.com/okian/tiara/pkg/logger"
)

// Default configuration constants.
const (
	defaultFans        = 2000
	defaultTopN        = 50
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 10 * time.Second
	defaultSettle      = time.Minute
	defaultTestTimeout = 10 * time.Minute
)

func main() {
	var (
		baseURL  = flag.String("url", "http://localhost:9080", "Base URL of the service")
		adminKey = flag.String("admin-key", os.Getenv("TIARA_ADMIN_KEY"), "Admin key for the result walk-through")
		fans     = flag.Int("fans", defaultFans, "Number of fans submitting a prediction")
		topN     = flag.Int("top", defaultTopN, "Leaderboard entries to fetch and check")
		workers  = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Concurrent requests")
		timeout  = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		settle   = flag.Duration("settle", defaultSettle, "Max wait for recomputed scores")
		seed     = flag.Uint64("seed", 0, "Generator seed; 0 picks a random one")
		verbose  = flag.Bool("verbose", false, "Log every fetched leaderboard entry")
		help     = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		simulate.ShowHelp()
		return
	}
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTestTimeout)
	defer cancel()

	_, err := simulate.Run(ctx, &simulate.Config{
		BaseURL:   *baseURL,
		AdminKey:  *adminKey,
		NumFans:   *fans,
		TopN:      *topN,
		Workers:   *workers,
		Timeout:   *timeout,
		SettleFor: *settle,
		Seed:      *seed,
		Verbose:   *verbose,
	})
	if err != nil {
		logger.Get().Error(ctx, "simulation failed", logger.Error(err))
		cancel()
		os.Exit(1)
	}
}
