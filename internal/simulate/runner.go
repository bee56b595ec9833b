package simulate

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/okian/tiara/internal/domain/model"
	"github.com/okian/tiara/pkg/logger"
)

// replayEvery resubmits every n-th prediction with the same idempotency key.
const replayEvery = 20

// ErrTooFewCandidates is returned when the registry cannot fill a prediction.
var ErrTooFewCandidates = errors.New("registry has fewer candidates than a prediction needs")

// Run executes a complete simulation against cfg.BaseURL. It clears the
// official result before publishing a new one.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	log := logger.Get().Named("simulate")
	stats := &Stats{StartTime: time.Now()}
	c := newClient(cfg.BaseURL, cfg.AdminKey, cfg.Timeout)

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	log.Info(ctx, "starting simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("fans", cfg.NumFans),
		logger.Int("workers", cfg.Workers),
		logger.String("seed", strconv.FormatUint(seed, 10)),
	)

	if _, err := c.do(ctx, http.MethodGet, "/healthz", nil, nil); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	var candidates []model.Candidate
	if _, err := c.do(ctx, http.MethodGet, "/candidates", nil, &candidates); err != nil {
		return stats, fmt.Errorf("list candidates: %w", err)
	}
	if len(candidates) < model.FinalPositions {
		return stats, ErrTooFewCandidates
	}
	gen := newGenerator(seed, candidates)

	if err := c.admin(ctx, http.MethodDelete, "/admin/results", nil); err != nil {
		return stats, fmt.Errorf("clear results: %w", err)
	}

	fans := gen.fans(cfg.NumFans)
	if err := submitAll(ctx, c, cfg.Workers, fans, stats); err != nil {
		return stats, err
	}
	log.Info(ctx, "predictions submitted",
		logger.Int("submitted", stats.Submitted),
		logger.Int("duplicates", stats.Duplicates),
		logger.Int("failed", stats.Failed),
	)

	semis, topFive, final := gen.outcome()
	if err := publish(ctx, c, semis, topFive, final, stats); err != nil {
		return stats, err
	}

	var current resultView
	if _, err := c.do(ctx, http.MethodGet, "/results", nil, &current); err != nil {
		return stats, fmt.Errorf("read result: %w", err)
	}
	log.Info(ctx, "official result published",
		logger.String("stage", current.Stage),
		logger.Int64("version", current.Result.Version),
		logger.Strings("final", current.Result.FinalRanking[:]),
	)

	expected, err := expectedScores(fans, &current.Result)
	if err != nil {
		return stats, err
	}
	if err := verifyScores(ctx, c, cfg, expected, current.Result.Version, stats); err != nil {
		return stats, err
	}

	var board []Entry
	if _, err := c.do(ctx, http.MethodGet, "/leaderboard?limit="+strconv.Itoa(cfg.TopN), nil, &board); err != nil {
		return stats, fmt.Errorf("read leaderboard: %w", err)
	}
	if err := verifyLeaderboard(board, expected); err != nil {
		return stats, err
	}
	displayLeaders(ctx, log, board, cfg.Verbose)

	stats.Duration = time.Since(stats.StartTime)
	log.Info(ctx, "simulation completed",
		logger.Int("transitions", stats.Transitions),
		logger.Int("verified", stats.Verified),
		logger.Duration("duration", stats.Duration),
	)
	return stats, nil
}

// submitAll posts every fan's prediction with a fresh idempotency key,
// replaying some keys to exercise deduplication.
func submitAll(ctx context.Context, c *client, workers int, fans []Fan, stats *Stats) error {
	var submitted, duplicates, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i, f := range fans {
		g.Go(func() error {
			key := uuid.NewString()
			sends := 1
			if i%replayEvery == 0 {
				sends = 2
			}
			for range sends {
				var sub submission
				_, err := c.do(gctx, http.MethodPost, "/predictions", predictionRequest(f), &sub, "Idempotency-Key", key)
				switch {
				case errors.Is(err, context.Canceled):
					return err
				case err != nil:
					failed.Add(1)
				case sub.Duplicate:
					duplicates.Add(1)
				default:
					submitted.Add(1)
				}
			}
			return nil
		})
	}
	err := g.Wait()
	stats.Submitted = int(submitted.Load())
	stats.Duplicates = int(duplicates.Load())
	stats.Failed = int(failed.Load())
	if err != nil {
		return fmt.Errorf("submit predictions: %w", err)
	}
	return nil
}

// publish walks the official result through every stage.
func publish(ctx context.Context, c *client, semis, topFive, final []string, stats *Stats) error {
	for _, id := range semis {
		if err := c.admin(ctx, http.MethodPost, "/admin/results/semi-finalists/"+id, nil); err != nil {
			return fmt.Errorf("promote semi-finalist: %w", err)
		}
		stats.Transitions++
	}
	for _, id := range topFive {
		if err := c.admin(ctx, http.MethodPost, "/admin/results/top-five/"+id, nil); err != nil {
			return fmt.Errorf("promote top five: %w", err)
		}
		stats.Transitions++
	}
	for pos, id := range final {
		body := map[string]string{"candidate_id": id}
		if err := c.admin(ctx, http.MethodPut, "/admin/results/positions/"+strconv.Itoa(pos), body); err != nil {
			return fmt.Errorf("assign position %d: %w", pos, err)
		}
		stats.Transitions++
	}
	return nil
}
