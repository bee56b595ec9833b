package simulate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/tiara/internal/domain/model"
	"github.com/okian/tiara/internal/domain/scoring"
	"github.com/okian/tiara/pkg/logger"
)

const pollInterval = 200 * time.Millisecond

// ErrVerification is returned when served scores disagree with the local
// computation.
var ErrVerification = errors.New("verification failed")

type predictionView struct {
	Score *model.Score `json:"score"`
}

// expectedScores scores every fan locally against r.
func expectedScores(fans []Fan, r *model.OfficialResult) (map[string]int, error) {
	out := make(map[string]int, len(fans))
	for _, f := range fans {
		res, err := scoring.Score(f.Ranked, r)
		if err != nil {
			return nil, fmt.Errorf("score %s locally: %w", f.UserID, err)
		}
		out[f.UserID] = res.Score
	}
	return out, nil
}

// verifyScores polls each fan's stored score until it reflects version
// and then compares it with the expected value.
func verifyScores(ctx context.Context, c *client, cfg *Config, expected map[string]int, version int64, stats *Stats) error {
	deadline := time.Now().Add(cfg.SettleFor)
	var verified, mismatches atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Workers, 1))
	for userID, want := range expected {
		g.Go(func() error {
			for {
				var view predictionView
				_, err := c.do(gctx, http.MethodGet, "/predictions/"+userID, nil, &view)
				if err != nil {
					return fmt.Errorf("read prediction of %s: %w", userID, err)
				}
				if view.Score != nil && view.Score.ResultVersion >= version {
					if view.Score.Score != want {
						mismatches.Add(1)
						logger.Get().Warn(gctx, "score mismatch",
							logger.String("user_id", userID),
							logger.Int("served", view.Score.Score),
							logger.Int("expected", want),
						)
					} else {
						verified.Add(1)
					}
					return nil
				}
				if time.Now().After(deadline) {
					return fmt.Errorf("%w: score of %s did not reach version %d", ErrVerification, userID, version)
				}
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-time.After(pollInterval):
				}
			}
		})
	}
	err := g.Wait()
	stats.Verified = int(verified.Load())
	stats.Mismatches = int(mismatches.Load())
	if err != nil {
		return err
	}
	if stats.Mismatches > 0 {
		return fmt.Errorf("%w: %d scores differ", ErrVerification, stats.Mismatches)
	}
	return nil
}

// verifyLeaderboard checks ordering, competition ranks and that the
// leader holds the best expected score.
func verifyLeaderboard(board []Entry, expected map[string]int) error {
	if len(board) == 0 {
		if len(expected) == 0 {
			return nil
		}
		return fmt.Errorf("%w: empty leaderboard", ErrVerification)
	}
	best := 0
	for _, s := range expected {
		best = max(best, s)
	}
	if board[0].Score != best || board[0].Rank != 1 {
		return fmt.Errorf("%w: leader %s has %d at rank %d, best expected %d",
			ErrVerification, board[0].UserID, board[0].Score, board[0].Rank, best)
	}
	for i := 1; i < len(board); i++ {
		prev, cur := board[i-1], board[i]
		switch {
		case cur.Score > prev.Score:
			return fmt.Errorf("%w: entry %d outscores entry %d", ErrVerification, i, i-1)
		case cur.Score == prev.Score && cur.Rank != prev.Rank:
			return fmt.Errorf("%w: tied entries %d and %d have ranks %d and %d", ErrVerification, i-1, i, prev.Rank, cur.Rank)
		case cur.Score < prev.Score && cur.Rank != i+1:
			return fmt.Errorf("%w: entry %d has rank %d, want %d", ErrVerification, i, cur.Rank, i+1)
		}
		if want, ok := expected[cur.UserID]; ok && want != cur.Score {
			return fmt.Errorf("%w: leaderboard score of %s is %d, want %d", ErrVerification, cur.UserID, cur.Score, want)
		}
	}
	return nil
}

func displayLeaders(ctx context.Context, log logger.Logger, board []Entry, verbose bool) {
	n := min(len(board), 10)
	if verbose {
		n = len(board)
	}
	for _, e := range board[:n] {
		log.Info(ctx, "leader",
			logger.Int("rank", e.Rank),
			logger.String("user_id", e.UserID),
			logger.Int("score", e.Score),
			logger.Bool("perfect", e.PerfectMatch),
		)
	}
}
