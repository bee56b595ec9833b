// Package simulate drives a running prediction service end to end: it
// submits fan predictions, walks the official result through every stage
// as an admin and checks the served scores against a local computation.
package simulate

import (
	"time"

	"github.com/okian/tiara/internal/domain/model"
)

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL   string        // Base URL of the service
	AdminKey  string        // X-Admin-Key for the result walk-through
	NumFans   int           // Number of fans submitting a prediction
	TopN      int           // Leaderboard entries to fetch
	Workers   int           // Concurrent submitters
	Timeout   time.Duration // HTTP request timeout
	SettleFor time.Duration // Max wait for async recompute to converge
	Seed      uint64        // Seed of the prediction generator; 0 picks one
	Verbose   bool
}

// Stats holds run statistics.
type Stats struct {
	Submitted   int
	Duplicates  int
	Failed      int
	Transitions int
	Verified    int
	Mismatches  int
	StartTime   time.Time
	Duration    time.Duration
}

// Fan is one simulated user and their ranked prediction.
type Fan struct {
	UserID string
	Ranked []string
}

type predictionRequest struct {
	UserID string   `json:"user_id"`
	Ranked []string `json:"ranked"`
}

type submission struct {
	Duplicate bool `json:"duplicate"`
}

type resultView struct {
	Result model.OfficialResult `json:"result"`
	Stage  string               `json:"stage"`
}

// Entry mirrors a leaderboard entry.
type Entry struct {
	Rank         int    `json:"rank"`
	UserID       string `json:"user_id"`
	Score        int    `json:"score"`
	PerfectMatch bool   `json:"perfect_match"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
