// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/okian/tiara/internal/adapters/repository"
	service "github.com/okian/tiara/internal/app"
	"github.com/okian/tiara/internal/domain/results"
	"github.com/okian/tiara/pkg/logger"
)

const maxBodyBytes = 64 << 10

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the service implementation.
type Dependencies interface {
	CandidateDependencies
	PredictionDependencies
	ResultDependencies
	AdminDependencies
	LeaderboardDependencies
	RankDependencies
	StatsProvider
}

// Entry mirrors the read shape returned by leaderboard queries.
type Entry = repository.Entry

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	candidatesHandler  *CandidatesHandler
	predictionsHandler *PredictionsHandler
	resultsHandler     *ResultsHandler
	adminHandler       *AdminHandler
	leaderboardHandler *LeaderboardHandler
	rankHandler        *RankHandler

	adminKey string
	logger   logger.Logger
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	o := options{maxLimit: defaultMaxLimit}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Get().Named("api")
	}
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(deps),
		candidatesHandler:  NewCandidatesHandler(deps, o.maxLimit),
		predictionsHandler: NewPredictionsHandler(deps),
		resultsHandler:     NewResultsHandler(deps),
		adminHandler:       NewAdminHandler(deps, o.logger),
		leaderboardHandler: NewLeaderboardHandler(deps, o.maxLimit),
		rankHandler:        NewRankHandler(deps),
		adminKey:           o.adminKey,
		logger:             o.logger,
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("GET /candidates", MetricsMiddleware(s.candidatesHandler.HandleList, "candidates"))
	mux.HandleFunc("GET /candidates/{id}", MetricsMiddleware(s.candidatesHandler.HandleGet, "candidate"))

	mux.HandleFunc("POST /predictions", MetricsMiddleware(s.predictionsHandler.HandleSubmit, "predictions"))
	mux.HandleFunc("POST /predictions/preview", MetricsMiddleware(s.predictionsHandler.HandlePreview, "preview"))
	mux.HandleFunc("GET /predictions/{user_id}", MetricsMiddleware(s.predictionsHandler.HandleGet, "prediction"))
	mux.HandleFunc("GET /predictions/{user_id}/history", MetricsMiddleware(s.predictionsHandler.HandleHistory, "prediction_history"))

	mux.HandleFunc("GET /results", MetricsMiddleware(s.resultsHandler.HandleCurrent, "results"))
	mux.HandleFunc("GET /results/candidates/{candidate_id}", MetricsMiddleware(s.resultsHandler.HandleCandidate, "result_candidate"))

	admin := func(h http.HandlerFunc, endpoint string) http.HandlerFunc {
		return MetricsMiddleware(AdminMiddleware(h, s.adminKey), endpoint)
	}
	mux.HandleFunc("POST /admin/results/semi-finalists/{id}", admin(s.adminHandler.HandleTransition(results.PromoteSemiFinalist), "admin_semi_finalists"))
	mux.HandleFunc("DELETE /admin/results/semi-finalists/{id}", admin(s.adminHandler.HandleTransition(results.DemoteSemiFinalist), "admin_semi_finalists"))
	mux.HandleFunc("POST /admin/results/top-five/{id}", admin(s.adminHandler.HandleTransition(results.PromoteTopFive), "admin_top_five"))
	mux.HandleFunc("DELETE /admin/results/top-five/{id}", admin(s.adminHandler.HandleTransition(results.DemoteTopFive), "admin_top_five"))
	mux.HandleFunc("PUT /admin/results/positions/{position}", admin(s.adminHandler.HandleAssign, "admin_positions"))
	mux.HandleFunc("DELETE /admin/results/positions/{position}", admin(s.adminHandler.HandleClearPosition, "admin_positions"))
	mux.HandleFunc("DELETE /admin/results", admin(s.adminHandler.HandleClear, "admin_results"))
	mux.HandleFunc("POST /admin/recompute", admin(s.adminHandler.HandleRecompute, "admin_recompute"))

	mux.HandleFunc("GET /leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
	mux.HandleFunc("GET /rank/{user_id}", MetricsMiddleware(s.rankHandler.HandleGetRank, "rank"))
}

// Handler returns mux wrapped with the server-wide middleware.
func (s *Server) Handler(mux *http.ServeMux) http.Handler {
	return RequestIDMiddleware(RecoverMiddleware(mux, s.logger))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// decodeJSON reads a bounded JSON body into dst and validates its tags.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: field %s failed %q", ErrBadRequest, verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return nil
}

// compile-time check that the service satisfies the handler contracts.
var _ Dependencies = (*service.Service)(nil)
