package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/okian/tiara/internal/domain/model"
	"github.com/okian/tiara/internal/domain/results"
	"github.com/okian/tiara/pkg/metrics"
)

// Supported drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const resultRowID = 1

var schema = []string{
	`CREATE TABLE IF NOT EXISTS candidates (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		region TEXT NOT NULL DEFAULT '',
		number INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS predictions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		ranked TEXT NOT NULL,
		submitted_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS predictions_user_idx ON predictions (user_id, submitted_at)`,
	`CREATE TABLE IF NOT EXISTS official_result (
		id INTEGER PRIMARY KEY,
		semi_finalists TEXT NOT NULL,
		top_five TEXT NOT NULL,
		final_ranking TEXT NOT NULL,
		version BIGINT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS scores (
		user_id TEXT PRIMARY KEY,
		score INTEGER NOT NULL,
		perfect_match INTEGER NOT NULL,
		result_version BIGINT NOT NULL,
		submitted_at BIGINT NOT NULL,
		scored_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS score_fence (
		id INTEGER PRIMARY KEY,
		cleared_version BIGINT NOT NULL
	)`,
}

// Open returns the stores for driver. The memory driver ignores dsn.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Stores, error) {
	if driver == "" || driver == DriverMemory {
		return NewMemoryStores(opts...), nil
	}
	db, err := OpenSQL(ctx, driver, dsn, opts...)
	if err != nil {
		return nil, err
	}
	board := NewTreapLeaderboard()
	scores, err := NewProjection(ctx, db.Scores(), board)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Stores{
		Predictions: db.Predictions(),
		Results:     db.Results(),
		Scores:      scores,
		Leaderboard: board,
		Candidates:  db,
		closeFn:     db.Close,
	}, nil
}

// SQLStore persists everything in one database/sql handle.
type SQLStore struct {
	db     *sql.DB
	driver string
	opts   options
	notify *broadcaster
}

// OpenSQL connects and creates the schema.
func OpenSQL(ctx context.Context, driver, dsn string, opts ...Option) (*SQLStore, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// one writer; also keeps a :memory: database alive on one connection
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w: %w", driver, ErrTransient, err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return &SQLStore{db: db, driver: driver, opts: buildOptions(opts), notify: newBroadcaster()}, nil
}

// Close closes the database.
func (s *SQLStore) Close() error { return s.db.Close() }

// Predictions returns the prediction store view.
func (s *SQLStore) Predictions() PredictionStore { return &sqlPredictions{s} }

// Results returns the result store view.
func (s *SQLStore) Results() ResultStore { return &sqlResults{s} }

// Scores returns the score store view.
func (s *SQLStore) Scores() ScoreStore { return &sqlScores{s} }

// UpsertCandidates writes the candidate catalogue.
func (s *SQLStore) UpsertCandidates(ctx context.Context, cands []model.Candidate) error {
	defer s.observe("candidates", "upsert", time.Now())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap("begin", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, c := range cands {
		_, err := tx.ExecContext(ctx, `INSERT INTO candidates (id, name, region, number) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET name = excluded.name, region = excluded.region, number = excluded.number`,
			c.ID, c.Name, c.Region, c.Number)
		if err != nil {
			return s.wrap("upsert candidate", err)
		}
	}
	return s.wrap("commit", tx.Commit())
}

// Candidates reads the candidate catalogue ordered by number.
func (s *SQLStore) Candidates(ctx context.Context) ([]model.Candidate, error) {
	defer s.observe("candidates", "list", time.Now())
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, region, number FROM candidates ORDER BY number, id`)
	if err != nil {
		return nil, s.wrap("list candidates", err)
	}
	defer rows.Close()
	var out []model.Candidate
	for rows.Next() {
		var c model.Candidate
		if err := rows.Scan(&c.ID, &c.Name, &c.Region, &c.Number); err != nil {
			return nil, s.wrap("scan candidate", err)
		}
		out = append(out, c)
	}
	return out, s.wrap("list candidates", rows.Err())
}

func (s *SQLStore) observe(store, op string, start time.Time) {
	metrics.RecordStoreLatency(store, op, float64(time.Since(start).Microseconds())/1000)
}

// wrap marks connection-level failures as transient.
func (s *SQLStore) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	metrics.RecordError("repository", s.driver)
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "database is locked") {
		return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

type sqlPredictions struct{ *SQLStore }

func (s *sqlPredictions) Save(ctx context.Context, p model.Prediction) error {
	defer s.observe("predictions", "save", time.Now())
	ranked, err := json.Marshal(p.Ranked)
	if err != nil {
		return fmt.Errorf("encode prediction: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO predictions (id, user_id, ranked, submitted_at) VALUES ($1, $2, $3, $4)`,
		uuid.NewString(), p.UserID, string(ranked), p.SubmittedAt.UnixMicro())
	return s.wrap("save prediction", err)
}

func (s *sqlPredictions) Latest(ctx context.Context, userID string) (model.Prediction, error) {
	defer s.observe("predictions", "latest", time.Now())
	row := s.db.QueryRowContext(ctx, `SELECT user_id, ranked, submitted_at FROM predictions
		WHERE user_id = $1 ORDER BY submitted_at DESC LIMIT 1`, userID)
	p, err := scanPrediction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Prediction{}, ErrNotFound
	}
	if err != nil {
		return model.Prediction{}, s.wrap("latest prediction", err)
	}
	return p, nil
}

func (s *sqlPredictions) All(ctx context.Context) ([]model.Prediction, error) {
	defer s.observe("predictions", "all", time.Now())
	rows, err := s.db.QueryContext(ctx, `SELECT p.user_id, p.ranked, p.submitted_at FROM predictions p
		WHERE p.submitted_at = (SELECT MAX(q.submitted_at) FROM predictions q WHERE q.user_id = p.user_id)
		ORDER BY p.user_id`)
	if err != nil {
		return nil, s.wrap("list predictions", err)
	}
	defer rows.Close()
	var out []model.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, s.wrap("scan prediction", err)
		}
		// equal timestamps for one user: keep the first row
		if n := len(out); n > 0 && out[n-1].UserID == p.UserID {
			continue
		}
		out = append(out, p)
	}
	return out, s.wrap("list predictions", rows.Err())
}

func (s *sqlPredictions) History(ctx context.Context, userID string) ([]model.Prediction, error) {
	defer s.observe("predictions", "history", time.Now())
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, ranked, submitted_at FROM predictions
		WHERE user_id = $1 ORDER BY submitted_at`, userID)
	if err != nil {
		return nil, s.wrap("prediction history", err)
	}
	defer rows.Close()
	var out []model.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, s.wrap("scan prediction", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("prediction history", err)
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPrediction(sc scanner) (model.Prediction, error) {
	var (
		p       model.Prediction
		ranked  string
		submits int64
	)
	if err := sc.Scan(&p.UserID, &ranked, &submits); err != nil {
		return p, err
	}
	if err := json.Unmarshal([]byte(ranked), &p.Ranked); err != nil {
		return p, fmt.Errorf("decode prediction of %s: %w", p.UserID, err)
	}
	p.SubmittedAt = time.UnixMicro(submits).UTC()
	return p, nil
}

type sqlResults struct{ *SQLStore }

func (s *sqlResults) Current(ctx context.Context) (model.OfficialResult, error) {
	defer s.observe("results", "current", time.Now())
	r, _, err := s.load(ctx, s.db)
	return r, err
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// load reads the result row; found is false before the first commit.
func (s *sqlResults) load(ctx context.Context, q querier) (model.OfficialResult, bool, error) {
	var (
		r                    model.OfficialResult
		semis, top, ranking  string
		createdAt, updatedAt int64
	)
	err := q.QueryRowContext(ctx, `SELECT semi_finalists, top_five, final_ranking, version, created_at, updated_at
		FROM official_result WHERE id = $1`, resultRowID).
		Scan(&semis, &top, &ranking, &r.Version, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.OfficialResult{}, false, nil
	}
	if err != nil {
		return r, false, s.wrap("load result", err)
	}
	if err := json.Unmarshal([]byte(semis), &r.SemiFinalists); err != nil {
		return r, false, fmt.Errorf("decode semi-finalists: %w", err)
	}
	if err := json.Unmarshal([]byte(top), &r.TopFive); err != nil {
		return r, false, fmt.Errorf("decode top five: %w", err)
	}
	if err := json.Unmarshal([]byte(ranking), &r.FinalRanking); err != nil {
		return r, false, fmt.Errorf("decode final ranking: %w", err)
	}
	r.CreatedAt = time.UnixMicro(createdAt).UTC()
	r.UpdatedAt = time.UnixMicro(updatedAt).UTC()
	if err := results.Validate(&r); err != nil {
		metrics.RecordIntegrityViolation()
		return r, true, err
	}
	return r, true, nil
}

func (s *sqlResults) Update(ctx context.Context, fn func(*model.OfficialResult) error) (model.OfficialResult, error) {
	defer s.observe("results", "update", time.Now())
	return s.commit(ctx, fn)
}

// Reset reads only the version of the stored row, so a row that fails
// validation can still be cleared.
func (s *sqlResults) Reset(ctx context.Context) (model.OfficialResult, error) {
	defer s.observe("results", "reset", time.Now())
	var (
		cur       model.OfficialResult
		createdAt int64
		found     = true
	)
	err := s.db.QueryRowContext(ctx, `SELECT version, created_at FROM official_result WHERE id = $1`, resultRowID).
		Scan(&cur.Version, &createdAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		found = false
	case err != nil:
		return model.OfficialResult{}, s.wrap("load result version", err)
	default:
		cur.CreatedAt = time.UnixMicro(createdAt).UTC()
	}
	next := cur.Clone()
	results.Reset(&next)
	return s.write(ctx, cur, next, found, true)
}

func (s *sqlResults) Subscribe(ctx context.Context) <-chan model.ResultChange {
	return s.notify.subscribe(ctx)
}

// commit applies fn with an optimistic version check. A concurrent
// writer makes it return ErrVersionConflict.
func (s *sqlResults) commit(ctx context.Context, fn func(*model.OfficialResult) error) (model.OfficialResult, error) {
	cur, found, err := s.load(ctx, s.db)
	if err != nil {
		return cur, err
	}
	next := cur.Clone()
	if err := fn(&next); err != nil {
		return cur, err
	}
	if sameResult(&cur, &next) {
		return cur, nil
	}
	if err := results.Validate(&next); err != nil {
		metrics.RecordIntegrityViolation()
		return cur, err
	}
	return s.write(ctx, cur, next, found, false)
}

// write stores next over cur when the row still holds cur's version.
func (s *sqlResults) write(ctx context.Context, cur, next model.OfficialResult, found, cleared bool) (model.OfficialResult, error) {
	var err error
	now := s.opts.now().UTC()
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	next.UpdatedAt = now
	next.Version = cur.Version + 1

	semis, _ := json.Marshal(nonNil(next.SemiFinalists))
	top, _ := json.Marshal(nonNil(next.TopFive))
	ranking, _ := json.Marshal(next.FinalRanking)

	var res sql.Result
	if !found {
		res, err = s.db.ExecContext(ctx, `INSERT INTO official_result
			(id, semi_finalists, top_five, final_ranking, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (id) DO NOTHING`,
			resultRowID, string(semis), string(top), string(ranking), next.Version,
			next.CreatedAt.UnixMicro(), next.UpdatedAt.UnixMicro())
	} else {
		res, err = s.db.ExecContext(ctx, `UPDATE official_result SET semi_finalists = $1, top_five = $2,
			final_ranking = $3, version = $4, created_at = $5, updated_at = $6 WHERE id = $7 AND version = $8`,
			string(semis), string(top), string(ranking), next.Version,
			next.CreatedAt.UnixMicro(), next.UpdatedAt.UnixMicro(), resultRowID, cur.Version)
	}
	if err != nil {
		return cur, s.wrap("commit result", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return cur, s.wrap("commit result", err)
	}
	if n == 0 {
		return cur, ErrVersionConflict
	}

	s.notify.publish(model.ResultChange{Version: next.Version, Cleared: cleared, At: next.UpdatedAt})
	return next, nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

type sqlScores struct{ *SQLStore }

func (s *sqlScores) Upsert(ctx context.Context, sc model.Score) (bool, error) {
	defer s.observe("scores", "upsert", time.Now())
	perfect := 0
	if sc.PerfectMatch {
		perfect = 1
	}
	// the SELECT yields no row for scores at or below the clear fence
	res, err := s.db.ExecContext(ctx, `INSERT INTO scores
		(user_id, score, perfect_match, result_version, submitted_at, scored_at)
		SELECT CAST($1 AS TEXT), CAST($2 AS INTEGER), CAST($3 AS INTEGER), CAST($4 AS BIGINT),
			CAST($5 AS BIGINT), CAST($6 AS BIGINT)
		WHERE CAST($4 AS BIGINT) > COALESCE((SELECT cleared_version FROM score_fence WHERE id = $7), $8)
		ON CONFLICT (user_id) DO UPDATE SET score = excluded.score, perfect_match = excluded.perfect_match,
		result_version = excluded.result_version, submitted_at = excluded.submitted_at, scored_at = excluded.scored_at
		WHERE scores.result_version < excluded.result_version
		OR (scores.result_version = excluded.result_version AND scores.submitted_at <= excluded.submitted_at)`,
		sc.UserID, sc.Score, perfect, sc.ResultVersion, sc.SubmittedAt.UnixMicro(), sc.ScoredAt.UnixMicro(),
		resultRowID, noFence)
	if err != nil {
		return false, s.wrap("upsert score", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, s.wrap("upsert score", err)
	}
	return n > 0, nil
}

func (s *sqlScores) Get(ctx context.Context, userID string) (model.Score, error) {
	defer s.observe("scores", "get", time.Now())
	row := s.db.QueryRowContext(ctx, `SELECT user_id, score, perfect_match, result_version, submitted_at, scored_at
		FROM scores WHERE user_id = $1`, userID)
	sc, err := scanScore(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Score{}, ErrNotFound
	}
	return sc, s.wrap("get score", err)
}

func (s *sqlScores) All(ctx context.Context) ([]model.Score, error) {
	defer s.observe("scores", "all", time.Now())
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, score, perfect_match, result_version, submitted_at, scored_at
		FROM scores ORDER BY user_id`)
	if err != nil {
		return nil, s.wrap("list scores", err)
	}
	defer rows.Close()
	var out []model.Score
	for rows.Next() {
		sc, err := scanScore(rows)
		if err != nil {
			return nil, s.wrap("scan score", err)
		}
		out = append(out, sc)
	}
	return out, s.wrap("list scores", rows.Err())
}

func (s *sqlScores) ClearAll(ctx context.Context, version int64) error {
	defer s.observe("scores", "clear", time.Now())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap("begin", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `INSERT INTO score_fence (id, cleared_version) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET cleared_version = excluded.cleared_version
		WHERE score_fence.cleared_version < excluded.cleared_version`, resultRowID, version); err != nil {
		return s.wrap("fence scores", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM scores WHERE result_version <= $1`, version); err != nil {
		return s.wrap("clear scores", err)
	}
	return s.wrap("commit", tx.Commit())
}

func scanScore(sc scanner) (model.Score, error) {
	var (
		out                 model.Score
		perfect             int
		submitted, scoredAt int64
	)
	if err := sc.Scan(&out.UserID, &out.Score, &perfect, &out.ResultVersion, &submitted, &scoredAt); err != nil {
		return out, err
	}
	out.PerfectMatch = perfect != 0
	out.SubmittedAt = time.UnixMicro(submitted).UTC()
	out.ScoredAt = time.UnixMicro(scoredAt).UTC()
	return out, nil
}
