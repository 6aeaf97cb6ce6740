package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/review-crawler/internal/db"
	"github.com/sells-group/review-crawler/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	hotel_key     TEXT NOT NULL,
	hotel         JSONB NOT NULL,
	seeds         JSONB NOT NULL,
	status        TEXT NOT NULL DEFAULT 'running',
	review_count  INTEGER NOT NULL DEFAULT 0,
	failure_count INTEGER NOT NULL DEFAULT 0,
	error         TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS review_urls (
	run_id   TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	url      TEXT NOT NULL,
	PRIMARY KEY (run_id, position)
);

CREATE TABLE IF NOT EXISTS page_failures (
	run_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	position  INTEGER NOT NULL,
	url       TEXT NOT NULL,
	kind      TEXT NOT NULL,
	attempts  INTEGER NOT NULL DEFAULT 0,
	error     TEXT NOT NULL,
	failed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, position)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_hotel_key ON runs(hotel_key);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, hotel model.Hotel, seeds []string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	hotelJSON, err := json.Marshal(hotel)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal hotel")
	}
	if seeds == nil {
		seeds = []string{}
	}
	seedsJSON, err := json.Marshal(seeds)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal seeds")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, hotel_key, hotel, seeds, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, hotel.Key(), hotelJSON, seedsJSON, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Hotel:     hotel,
		Seeds:     seeds,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Entity: "run", ID: runID}
	}
	return nil
}

var (
	reviewURLColumns = []string{"run_id", "position", "url"}
	failureColumns   = []string{"run_id", "position", "url", "kind", "attempts", "error", "failed_at"}
)

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, result *model.CrawlResult, runErr error) error {
	status, reviews, failures, errMsg := finishFields(result, runErr)

	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE runs SET status = $1, review_count = $2, failure_count = $3, error = $4, updated_at = $5 WHERE id = $6`,
			string(status), reviews, failures, errMsg, time.Now().UTC(), runID,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: finish run %s", runID)
		}
		if tag.RowsAffected() == 0 {
			return &NotFoundError{Entity: "run", ID: runID}
		}

		if _, err := tx.Exec(ctx, `DELETE FROM review_urls WHERE run_id = $1`, runID); err != nil {
			return eris.Wrapf(err, "postgres: clear review urls %s", runID)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM page_failures WHERE run_id = $1`, runID); err != nil {
			return eris.Wrapf(err, "postgres: clear failures %s", runID)
		}
		if result == nil {
			return nil
		}

		urlRows := make([][]any, len(result.ReviewURLs))
		for i, u := range result.ReviewURLs {
			urlRows[i] = []any{runID, i, u}
		}
		if _, err := db.CopyFrom(ctx, tx, "review_urls", reviewURLColumns, urlRows); err != nil {
			return err
		}

		failRows := make([][]any, len(result.Failures))
		for i, f := range result.Failures {
			failRows[i] = []any{runID, i, f.URL, string(f.Kind), f.Attempts, f.Error, f.FailedAt.UTC()}
		}
		_, err = db.CopyFrom(ctx, tx, "page_failures", failureColumns, failRows)
		return err
	})
}

const postgresRunColumns = `id, hotel, seeds, status, review_count, failure_count, error, created_at, updated_at`

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+postgresRunColumns+` FROM runs WHERE id = $1`,
		runID,
	)
	r, err := scanPgRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "run", ID: runID}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + postgresRunColumns + ` FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.HotelKey != "" {
		query += fmt.Sprintf(` AND hotel_key = $%d`, argIdx)
		args = append(args, filter.HotelKey)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	runs := []model.Run{}
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list runs iterate")
	}
	return runs, nil
}

func (s *PostgresStore) ListReviewURLs(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT url FROM review_urls WHERE run_id = $1 ORDER BY position`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list review urls %s", runID)
	}
	defer rows.Close()

	urls := []string{}
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, eris.Wrap(err, "postgres: scan review url")
		}
		urls = append(urls, u)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list review urls iterate")
	}
	return urls, nil
}

func (s *PostgresStore) ListFailures(ctx context.Context, runID string) ([]model.PageFailure, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT url, kind, attempts, error, failed_at FROM page_failures WHERE run_id = $1 ORDER BY position`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list failures %s", runID)
	}
	defer rows.Close()

	failures := []model.PageFailure{}
	for rows.Next() {
		var f model.PageFailure
		var kind string
		if err := rows.Scan(&f.URL, &kind, &f.Attempts, &f.Error, &f.FailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan failure")
		}
		f.Kind = model.FailureKind(kind)
		failures = append(failures, f)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list failures iterate")
	}
	return failures, nil
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var hotelJSON, seedsJSON []byte
	var status string

	if err := row.Scan(&r.ID, &hotelJSON, &seedsJSON, &status, &r.ReviewCount, &r.FailureCount, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)

	if err := json.Unmarshal(hotelJSON, &r.Hotel); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal hotel")
	}
	if err := json.Unmarshal(seedsJSON, &r.Seeds); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal seeds")
	}
	return &r, nil
}
