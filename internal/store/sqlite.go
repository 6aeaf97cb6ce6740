package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/review-crawler/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	hotel_key     TEXT NOT NULL,
	hotel         TEXT NOT NULL,
	seeds         TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'running',
	review_count  INTEGER NOT NULL DEFAULT 0,
	failure_count INTEGER NOT NULL DEFAULT 0,
	error         TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
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
	failed_at DATETIME NOT NULL,
	PRIMARY KEY (run_id, position)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_hotel_key ON runs(hotel_key);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, hotel model.Hotel, seeds []string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	hotelJSON, err := json.Marshal(hotel)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal hotel")
	}
	if seeds == nil {
		seeds = []string{}
	}
	seedsJSON, err := json.Marshal(seeds)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal seeds")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, hotel_key, hotel, seeds, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, hotel.Key(), string(hotelJSON), string(seedsJSON), string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
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

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, result *model.CrawlResult, runErr error) error {
	status, reviews, failures, errMsg := finishFields(result, runErr)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin finish run")
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE runs SET status = ?, review_count = ?, failure_count = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), reviews, failures, errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	if err := checkRowsAffected(res, "run", runID); err != nil {
		return err
	}

	for _, q := range []string{
		`DELETE FROM review_urls WHERE run_id = ?`,
		`DELETE FROM page_failures WHERE run_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, runID); err != nil {
			return eris.Wrapf(err, "sqlite: clear run %s", runID)
		}
	}

	if result != nil {
		if err := insertReviewURLs(ctx, tx, runID, result.ReviewURLs); err != nil {
			return err
		}
		if err := insertFailures(ctx, tx, runID, result.Failures); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit finish run")
	}
	return nil
}

func insertReviewURLs(ctx context.Context, tx *sql.Tx, runID string, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO review_urls (run_id, position, url) VALUES (?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare review url insert")
	}
	defer func() { _ = stmt.Close() }()

	for i, u := range urls {
		if _, err := stmt.ExecContext(ctx, runID, i, u); err != nil {
			return eris.Wrapf(err, "sqlite: insert review url %d for run %s", i, runID)
		}
	}
	return nil
}

func insertFailures(ctx context.Context, tx *sql.Tx, runID string, failures []model.PageFailure) error {
	for i, f := range failures {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO page_failures (run_id, position, url, kind, attempts, error, failed_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID, i, f.URL, string(f.Kind), f.Attempts, f.Error, f.FailedAt.UTC(),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert failure %d for run %s", i, runID)
		}
	}
	return nil
}

const sqliteRunColumns = `id, hotel, seeds, status, review_count, failure_count, error, created_at, updated_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRunColumns+` FROM runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Entity: "run", ID: runID}
	}
	return r, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + sqliteRunColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.HotelKey != "" {
		query += ` AND hotel_key = ?`
		args = append(args, filter.HotelKey)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer func() { _ = rows.Close() }()

	runs := []model.Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs iterate")
	}
	return runs, nil
}

func (s *SQLiteStore) ListReviewURLs(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT url FROM review_urls WHERE run_id = ? ORDER BY position`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list review urls %s", runID)
	}
	defer func() { _ = rows.Close() }()

	urls := []string{}
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan review url")
		}
		urls = append(urls, u)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list review urls iterate")
	}
	return urls, nil
}

func (s *SQLiteStore) ListFailures(ctx context.Context, runID string) ([]model.PageFailure, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT url, kind, attempts, error, failed_at FROM page_failures WHERE run_id = ? ORDER BY position`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list failures %s", runID)
	}
	defer func() { _ = rows.Close() }()

	failures := []model.PageFailure{}
	for rows.Next() {
		var f model.PageFailure
		var kind string
		if err := rows.Scan(&f.URL, &kind, &f.Attempts, &f.Error, &f.FailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan failure")
		}
		f.Kind = model.FailureKind(kind)
		failures = append(failures, f)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list failures iterate")
	}
	return failures, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return &NotFoundError{Entity: entity, ID: id}
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var hotelJSON, seedsJSON, status string

	err := row.Scan(&r.ID, &hotelJSON, &seedsJSON, &status, &r.ReviewCount, &r.FailureCount, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	r.Status = model.RunStatus(status)

	if err := json.Unmarshal([]byte(hotelJSON), &r.Hotel); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal hotel")
	}
	if err := json.Unmarshal([]byte(seedsJSON), &r.Seeds); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal seeds")
	}
	return &r, nil
}
