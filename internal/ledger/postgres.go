package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/intel-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the ledger uses. pgxmock implements it
// for unit tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresLedger implements Ledger using pgxpool.
type PostgresLedger struct {
	pool Pool
}

// NewPostgres creates a PostgresLedger with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresLedger, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresLedger{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          BIGSERIAL PRIMARY KEY,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	status      TEXT NOT NULL,
	notes       TEXT
);

CREATE TABLE IF NOT EXISTS observations (
	id             BIGSERIAL PRIMARY KEY,
	run_id         BIGINT NOT NULL REFERENCES runs(id),
	source         TEXT NOT NULL,
	entity_key     TEXT NOT NULL,
	url            TEXT,
	observed_at    TIMESTAMPTZ NOT NULL,
	content_hash   TEXT,
	raw_ref        TEXT,
	screenshot_ref TEXT,
	parsed_json    TEXT,
	status         TEXT NOT NULL DEFAULT 'success',
	error_message  TEXT
);

CREATE INDEX IF NOT EXISTS idx_observations_run_id ON observations(run_id);
CREATE INDEX IF NOT EXISTS idx_observations_entity_key ON observations(entity_key);
CREATE INDEX IF NOT EXISTS idx_observations_content_hash ON observations(content_hash);
CREATE INDEX IF NOT EXISTS idx_observations_source ON observations(source);
CREATE UNIQUE INDEX IF NOT EXISTS idx_observations_dedup ON observations(entity_key, content_hash, run_id);
`

func (l *PostgresLedger) Migrate(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (l *PostgresLedger) Close() error {
	l.pool.Close()
	return nil
}

func (l *PostgresLedger) CreateRun(ctx context.Context, notes string) (*model.Run, error) {
	now := time.Now().UTC()

	var id int64
	err := l.pool.QueryRow(ctx,
		`INSERT INTO runs (started_at, status, notes) VALUES ($1, $2, $3) RETURNING id`,
		now, string(model.RunStatusStarted), nullIfEmpty(notes),
	).Scan(&id)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		StartedAt: now,
		Status:    model.RunStatusStarted,
		Notes:     notes,
	}, nil
}

func (l *PostgresLedger) UpdateRun(ctx context.Context, run *model.Run) error {
	var finished any
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC()
	}
	tag, err := l.pool.Exec(ctx,
		`UPDATE runs SET finished_at = $1, status = $2, notes = $3 WHERE id = $4`,
		finished, string(run.Status), nullIfEmpty(run.Notes), run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run %d", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %d", run.ID)
	}
	return nil
}

func (l *PostgresLedger) GetRun(ctx context.Context, id int64) (*model.Run, error) {
	row := l.pool.QueryRow(ctx,
		`SELECT id, started_at, finished_at, status, notes FROM runs WHERE id = $1`,
		id,
	)
	return scanPgRun(row)
}

func (l *PostgresLedger) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.pool.Query(ctx,
		`SELECT id, started_at, finished_at, status, notes FROM runs
		 ORDER BY started_at DESC, id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (l *PostgresLedger) CreateObservation(ctx context.Context, obs *model.Observation) (*model.Observation, bool, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	stored := *obs
	created := true
	err = tx.QueryRow(ctx,
		`INSERT INTO observations (
			run_id, source, entity_key, url, observed_at,
			content_hash, raw_ref, screenshot_ref, parsed_json,
			status, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (entity_key, content_hash, run_id) DO NOTHING
		RETURNING id`,
		obs.RunID, string(obs.Source), obs.EntityKey, nullIfEmpty(obs.URL),
		obs.ObservedAt.UTC(), nullIfEmpty(obs.ContentHash), nullIfEmpty(obs.RawRef),
		nullIfEmpty(obs.ScreenshotRef), nullIfEmpty(obs.ParsedJSON),
		string(obs.Status), nullIfEmpty(obs.ErrorMessage),
	).Scan(&stored.ID)

	if errors.Is(err, pgx.ErrNoRows) {
		// Dedup hit: the unique index won the race; fetch the existing row.
		created = false
		err = tx.QueryRow(ctx,
			`SELECT id FROM observations
			 WHERE entity_key = $1 AND content_hash = $2 AND run_id = $3`,
			obs.EntityKey, obs.ContentHash, obs.RunID,
		).Scan(&stored.ID)
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: insert observation")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, eris.Wrap(err, "postgres: commit observation")
	}
	return &stored, created, nil
}

func (l *PostgresLedger) GetLastObservation(ctx context.Context, entityKey string, source model.SourceType) (*model.Observation, error) {
	query := `SELECT id, run_id, source, entity_key, url, observed_at,
	                 content_hash, raw_ref, screenshot_ref, parsed_json,
	                 status, error_message
	          FROM observations WHERE entity_key = $1`
	args := []any{entityKey}
	if source != "" {
		query += ` AND source = $2`
		args = append(args, string(source))
	}
	query += ` ORDER BY observed_at DESC, id DESC LIMIT 1`

	obs, err := scanPgObservation(l.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get last observation")
	}
	return obs, nil
}

func (l *PostgresLedger) GetRunObservations(ctx context.Context, runID int64) ([]model.Observation, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT id, run_id, source, entity_key, url, observed_at,
		        content_hash, raw_ref, screenshot_ref, parsed_json,
		        status, error_message
		 FROM observations WHERE run_id = $1
		 ORDER BY observed_at, id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get run observations")
	}
	defer rows.Close()

	var out []model.Observation
	for rows.Next() {
		obs, err := scanPgObservation(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan observation")
		}
		out = append(out, *obs)
	}
	return out, eris.Wrap(rows.Err(), "postgres: run observations iterate")
}

func (l *PostgresLedger) GetRunStats(ctx context.Context, runID int64) (*model.RunStats, error) {
	row := l.pool.QueryRow(ctx,
		`SELECT
			COUNT(*),
			COUNT(CASE WHEN status = 'success' THEN 1 END),
			COUNT(CASE WHEN status = 'error' THEN 1 END),
			COUNT(DISTINCT source)
		 FROM observations WHERE run_id = $1`,
		runID,
	)

	var s model.RunStats
	if err := row.Scan(&s.Total, &s.Successful, &s.Errors, &s.DistinctSources); err != nil {
		return nil, eris.Wrap(err, "postgres: run stats")
	}
	return &s, nil
}

func (l *PostgresLedger) HasChanged(ctx context.Context, entityKey, currentHash string) (bool, error) {
	last, err := l.GetLastObservation(ctx, entityKey, "")
	if err != nil {
		return false, err
	}
	if last == nil {
		return true, nil
	}
	return last.ContentHash != currentHash, nil
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var finished *time.Time
	var notes *string

	err := row.Scan(&r.ID, &r.StartedAt, &finished, &r.Status, &notes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan run")
	}

	if finished != nil {
		t := finished.UTC()
		r.FinishedAt = &t
	}
	if notes != nil {
		r.Notes = *notes
	}
	r.StartedAt = r.StartedAt.UTC()
	return &r, nil
}

func scanPgObservation(row pgx.Row) (*model.Observation, error) {
	var o model.Observation
	var url, hash, rawRef, shotRef, parsed, errMsg *string

	err := row.Scan(
		&o.ID, &o.RunID, &o.Source, &o.EntityKey, &url, &o.ObservedAt,
		&hash, &rawRef, &shotRef, &parsed, &o.Status, &errMsg,
	)
	if err != nil {
		return nil, err
	}

	o.URL = deref(url)
	o.ContentHash = deref(hash)
	o.RawRef = deref(rawRef)
	o.ScreenshotRef = deref(shotRef)
	o.ParsedJSON = deref(parsed)
	o.ErrorMessage = deref(errMsg)
	o.ObservedAt = o.ObservedAt.UTC()
	return &o, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
