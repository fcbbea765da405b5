package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/intel-cli/internal/model"
)

// SQLiteLedger implements Ledger using modernc.org/sqlite.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteLedger, error) {
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
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteLedger{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME,
	status      TEXT NOT NULL,
	notes       TEXT
);

CREATE TABLE IF NOT EXISTS observations (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id         INTEGER NOT NULL REFERENCES runs(id),
	source         TEXT NOT NULL,
	entity_key     TEXT NOT NULL,
	url            TEXT,
	observed_at    DATETIME NOT NULL,
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

func (l *SQLiteLedger) Migrate(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

func (l *SQLiteLedger) CreateRun(ctx context.Context, notes string) (*model.Run, error) {
	now := time.Now().UTC()

	res, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (started_at, status, notes) VALUES (?, ?, ?)`,
		now, string(model.RunStatusStarted), nullIfEmpty(notes),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: run id")
	}

	return &model.Run{
		ID:        id,
		StartedAt: now,
		Status:    model.RunStatusStarted,
		Notes:     notes,
	}, nil
}

func (l *SQLiteLedger) UpdateRun(ctx context.Context, run *model.Run) error {
	var finished any
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC()
	}
	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ?, notes = ? WHERE id = ?`,
		finished, string(run.Status), nullIfEmpty(run.Notes), run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run %d", run.ID)
	}
	return checkRowsAffected(res, run.ID)
}

func (l *SQLiteLedger) GetRun(ctx context.Context, id int64) (*model.Run, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT id, started_at, finished_at, status, notes FROM runs WHERE id = ?`,
		id,
	)
	return scanRun(row)
}

func (l *SQLiteLedger) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, status, notes FROM runs
		 ORDER BY started_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// CreateObservation inserts an observation, absorbing the dedup constraint:
// ON CONFLICT DO NOTHING makes a duplicate a normal branch, and the follow-up
// lookup returns the row that won. Insert and lookup share one transaction.
func (l *SQLiteLedger) CreateObservation(ctx context.Context, obs *model.Observation) (*model.Observation, bool, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`INSERT INTO observations (
			run_id, source, entity_key, url, observed_at,
			content_hash, raw_ref, screenshot_ref, parsed_json,
			status, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_key, content_hash, run_id) DO NOTHING`,
		obs.RunID, string(obs.Source), obs.EntityKey, nullIfEmpty(obs.URL),
		obs.ObservedAt.UTC(), nullIfEmpty(obs.ContentHash), nullIfEmpty(obs.RawRef),
		nullIfEmpty(obs.ScreenshotRef), nullIfEmpty(obs.ParsedJSON),
		string(obs.Status), nullIfEmpty(obs.ErrorMessage),
	)
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: insert observation")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: rows affected")
	}

	stored := *obs
	created := n > 0
	if created {
		id, err := res.LastInsertId()
		if err != nil {
			return nil, false, eris.Wrap(err, "sqlite: observation id")
		}
		stored.ID = id
	} else {
		row := tx.QueryRowContext(ctx,
			`SELECT id FROM observations
			 WHERE entity_key = ? AND content_hash = ? AND run_id = ?`,
			obs.EntityKey, obs.ContentHash, obs.RunID,
		)
		if err := row.Scan(&stored.ID); err != nil {
			return nil, false, eris.Wrap(err, "sqlite: lookup duplicate observation")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, eris.Wrap(err, "sqlite: commit observation")
	}
	return &stored, created, nil
}

func (l *SQLiteLedger) GetLastObservation(ctx context.Context, entityKey string, source model.SourceType) (*model.Observation, error) {
	query := `SELECT id, run_id, source, entity_key, url, observed_at,
	                 content_hash, raw_ref, screenshot_ref, parsed_json,
	                 status, error_message
	          FROM observations WHERE entity_key = ?`
	args := []any{entityKey}
	if source != "" {
		query += ` AND source = ?`
		args = append(args, string(source))
	}
	query += ` ORDER BY observed_at DESC, id DESC LIMIT 1`

	obs, err := scanObservation(l.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get last observation")
	}
	return obs, nil
}

func (l *SQLiteLedger) GetRunObservations(ctx context.Context, runID int64) ([]model.Observation, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, run_id, source, entity_key, url, observed_at,
		        content_hash, raw_ref, screenshot_ref, parsed_json,
		        status, error_message
		 FROM observations WHERE run_id = ?
		 ORDER BY observed_at, id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get run observations")
	}
	defer rows.Close()

	var out []model.Observation
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan observation")
		}
		out = append(out, *obs)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: run observations iterate")
}

func (l *SQLiteLedger) GetRunStats(ctx context.Context, runID int64) (*model.RunStats, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT
			COUNT(*),
			COUNT(CASE WHEN status = 'success' THEN 1 END),
			COUNT(CASE WHEN status = 'error' THEN 1 END),
			COUNT(DISTINCT source)
		 FROM observations WHERE run_id = ?`,
		runID,
	)

	var s model.RunStats
	if err := row.Scan(&s.Total, &s.Successful, &s.Errors, &s.DistinctSources); err != nil {
		return nil, eris.Wrap(err, "sqlite: run stats")
	}
	return &s, nil
}

func (l *SQLiteLedger) HasChanged(ctx context.Context, entityKey, currentHash string) (bool, error) {
	last, err := l.GetLastObservation(ctx, entityKey, "")
	if err != nil {
		return false, err
	}
	if last == nil {
		return true, nil
	}
	return last.ContentHash != currentHash, nil
}

// helpers

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func checkRowsAffected(res sql.Result, runID int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("run not found: %d", runID)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var finished sql.NullTime
	var notes sql.NullString

	err := row.Scan(&r.ID, &r.StartedAt, &finished, &r.Status, &notes)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if finished.Valid {
		t := finished.Time.UTC()
		r.FinishedAt = &t
	}
	r.Notes = notes.String
	r.StartedAt = r.StartedAt.UTC()
	return &r, nil
}

func scanObservation(row scannable) (*model.Observation, error) {
	var o model.Observation
	var url, hash, rawRef, shotRef, parsed, errMsg sql.NullString

	err := row.Scan(
		&o.ID, &o.RunID, &o.Source, &o.EntityKey, &url, &o.ObservedAt,
		&hash, &rawRef, &shotRef, &parsed, &o.Status, &errMsg,
	)
	if err != nil {
		return nil, err
	}

	o.URL = url.String
	o.ContentHash = hash.String
	o.RawRef = rawRef.String
	o.ScreenshotRef = shotRef.String
	o.ParsedJSON = parsed.String
	o.ErrorMessage = errMsg.String
	o.ObservedAt = o.ObservedAt.UTC()
	return &o, nil
}
