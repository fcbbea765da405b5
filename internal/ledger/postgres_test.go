package ledger

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intel-cli/internal/model"
)

// newMockPostgresLedger creates a PostgresLedger backed by pgxmock.
func newMockPostgresLedger(t *testing.T) (*PostgresLedger, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	return &PostgresLedger{pool: mock}, mock
}

// anyArgs returns n AnyArg matchers; pgxmock requires the expected argument
// count to equal the actual one even when individual values are unchecked.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestPostgres_CreateRun(t *testing.T) {
	l, mock := newMockPostgresLedger(t)

	mock.ExpectQuery(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), "started", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)))

	run, err := l.CreateRun(context.Background(), "notes")
	require.NoError(t, err)
	assert.Equal(t, int64(1), run.ID)
	assert.Equal(t, model.RunStatusStarted, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateRun_NotFound(t *testing.T) {
	l, mock := newMockPostgresLedger(t)

	mock.ExpectExec(`UPDATE runs SET`).
		WithArgs(pgxmock.AnyArg(), "failed", pgxmock.AnyArg(), int64(42)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := l.UpdateRun(context.Background(), &model.Run{ID: 42, Status: model.RunStatusFailed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CreateObservation_Inserted(t *testing.T) {
	l, mock := newMockPostgresLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO observations`).
		WithArgs(anyArgs(11)...).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectCommit()

	obs := &model.Observation{
		RunID:       1,
		Source:      model.SourceWeb,
		EntityKey:   "e1",
		ObservedAt:  time.Now().UTC(),
		ContentHash: strings.Repeat("a", 64),
		Status:      model.ObservationSuccess,
	}
	stored, created, err := l.CreateObservation(context.Background(), obs)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(7), stored.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CreateObservation_DedupHitReturnsExisting(t *testing.T) {
	l, mock := newMockPostgresLedger(t)

	mock.ExpectBegin()
	// ON CONFLICT DO NOTHING yields no returned row on a dedup hit.
	mock.ExpectQuery(`INSERT INTO observations`).
		WithArgs(anyArgs(11)...).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT id FROM observations`).
		WithArgs("e1", strings.Repeat("a", 64), int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(3)))
	mock.ExpectCommit()

	obs := &model.Observation{
		RunID:       1,
		Source:      model.SourceWeb,
		EntityKey:   "e1",
		ObservedAt:  time.Now().UTC(),
		ContentHash: strings.Repeat("a", 64),
		Status:      model.ObservationSuccess,
	}
	stored, created, err := l.CreateObservation(context.Background(), obs)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(3), stored.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetLastObservation_Absent(t *testing.T) {
	l, mock := newMockPostgresLedger(t)

	mock.ExpectQuery(`SELECT id, run_id, source, entity_key`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	obs, err := l.GetLastObservation(context.Background(), "missing", "")
	require.NoError(t, err)
	assert.Nil(t, obs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_HasChanged_FirstSighting(t *testing.T) {
	l, mock := newMockPostgresLedger(t)

	mock.ExpectQuery(`SELECT id, run_id, source, entity_key`).
		WithArgs("new-key").
		WillReturnError(pgx.ErrNoRows)

	changed, err := l.HasChanged(context.Background(), "new-key", strings.Repeat("a", 64))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetRunStats(t *testing.T) {
	l, mock := newMockPostgresLedger(t)

	mock.ExpectQuery(`SELECT\s+COUNT`).
		WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"total", "success", "errors", "sources"}).
			AddRow(4, 3, 1, 2))

	stats, err := l.GetRunStats(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, &model.RunStats{Total: 4, Successful: 3, Errors: 1, DistinctSources: 2}, stats)
	assert.NoError(t, mock.ExpectationsWereMet())
}
