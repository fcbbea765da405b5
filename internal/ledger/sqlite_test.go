package ledger

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intel-cli/internal/model"
)

func newTestLedger(t *testing.T) *SQLiteLedger {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	l, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() }) //nolint:errcheck
	require.NoError(t, l.Migrate(context.Background()))
	return l
}

func testObservation(runID int64, key, hash string) *model.Observation {
	return &model.Observation{
		RunID:       runID,
		Source:      model.SourceWeb,
		EntityKey:   key,
		URL:         "https://example.com/" + key,
		ObservedAt:  time.Now().UTC(),
		ContentHash: hash,
		Status:      model.ObservationSuccess,
	}
}

// --- Runs ---

func TestSQLite_CreateRun_StartsInStarted(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	run, err := l.CreateRun(ctx, "nightly sweep")
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusStarted, run.Status)
	assert.Nil(t, run.FinishedAt)
	assert.Equal(t, "nightly sweep", run.Notes)
	assert.False(t, run.StartedAt.IsZero())
}

func TestSQLite_CreateRun_IDsMonotonic(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	r1, err := l.CreateRun(ctx, "")
	require.NoError(t, err)
	r2, err := l.CreateRun(ctx, "")
	require.NoError(t, err)

	assert.Greater(t, r2.ID, r1.ID)
}

func TestSQLite_UpdateRun_TerminalStatus(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	run, err := l.CreateRun(ctx, "")
	require.NoError(t, err)

	finished := time.Now().UTC()
	run.Status = model.RunStatusCompleted
	run.FinishedAt = &finished
	require.NoError(t, l.UpdateRun(ctx, run))

	got, err := l.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, got.Status)
	require.NotNil(t, got.FinishedAt)
	assert.False(t, got.FinishedAt.Before(got.StartedAt), "finished_at must not precede started_at")
}

func TestSQLite_UpdateRun_NotFound(t *testing.T) {
	l := newTestLedger(t)

	err := l.UpdateRun(context.Background(), &model.Run{ID: 9999, Status: model.RunStatusFailed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLite_InterruptedRunStaysInProgress(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	run, err := l.CreateRun(ctx, "")
	require.NoError(t, err)

	// Nothing else touches the run: a crash mid-collection leaves it
	// non-terminal and reporting must surface it as in progress.
	got, err := l.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, got.InProgress())
}

// --- Observations ---

func TestSQLite_CreateObservation_AssignsID(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	run, err := l.CreateRun(ctx, "")
	require.NoError(t, err)

	stored, created, err := l.CreateObservation(ctx, testObservation(run.ID, "e1", strings.Repeat("a", 64)))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, stored.ID)
}

func TestSQLite_CreateObservation_DedupWithinRun(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	run, err := l.CreateRun(ctx, "")
	require.NoError(t, err)

	hash := strings.Repeat("a", 64)
	first, created, err := l.CreateObservation(ctx, testObservation(run.ID, "e1", hash))
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := l.CreateObservation(ctx, testObservation(run.ID, "e1", hash))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	stats, err := l.GetRunStats(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
}

func TestSQLite_CreateObservation_SameContentDifferentRunsNotDeduped(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	r1, err := l.CreateRun(ctx, "")
	require.NoError(t, err)
	r2, err := l.CreateRun(ctx, "")
	require.NoError(t, err)

	hash := strings.Repeat("a", 64)
	_, created, err := l.CreateObservation(ctx, testObservation(r1.ID, "e1", hash))
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = l.CreateObservation(ctx, testObservation(r2.ID, "e1", hash))
	require.NoError(t, err)
	assert.True(t, created, "dedup is scoped to a single run")
}

func TestSQLite_CreateObservation_ErrorRowsNeverDeduped(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	run, err := l.CreateRun(ctx, "")
	require.NoError(t, err)

	errObs := func() *model.Observation {
		o := testObservation(run.ID, "e1", "")
		o.Status = model.ObservationError
		o.ErrorMessage = "fetch timeout"
		return o
	}

	_, created, err := l.CreateObservation(ctx, errObs())
	require.NoError(t, err)
	assert.True(t, created)

	// A missing content_hash is NULL, and NULLs are distinct in the unique
	// index, so repeated failures each get their own row.
	_, created, err = l.CreateObservation(ctx, errObs())
	require.NoError(t, err)
	assert.True(t, created)

	stats, err := l.GetRunStats(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Errors)
}

func TestSQLite_CreateObservation_RunMustExist(t *testing.T) {
	l := newTestLedger(t)

	_, _, err := l.CreateObservation(context.Background(), testObservation(777, "e1", strings.Repeat("a", 64)))
	require.Error(t, err)
}

func TestSQLite_GetLastObservation_Absent(t *testing.T) {
	l := newTestLedger(t)

	obs, err := l.GetLastObservation(context.Background(), "no-such-key", "")
	require.NoError(t, err)
	assert.Nil(t, obs)
}

func TestSQLite_GetLastObservation_MostRecentAcrossRuns(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	r1, err := l.CreateRun(ctx, "")
	require.NoError(t, err)
	r2, err := l.CreateRun(ctx, "")
	require.NoError(t, err)

	older := testObservation(r1.ID, "e1", strings.Repeat("a", 64))
	older.ObservedAt = time.Now().UTC().Add(-2 * time.Hour)
	_, _, err = l.CreateObservation(ctx, older)
	require.NoError(t, err)

	newer := testObservation(r2.ID, "e1", strings.Repeat("b", 64))
	newer.ObservedAt = time.Now().UTC().Add(-1 * time.Hour)
	_, _, err = l.CreateObservation(ctx, newer)
	require.NoError(t, err)

	got, err := l.GetLastObservation(ctx, "e1", "")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, strings.Repeat("b", 64), got.ContentHash)
	assert.Equal(t, r2.ID, got.RunID)
}

func TestSQLite_GetLastObservation_SourceFilter(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	run, err := l.CreateRun(ctx, "")
	require.NoError(t, err)

	web := testObservation(run.ID, "e1", strings.Repeat("a", 64))
	web.ObservedAt = time.Now().UTC().Add(-1 * time.Minute)
	_, _, err = l.CreateObservation(ctx, web)
	require.NoError(t, err)

	job := testObservation(run.ID, "e1", strings.Repeat("b", 64))
	job.Source = model.SourceJob
	_, _, err = l.CreateObservation(ctx, job)
	require.NoError(t, err)

	got, err := l.GetLastObservation(ctx, "e1", model.SourceWeb)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.SourceWeb, got.Source)
	assert.Equal(t, strings.Repeat("a", 64), got.ContentHash)
}

func TestSQLite_GetRunObservations_OrderedByObservedAt(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	run, err := l.CreateRun(ctx, "")
	require.NoError(t, err)

	// Insert out of chronological order.
	late := testObservation(run.ID, "late", strings.Repeat("c", 64))
	late.ObservedAt = time.Now().UTC()
	_, _, err = l.CreateObservation(ctx, late)
	require.NoError(t, err)

	early := testObservation(run.ID, "early", strings.Repeat("d", 64))
	early.ObservedAt = time.Now().UTC().Add(-1 * time.Hour)
	_, _, err = l.CreateObservation(ctx, early)
	require.NoError(t, err)

	got, err := l.GetRunObservations(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "early", got[0].EntityKey)
	assert.Equal(t, "late", got[1].EntityKey)
}

// --- Change detection ---

func TestSQLite_HasChanged_FirstSighting(t *testing.T) {
	l := newTestLedger(t)

	changed, err := l.HasChanged(context.Background(), "unseen", strings.Repeat("a", 64))
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestSQLite_HasChanged_StableContent(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	run, err := l.CreateRun(ctx, "")
	require.NoError(t, err)

	hash := strings.Repeat("a", 64)
	_, _, err = l.CreateObservation(ctx, testObservation(run.ID, "e1", hash))
	require.NoError(t, err)

	changed, err := l.HasChanged(ctx, "e1", hash)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestSQLite_HasChanged_AlteredContent(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	run, err := l.CreateRun(ctx, "")
	require.NoError(t, err)

	_, _, err = l.CreateObservation(ctx, testObservation(run.ID, "e1", strings.Repeat("a", 64)))
	require.NoError(t, err)

	changed, err := l.HasChanged(ctx, "e1", strings.Repeat("b", 64))
	require.NoError(t, err)
	assert.True(t, changed)
}

// --- End-to-end ledger scenario ---

func TestSQLite_CrossRunScenario(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	r1, err := l.CreateRun(ctx, "run one")
	require.NoError(t, err)

	hashA := strings.Repeat("a", 64)
	_, created, err := l.CreateObservation(ctx, testObservation(r1.ID, "e1", hashA))
	require.NoError(t, err)
	require.True(t, created)

	last, err := l.GetLastObservation(ctx, "e1", "")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, hashA, last.ContentHash)

	r2, err := l.CreateRun(ctx, "run two")
	require.NoError(t, err)

	hashB := strings.Repeat("b", 64)
	changed, err := l.HasChanged(ctx, "e1", hashB)
	require.NoError(t, err)
	assert.True(t, changed, "change detection is a cross-run property")

	_, _, err = l.CreateObservation(ctx, testObservation(r2.ID, "e1", hashB))
	require.NoError(t, err)

	stats, err := l.GetRunStats(ctx, r2.ID)
	require.NoError(t, err)
	assert.Equal(t, &model.RunStats{Total: 1, Successful: 1, Errors: 0, DistinctSources: 1}, stats)
}

func TestSQLite_ListRuns_NewestFirst(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.CreateRun(ctx, "")
		require.NoError(t, err)
	}

	runs, err := l.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Greater(t, runs[0].ID, runs[1].ID)
}
