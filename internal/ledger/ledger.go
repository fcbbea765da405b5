// Package ledger is the durable, queryable record of collection runs and
// observations. It enforces the run-scoped dedup invariant: the unique index
// on (entity_key, content_hash, run_id) converts a duplicate insert into a
// lookup of the existing row, so recording the same content twice within a
// run is idempotent rather than an error.
package ledger

import (
	"context"

	"github.com/sells-group/intel-cli/internal/model"
)

// Ledger defines the persistence interface for runs and observations.
//
// UpdateRun persists a run's terminal status and finish time; callers invoke
// it once per run at process end. The ledger does not defend against repeat
// calls.
type Ledger interface {
	// Runs
	CreateRun(ctx context.Context, notes string) (*model.Run, error)
	UpdateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, id int64) (*model.Run, error)
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)

	// Observations. CreateObservation returns the stored row and whether a
	// new row was inserted; a dedup hit returns the pre-existing row with
	// created == false.
	CreateObservation(ctx context.Context, obs *model.Observation) (stored *model.Observation, created bool, err error)
	GetLastObservation(ctx context.Context, entityKey string, source model.SourceType) (*model.Observation, error)
	GetRunObservations(ctx context.Context, runID int64) ([]model.Observation, error)
	GetRunStats(ctx context.Context, runID int64) (*model.RunStats, error)

	// HasChanged reports whether currentHash differs from the most recent
	// prior observation for entityKey across all runs. A first sighting
	// counts as a change.
	HasChanged(ctx context.Context, entityKey, currentHash string) (bool, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
