// Package collector implements the per-source collaborators that produce raw
// content and identity parts for the ledger. Each collector fetches or reads
// its source, derives the entity key and content hash, and records one
// observation per entity under the active run.
package collector

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/intel-cli/internal/ledger"
	"github.com/sells-group/intel-cli/internal/model"
)

// Result summarizes one collector's work within a run.
type Result struct {
	Observations int `json:"observations"`
	Errors       int `json:"errors"`
}

// Collector is one source-type collaborator. Collect records observations
// against the active run and returns counts; it returns an error only when
// the source as a whole is unusable, not for individual entity failures.
type Collector interface {
	Name() string
	Source() model.SourceType
	Collect(ctx context.Context) (Result, error)
}

// recorder persists observations for one run and logs change detection.
type recorder struct {
	ledger ledger.Ledger
	run    *model.Run
}

// record runs change detection (when a hash is present), persists the
// observation, and reports whether a new row was created. Ledger failures
// propagate: observations are never silently dropped.
func (r *recorder) record(ctx context.Context, obs *model.Observation) (created bool, err error) {
	log := zap.L().With(
		zap.String("source", string(obs.Source)),
		zap.String("entity_key", obs.EntityKey),
	)

	if obs.ContentHash != "" {
		changed, err := r.ledger.HasChanged(ctx, obs.EntityKey, obs.ContentHash)
		if err != nil {
			return false, err
		}
		if changed {
			log.Info("content changed", zap.String("hash", obs.ContentHash[:8]))
		} else {
			log.Debug("no change detected")
		}
	}

	stored, created, err := r.ledger.CreateObservation(ctx, obs)
	if err != nil {
		return false, err
	}
	if !created {
		log.Debug("duplicate observation absorbed", zap.Int64("existing_id", stored.ID))
	}
	obs.ID = stored.ID
	return created, nil
}

// newObservation builds the common observation skeleton for a run.
func (r *recorder) newObservation(source model.SourceType, entityKey, url string) *model.Observation {
	return &model.Observation{
		RunID:      r.run.ID,
		Source:     source,
		EntityKey:  entityKey,
		URL:        url,
		ObservedAt: time.Now().UTC(),
		Status:     model.ObservationSuccess,
	}
}

// marshalParsed encodes a parsed payload for the observation's parsed_json
// column.
func marshalParsed(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
