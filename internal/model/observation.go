package model

import "time"

// SourceType identifies which collector produced an observation.
type SourceType string

const (
	SourceWeb      SourceType = "web"
	SourceJob      SourceType = "job"
	SourceAdGoogle SourceType = "ad_google"
	SourceAdMeta   SourceType = "ad_meta"
	SourceEmail    SourceType = "email"
)

// AllSourceTypes returns all defined source types.
func AllSourceTypes() []SourceType {
	return []SourceType{SourceWeb, SourceJob, SourceAdGoogle, SourceAdMeta, SourceEmail}
}

// ObservationStatus describes the outcome of a single collection attempt.
type ObservationStatus string

const (
	ObservationSuccess  ObservationStatus = "success"
	ObservationError    ObservationStatus = "error"
	ObservationRedirect ObservationStatus = "redirect"
)

// Observation is one fingerprinted snapshot of one entity at one point in
// time. Observations are immutable after creation; corrections are recorded
// as new observations.
type Observation struct {
	ID            int64             `json:"id"`
	RunID         int64             `json:"run_id"`
	Source        SourceType        `json:"source"`
	EntityKey     string            `json:"entity_key"`
	URL           string            `json:"url,omitempty"`
	ObservedAt    time.Time         `json:"observed_at"`
	ContentHash   string            `json:"content_hash,omitempty"`
	RawRef        string            `json:"raw_ref,omitempty"`
	ScreenshotRef string            `json:"screenshot_ref,omitempty"`
	ParsedJSON    string            `json:"parsed_json,omitempty"`
	Status        ObservationStatus `json:"status"`
	ErrorMessage  string            `json:"error_message,omitempty"`
}

// RunStats holds aggregate observation counts for one run.
type RunStats struct {
	Total           int `json:"total"`
	Successful      int `json:"successful"`
	Errors          int `json:"errors"`
	DistinctSources int `json:"distinct_sources"`
}
