package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/intel-cli/internal/model"
)

func TestDisplayStatus(t *testing.T) {
	terminal := model.Run{Status: model.RunStatusCompleted}
	assert.Equal(t, "completed", displayStatus(terminal))

	partial := model.Run{Status: model.RunStatusPartial}
	assert.Equal(t, "partial", displayStatus(partial))

	open := model.Run{Status: model.RunStatusStarted}
	assert.Equal(t, "in progress", displayStatus(open))
}

func TestFormatRunsList(t *testing.T) {
	started := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	finished := started.Add(42 * time.Second)

	runs := []model.Run{
		{ID: 2, StartedAt: started, FinishedAt: &finished, Status: model.RunStatusCompleted, Notes: "nightly"},
		{ID: 1, StartedAt: started, Status: model.RunStatusStarted},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)
	out := buf.String()

	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "in progress")
	assert.Contains(t, out, "42s")
	assert.Contains(t, out, "nightly")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 4)
}

func TestFormatRunsList_TruncatesLongNotes(t *testing.T) {
	runs := []model.Run{
		{ID: 1, StartedAt: time.Now(), Status: model.RunStatusCompleted, Notes: strings.Repeat("x", 80)},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	assert.Contains(t, buf.String(), "...")
	assert.NotContains(t, buf.String(), strings.Repeat("x", 41))
}

func TestFormatObservations(t *testing.T) {
	obs := []model.Observation{
		{ID: 7, Source: model.SourceWeb, Status: model.ObservationSuccess, EntityKey: "pricing", ContentHash: strings.Repeat("ab", 32)},
		{ID: 8, Source: model.SourceJob, Status: model.ObservationError, EntityKey: "job_101"},
	}

	var buf bytes.Buffer
	formatObservations(&buf, obs)
	out := buf.String()

	assert.Contains(t, out, "pricing")
	assert.Contains(t, out, "job_101")
	assert.Contains(t, out, "abababababab")
	assert.NotContains(t, out, strings.Repeat("ab", 32))
}

func TestFormatRunStats(t *testing.T) {
	var buf bytes.Buffer
	formatRunStats(&buf, &model.RunStats{Total: 1234, Successful: 1200, Errors: 34, DistinctSources: 3})
	out := buf.String()

	assert.Contains(t, out, "1,234")
	assert.Contains(t, out, "1,200")
	assert.Contains(t, out, "34")
	assert.Contains(t, out, "3")
}
