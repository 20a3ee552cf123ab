package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
)

func sampleJobs() []model.Job {
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	finished := started.Add(95 * time.Second)
	return []model.Job{
		{
			ID:             "0f3c9a1e-1111-4e6b-9c55-000000000001",
			Type:           model.JobEnrich,
			Status:         model.JobCompleted,
			TriggeredBy:    model.TriggerScheduler,
			ItemsTargeted:  10,
			ItemsCompleted: 8,
			ItemsFailed:    2,
			CreatedAt:      started,
			StartedAt:      &started,
			FinishedAt:     &finished,
			Result:         json.RawMessage(`{"found":8,"planned":10}`),
		},
		{
			ID:          "short",
			Type:        model.JobDiscover,
			Status:      model.JobRunning,
			TriggeredBy: model.TriggerManual,
			CreatedAt:   started,
			StartedAt:   &started,
		},
	}
}

func TestFormatJobsList(t *testing.T) {
	var buf bytes.Buffer
	formatJobsList(&buf, sampleJobs())
	out := buf.String()

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "ID")
	assert.Contains(t, lines[0], "PROGRESS")
	assert.Contains(t, lines[2], "0f3c9a1e")
	assert.NotContains(t, lines[2], "0f3c9a1e-1111")
	assert.Contains(t, lines[2], "10/10 (2 failed)")
	assert.Contains(t, lines[2], "1m35s")
	assert.Contains(t, lines[3], "short")
	assert.Contains(t, lines[3], "running")
	assert.Contains(t, lines[3], "-")
}

func TestFormatJobDetail(t *testing.T) {
	var buf bytes.Buffer
	j := sampleJobs()[0]
	j.ErrorMessage = "hunter: rate limited"
	j.Params = json.RawMessage(`{"limit":10}`)
	formatJobDetail(&buf, j)
	out := buf.String()

	assert.Contains(t, out, "Job:        "+j.ID)
	assert.Contains(t, out, "Status:     completed")
	assert.Contains(t, out, "Duration:   1m35s")
	assert.Contains(t, out, "Error:      hunter: rate limited")
	assert.Contains(t, out, `Params:     {"limit":10}`)
	assert.Contains(t, out, `"found": 8`)
}

func TestFormatJobDetail_OmitsEmptyParams(t *testing.T) {
	var buf bytes.Buffer
	j := sampleJobs()[1]
	j.Params = json.RawMessage(`{}`)
	formatJobDetail(&buf, j)

	assert.NotContains(t, buf.String(), "Params:")
	assert.NotContains(t, buf.String(), "Finished:")
}

func TestTriggerParams(t *testing.T) {
	p, err := triggerParams(model.JobEnrich, "", 0)
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = triggerParams(model.JobEnrich, "", 25)
	require.NoError(t, err)
	assert.Equal(t, model.BatchParams{Limit: 25}, p)

	p, err = triggerParams(model.JobDiscover, `{"keywords":["bakery"]}`, 0)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`{"keywords":["bakery"]}`), p)

	_, err = triggerParams(model.JobEnrich, `{not json`, 0)
	assert.Error(t, err)

	_, err = triggerParams(model.JobEnrich, `{"limit":5}`, 5)
	assert.Error(t, err)

	_, err = triggerParams(model.JobDiscover, "", 5)
	assert.Error(t, err)
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abcdefgh", truncateID("abcdefghijkl"))
	assert.Equal(t, "abc", truncateID("abc"))
}
