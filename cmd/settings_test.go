package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
)

func TestApplySettings(t *testing.T) {
	base := model.Settings{
		AutoJobs: map[model.JobType]bool{model.JobEnrich: true, model.JobSend: true},
	}
	on := true

	got, err := applySettings(base, &on, []string{"verify", " score "}, []string{"send"})
	require.NoError(t, err)

	assert.True(t, got.MasterEnabled)
	assert.True(t, got.AutoJobs[model.JobEnrich])
	assert.True(t, got.AutoJobs[model.JobVerify])
	assert.True(t, got.AutoJobs[model.JobScore])
	assert.False(t, got.AutoJobs[model.JobSend])
	assert.True(t, base.AutoJobs[model.JobSend], "input map must not be modified")
}

func TestApplySettings_DisableWins(t *testing.T) {
	got, err := applySettings(model.Settings{}, nil, []string{"draft"}, []string{"draft"})
	require.NoError(t, err)
	assert.False(t, got.AutoJobs[model.JobDraft])
	assert.False(t, got.MasterEnabled)
}

func TestApplySettings_UnknownType(t *testing.T) {
	_, err := applySettings(model.Settings{}, nil, []string{"publish"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown job type "publish"`)
}

func TestFormatSettings(t *testing.T) {
	var buf bytes.Buffer
	formatSettings(&buf, model.Settings{
		MasterEnabled: true,
		AutoJobs:      map[model.JobType]bool{model.JobEnrich: true},
		Discover:      model.DiscoverParams{Keywords: []string{"bakery", "cafe"}},
	})
	out := buf.String()

	assert.Contains(t, out, "Scheduler:  on")
	assert.Regexp(t, `enrich\s+auto`, out)
	assert.Regexp(t, `send\s+manual`, out)
	assert.Contains(t, out, "keywords=bakery,cafe")
}
