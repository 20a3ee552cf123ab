package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, time.Minute, cfg.Scheduler.Interval())
	assert.False(t, cfg.Scheduler.MasterEnabled)
	assert.Equal(t, 15, cfg.Jobs.HeartbeatSecs)
	assert.Equal(t, 90, cfg.Jobs.LeaseSecs)
	assert.Equal(t, 3600, cfg.Jobs.TimeoutSecs)
	assert.Equal(t, "jina", cfg.Discovery.SearchProvider)
	assert.Equal(t, []string{"website"}, cfg.Discovery.Platforms)
	assert.Equal(t, "100/hour", cfg.RateLimit.Providers["smtp"])
	assert.Equal(t, []string{"verified"}, cfg.Outreach.DraftVerifications)
	assert.InDelta(t, 0.30, cfg.Scoring.AuthorityWeight, 0.001)
	assert.InDelta(t, 0.05, cfg.Scoring.RecencyWeight, 0.001)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, "outreach.jobs", cfg.Events.Exchange)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: outreach.db
scheduler:
  master_enabled: true
  auto_jobs: [discover, score]
ratelimit:
  providers:
    hunter: 10/minute
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "outreach.db", cfg.Store.DatabaseURL)
	assert.True(t, cfg.Scheduler.MasterEnabled)
	assert.Equal(t, []string{"discover", "score"}, cfg.Scheduler.AutoJobs)
	assert.Equal(t, "10/minute", cfg.RateLimit.Providers["hunter"])
	// Defaults still apply for unset values
	assert.Equal(t, 60, cfg.Scheduler.IntervalSecs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("OUTREACH_STORE_DRIVER", "postgres")
	t.Setenv("OUTREACH_LOG_LEVEL", "warn")
	t.Setenv("OUTREACH_JOBS_CONCURRENCY", "9")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 9, cfg.Jobs.Concurrency)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.Error(t, InitLogger(LogConfig{Level: "invalid", Format: "json"}))
}

func validDefaults(t *testing.T) *Config {
	t.Helper()
	chdirTemp(t)
	cfg, err := Load()
	require.NoError(t, err)
	cfg.Store.DatabaseURL = "postgres://localhost/outreach"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		scopes  []Scope
		wantErr string
	}{
		{name: "store only", scopes: nil},
		{
			name:    "missing database url",
			mutate:  func(c *Config) { c.Store.DatabaseURL = "" },
			wantErr: "config: store",
		},
		{
			name:    "bad driver",
			mutate:  func(c *Config) { c.Store.Driver = "mysql" },
			wantErr: "config: store",
		},
		{name: "serve defaults", scopes: []Scope{ScopeServe}},
		{
			name:    "serve invalid port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			scopes:  []Scope{ScopeServe},
			wantErr: "config: server",
		},
		{
			name:    "lease shorter than heartbeat",
			mutate:  func(c *Config) { c.Jobs.LeaseSecs = 5 },
			scopes:  []Scope{ScopeServe},
			wantErr: "config: jobs",
		},
		{
			name:    "discover without jina key",
			scopes:  []Scope{ScopeDiscover},
			wantErr: "jina.key",
		},
		{
			name: "discover google",
			mutate: func(c *Config) {
				c.Discovery.SearchProvider = "google"
				c.Google.Key = "g-key"
			},
			scopes: []Scope{ScopeDiscover},
		},
		{
			name:    "compose without key",
			scopes:  []Scope{ScopeCompose},
			wantErr: "anthropic.key",
		},
		{
			name:    "send without smtp",
			scopes:  []Scope{ScopeSend},
			wantErr: "smtp.host",
		},
		{
			name:    "enrich without hunter",
			scopes:  []Scope{ScopeEnrich},
			wantErr: "hunter.key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults(t)
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			err := cfg.Validate(tt.scopes...)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
