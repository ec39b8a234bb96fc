package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
log:
  level: debug
database:
  driver: memory
scheduling:
  default_interval: 20m
  critical_interval: 5m
  workers: 2
keywords:
  - text: election
    importance: 9
  - text: " fuel price "
tracked_accounts:
  - username: "@Spokesman"
    id: "42"
    importance: 8
    role: manager
  - username: reporter
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileDefaultsAndNormalization(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 20*time.Minute, cfg.Scheduling.NormalInterval)
	assert.Equal(t, 5*time.Minute, cfg.Scheduling.CriticalInterval)
	assert.Equal(t, time.Hour, cfg.Scheduling.ArchiveInterval)
	assert.Equal(t, 2, cfg.Scheduling.Workers)
	assert.Equal(t, "@every 30s", cfg.Scheduling.Tick)

	require.Len(t, cfg.Keywords, 2)
	assert.Equal(t, "fuel price", cfg.Keywords[1].Text)
	assert.Equal(t, 5, cfg.Keywords[1].Importance)

	tracked := cfg.TrackedByHandle()
	require.Contains(t, tracked, "spokesman")
	assert.True(t, tracked["spokesman"].IsManager())
	assert.Equal(t, 8, tracked["spokesman"].Importance)
	assert.Equal(t, 5, tracked["reporter"].Importance)
	assert.False(t, tracked["reporter"].IsManager())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PG_HOST", "db.internal")
	t.Setenv("PG_PORT", "6543")
	t.Setenv("SCHED_CRITICAL_INTERVAL", "90s")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, 90*time.Second, cfg.Scheduling.CriticalInterval)
	assert.Contains(t, cfg.Database.BuildDSN(), "host=db.internal port=6543")
}

func TestLoad_CriticalClampedToNormal(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
database: {driver: memory}
scheduling:
  default_interval: 2m
  critical_interval: 10m
`))
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.Scheduling.CriticalInterval)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"importance":  "keywords: [{text: a, importance: 11}]",
		"duplicate":   "keywords: [{text: a}, {text: a}]",
		"driver":      "database: {driver: mongo}",
		"empty text":  "keywords: [{text: ''}]",
		"account imp": "tracked_accounts: [{username: x, importance: -1}]",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_SubSecondBaseRejected(t *testing.T) {
	_, err := Load(writeConfig(t, "scheduling: {default_interval: 1500ms, critical_interval: 1s}"))
	require.ErrorIs(t, err, ErrInvalidInterval)

	cfg, err := Load(writeConfig(t, "scheduling: {default_interval: 2s, critical_interval: 2s}"))
	require.NoError(t, err)
	assert.Equal(t, MinBaseInterval, cfg.Scheduling.CriticalInterval)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestBuildDSN_ExplicitConnectionString(t *testing.T) {
	db := DatabaseConfig{DSN: "postgres://u:p@h/db"}
	assert.Equal(t, "postgres://u:p@h/db", db.BuildDSN())
}

func TestAccountTopic(t *testing.T) {
	assert.Equal(t, "@someone", AccountTopic(" @SomeOne "))
}
