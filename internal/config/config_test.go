package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/freshkeep/internal/schedule"
)

const testSecret = "0123456789abcdef0123"

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("FRESHKEEP_JWT_SECRET", testSecret)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "freshkeep.db", cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 5*time.Second, cfg.ChannelTimeout)
	assert.Zero(t, cfg.ChannelRetries)
	assert.Equal(t, 30, cfg.NotificationRetention)
	assert.Equal(t, 90, cfg.ItemRetention)
	assert.False(t, cfg.PushEnabled())
	assert.False(t, cfg.TraceStdout)
	assert.Nil(t, cfg.Cadences)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("FRESHKEEP_JWT_SECRET", testSecret)
	t.Setenv("FRESHKEEP_PORT", "9090")
	t.Setenv("FRESHKEEP_LOG_LEVEL", "DEBUG")
	t.Setenv("FRESHKEEP_LOG_FORMAT", "json")
	t.Setenv("FRESHKEEP_TIMEZONE", "Europe/Prague")
	t.Setenv("FRESHKEEP_WORKERS", "8")
	t.Setenv("FRESHKEEP_CHANNEL_TIMEOUT", "2s")
	t.Setenv("FRESHKEEP_CHANNEL_RETRIES", "2")
	t.Setenv("FRESHKEEP_BASE_URL", "https://pantry.example.com/")
	t.Setenv("FRESHKEEP_ALLOWED_ORIGINS", "pantry.example.com, localhost:3000")
	t.Setenv("FRESHKEEP_VAPID_PUBLIC_KEY", "pub")
	t.Setenv("FRESHKEEP_VAPID_PRIVATE_KEY", "priv")
	t.Setenv("FRESHKEEP_TRACE_STDOUT", "true")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "Europe/Prague", cfg.Location.String())
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 2*time.Second, cfg.ChannelTimeout)
	assert.Equal(t, uint64(2), cfg.ChannelRetries)
	assert.Equal(t, "https://pantry.example.com", cfg.BaseURL)
	assert.Equal(t, []string{"pantry.example.com", "localhost:3000"}, cfg.AllowedOrigins)
	assert.True(t, cfg.PushEnabled())
	assert.True(t, cfg.TraceStdout)
}

func TestFromEnvRejectsInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"missing secret":  {},
		"short secret":    {"FRESHKEEP_JWT_SECRET": "short"},
		"bad workers":     {"FRESHKEEP_JWT_SECRET": testSecret, "FRESHKEEP_WORKERS": "many"},
		"zero workers":    {"FRESHKEEP_JWT_SECRET": testSecret, "FRESHKEEP_WORKERS": "0"},
		"bad timezone":    {"FRESHKEEP_JWT_SECRET": testSecret, "FRESHKEEP_TIMEZONE": "Mars/Olympus"},
		"bad timeout":     {"FRESHKEEP_JWT_SECRET": testSecret, "FRESHKEEP_CHANNEL_TIMEOUT": "soon"},
		"bad log level":   {"FRESHKEEP_JWT_SECRET": testSecret, "FRESHKEEP_LOG_LEVEL": "loud"},
		"half vapid":      {"FRESHKEEP_JWT_SECRET": testSecret, "FRESHKEEP_VAPID_PUBLIC_KEY": "pub"},
		"email no sender": {"FRESHKEEP_JWT_SECRET": testSecret, "FRESHKEEP_POSTMARK_TOKEN": "tok"},
		"bucket no keys":  {"FRESHKEEP_JWT_SECRET": testSecret, "FRESHKEEP_ARCHIVE_S3_BUCKET": "b"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestJobsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
jobs:
  expiry-scan:
    every: hourly
    minute: 15
  weekly-digest:
    every: weekly
    weekday: sunday
    at: "18:00"
`), 0o644))

	t.Setenv("FRESHKEEP_JWT_SECRET", testSecret)
	t.Setenv("FRESHKEEP_JOBS_FILE", path)

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, map[string]schedule.Cadence{
		"expiry-scan":   schedule.Hourly(15),
		"weekly-digest": schedule.WeeklyAt(time.Sunday, 18, 0),
	}, cfg.Cadences)
}

func TestParseCadencesRejectsBadCadence(t *testing.T) {
	_, err := ParseCadences([]byte("jobs:\n  expiry-scan:\n    every: fortnightly\n"))
	assert.Error(t, err)

	_, err = ParseCadences([]byte("jobs:\n  auto-expire:\n    every: daily\n    at: \"25:00\"\n"))
	assert.Error(t, err)
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"a", "b"}, splitList(" a,, b ,"))
}
