package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightboard/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
db_path: /tmp/test.db
airports:
  - otp
  - cdg
provider:
  base_url: https://flights.example.com
  api_key: secret
  timeout_seconds: 15
quota:
  requests_per_hour: 40
admin:
  clear_token: wipe-it
`)
	t.Setenv("FLIGHTBOARD_CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/test.db", cfg.DBPath)
	assert.Equal(t, []string{"OTP", "CDG"}, cfg.Airports)
	assert.Equal(t, "https://flights.example.com", cfg.Provider.BaseURL)
	assert.Equal(t, "secret", cfg.Provider.APIKey)
	assert.Equal(t, 15, cfg.Provider.TimeoutSeconds)
	assert.Equal(t, 40, cfg.Quota.RequestsPerHour)
	assert.Equal(t, "wipe-it", cfg.Admin.ClearToken)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_NormalizesAirports(t *testing.T) {
	path := writeConfig(t, `
db_path: /tmp/test.db
airports: ["otp", " cdg ", ""]
provider:
  base_url: https://flights.example.com
`)
	t.Setenv("FLIGHTBOARD_CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"OTP", "CDG"}, cfg.Airports)
}

func TestLoad_PolicyDefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
db_path: /tmp/test.db
provider:
  base_url: https://flights.example.com
cache:
  flight_data:
    cron_interval_minutes: 30
    max_age_days: 14
`)
	t.Setenv("FLIGHTBOARD_CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)

	flight := cfg.Defaults[models.CategoryFlightData]
	assert.Equal(t, 30, flight.CronIntervalMinutes)
	assert.Equal(t, 14, flight.MaxAgeDays)
	assert.True(t, flight.CacheUntilNextRun)

	// Untouched categories keep their defaults
	analytics := cfg.Defaults[models.CategoryAnalytics]
	assert.Equal(t, 1440, analytics.CronIntervalMinutes)
	assert.Equal(t, 30, analytics.MaxAgeDays)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
db_path: /tmp/from-file.db
provider:
  base_url: https://flights.example.com
`)
	t.Setenv("FLIGHTBOARD_CONFIG_PATH", path)
	t.Setenv("FLIGHTBOARD_DB_PATH", "/tmp/from-env.db")
	t.Setenv("FLIGHTBOARD_QUOTA_REQUESTS_PER_HOUR", "7")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-env.db", cfg.DBPath)
	assert.Equal(t, 7, cfg.Quota.RequestsPerHour)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing provider base url",
			content: `
db_path: /tmp/test.db
`,
			wantErr: "provider.base_url is required",
		},
		{
			name: "bad airport code",
			content: `
db_path: /tmp/test.db
airports: ["BUCHAREST"]
provider:
  base_url: https://flights.example.com
`,
			wantErr: "invalid airport code",
		},
		{
			name: "negative quota",
			content: `
db_path: /tmp/test.db
provider:
  base_url: https://flights.example.com
quota:
  requests_per_hour: -1
`,
			wantErr: "quota.requests_per_hour",
		},
		{
			name: "bad log level",
			content: `
db_path: /tmp/test.db
provider:
  base_url: https://flights.example.com
log:
  level: verbose
`,
			wantErr: "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("FLIGHTBOARD_CONFIG_PATH", writeConfig(t, tt.content))
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
