package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"flightboard/internal/models"
)

// Config holds all configuration for the daemon
type Config struct {
	DBPath   string
	Airports []string

	Provider ProviderConfig
	Quota    QuotaConfig
	Admin    AdminConfig
	Defaults map[models.Category]models.CachePolicy
	Log      LogConfig
}

// ProviderConfig configures the upstream flight-data provider
type ProviderConfig struct {
	BaseURL        string
	APIKey         string
	TimeoutSeconds int
}

// QuotaConfig caps upstream request volume
type QuotaConfig struct {
	RequestsPerHour  int
	LogRetentionDays int
}

// AdminConfig holds administrative guards
type AdminConfig struct {
	// ClearToken must be presented verbatim to clear all persistent data.
	// Empty disables the destructive clear entirely.
	ClearToken string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
}

// Load loads configuration from config file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("db_path", "flightboard.db")
	v.SetDefault("airports", []string{"OTP"})
	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.timeout_seconds", 10)
	v.SetDefault("quota.requests_per_hour", 90)
	v.SetDefault("quota.log_retention_days", 90)
	v.SetDefault("admin.clear_token", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// Per-category refresh policy defaults, used to seed cache_config on
	// first run. Afterwards the persisted config wins.
	v.SetDefault("cache.flight_data.cron_interval_minutes", 60)
	v.SetDefault("cache.flight_data.max_age_days", 30)
	v.SetDefault("cache.flight_data.cache_until_next_run", true)
	v.SetDefault("cache.analytics.cron_interval_minutes", 24*60)
	v.SetDefault("cache.analytics.max_age_days", 30)
	v.SetDefault("cache.analytics.cache_until_next_run", true)
	v.SetDefault("cache.aircraft.cron_interval_minutes", 7*24*60)
	v.SetDefault("cache.aircraft.max_age_days", 90)
	v.SetDefault("cache.aircraft.cache_until_next_run", true)
	v.SetDefault("cache.weather.cron_interval_minutes", 30)
	v.SetDefault("cache.weather.max_age_days", 7)
	v.SetDefault("cache.weather.cache_until_next_run", true)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/flightboard")
	v.AddConfigPath(".")

	if configPath := os.Getenv("FLIGHTBOARD_CONFIG_PATH"); configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK - defaults + env vars apply
	}

	v.SetEnvPrefix("FLIGHTBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		DBPath:   v.GetString("db_path"),
		Airports: normalizeAirports(v.GetStringSlice("airports")),
		Provider: ProviderConfig{
			BaseURL:        v.GetString("provider.base_url"),
			APIKey:         v.GetString("provider.api_key"),
			TimeoutSeconds: v.GetInt("provider.timeout_seconds"),
		},
		Quota: QuotaConfig{
			RequestsPerHour:  v.GetInt("quota.requests_per_hour"),
			LogRetentionDays: v.GetInt("quota.log_retention_days"),
		},
		Admin: AdminConfig{
			ClearToken: v.GetString("admin.clear_token"),
		},
		Defaults: map[models.Category]models.CachePolicy{
			models.CategoryFlightData: policyAt(v, "cache.flight_data"),
			models.CategoryAnalytics:  policyAt(v, "cache.analytics"),
			models.CategoryAircraft:   policyAt(v, "cache.aircraft"),
			models.CategoryWeather:    policyAt(v, "cache.weather"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func policyAt(v *viper.Viper, prefix string) models.CachePolicy {
	return models.CachePolicy{
		CronIntervalMinutes: v.GetInt(prefix + ".cron_interval_minutes"),
		MaxAgeDays:          v.GetInt(prefix + ".max_age_days"),
		CacheUntilNextRun:   v.GetBool(prefix + ".cache_until_next_run"),
	}
}

func normalizeAirports(codes []string) []string {
	normalized := make([]string, 0, len(codes))
	for _, code := range codes {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code != "" {
			normalized = append(normalized, code)
		}
	}
	return normalized
}

// validate validates the configuration values
func validate(cfg *Config) error {
	if cfg.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}

	if len(cfg.Airports) == 0 {
		return fmt.Errorf("at least one airport is required")
	}
	for _, code := range cfg.Airports {
		if len(code) != 3 {
			return fmt.Errorf("invalid airport code: %q (must be a 3-letter IATA code)", code)
		}
	}

	if cfg.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required")
	}

	if cfg.Provider.TimeoutSeconds <= 0 {
		return fmt.Errorf("provider.timeout_seconds must be greater than 0")
	}

	if cfg.Quota.RequestsPerHour < 0 {
		return fmt.Errorf("quota.requests_per_hour must not be negative")
	}

	if cfg.Quota.LogRetentionDays <= 0 {
		return fmt.Errorf("quota.log_retention_days must be greater than 0")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(cfg.Log.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", cfg.Log.Level)
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[strings.ToLower(cfg.Log.Format)] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", cfg.Log.Format)
	}

	return nil
}
