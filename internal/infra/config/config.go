package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"post_scheduler/internal/domain/timing"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	DatabaseURL string
	LogLevel    string
	Environment string

	Timezone       string
	Location       *time.Location
	MorningTime    string // HH:MM, weekday canonical slots
	MiddayTime     string
	EveningTime    string
	SpecialPeriods string // extra "YYYY-MM-DD:YYYY-MM-DD" ranges

	LookbackDays      int
	ProfileCacheDays  int
	SweepBatchSize    int
	SweepInterval     string // cron spec for the fine-grained sweep
	SweepGrace        time.Duration
	ClaimTimeout      time.Duration
	PublishTimeout    time.Duration
	PublishRatePerSec int

	CronSpecRevalidate string
	CronSpecStaleClaim string

	LinkedInAPIBase     string
	MetricsAddr         string
	TelegramToken       string // optional; enables failure alerts
	TelegramAlertChatID int64
	TelegramOperatorID  int64 // optional; enables operator commands
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load will not override existing env variables; a missing file is fine.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	cfg.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", "info"))
	cfg.Environment = strings.ToLower(getEnv("ENVIRONMENT", "development"))

	cfg.Timezone = getEnv("TIMEZONE", "Asia/Riyadh")
	cfg.Location, err = time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}

	cfg.MorningTime = getEnv("OPTIMAL_TIME_MORNING", "09:00")
	cfg.MiddayTime = getEnv("OPTIMAL_TIME_MIDDAY", "13:00")
	cfg.EveningTime = getEnv("OPTIMAL_TIME_EVENING", "20:00")
	// Slot times must be strictly increasing so no two labels share an instant.
	prev, prevName := -1, ""
	for _, slot := range []struct{ name, value string }{
		{"OPTIMAL_TIME_MORNING", cfg.MorningTime},
		{"OPTIMAL_TIME_MIDDAY", cfg.MiddayTime},
		{"OPTIMAL_TIME_EVENING", cfg.EveningTime},
	} {
		h, m, err := timing.ParseClock(slot.value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", slot.name, err)
		}
		if h*60+m <= prev {
			return nil, fmt.Errorf("invalid %s: %s must be later than %s", slot.name, slot.value, prevName)
		}
		prev, prevName = h*60+m, slot.name
	}
	cfg.SpecialPeriods = os.Getenv("SPECIAL_PERIODS")

	if cfg.LookbackDays, err = getEnvPositiveInt("LOOKBACK_DAYS", 90); err != nil {
		return nil, err
	}
	if cfg.ProfileCacheDays, err = getEnvPositiveInt("PROFILE_CACHE_DAYS", 7); err != nil {
		return nil, err
	}
	if cfg.SweepBatchSize, err = getEnvPositiveInt("SWEEP_BATCH_SIZE", 10); err != nil {
		return nil, err
	}
	if cfg.PublishRatePerSec, err = getEnvPositiveInt("PUBLISH_RATE_PER_SEC", 2); err != nil {
		return nil, err
	}

	cfg.SweepInterval = getEnv("SWEEP_INTERVAL", "*/5 * * * *") // Default: every 5 minutes
	if cfg.SweepGrace, err = getEnvDuration("SWEEP_GRACE", time.Minute); err != nil {
		return nil, err
	}
	if cfg.ClaimTimeout, err = getEnvDuration("CLAIM_TIMEOUT", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.PublishTimeout, err = getEnvDuration("PUBLISH_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}

	cfg.CronSpecRevalidate = getEnv("PROFILE_REVALIDATE_SPEC", "0 3 * * *") // Default: 3 AM daily
	cfg.CronSpecStaleClaim = getEnv("STALE_CLAIM_SPEC", "*/10 * * * *")

	cfg.LinkedInAPIBase = strings.TrimRight(getEnv("LINKEDIN_API_BASE", "https://api.linkedin.com"), "/")
	cfg.MetricsAddr = getEnv("METRICS_ADDR", ":9090")

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if chatIDStr := os.Getenv("TELEGRAM_ALERT_CHAT_ID"); chatIDStr != "" {
		cfg.TelegramAlertChatID, err = strconv.ParseInt(chatIDStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_ALERT_CHAT_ID: %w", err)
		}
	}
	if opStr := os.Getenv("TELEGRAM_OPERATOR_ID"); opStr != "" {
		cfg.TelegramOperatorID, err = strconv.ParseInt(opStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_OPERATOR_ID: %w", err)
		}
	}
	if cfg.TelegramToken != "" && cfg.TelegramAlertChatID == 0 {
		return nil, fmt.Errorf("TELEGRAM_ALERT_CHAT_ID is required when TELEGRAM_TOKEN is set")
	}

	return cfg, nil
}

// SlotCronSpec converts an HH:MM slot time into a daily cron spec ("MM HH * * *").
func SlotCronSpec(clock string) (string, error) {
	h, m, err := timing.ParseClock(clock)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d * * *", m, h), nil
}

func getEnv(key, defaultValue string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultValue
}

func getEnvPositiveInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive, got %d", key, n)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return d, nil
}
