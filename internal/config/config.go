// Package config loads settings from FRESHKEEP_* environment variables, an
// optional .env file and an optional YAML file of job cadences.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dukerupert/freshkeep/internal/schedule"
)

const envPrefix = "FRESHKEEP_"

type Config struct {
	Port      string `validate:"required,numeric"`
	DBPath    string `validate:"required"`
	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=text json"`
	Timezone  string `validate:"required"`
	Location  *time.Location
	BaseURL   string `validate:"omitempty,url"`

	Workers               int `validate:"min=1,max=64"`
	ChannelTimeout        time.Duration
	ChannelRetries        uint64
	NotificationRetention int `validate:"min=1"`
	ItemRetention         int `validate:"min=1"`

	JWTSecret      string `validate:"required,min=16"`
	AllowedOrigins []string

	Push     PushConfig
	Email    EmailConfig
	Telegram TelegramConfig
	Archive  ArchiveConfig

	RedisURL    string `validate:"omitempty,url"`
	TraceStdout bool
	JobsFile    string

	// Cadences holds per-job overrides read from JobsFile.
	Cadences map[string]schedule.Cadence
}

type PushConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string `validate:"required_with=VAPIDPublicKey"`
	Subscriber      string
}

type EmailConfig struct {
	PostmarkToken string
	FromEmail     string `validate:"required_with=PostmarkToken"`
}

type TelegramConfig struct {
	Token string
}

type ArchiveConfig struct {
	Endpoint   string `validate:"omitempty,url"`
	Bucket     string
	Region     string
	AccessKey  string `validate:"required_with=Bucket"`
	SecretKey  string `validate:"required_with=Bucket"`
	Passphrase string
}

// Load reads .env when present, then the environment, then JobsFile.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not read .env file", "error", err)
	}
	return FromEnv()
}

// FromEnv builds and validates a Config from the environment alone.
func FromEnv() (*Config, error) {
	var errs []error
	num := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := &Config{
		Port:      getEnv("PORT", "8080"),
		DBPath:    getEnv("DB_PATH", "freshkeep.db"),
		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),
		Timezone:  getEnv("TIMEZONE", "UTC"),
		BaseURL:   strings.TrimRight(getEnv("BASE_URL", ""), "/"),

		Workers:               num("WORKERS", 4),
		ChannelRetries:        uint64(max(num("CHANNEL_RETRIES", 0), 0)),
		NotificationRetention: num("NOTIFICATION_RETENTION_DAYS", 30),
		ItemRetention:         num("ITEM_RETENTION_DAYS", 90),

		JWTSecret:      getEnv("JWT_SECRET", ""),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "")),

		Push: PushConfig{
			VAPIDPublicKey:  getEnv("VAPID_PUBLIC_KEY", ""),
			VAPIDPrivateKey: getEnv("VAPID_PRIVATE_KEY", ""),
			Subscriber:      getEnv("VAPID_SUBSCRIBER", ""),
		},
		Email: EmailConfig{
			PostmarkToken: getEnv("POSTMARK_TOKEN", ""),
			FromEmail:     getEnv("FROM_EMAIL", ""),
		},
		Telegram: TelegramConfig{
			Token: getEnv("TELEGRAM_TOKEN", ""),
		},
		Archive: ArchiveConfig{
			Endpoint:   getEnv("ARCHIVE_S3_ENDPOINT", ""),
			Bucket:     getEnv("ARCHIVE_S3_BUCKET", ""),
			Region:     getEnv("ARCHIVE_S3_REGION", "us-east-1"),
			AccessKey:  getEnv("ARCHIVE_S3_ACCESS_KEY", ""),
			SecretKey:  getEnv("ARCHIVE_S3_SECRET_KEY", ""),
			Passphrase: getEnv("ARCHIVE_PASSPHRASE", ""),
		},

		RedisURL: getEnv("REDIS_URL", ""),
		JobsFile: getEnv("JOBS_FILE", ""),
	}

	timeout, err := time.ParseDuration(getEnv("CHANNEL_TIMEOUT", "5s"))
	if err != nil {
		errs = append(errs, fmt.Errorf("%sCHANNEL_TIMEOUT: %w", envPrefix, err))
	}
	cfg.ChannelTimeout = timeout

	cfg.TraceStdout, err = strconv.ParseBool(getEnv("TRACE_STDOUT", "false"))
	if err != nil {
		errs = append(errs, fmt.Errorf("%sTRACE_STDOUT: %w", envPrefix, err))
	}

	cfg.Location, err = time.LoadLocation(cfg.Timezone)
	if err != nil {
		errs = append(errs, fmt.Errorf("%sTIMEZONE: %w", envPrefix, err))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if cfg.JobsFile != "" {
		cfg.Cadences, err = LoadCadences(cfg.JobsFile)
		if err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// jobsFile is the YAML layout of JobsFile:
//
//	jobs:
//	  expiry-scan:
//	    every: hourly
//	    minute: 15
//	  weekly-digest:
//	    every: weekly
//	    weekday: sunday
//	    at: "18:00"
type jobsFile struct {
	Jobs map[string]schedule.Cadence `yaml:"jobs"`
}

// LoadCadences reads per-job cadence overrides from a YAML file.
func LoadCadences(path string) (map[string]schedule.Cadence, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read jobs file: %w", err)
	}
	return ParseCadences(data)
}

func ParseCadences(data []byte) (map[string]schedule.Cadence, error) {
	var f jobsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse jobs file: %w", err)
	}
	return f.Jobs, nil
}

// PushEnabled reports whether a VAPID key pair is configured.
func (c *Config) PushEnabled() bool {
	return c.Push.VAPIDPublicKey != "" && c.Push.VAPIDPrivateKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue, fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
