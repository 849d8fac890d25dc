package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"fraudgate/internal/bootstrap/logging"
	"fraudgate/internal/errs"
)

// Card identifier policy modes.
const (
	CardIDModeTokenOnly      = "TOKEN_ONLY"
	CardIDModeTokenPlusLast4 = "TOKEN_PLUS_LAST4"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Database DatabaseConfig `mapstructure:"database"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Stream   StreamConfig   `mapstructure:"stream"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// IngestConfig is the immutable policy threaded into the validator, guard
// and redactor. It is never read from ambient state.
type IngestConfig struct {
	CardIDMode       string        `mapstructure:"card_id_mode"`
	PayloadAllowKeys []string      `mapstructure:"payload_allow_keys"`
	PayloadMaxBytes  int           `mapstructure:"payload_max_bytes"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
}

type StreamConfig struct {
	URL               string        `mapstructure:"url"`
	Stream            string        `mapstructure:"stream"`
	SubjectPrefix     string        `mapstructure:"subject_prefix"`
	Durable           string        `mapstructure:"durable"`
	Partitions        int           `mapstructure:"partitions"`
	Concurrency       int           `mapstructure:"concurrency"`
	BatchSize         int           `mapstructure:"batch_size"`
	PollTimeout       time.Duration `mapstructure:"poll_timeout"`
	DeadLetterSubject string        `mapstructure:"dead_letter_subject"`
	Retry             RetryConfig   `mapstructure:"retry"`
	Breaker           BreakerConfig `mapstructure:"breaker"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

func Load(ctx context.Context, configFile string) (Config, error) {
	if ctx == nil {
		return Config{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return Config{}, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.config"))

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			// Keep default and env-backed config when no file is provided.
			logging.Warn(logCtx, "config file not found, fallback to defaults and env")
		} else {
			return Config{}, errs.Wrap(err, "read config")
		}
	} else {
		logging.Info(logCtx, "using config file", slog.String("path", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errs.Wrap(err, "unmarshal config")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, errs.Wrap(err, "validate config")
	}

	logging.Info(
		logCtx,
		"config loaded",
		slog.String("app", cfg.App.Name),
		slog.String("env", cfg.App.Env),
		slog.String("card_id_mode", cfg.Ingest.CardIDMode),
		slog.Bool("http_enabled", cfg.HTTP.Enabled),
	)

	return cfg, nil
}

func (c Config) Validate() error {
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}

	switch c.Ingest.CardIDMode {
	case CardIDModeTokenOnly, CardIDModeTokenPlusLast4:
	default:
		return fmt.Errorf("ingest.card_id_mode must be %s or %s, got %q",
			CardIDModeTokenOnly, CardIDModeTokenPlusLast4, c.Ingest.CardIDMode)
	}

	if c.Ingest.PayloadMaxBytes <= 0 {
		return errors.New("ingest.payload_max_bytes must be positive")
	}
	if c.Stream.Partitions <= 0 {
		return errors.New("stream.partitions must be positive")
	}
	if c.Stream.Concurrency <= 0 {
		return errors.New("stream.concurrency must be positive")
	}
	if c.Stream.BatchSize <= 0 {
		return errors.New("stream.batch_size must be positive")
	}
	if c.Stream.Breaker.FailureThreshold <= 0 {
		return errors.New("stream.breaker.failure_threshold must be positive")
	}
	if c.Stream.Breaker.Cooldown <= 0 {
		return errors.New("stream.breaker.cooldown must be positive")
	}
	if c.Stream.DeadLetterSubject == "" {
		return errors.New("stream.dead_letter_subject is required")
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "fraudgate")
	v.SetDefault("app.env", "local")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", ".state/fraudgate.sqlite")

	v.SetDefault("http.enabled", false)
	v.SetDefault("http.addr", ":8080")

	v.SetDefault("ingest.card_id_mode", CardIDModeTokenOnly)
	v.SetDefault("ingest.payload_allow_keys", []string{"channel", "pos_entry_mode", "auth_code"})
	v.SetDefault("ingest.payload_max_bytes", 4096)
	v.SetDefault("ingest.write_timeout", 5*time.Second)

	v.SetDefault("stream.url", "nats://127.0.0.1:4222")
	v.SetDefault("stream.stream", "FRAUD_DECISIONS")
	v.SetDefault("stream.subject_prefix", "fraud.decisions")
	v.SetDefault("stream.durable", "fraudgate")
	v.SetDefault("stream.partitions", 4)
	v.SetDefault("stream.concurrency", 4)
	v.SetDefault("stream.batch_size", 32)
	v.SetDefault("stream.poll_timeout", 2*time.Second)
	v.SetDefault("stream.dead_letter_subject", "fraud.decisions.dlq")
	v.SetDefault("stream.retry.max_attempts", 3)
	v.SetDefault("stream.retry.initial_interval", 200*time.Millisecond)
	v.SetDefault("stream.retry.max_interval", 5*time.Second)
	v.SetDefault("stream.breaker.failure_threshold", 5)
	v.SetDefault("stream.breaker.cooldown", 30*time.Second)
}
