package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Queue     QueueConfig
	Transport TransportConfig
	Welcome   WelcomeConfig
	Sweep     SweepConfig
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	PostgresURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type QueueConfig struct {
	Workers      int
	PollInterval time.Duration
	MaxAttempts  int
	BackoffBase  time.Duration
}

type TransportConfig struct {
	URL        string
	Token      string
	ContentMax int
}

type WelcomeConfig struct {
	Template string
	Stagger  time.Duration
}

type SweepConfig struct {
	Hour   int
	Minute int
	Cutoff time.Duration
}

// LoadAll reads every setting from the environment. Any missing required
// key, unparsable value or failed validation is collected and returned as
// one error; the caller treats that as fatal at startup.
func LoadAll() (*Config, error) {
	var errs []error

	collect := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	require := func(key string) string {
		v, err := requireEnv(key)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			PostgresURL: require("POSTGRES_URL"),
		},
		Transport: TransportConfig{
			URL:        require("TRANSPORT_URL"),
			Token:      os.Getenv("TRANSPORT_TOKEN"),
			ContentMax: collect("CONTENT_MAX", 1600),
		},
		Queue: QueueConfig{
			Workers:      collect("QUEUE_WORKERS", 4),
			PollInterval: time.Duration(collect("QUEUE_POLL_MS", 250)) * time.Millisecond,
			MaxAttempts:  collect("QUEUE_MAX_ATTEMPTS", 3),
			BackoffBase:  time.Duration(collect("QUEUE_BACKOFF_SECONDS", 30)) * time.Second,
		},
		Welcome: WelcomeConfig{
			Template: getEnv("WELCOME_TEMPLATE", "Hello {{Name}}! Thanks for getting in touch."),
			Stagger:  time.Duration(collect("WELCOME_STAGGER_SECONDS", 5)) * time.Second,
		},
		Sweep: SweepConfig{
			Hour:   collect("SWEEP_HOUR", 8),
			Minute: collect("SWEEP_MINUTE", 0),
			Cutoff: time.Duration(collect("SWEEP_CUTOFF_HOURS", 24)) * time.Hour,
		},
	}

	redisCfg, redisErrs := loadRedisConfig()
	cfg.Redis = redisCfg
	errs = append(errs, redisErrs...)

	if len(errs) == 0 {
		errs = append(errs, validate(cfg)...)
	}

	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig() (RedisConfig, []error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	var errs []error
	db, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		errs = append(errs, err)
	}
	ttl, err := getEnvInt("REDIS_TTL_SECONDS", 86400)
	if err != nil {
		errs = append(errs, err)
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttl) * time.Second,
	}, errs
}

func validate(cfg *Config) []error {
	var errs []error

	if cfg.Queue.Workers <= 0 {
		errs = append(errs, errors.New("QUEUE_WORKERS must be > 0"))
	}
	if cfg.Queue.PollInterval <= 0 {
		errs = append(errs, errors.New("QUEUE_POLL_MS must be > 0"))
	}
	if cfg.Queue.MaxAttempts <= 0 {
		errs = append(errs, errors.New("QUEUE_MAX_ATTEMPTS must be > 0"))
	}
	if cfg.Queue.BackoffBase <= 0 {
		errs = append(errs, errors.New("QUEUE_BACKOFF_SECONDS must be > 0"))
	}
	if cfg.Transport.ContentMax <= 0 {
		errs = append(errs, errors.New("CONTENT_MAX must be > 0"))
	}
	if strings.TrimSpace(cfg.Welcome.Template) == "" {
		errs = append(errs, errors.New("WELCOME_TEMPLATE must not be empty"))
	}
	if cfg.Welcome.Stagger < 0 {
		errs = append(errs, errors.New("WELCOME_STAGGER_SECONDS must be >= 0"))
	}
	if cfg.Sweep.Hour < 0 || cfg.Sweep.Hour > 23 {
		errs = append(errs, errors.New("SWEEP_HOUR must be within 0..23"))
	}
	if cfg.Sweep.Minute < 0 || cfg.Sweep.Minute > 59 {
		errs = append(errs, errors.New("SWEEP_MINUTE must be within 0..59"))
	}
	if cfg.Sweep.Cutoff <= 0 {
		errs = append(errs, errors.New("SWEEP_CUTOFF_HOURS must be > 0"))
	}

	return errs
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid int for env %s: %s", key, v)
	}
	return i, nil
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
