// Package config resolves service settings from defaults, an optional YAML
// file, environment variables and command-line flags, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port int `yaml:"port"`

	// Storage
	DatabaseURL      string        `yaml:"databaseURL"`
	Migrate          bool          `yaml:"migrate"`
	MigrationsDir    string        `yaml:"migrationsDir"`
	DatasetCacheTTL  time.Duration `yaml:"datasetCacheTTL"`
	DatasetCacheSize int           `yaml:"datasetCacheSize"`
	DataDirs         []string      `yaml:"dataDirs"`

	// Events
	RedisURL string `yaml:"redisURL"`

	// Jobs
	Workers      int `yaml:"workers"`
	UpdateBuffer int `yaml:"updateBuffer"`

	// HTTP
	RateRPS         float64       `yaml:"rateRPS"`
	RateBurst       int           `yaml:"rateBurst"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// Webhooks
	WebhookMaxAttempts int           `yaml:"webhookMaxAttempts"`
	WebhookInterval    time.Duration `yaml:"webhookInterval"`

	// Logging
	LogVerbosity int  `yaml:"logVerbosity"`
	LogJSON      bool `yaml:"logJSON"`
}

func Default() Config {
	return Config{
		Port:               8080,
		Migrate:            true,
		MigrationsDir:      "db/migrations",
		DatasetCacheTTL:    10 * time.Minute,
		DatasetCacheSize:   256,
		DataDirs:           []string{"data"},
		Workers:            4,
		UpdateBuffer:       64,
		RateRPS:            50,
		RateBurst:          100,
		ShutdownTimeout:    15 * time.Second,
		WebhookMaxAttempts: 10,
		WebhookInterval:    time.Second,
	}
}

// LoadFile overlays the YAML document at path onto c.
func (c *Config) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from environment variables that are set.
// Malformed numeric values are reported rather than ignored.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	var errs []string
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" { *dst = v }
	}
	num := func(key string, dst *int) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil { errs = append(errs, key+": "+err.Error()); return }
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil { errs = append(errs, key+": "+err.Error()); return }
			*dst = d
		}
	}
	num("PORT", &c.Port)
	str("DATABASE_URL", &c.DatabaseURL)
	str("MIGRATIONS_DIR", &c.MigrationsDir)
	if v := getenv("DB_MIGRATE"); v != "" { c.Migrate = v != "false" }
	dur("DATASET_CACHE_TTL", &c.DatasetCacheTTL)
	num("DATASET_CACHE_SIZE", &c.DatasetCacheSize)
	if v := strings.TrimSpace(getenv("DATA_DIRS")); v != "" { c.DataDirs = strings.Split(v, ",") }
	str("REDIS_URL", &c.RedisURL)
	num("WORKERS", &c.Workers)
	num("UPDATE_BUFFER", &c.UpdateBuffer)
	if v := strings.TrimSpace(getenv("RATE_RPS")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil { errs = append(errs, "RATE_RPS: "+err.Error()) } else { c.RateRPS = f }
	}
	num("RATE_BURST", &c.RateBurst)
	dur("SHUTDOWN_TIMEOUT", &c.ShutdownTimeout)
	num("WEBHOOK_MAX_ATTEMPTS", &c.WebhookMaxAttempts)
	dur("WEBHOOK_INTERVAL", &c.WebhookInterval)
	num("LOG_LEVEL", &c.LogVerbosity)
	if v := getenv("LOG_JSON"); v != "" { c.LogJSON = v == "true" || v == "1" }
	if len(errs) > 0 {
		return fmt.Errorf("environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

// AddFlags binds fields to flags. Flag defaults are the current values, so
// flags left unset keep whatever the file and environment provided.
func (c *Config) AddFlags(fs *pflag.FlagSet) {
	fs.IntVar(&c.Port, "port", c.Port, "HTTP listen port.")
	fs.StringVar(&c.DatabaseURL, "database-url", c.DatabaseURL, "Postgres DSN; empty selects the in-memory store.")
	fs.BoolVar(&c.Migrate, "migrate", c.Migrate, "Apply SQL migrations at startup.")
	fs.StringVar(&c.MigrationsDir, "migrations-dir", c.MigrationsDir, "Directory of *.sql migrations.")
	fs.DurationVar(&c.DatasetCacheTTL, "dataset-cache-ttl", c.DatasetCacheTTL, "TTL of the dataset read cache; 0 disables it.")
	fs.IntVar(&c.DatasetCacheSize, "dataset-cache-size", c.DatasetCacheSize, "Maximum cached datasets.")
	fs.StringSliceVar(&c.DataDirs, "data-dir", c.DataDirs, "Directories scanned for instance files.")
	fs.StringVar(&c.RedisURL, "redis-url", c.RedisURL, "Redis URL for cross-process job events.")
	fs.IntVar(&c.Workers, "workers", c.Workers, "Jobs executed concurrently.")
	fs.IntVar(&c.UpdateBuffer, "update-buffer", c.UpdateBuffer, "Per-job progress buffer.")
	fs.Float64Var(&c.RateRPS, "rate-rps", c.RateRPS, "Request rate limit; 0 disables it.")
	fs.IntVar(&c.RateBurst, "rate-burst", c.RateBurst, "Request burst size.")
	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", c.ShutdownTimeout, "Grace period for in-flight requests and jobs.")
	fs.IntVar(&c.WebhookMaxAttempts, "webhook-max-attempts", c.WebhookMaxAttempts, "Delivery attempts before dead-lettering.")
	fs.DurationVar(&c.WebhookInterval, "webhook-interval", c.WebhookInterval, "Webhook worker poll interval.")
	fs.IntVarP(&c.LogVerbosity, "v", "v", c.LogVerbosity, "Log verbosity.")
	fs.BoolVar(&c.LogJSON, "log-json", c.LogJSON, "Emit JSON log lines.")
}

func (c Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("port %d out of range", c.Port)
	case c.Workers <= 0:
		return fmt.Errorf("workers must be > 0 (got %d)", c.Workers)
	case c.UpdateBuffer <= 0:
		return fmt.Errorf("update buffer must be > 0 (got %d)", c.UpdateBuffer)
	case c.RateRPS < 0 || c.RateBurst < 0:
		return fmt.Errorf("rate limit must be >= 0")
	case c.WebhookMaxAttempts <= 0:
		return fmt.Errorf("webhook max attempts must be > 0 (got %d)", c.WebhookMaxAttempts)
	case c.WebhookInterval <= 0:
		return fmt.Errorf("webhook interval must be > 0")
	case c.DatasetCacheTTL < 0 || c.DatasetCacheSize < 0:
		return fmt.Errorf("dataset cache settings must be >= 0")
	}
	return nil
}

// Resolve builds the effective configuration for args.
func Resolve(args []string, getenv func(string) string) (Config, error) {
	pre := pflag.NewFlagSet("wolfroute", pflag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.Usage = func() {}
	path := pre.String("config", getenv("CONFIG_FILE"), "")
	_ = pre.Parse(args)

	cfg := Default()
	if *path != "" {
		if err := cfg.LoadFile(*path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return Config{}, err
	}
	fs := pflag.NewFlagSet("wolfroute", pflag.ContinueOnError)
	fs.String("config", *path, "YAML config file (env CONFIG_FILE).")
	cfg.AddFlags(fs)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Redacted is the view served at /debug/config.
func (c Config) Redacted() map[string]any {
	return map[string]any{
		"port":               c.Port,
		"database":           redact(c.DatabaseURL),
		"redis":              redact(c.RedisURL),
		"migrate":            c.Migrate,
		"datasetCacheTTL":    c.DatasetCacheTTL.String(),
		"datasetCacheSize":   c.DatasetCacheSize,
		"dataDirs":           c.DataDirs,
		"workers":            c.Workers,
		"updateBuffer":       c.UpdateBuffer,
		"rateRPS":            c.RateRPS,
		"rateBurst":          c.RateBurst,
		"webhookMaxAttempts": c.WebhookMaxAttempts,
		"logVerbosity":       c.LogVerbosity,
	}
}

func redact(url string) string {
	if url == "" {
		return ""
	}
	return "set"
}
