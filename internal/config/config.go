package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// MinSecretLen is the shortest accepted session secret.
const MinSecretLen = 32

type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	// GRPCAddr serves grpc.health.v1; empty disables the listener.
	GRPCAddr string `yaml:"grpc_addr"`

	Env string `yaml:"env"` // "dev" | "prod"

	// Storage.  With the redis driver, codes and revocations live in redis
	// while announcements and the audit trail go to postgres when a DSN is
	// set, sqlite otherwise.
	StoreDriver   string `yaml:"store_driver"`
	DBPath        string `yaml:"db_path"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// Notifier.
	WebhookURL    string `yaml:"webhook_url"`
	IssuePolicy   string `yaml:"issue_policy"`
	PublishPolicy string `yaml:"publish_policy"`

	// Codes and sessions.
	CodeTTL       time.Duration `yaml:"code_ttl"`
	CodeLength    int           `yaml:"code_length"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
	SessionSecret string        `yaml:"session_secret"`

	AllowedOrigins []string `yaml:"allowed_origins"`

	// Expired code retention.
	PruneInterval time.Duration `yaml:"prune_interval"` // 0 disables the pruner
	Retention     time.Duration `yaml:"retention"`

	SeedDefaults bool `yaml:"seed_defaults"`
}

func Defaults() Config {
	return Config{
		HTTPAddr:      ":8080",
		GRPCAddr:      ":9090",
		Env:           "dev",
		StoreDriver:   DriverSQLite,
		DBPath:        "./data/bulletin.db",
		RedisAddr:     "localhost:6379",
		IssuePolicy:   "required",
		PublishPolicy: "best_effort",
		CodeTTL:       5 * time.Minute,
		CodeLength:    6,
		TokenTTL:      12 * time.Hour,
		PruneInterval: time.Hour,
		Retention:     24 * time.Hour,
		SeedDefaults:  true,
	}
}

// Load starts from Defaults, applies BULLETIN_CONFIG_FILE when set, then
// the BULLETIN_* environment.  Malformed env values fall back to whatever
// the file or defaults said.
func Load() (Config, error) {
	cfg := Defaults()

	if path := strings.TrimSpace(os.Getenv("BULLETIN_CONFIG_FILE")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	normalize(&cfg)
	return cfg, nil
}

// FromEnv is Load without the error, for callers that only use the
// environment.  A broken config file yields the env-only configuration.
func FromEnv() Config {
	cfg, err := Load()
	if err != nil {
		cfg = Defaults()
		applyEnv(&cfg)
		normalize(&cfg)
	}
	return cfg
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = getenvDefault("BULLETIN_HTTP_ADDR", cfg.HTTPAddr)
	if v, ok := os.LookupEnv("BULLETIN_GRPC_ADDR"); ok {
		cfg.GRPCAddr = strings.TrimSpace(v)
	}
	cfg.Env = getenvDefault("BULLETIN_ENV", cfg.Env)

	cfg.StoreDriver = getenvDefault("BULLETIN_STORE", cfg.StoreDriver)
	cfg.DBPath = getenvDefault("BULLETIN_DB_PATH", cfg.DBPath)
	cfg.PostgresDSN = getenvDefault("BULLETIN_POSTGRES_DSN", cfg.PostgresDSN)
	cfg.RedisAddr = getenvDefault("BULLETIN_REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getenvDefault("BULLETIN_REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getenvInt("BULLETIN_REDIS_DB", cfg.RedisDB)

	cfg.WebhookURL = getenvDefault("BULLETIN_WEBHOOK_URL", cfg.WebhookURL)
	cfg.IssuePolicy = getenvDefault("BULLETIN_ISSUE_POLICY", cfg.IssuePolicy)
	cfg.PublishPolicy = getenvDefault("BULLETIN_PUBLISH_POLICY", cfg.PublishPolicy)

	cfg.CodeTTL = getenvDuration("BULLETIN_CODE_TTL", cfg.CodeTTL)
	cfg.CodeLength = getenvInt("BULLETIN_CODE_LENGTH", cfg.CodeLength)
	cfg.TokenTTL = getenvDuration("BULLETIN_TOKEN_TTL", cfg.TokenTTL)
	cfg.SessionSecret = getenvDefault("BULLETIN_SESSION_SECRET", cfg.SessionSecret)

	if origins := splitCSV(os.Getenv("BULLETIN_ALLOWED_ORIGINS")); origins != nil {
		cfg.AllowedOrigins = origins
	}

	cfg.PruneInterval = getenvDuration("BULLETIN_PRUNE_INTERVAL", cfg.PruneInterval)
	cfg.Retention = getenvDuration("BULLETIN_RETENTION", cfg.Retention)
	cfg.SeedDefaults = getenvBool("BULLETIN_SEED_DEFAULTS", cfg.SeedDefaults)
}

func normalize(cfg *Config) {
	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	if cfg.Env != "dev" && cfg.Env != "prod" {
		// fail-soft: treat unknown as dev
		cfg.Env = "dev"
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.IssuePolicy = strings.ToLower(strings.TrimSpace(cfg.IssuePolicy))
	cfg.PublishPolicy = strings.ToLower(strings.TrimSpace(cfg.PublishPolicy))
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = 6
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = 5 * time.Minute
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 12 * time.Hour
	}
}

// Validate reports settings the server cannot start with.
func (c Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres store requires BULLETIN_POSTGRES_DSN"))
		}
	case DriverRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redis store requires BULLETIN_REDIS_ADDR"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.StoreDriver))
	}

	if c.SessionSecret != "" && len(c.SessionSecret) < MinSecretLen {
		errs = append(errs, fmt.Errorf("session secret must be at least %d bytes", MinSecretLen))
	}
	if c.IsProd() {
		if c.SessionSecret == "" {
			errs = append(errs, errors.New("prod requires BULLETIN_SESSION_SECRET"))
		}
		if c.WebhookURL == "" {
			errs = append(errs, errors.New("prod requires BULLETIN_WEBHOOK_URL"))
		}
		if c.StoreDriver == DriverMemory {
			errs = append(errs, errors.New("memory store is not allowed in prod"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func (c Config) IsProd() bool { return c.Env == "prod" }

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
