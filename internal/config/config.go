// Package config loads credcore configuration from a YAML file, an optional
// .env file and CREDCORE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/org/credcore/internal/keysource"
)

// EnvConfigFile overrides the config file path.
const EnvConfigFile = "CREDCORE_CONFIG"

const EnvironmentProduction = "production"

type Config struct {
	Environment string `yaml:"environment"`
	ListenAddr  string `yaml:"listen_addr"`
	TLSCertFile string `yaml:"tls_cert"`
	TLSKeyFile  string `yaml:"tls_key"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`

	Storage struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"storage"`

	Key keysource.Config `yaml:"key"`

	Crypto struct {
		LegacyCBC bool `yaml:"legacy_cbc"`
	} `yaml:"crypto"`

	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		Issuer    string `yaml:"issuer"`
		Audience  string `yaml:"audience"`
	} `yaml:"auth"`

	Policy struct {
		BlacklistFile string `yaml:"blacklist_file"`
	} `yaml:"policy"`

	History struct {
		MaxEntriesPerCredential int `yaml:"max_entries_per_credential"`
	} `yaml:"history"`

	Rotation struct {
		AllowConcurrentSchedules *bool `yaml:"allow_concurrent_schedules"`
	} `yaml:"rotation"`

	Breach struct {
		Enabled      bool          `yaml:"enabled"`
		BaseURL      string        `yaml:"base_url"`
		Timeout      time.Duration `yaml:"timeout"`
		BatchDelay   time.Duration `yaml:"batch_delay"`
		BatchTimeout time.Duration `yaml:"batch_timeout"`
		Cache        struct {
			Driver    string        `yaml:"driver"`
			RedisURL  string        `yaml:"redis_url"`
			KeyPrefix string        `yaml:"key_prefix"`
			TTL       time.Duration `yaml:"ttl"`
		} `yaml:"cache"`
	} `yaml:"breach"`

	Similarity struct {
		Threshold float64 `yaml:"threshold"`
		MaxItems  int     `yaml:"max_items"`
		Workers   int     `yaml:"workers"`
	} `yaml:"similarity"`

	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	c := &Config{
		Environment: "development",
		ListenAddr:  ":8300",
		LogLevel:    "info",
		LogFormat:   "console",
	}
	c.Storage.Driver = "postgres"
	c.Key.Source = "env"
	c.Auth.Issuer = "credcore"
	c.Breach.BatchTimeout = 45 * time.Second
	c.Breach.Cache.Driver = "memory"
	c.Breach.Cache.TTL = 24 * time.Hour
	c.RateLimit.RPS = 100
	c.RateLimit.Burst = 200
	return c
}

// Load reads path (or $CREDCORE_CONFIG, or config.yaml) over the defaults,
// loads envFile into the process environment when it exists, then applies
// environment overrides. A missing config file is not an error.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}
	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path == "" {
		path = "config.yaml"
	}

	c := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := c.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return c, c.Validate()
}

func (c *Config) applyEnvOverrides() error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	str("CREDCORE_ENV", &c.Environment)
	str("CREDCORE_LISTEN_ADDR", &c.ListenAddr)
	str("CREDCORE_LOG_LEVEL", &c.LogLevel)
	str("CREDCORE_LOG_FORMAT", &c.LogFormat)
	str("CREDCORE_STORAGE_DRIVER", &c.Storage.Driver)
	str("DATABASE_URL", &c.Storage.DSN)
	str("CREDCORE_KEY_SOURCE", &c.Key.Source)
	str("CREDCORE_KEY_FILE", &c.Key.File)
	str("CREDCORE_JWT_SECRET", &c.Auth.JWTSecret)
	str("CREDCORE_BREACH_BASE_URL", &c.Breach.BaseURL)
	str("CREDCORE_REDIS_URL", &c.Breach.Cache.RedisURL)

	if v := strings.TrimSpace(os.Getenv("CREDCORE_BREACH_ENABLED")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CREDCORE_BREACH_ENABLED: %w", err)
		}
		c.Breach.Enabled = b
	}
	if v := strings.TrimSpace(os.Getenv("CREDCORE_LEGACY_CBC")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CREDCORE_LEGACY_CBC: %w", err)
		}
		c.Crypto.LegacyCBC = b
	}
	return nil
}

// Production reports whether fail-fast production checks apply.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Environment, EnvironmentProduction)
}

// AllowConcurrentSchedules defaults to true when unset.
func (c *Config) AllowConcurrentSchedules() bool {
	if c.Rotation.AllowConcurrentSchedules == nil {
		return true
	}
	return *c.Rotation.AllowConcurrentSchedules
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	var problems []string
	switch strings.ToLower(c.Storage.Driver) {
	case "memory":
	case "", "postgres", "postgresql", "pgx", "sqlite", "mysql":
		if c.Storage.DSN == "" {
			problems = append(problems, "storage.dsn is required (or DATABASE_URL)")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown storage.driver %q", c.Storage.Driver))
	}
	switch c.Breach.Cache.Driver {
	case "", "none", "memory":
	case "redis":
		if c.Breach.Cache.RedisURL == "" {
			problems = append(problems, "breach.cache.redis_url is required for the redis cache")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown breach.cache.driver %q", c.Breach.Cache.Driver))
	}
	if c.Production() {
		if len(c.Auth.JWTSecret) < 32 {
			problems = append(problems, "auth.jwt_secret must be at least 32 bytes in production")
		}
		if strings.EqualFold(c.Storage.Driver, "memory") {
			problems = append(problems, "the memory storage driver is not allowed in production")
		}
	}
	if c.Breach.BatchTimeout < 0 {
		problems = append(problems, "breach.batch_timeout must not be negative")
	}
	if c.Similarity.Threshold < 0 || c.Similarity.Threshold > 1 {
		problems = append(problems, "similarity.threshold must be within [0,1]")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
