package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP           HTTPConfig           `yaml:"http"`
	Backend        BackendConfig        `yaml:"backend"`
	Auth           AuthConfig           `yaml:"auth"`
	Cache          CacheConfig          `yaml:"cache"`
	Storage        StorageConfig        `yaml:"storage"`
	Redis          RedisConfig          `yaml:"redis"`
	MySQL          MySQLConfig          `yaml:"mysql"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Idempotency    IdempotencyConfig    `yaml:"idempotency"`
	Log            LogConfig            `yaml:"log"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr" env:"FIVES_HTTP_ADDR" default:":8090"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
}

type BackendConfig struct {
	BaseURL  string        `yaml:"base_url" env:"FIVES_BACKEND_URL" default:"http://localhost:8000"`
	Timeout  time.Duration `yaml:"timeout" env:"FIVES_BACKEND_TIMEOUT" default:"10s"`
	RetryMax int           `yaml:"retry_max" default:"2"`
}

type AuthConfig struct {
	Token     string        `yaml:"token" env:"FIVES_AUTH_TOKEN"`
	TokenFile string        `yaml:"token_file" env:"FIVES_AUTH_TOKEN_FILE"`
	ClockSkew time.Duration `yaml:"clock_skew" default:"60s"`
}

type CacheConfig struct {
	StorageKey          string        `yaml:"storage_key" default:"fives_last_match_cache"`
	StaleAfter          time.Duration `yaml:"stale_after" default:"5m"`
	MinRequestInterval  time.Duration `yaml:"min_request_interval" default:"6s"`
	ThrottleWait        time.Duration `yaml:"throttle_wait" default:"1s"`
	MaxBytes            int           `yaml:"max_bytes" default:"2097152"`
	MinRetained         int           `yaml:"min_retained" default:"10"`
	MaxFetchesPerWindow int           `yaml:"max_fetches_per_window" default:"10"`
	FetchWindow         time.Duration `yaml:"fetch_window" default:"1m"`
	DefaultSeason       string        `yaml:"default_season" default:"2024"`
	SingleFlight        *bool         `yaml:"single_flight" default:"true"`
}

type StorageConfig struct {
	Driver string `yaml:"driver" env:"FIVES_STORAGE_DRIVER" default:"file"`
	Dir    string `yaml:"dir" env:"FIVES_STORAGE_DIR"`
}

type RedisConfig struct {
	Enabled   bool   `yaml:"enabled" env:"FIVES_REDIS_ENABLED"`
	Addr      string `yaml:"addr" env:"FIVES_REDIS_ADDR" default:"localhost:6379"`
	Password  string `yaml:"pass" default:""`
	DB        int    `yaml:"db" default:"0"`
	KeyPrefix string `yaml:"key_prefix" default:"fives:"`
}

type MySQLConfig struct {
	Host         string        `yaml:"host" default:"localhost"`
	Port         int           `yaml:"port" default:"3306"`
	DBName       string        `yaml:"db" default:"fives_agent"`
	User         string        `yaml:"user" default:"root"`
	Password     string        `yaml:"pass" env:"FIVES_MYSQL_PASSWORD" default:"root"`
	MaxOpenConns int           `yaml:"max_open" default:"4"`
	MaxIdleConns int           `yaml:"max_idle" default:"2"`
	MaxLifetime  time.Duration `yaml:"max_lifetime" default:"1h"`
}

type CircuitBreakerConfig struct {
	MaxRequests      uint32        `yaml:"max_requests" default:"1"`
	Interval         time.Duration `yaml:"interval" default:"60s"`
	Timeout          time.Duration `yaml:"timeout" default:"30s"`
	FailureThreshold uint32        `yaml:"failure_threshold" default:"5"`
}

type RateLimitConfig struct {
	PerMinute int `yaml:"per_minute" default:"120"`
}

type IdempotencyConfig struct {
	Enabled     bool          `yaml:"enabled" default:"true"`
	LockTTL     time.Duration `yaml:"lock_ttl" default:"15s"`
	ResponseTTL time.Duration `yaml:"response_ttl" default:"24h"`
}

type LogConfig struct {
	LevelStr string `yaml:"level" env:"FIVES_LOG_LEVEL" default:"info"`
}

func (c CacheConfig) SingleFlightEnabled() bool {
	return c.SingleFlight == nil || *c.SingleFlight
}

func LoadFromEnv() (Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config/local.yaml"
	}
	return Load(path)
}

func New() (*Config, error) {
	cfg, err := LoadFromEnv()
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads the YAML file at path, fills unset fields from default tags and
// applies FIVES_* environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return Config{}, err
	}

	if err := defaults.Set(&cfg); err != nil {
		return Config{}, err
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "file", "memory", "mysql":
	case "redis":
		if !c.Redis.Enabled {
			return errors.New("storage.driver=redis requires redis.enabled")
		}
	default:
		return errors.New("storage.driver must be one of file|redis|mysql|memory")
	}
	if c.Cache.MinRetained < 1 {
		return errors.New("cache.min_retained must be positive")
	}
	if c.Cache.MaxBytes <= 0 {
		return errors.New("cache.max_bytes must be positive")
	}
	if c.Cache.StorageKey == "" {
		return errors.New("cache.storage_key is empty")
	}
	if c.Backend.BaseURL == "" {
		return errors.New("backend.base_url is empty")
	}
	return nil
}
