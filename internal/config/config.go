package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/HanTheDev/genie-analytics/internal/classifier"
	"github.com/HanTheDev/genie-analytics/internal/models"
)

const (
	envPrefix       = "GENIE_"
	configPathEnv   = "CONFIG_PATH"
	defaultYAMLPath = "config.yaml"
)

type Config struct {
	Server    ServerConfig      `koanf:"server"`
	Database  DatabaseConfig    `koanf:"database"`
	LLM       LLMConfig         `koanf:"llm"`
	Profiles  models.ProfileSet `koanf:"profiles"`
	Redis     RedisConfig       `koanf:"redis"`
	RateLimit RateLimitConfig   `koanf:"ratelimit"`
	Auth      AuthConfig        `koanf:"auth"`
	Genie     GenieConfig       `koanf:"genie"`
	Logging   LoggingConfig     `koanf:"logging"`
}

type ServerConfig struct {
	Port         string        `koanf:"port" validate:"required"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

type DatabaseConfig struct {
	URL            string        `koanf:"url"`
	MaxConns       int32         `koanf:"max_conns" validate:"gt=0"`
	MinConns       int32         `koanf:"min_conns" validate:"gte=0"`
	IdleTimeout    time.Duration `koanf:"idle_timeout"`
	ConnectTimeout time.Duration `koanf:"connect_timeout" validate:"gt=0"`
	QueryTimeout   time.Duration `koanf:"query_timeout" validate:"gt=0"`
	MaxRetries     int           `koanf:"max_retries" validate:"gte=1,lte=10"`
	RetryBase      time.Duration `koanf:"retry_base"`
}

type LLMConfig struct {
	BaseURL        string        `koanf:"base_url"`
	APIKey         string        `koanf:"api_key"`
	APIVersion     string        `koanf:"api_version"`
	Azure          bool          `koanf:"azure"`
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"gt=0"`
	BreakerTimeout time.Duration `koanf:"breaker_timeout"`
}

type RedisConfig struct {
	URL      string        `koanf:"url"`
	Enabled  bool          `koanf:"enabled"`
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

type RateLimitConfig struct {
	Enabled         bool `koanf:"enabled"`
	RequestsPerHour int  `koanf:"requests_per_hour" validate:"gte=0"`
}

type AuthConfig struct {
	Mode      string `koanf:"mode" validate:"oneof=jwt header"`
	JWTSecret string `koanf:"jwt_secret"`
}

type GenieConfig struct {
	Catalog    string `koanf:"catalog" validate:"oneof=campaign retail"`
	HistoryCap int    `koanf:"history_cap" validate:"gt=0"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
		Database: DatabaseConfig{
			MaxConns:       20,
			MinConns:       0,
			IdleTimeout:    30 * time.Second,
			ConnectTimeout: 30 * time.Second,
			QueryTimeout:   30 * time.Second,
			MaxRetries:     3,
			RetryBase:      100 * time.Millisecond,
		},
		LLM: LLMConfig{
			BaseURL:        "https://api.openai.com/v1",
			APIVersion:     "2024-02-15-preview",
			RequestTimeout: 60 * time.Second,
			BreakerTimeout: 30 * time.Second,
		},
		Profiles: classifier.DefaultProfiles(),
		Redis: RedisConfig{
			URL:      "redis://localhost:6379",
			Enabled:  false,
			CacheTTL: 10 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:         false,
			RequestsPerHour: 1000,
		},
		Auth: AuthConfig{
			Mode:      "jwt",
			JWTSecret: "secret",
		},
		Genie: GenieConfig{
			Catalog:    "campaign",
			HistoryCap: 50,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load layers defaults, an optional YAML file and GENIE_* environment variables.
// A .env file is read first when present. The gateway-era variables DATABASE_URL,
// REDIS_URL, JWT_SECRET and SERVER_PORT still win when set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)
	cfg.Redis.URL = getEnv("REDIS_URL", cfg.Redis.URL)
	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Server.Port = getEnv("SERVER_PORT", cfg.Server.Port)
	cfg.LLM.APIKey = getEnv("OPENAI_API_KEY", cfg.LLM.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// envKey maps GENIE_DATABASE__MAX_CONNS to database.max_conns.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func findConfigFile() string {
	if p := os.Getenv(configPathEnv); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if _, err := os.Stat(defaultYAMLPath); err == nil {
		return defaultYAMLPath
	}
	return ""
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database.min_conns (%d) exceeds database.max_conns (%d)", c.Database.MinConns, c.Database.MaxConns)
	}
	if c.Auth.Mode == "jwt" && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required in jwt mode")
	}
	if c.Profiles.Simple.CostPerToken >= c.Profiles.Complex.CostPerToken {
		return fmt.Errorf("profiles.simple.cost_per_token must be lower than profiles.complex.cost_per_token")
	}
	return nil
}
