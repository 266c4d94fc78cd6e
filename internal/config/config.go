package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Gemini  GeminiConfig  `mapstructure:"gemini"`
	Session SessionConfig `mapstructure:"session"`
	Prompt  PromptConfig  `mapstructure:"prompt"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

type StorageConfig struct {
	Driver string       `mapstructure:"driver"` // redis, sqlite or memory
	Redis  RedisConfig  `mapstructure:"redis"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type GeminiConfig struct {
	APIKeys []string `mapstructure:"api_keys"`
	Model   string   `mapstructure:"model"`
}

type SessionConfig struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxSessions      int           `mapstructure:"max_sessions"`
	CleanupInterval  time.Duration `mapstructure:"cleanup_interval"`
	ContextMaxLength int           `mapstructure:"context_max_length"`
	MaxAPIMessages   int           `mapstructure:"max_api_messages"`
}

type PromptConfig struct {
	// LooseFileMatch enables substring matching of {{file:name}}
	// references against registered file names.
	LooseFileMatch bool `mapstructure:"loose_file_match"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	// Set config file path
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// Set defaults
	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	// Override with environment variables
	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.request_timeout", "60s")

	// Storage
	v.SetDefault("storage.driver", "redis")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.sqlite.path", "./gigpilot.db")

	// Auth
	v.SetDefault("auth.token_ttl", "168h") // 7 days

	// Gemini
	v.SetDefault("gemini.model", "gemini-2.5-flash")

	// Session
	v.SetDefault("session.timeout", "30m")
	v.SetDefault("session.max_sessions", 50)
	v.SetDefault("session.cleanup_interval", "5m")
	v.SetDefault("session.context_max_length", 4000)
	v.SetDefault("session.max_api_messages", 20)

	// Prompt
	v.SetDefault("prompt.loose_file_match", false)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func bindEnvVars(v *viper.Viper) {
	// Storage
	v.BindEnv("storage.driver", "STORAGE_DRIVER")
	v.BindEnv("storage.redis.password", "REDIS_PASSWORD")
	v.BindEnv("storage.sqlite.path", "SQLITE_PATH")

	// Auth
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")

	// Gemini: comma-separated list via GEMINI_API_KEYS, or a single
	// key via GEMINI_API_KEY
	v.BindEnv("gemini.api_keys", "GEMINI_API_KEYS")
	v.BindEnv("gemini.model", "GEMINI_MODEL")
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && os.Getenv("GEMINI_API_KEYS") == "" {
		v.Set("gemini.api_keys", []string{key})
	}
}
