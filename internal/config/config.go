package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig
	LLM       LLMConfig
	Store     StoreConfig
	Relay     RelayConfig
	Chat      ChatConfig
	Image     ImageConfig
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       LogConfig
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	AllowedOrigin   string        `mapstructure:"allowed_origin"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LLMConfig holds the upstream provider configuration
type LLMConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	ImageModel   string        `mapstructure:"image_model"`
	ImageSize    string        `mapstructure:"image_size"`
	ImageQuality string        `mapstructure:"image_quality"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// StoreConfig selects and configures the conversation store
type StoreConfig struct {
	Driver      string `mapstructure:"driver"`
	Path        string `mapstructure:"path"`
	DatabaseURL string `mapstructure:"database_url"`
}

// RelayConfig tunes the stream relay
type RelayConfig struct {
	FallbackPacing time.Duration `mapstructure:"fallback_pacing"`
	ReadBuffer     int           `mapstructure:"read_buffer"`
}

// ChatConfig holds text chat limits
type ChatConfig struct {
	MaxMessageLength int `mapstructure:"max_message_length"`
	TitleLength      int `mapstructure:"title_length"`
	HistoryLimit     int `mapstructure:"history_limit"`
}

// ImageConfig holds image prompt rules
type ImageConfig struct {
	MinPromptLength int      `mapstructure:"min_prompt_length"`
	MaxPromptLength int      `mapstructure:"max_prompt_length"`
	Alternatives    []string `mapstructure:"alternatives"`
	BlockedTerms    []string `mapstructure:"blocked_terms"`
}

// RateLimitConfig holds the fixed-window limiter settings
type RateLimitConfig struct {
	Requests      int           `mapstructure:"requests"`
	Window        time.Duration `mapstructure:"window"`
	SweepSchedule string        `mapstructure:"sweep_schedule"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.allowed_origin", "*")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.image_model", "dall-e-3")
	v.SetDefault("llm.image_size", "1024x1024")
	v.SetDefault("llm.image_quality", "standard")
	v.SetDefault("llm.timeout", 60*time.Second)

	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.path", "relaychat.db")
	v.SetDefault("store.database_url", "")

	v.SetDefault("relay.fallback_pacing", 40*time.Millisecond)
	v.SetDefault("relay.read_buffer", 4096)

	v.SetDefault("chat.max_message_length", 4000)
	v.SetDefault("chat.title_length", 50)
	v.SetDefault("chat.history_limit", 50)

	v.SetDefault("image.min_prompt_length", 3)
	v.SetDefault("image.max_prompt_length", 1000)
	v.SetDefault("image.alternatives", []string{
		"A friendly, colorful cartoon illustration of %s",
		"A simple watercolor painting suitable for all ages showing %s",
	})
	v.SetDefault("image.blocked_terms", []string{"nsfw", "nude", "naked", "gore"})

	v.SetDefault("rate_limit.requests", 20)
	v.SetDefault("rate_limit.window", time.Minute)
	v.SetDefault("rate_limit.sweep_schedule", "@every 1m")

	v.SetDefault("log.level", "info")
}

// Load reads config.yaml (from the working directory, or the file named by
// CONFIG_PATH) and applies RELAYCHAT_* environment overrides. A missing file is
// not an error: defaults apply.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("relaychat")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return c.Host + ":" + c.Port
}
