// Package config loads application configuration from an optional
// config/config.yaml and environment variables. All variables use the
// GEOQUIZ_ prefix, e.g. GEOQUIZ_TELEGRAM_BOT_TOKEN for telegram.bot_token.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "GEOQUIZ"

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Geocoder  GeocoderConfig  `mapstructure:"geocoder"`
	Quiz      QuizConfig      `mapstructure:"quiz"`
	Session   SessionConfig   `mapstructure:"session"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

// CacheConfig holds Dragonfly/Redis connection settings. An empty URL keeps
// sessions in memory.
type CacheConfig struct {
	URL string `mapstructure:"url"`
}

// TelegramConfig holds Telegram Bot API settings.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
}

// WebSocketConfig holds settings for the web client endpoint.
type WebSocketConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	OriginPatterns []string `mapstructure:"origin_patterns"`
}

// GeocoderConfig holds reverse-geocoding settings. Nominatim requires an
// identifying User-Agent.
type GeocoderConfig struct {
	URL       string        `mapstructure:"url"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// QuizConfig selects the compiled-in question set.
type QuizConfig struct {
	Set string `mapstructure:"set"`
}

// SessionConfig holds session lifetime settings.
type SessionConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	SweepSchedule string        `mapstructure:"sweep_schedule"` // cron spec for the memory store
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration. The first config.yaml found in dirs (default
// "./config") is applied first; environment variables override it.
func Load(dirs ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(dirs) == 0 {
		dirs = []string{"./config"}
	}
	for _, d := range dirs {
		v.AddConfigPath(d)
	}

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("cache.url", "")
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("websocket.enabled", true)
	v.SetDefault("websocket.origin_patterns", []string{})
	v.SetDefault("geocoder.url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocoder.user_agent", "GeoQuiz/1.0")
	v.SetDefault("geocoder.timeout", "10s")
	v.SetDefault("quiz.set", "classic")
	v.SetDefault("session.ttl", "24h")
	v.SetDefault("session.sweep_schedule", "@every 10m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if !c.HasChannel() {
		return fmt.Errorf("no chat channel enabled: set GEOQUIZ_TELEGRAM_BOT_TOKEN or GEOQUIZ_WEBSOCKET_ENABLED")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("GEOQUIZ_SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Quiz.Set == "" {
		return fmt.Errorf("GEOQUIZ_QUIZ_SET is required")
	}
	if c.Geocoder.URL == "" {
		return fmt.Errorf("GEOQUIZ_GEOCODER_URL is required")
	}
	if strings.TrimSpace(c.Geocoder.UserAgent) == "" {
		return fmt.Errorf("GEOQUIZ_GEOCODER_USER_AGENT is required by the Nominatim usage policy")
	}
	if c.Geocoder.Timeout <= 0 {
		return fmt.Errorf("GEOQUIZ_GEOCODER_TIMEOUT must be positive, got %s", c.Geocoder.Timeout)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("GEOQUIZ_LOG_FORMAT must be 'json' or 'console', got %q", c.Log.Format)
	}
	return nil
}

// HasChannel returns true if at least one chat channel is enabled.
func (c *Config) HasChannel() bool {
	return c.Telegram.BotToken != "" || c.WebSocket.Enabled
}
