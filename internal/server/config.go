package server

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/Tyrowin/presencechat/internal/chat"
	"github.com/Tyrowin/presencechat/internal/logging"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `split_words:"true" validate:"gt=0"`
	RefillInterval time.Duration `split_words:"true" validate:"gt=0"`
}

// LogConfig selects how the process logs.
type LogConfig struct {
	Level      string `split_words:"true" validate:"omitempty,oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Format     string `split_words:"true" validate:"oneof=console json"`
	File       string `split_words:"true"`
	MaxSizeMB  int    `split_words:"true" validate:"gte=0"`
	MaxBackups int    `split_words:"true" validate:"gte=0"`
	MaxAgeDays int    `split_words:"true" validate:"gte=0"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port            string          `envconfig:"SERVER_PORT" validate:"required"`
	AllowedOrigins  []string        `envconfig:"ALLOWED_ORIGINS"`
	MaxMessageSize  int64           `envconfig:"MAX_MESSAGE_SIZE" validate:"gt=0"`
	RateLimit       RateLimitConfig `envconfig:"RATE_LIMIT"`
	SendBufferSize  int             `envconfig:"SEND_BUFFER_SIZE" validate:"gt=0"`
	PongWait        time.Duration   `envconfig:"PONG_WAIT" validate:"gte=0"`
	WriteWait       time.Duration   `envconfig:"WRITE_WAIT" validate:"gt=0"`
	ShutdownTimeout time.Duration   `envconfig:"SHUTDOWN_TIMEOUT" validate:"gt=0"`

	MaxIdentityLength int    `envconfig:"MAX_IDENTITY_LENGTH" validate:"gt=0"`
	ClaimRejection    string `envconfig:"CLAIM_REJECTION" validate:"oneof=notify silent"`

	Log LogConfig `envconfig:"LOG"`
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 512,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		SendBufferSize:    256,
		PongWait:          60 * time.Second,
		WriteWait:         10 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		MaxIdentityLength: 32,
		ClaimRejection:    string(chat.RejectNotify),
		Log: LogConfig{
			Level:      "info",
			Format:     logging.FormatConsole,
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config from environment variables, after loading
// envFiles (".env" when none are given) if they exist. Unset variables keep
// their defaults.
func NewConfigFromEnv(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := defaultConfig()
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every field against its constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// PingPeriod is how often the server pings each client. Zero means pings are
// disabled along with the read deadline.
func (c *Config) PingPeriod() time.Duration {
	return c.PongWait * 9 / 10
}

// Logging returns the logger settings.
func (c *Config) Logging() logging.Config {
	return logging.Config{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
	}
}

// GatewayOptions returns the chat.Gateway options this configuration implies.
func (c *Config) GatewayOptions() []chat.Option {
	return []chat.Option{
		chat.WithMaxIdentityLength(c.MaxIdentityLength),
		chat.WithClaimRejection(chat.ClaimRejection(c.ClaimRejection)),
	}
}
