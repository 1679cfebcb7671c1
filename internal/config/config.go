// Package config loads the runtime settings of the chat server from the
// environment and an optional .env file, falling back to defaults for
// anything unset or out of range.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/Tyrowin/palmchat/internal/chat"
	"github.com/joho/godotenv"
)

const (
	defaultPort              = ":8080"
	defaultOrigin            = "http://localhost:8080"
	defaultMaxMessageSize    = 16384
	defaultRateLimitBurst    = 5
	defaultRateLimitRefill   = time.Second
	defaultOutboundQueueSize = 256
	defaultWriteTimeout      = 10 * time.Second
	defaultPongTimeout       = 60 * time.Second
	defaultHistoryLimit      = 50
	defaultBadgerPath        = "./data/badger"
	defaultTokenTTL          = 30 * 24 * time.Hour
	defaultShutdownTimeout   = 10 * time.Second
	defaultLogLevel          = "info"

	// DevJWTSecret is used when JWT_SECRET is unset. It is only suitable
	// for local development.
	DevJWTSecret = "palmchat-dev-secret"
)

// Config holds the server settings. Fields tagged env are read by
// Netflix/go-env; the remaining fields are derived in Sanitize.
type Config struct {
	Port           string `env:"SERVER_PORT,default=:8080"`
	RawOrigins     string `env:"ALLOWED_ORIGINS,default=http://localhost:8080"`
	AllowedOrigins []string

	MaxMessageSize    int           `env:"MAX_MESSAGE_SIZE,default=16384"`
	RateLimitBurst    int           `env:"RATE_LIMIT_BURST,default=5"`
	RateLimitRefill   time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL,default=1s"`
	OutboundQueueSize int           `env:"OUTBOUND_QUEUE_SIZE,default=256"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT,default=10s"`
	PongTimeout       time.Duration `env:"PONG_TIMEOUT,default=60s"`

	HistoryLimit int    `env:"HISTORY_LIMIT,default=50"`
	BadgerPath   string `env:"BADGER_PATH,default=./data/badger"`

	JWTSecret      string        `env:"JWT_SECRET"`
	TokenTTL       time.Duration `env:"TOKEN_TTL,default=720h"`
	RawAdmins      string        `env:"ADMIN_USERNAMES"`
	AdminUsernames []string

	LogLevel        string        `env:"LOG_LEVEL,default=info"`
	LogFile         string        `env:"LOG_FILE"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

// Default returns a sanitized configuration with every default applied.
func Default() Config {
	cfg := Config{
		Port:              defaultPort,
		RawOrigins:        defaultOrigin,
		MaxMessageSize:    defaultMaxMessageSize,
		RateLimitBurst:    defaultRateLimitBurst,
		RateLimitRefill:   defaultRateLimitRefill,
		OutboundQueueSize: defaultOutboundQueueSize,
		WriteTimeout:      defaultWriteTimeout,
		PongTimeout:       defaultPongTimeout,
		HistoryLimit:      defaultHistoryLimit,
		BadgerPath:        defaultBadgerPath,
		TokenTTL:          defaultTokenTTL,
		LogLevel:          defaultLogLevel,
		ShutdownTimeout:   defaultShutdownTimeout,
	}
	return cfg.Sanitize()
}

// Load reads .env (if present) and the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}
	es, err := env.EnvironToEnvSet(os.Environ())
	if err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	return FromEnvSet(es)
}

// FromEnvSet builds a configuration from an explicit set of variables.
func FromEnvSet(es env.EnvSet) (Config, error) {
	var cfg Config
	if err := env.Unmarshal(es, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg.Sanitize(), nil
}

// Sanitize replaces missing or non-positive values with defaults, raises
// MaxMessageSize to chat.MinFrameSize and splits the comma separated lists.
func (c Config) Sanitize() Config {
	if c.Port == "" {
		c.Port = defaultPort
	}
	if !strings.Contains(c.Port, ":") {
		c.Port = ":" + c.Port
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	// A frame that passes content validation must fit the read limit,
	// otherwise it closes the session instead of getting an error reply.
	if c.MaxMessageSize < chat.MinFrameSize {
		c.MaxMessageSize = chat.MinFrameSize
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = defaultRateLimitBurst
	}
	if c.RateLimitRefill <= 0 {
		c.RateLimitRefill = defaultRateLimitRefill
	}
	if c.OutboundQueueSize <= 0 {
		c.OutboundQueueSize = defaultOutboundQueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = defaultPongTimeout
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = defaultHistoryLimit
	}
	if c.JWTSecret == "" {
		c.JWTSecret = DevJWTSecret
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = defaultTokenTTL
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}

	if c.RawOrigins != "" {
		c.AllowedOrigins = splitList(c.RawOrigins)
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{defaultOrigin}
	}
	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)

	if c.RawAdmins != "" {
		c.AdminUsernames = splitList(c.RawAdmins)
	}
	c.AdminUsernames = append([]string(nil), c.AdminUsernames...)
	return c
}

// PingPeriod is how often the server pings an idle connection. It must be
// shorter than PongTimeout.
func (c Config) PingPeriod() time.Duration {
	return c.PongTimeout * 9 / 10
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
