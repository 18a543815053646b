package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Presence  PresenceConfig  `mapstructure:"presence"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// Handshakes allowed per client IP per window. Zero disables the throttle.
	HandshakeLimit  int           `mapstructure:"handshake_limit"`
	HandshakeWindow time.Duration `mapstructure:"handshake_window"`
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Leeway time.Duration `mapstructure:"leeway"`
}

// DatabaseConfig points at the social database that holds friendships.
// An empty URI runs the hub without a friend audience.
type DatabaseConfig struct {
	URI          string `mapstructure:"uri"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// RedisConfig is optional. When URI is empty the audience cache and the
// handshake throttle both stay in process.
type RedisConfig struct {
	URI          string        `mapstructure:"uri"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type WebSocketConfig struct {
	SendBufferSize    int           `mapstructure:"send_buffer_size"`
	MaxMessageSize    int64         `mapstructure:"max_message_size"`
	WriteWait         time.Duration `mapstructure:"write_wait"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`
	InboundRate       float64       `mapstructure:"inbound_rate"`
	InboundBurst      int           `mapstructure:"inbound_burst"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
}

type PresenceConfig struct {
	AudienceCacheTTL  time.Duration `mapstructure:"audience_cache_ttl"`
	AudienceCacheSize int           `mapstructure:"audience_cache_size"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

const (
	envPrefix = "HUB"
	envFile   = ".env"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.handshake_limit", 20)
	v.SetDefault("server.handshake_window", time.Minute)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.leeway", 30*time.Second)

	v.SetDefault("database.uri", "")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("redis.uri", "")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("redis.pool_size", 50)
	v.SetDefault("redis.min_idle_conns", 5)

	v.SetDefault("websocket.send_buffer_size", 256)
	v.SetDefault("websocket.max_message_size", 32<<10)
	v.SetDefault("websocket.write_wait", 10*time.Second)
	v.SetDefault("websocket.heartbeat_interval", 30*time.Second)
	v.SetDefault("websocket.heartbeat_timeout", 75*time.Second)
	v.SetDefault("websocket.inbound_rate", 10.0)
	v.SetDefault("websocket.inbound_burst", 20)
	v.SetDefault("websocket.allowed_origins", []string{})

	v.SetDefault("presence.audience_cache_ttl", 2*time.Minute)
	v.SetDefault("presence.audience_cache_size", 10000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 14)
	v.SetDefault("log.compress", false)
}

// Load reads defaults, then the optional config file at path, then HUB_* environment
// variables (HUB_SERVER_PORT, HUB_JWT_SECRET, ...). A .env file in the working
// directory, or at HUB_ENV_FILE, seeds variables that are not already set.
func Load(path string) (*Config, error) {
	if err := loadDotenv(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotenv() error {
	file := os.Getenv(envPrefix + "_ENV_FILE")
	if file == "" {
		file = envFile
	}
	if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read %s: %w", file, err)
	}
	return nil
}

var ErrInvalidConfig = errors.New("invalid config")

func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port == "" {
		problems = append(problems, "server.port is required")
	}
	if c.JWT.Secret == "" {
		problems = append(problems, "jwt.secret is required")
	}
	if c.WebSocket.SendBufferSize <= 0 {
		problems = append(problems, "websocket.send_buffer_size must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		problems = append(problems, "websocket.max_message_size must be positive")
	}
	if c.WebSocket.HeartbeatInterval <= 0 {
		problems = append(problems, "websocket.heartbeat_interval must be positive")
	}
	if c.WebSocket.HeartbeatTimeout <= c.WebSocket.HeartbeatInterval {
		problems = append(problems, fmt.Sprintf("websocket.heartbeat_timeout (%v) must exceed heartbeat_interval (%v)",
			c.WebSocket.HeartbeatTimeout, c.WebSocket.HeartbeatInterval))
	}
	if c.WebSocket.InboundRate < 0 {
		problems = append(problems, "websocket.inbound_rate cannot be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%s", s.Host, s.Port)
}
