package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	API           APIConfig           `yaml:"api"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	NATS          NATSConfig          `yaml:"nats"`
	JWT           JWTConfig           `yaml:"jwt"`
	Log           LogConfig           `yaml:"log"`
	Scanner       ScannerConfig       `yaml:"scanner"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Presence      PresenceConfig      `yaml:"presence"`
	Enrichment    EnrichmentConfig    `yaml:"enrichment"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	// NodeID identifies this process among coordinators; defaults to the hostname
	NodeID string `yaml:"node_id"`
}

// APIConfig represents API configuration
type APIConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite"
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig represents Redis configuration. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NATSConfig represents NATS configuration. An empty URL disables NATS.
type NATSConfig struct {
	URL               string        `yaml:"url"`
	ClientID          string        `yaml:"client_id"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ScannerConfig represents expiry scanner configuration
type ScannerConfig struct {
	Interval    time.Duration `yaml:"interval"`
	ItemTimeout time.Duration `yaml:"item_timeout"`
	BatchSize   int           `yaml:"batch_size"`
	// DistributedLock takes a Redis lock per tick when Redis is configured
	DistributedLock bool          `yaml:"distributed_lock"`
	LockTTL         time.Duration `yaml:"lock_ttl"`
}

// NotificationsConfig represents notification content settings
type NotificationsConfig struct {
	ReviewLinkBase string `yaml:"review_link_base"`
}

// PresenceConfig represents live presence configuration
type PresenceConfig struct {
	// Mode is "local" or "cluster"; cluster needs Redis and NATS
	Mode string        `yaml:"mode"`
	TTL  time.Duration `yaml:"ttl"`
}

// EnrichmentConfig represents the review analysis collaborator. An empty URL disables it.
type EnrichmentConfig struct {
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// Load loads configuration from a YAML file. A .env file in the working
// directory is loaded first so its values feed the environment overrides.
func Load(filename string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Failed to load .env file")
	}

	var cfg Config
	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() error {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}

	if driver := os.Getenv("DATABASE_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}

	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		c.Redis.Addr = redisAddr
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.JWT.Secret = jwtSecret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}

	if interval := os.Getenv("SCANNER_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return fmt.Errorf("parse SCANNER_INTERVAL: %w", err)
		}
		c.Scanner.Interval = d
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "lease-coordinator"
	}
	if c.Server.NodeID == "" {
		if host, err := os.Hostname(); err == nil {
			c.Server.NodeID = host
		} else {
			c.Server.NodeID = "node-1"
		}
	}

	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.RequestTimeout == 0 {
		c.API.RequestTimeout = 60 * time.Second
	}
	if len(c.API.AllowedOrigins) == 0 {
		c.API.AllowedOrigins = []string{"*"}
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = "data/lease-coordinator.db"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 5 * time.Minute
	}

	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = 10
	}
	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 2 * time.Second
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	if c.Scanner.Interval == 0 {
		c.Scanner.Interval = 60 * time.Second
	}
	if c.Scanner.ItemTimeout == 0 {
		c.Scanner.ItemTimeout = 10 * time.Second
	}
	if c.Scanner.LockTTL == 0 {
		c.Scanner.LockTTL = 5 * time.Minute
	}

	if c.Notifications.ReviewLinkBase == "" {
		c.Notifications.ReviewLinkBase = "/reviews/new"
	}

	if c.Presence.Mode == "" {
		c.Presence.Mode = "local"
	}
	if c.Presence.TTL == 0 {
		c.Presence.TTL = 30 * time.Second
	}

	if c.Enrichment.Timeout == 0 {
		c.Enrichment.Timeout = 30 * time.Second
	}
}

// Validate checks cross-section requirements
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}

	switch c.Presence.Mode {
	case "local":
	case "cluster":
		if c.Redis.Addr == "" || c.NATS.URL == "" {
			return fmt.Errorf("cluster presence requires redis.addr and nats.url")
		}
	default:
		return fmt.Errorf("invalid presence mode: %s", c.Presence.Mode)
	}

	if c.Scanner.DistributedLock && c.Redis.Addr == "" {
		return fmt.Errorf("scanner.distributed_lock requires redis.addr")
	}
	if c.Scanner.Interval < time.Second {
		return fmt.Errorf("scanner interval must be at least 1s, got %s", c.Scanner.Interval)
	}
	return nil
}

// LogSummary logs the effective configuration without secrets
func (c *Config) LogSummary() {
	log.Info().
		Str("name", c.Server.Name).
		Str("version", c.Server.Version).
		Str("node", c.Server.NodeID).
		Str("dbDriver", c.Database.Driver).
		Bool("redis", c.Redis.Addr != "").
		Bool("nats", c.NATS.URL != "").
		Str("presence", c.Presence.Mode).
		Dur("scanInterval", c.Scanner.Interval).
		Bool("distributedLock", c.Scanner.DistributedLock).
		Bool("enrichment", c.Enrichment.URL != "").
		Msg("Configuration loaded")
}
