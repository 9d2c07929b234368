package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	API     APIConfig     `yaml:"api"`
	Auth    AuthConfig    `yaml:"auth"`
	Species SpeciesConfig `yaml:"species"`
	Storage StorageConfig `yaml:"storage"`
	Hub     HubConfig     `yaml:"hub"`
	NATS    NATSConfig    `yaml:"nats"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Webhook WebhookConfig `yaml:"webhook"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig represents server identity configuration
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// APIConfig represents the REST API configuration
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// AuthConfig represents device credential configuration. APIKey is the
// shared device key; APIKeyHash is its bcrypt form and wins when both
// are set. DeviceSecret enables HMAC request signatures.
type AuthConfig struct {
	APIKey       string        `yaml:"api_key"`
	APIKeyHash   string        `yaml:"api_key_hash"`
	DeviceSecret string        `yaml:"device_secret"`
	MaxClockSkew time.Duration `yaml:"max_clock_skew"`
	JWTSecret    string        `yaml:"jwt_secret"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
}

// SpeciesConfig overrides the built-in species allow-list
type SpeciesConfig struct {
	Allowed []string `yaml:"allowed"`
}

// StorageConfig selects and sizes the storage backend
type StorageConfig struct {
	Backend           string        `yaml:"backend"` // memory | postgres
	DSN               string        `yaml:"dsn"`
	DetectionCapacity int           `yaml:"detection_capacity"`
	AuditCapacity     int           `yaml:"audit_capacity"`
	OfflineAfter      time.Duration `yaml:"offline_after"`
	DefaultQueryLimit int           `yaml:"default_query_limit"`
}

// HubConfig sizes the broadcast hub
type HubConfig struct {
	SubscriberQueue int `yaml:"subscriber_queue"`
}

// NATSConfig represents the optional NATS ingestion bridge
type NATSConfig struct {
	URL               string        `yaml:"url"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// MQTTConfig represents the optional MQTT ingestion bridge
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// WebhookConfig represents the outbound high-priority alert hook
type WebhookConfig struct {
	Endpoint string            `yaml:"endpoint"`
	Headers  map[string]string `yaml:"headers"`
	Timeout  time.Duration     `yaml:"timeout"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	return &cfg, nil
}

// Default returns a configuration with every default applied, used when
// no config file is given
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	return cfg
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("API_ADDR"); addr != "" {
		if host, port, err := net.SplitHostPort(addr); err == nil {
			c.API.Host = host
			if p, err := strconv.Atoi(port); err == nil {
				c.API.Port = p
			}
		}
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Storage.DSN = dsn
		c.Storage.Backend = "postgres"
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		c.MQTT.Broker = broker
	}

	if apiKey := os.Getenv("API_KEY"); apiKey != "" {
		c.Auth.APIKey = apiKey
	}

	if secret := os.Getenv("DEVICE_SECRET"); secret != "" {
		c.Auth.DeviceSecret = secret
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.Auth.JWTSecret = jwtSecret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}
}

// applyDefaults fills in the reference defaults
func (c *Config) applyDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "optic-shield-telemetry"
	}
	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Storage.DetectionCapacity == 0 {
		c.Storage.DetectionCapacity = 1000
	}
	if c.Storage.AuditCapacity == 0 {
		c.Storage.AuditCapacity = 1000
	}
	if c.Storage.OfflineAfter == 0 {
		c.Storage.OfflineAfter = 120 * time.Second
	}
	if c.Storage.DefaultQueryLimit == 0 {
		c.Storage.DefaultQueryLimit = 50
	}
	if c.Hub.SubscriberQueue == 0 {
		c.Hub.SubscriberQueue = 16
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = time.Hour
	}
	if c.Auth.MaxClockSkew == 0 {
		c.Auth.MaxClockSkew = 10 * time.Minute
	}
	if c.Webhook.Timeout == 0 {
		c.Webhook.Timeout = 30 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 5 * time.Second
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = -1
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "optic-shield-server"
	}
}
