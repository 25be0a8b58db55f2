package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	API         APIConfig         `yaml:"api"`
	Database    DatabaseConfig    `yaml:"database"`
	NATS        NATSConfig        `yaml:"nats"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	JWT         JWTConfig         `yaml:"jwt"`
	Log         LogConfig         `yaml:"log"`
	Engine      EngineConfig      `yaml:"engine"`
	Integration IntegrationConfig `yaml:"integration"`
}

// ServerConfig represents server identification
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// APIConfig represents REST API configuration
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the listen address
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// MQTTConfig represents the transport bridge's MQTT connection
type MQTTConfig struct {
	Broker      string        `yaml:"broker"`
	ClientID    string        `yaml:"client_id"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	TopicPrefix string        `yaml:"topic_prefix"`
	QoS         byte          `yaml:"qos"`
	Timeout     time.Duration `yaml:"timeout"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	Secret          string        `yaml:"secret"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// EngineConfig tunes the reconciliation engines
type EngineConfig struct {
	// AutoTransfer starts a bulk transfer as soon as a probe reports
	// a window we have not seen.
	AutoTransfer bool `yaml:"auto_transfer"`

	// SubscriberBuffer is the channel depth for live record/state
	// subscribers.
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// IntegrationConfig configures outbound record forwarding
type IntegrationConfig struct {
	MQTT []MQTTIntegration `yaml:"mqtt"`
	HTTP []HTTPIntegration `yaml:"http"`
}

// MQTTIntegration forwards reconciled records to an external broker
type MQTTIntegration struct {
	Name          string `yaml:"name"`
	Broker        string `yaml:"broker"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	TopicTemplate string `yaml:"topic_template"`
	QoS           byte   `yaml:"qos"`
	TLS           bool   `yaml:"tls"`
}

// HTTPIntegration forwards reconciled records to a webhook
type HTTPIntegration struct {
	Name     string            `yaml:"name"`
	Endpoint string            `yaml:"endpoint"`
	Headers  map[string]string `yaml:"headers"`
}

// Load reads and validates configuration from a YAML file
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

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}
	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		c.MQTT.Broker = broker
	}
	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.JWT.Secret = jwtSecret
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}
}

// applyDefaults fills unset fields
func (c *Config) applyDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "probe-link-server"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.NATS.URL == "" {
		c.NATS.URL = "nats://127.0.0.1:4222"
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = -1
	}
	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 2 * time.Second
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "probe-link"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "probe-link-bridge"
	}
	if c.MQTT.Timeout == 0 {
		c.MQTT.Timeout = 10 * time.Second
	}
	if c.JWT.AccessTokenTTL == 0 {
		c.JWT.AccessTokenTTL = 15 * time.Minute
	}
	if c.JWT.RefreshTokenTTL == 0 {
		c.JWT.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Engine.SubscriberBuffer == 0 {
		c.Engine.SubscriberBuffer = 256
	}
}

// PrintConfigSummary prints the effective configuration with secrets
// elided.
func (c *Config) PrintConfigSummary() {
	fmt.Printf("server:      %s %s\n", c.Server.Name, c.Server.Version)
	fmt.Printf("api:         %s\n", c.API.Addr())
	fmt.Printf("database:    %s\n", redactDSN(c.Database.DSN))
	fmt.Printf("nats:        %s\n", c.NATS.URL)
	fmt.Printf("mqtt:        %s (prefix %s)\n", c.MQTT.Broker, c.MQTT.TopicPrefix)
	fmt.Printf("log level:   %s\n", c.Log.Level)
	fmt.Printf("engine:      auto_transfer=%v subscriber_buffer=%d\n",
		c.Engine.AutoTransfer, c.Engine.SubscriberBuffer)
	fmt.Printf("integration: %d mqtt, %d http\n", len(c.Integration.MQTT), len(c.Integration.HTTP))
}

// redactDSN strips credentials from a connection string
func redactDSN(dsn string) string {
	if dsn == "" {
		return "(unset)"
	}
	if at := strings.LastIndex(dsn, "@"); at != -1 {
		if scheme := strings.Index(dsn, "://"); scheme != -1 {
			return dsn[:scheme+3] + "***" + dsn[at:]
		}
	}
	return dsn
}

// ValidateServer checks the fields the probe server requires
func (c *Config) ValidateServer() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	for _, m := range c.Integration.MQTT {
		if m.Broker == "" {
			return fmt.Errorf("integration.mqtt %q: broker is required", m.Name)
		}
	}
	for _, h := range c.Integration.HTTP {
		if h.Endpoint == "" {
			return fmt.Errorf("integration.http %q: endpoint is required", h.Name)
		}
	}
	return nil
}

// ValidateBridge checks the fields the transport bridge requires
func (c *Config) ValidateBridge() error {
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	return nil
}
