package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	DeviceID     string `yaml:"device_id"`
	ActingUser   string `yaml:"acting_user"`
	DatabasePath string `yaml:"database_path"`

	Backend   BackendConfig   `yaml:"backend"`
	Sync      SyncConfig      `yaml:"sync"`
	Messaging MessagingConfig `yaml:"messaging"`
	Redis     RedisConfig     `yaml:"redis"`
	Web       WebConfig       `yaml:"web"`
}

// BackendConfig defines the remote asset backend.
type BackendConfig struct {
	Postgres PostgresConfig `yaml:"postgres"`
	// ListenChanges subscribes to the backend's own change feed (LISTEN/NOTIFY).
	ListenChanges bool `yaml:"listen_changes"`
}

// PostgresConfig defines the PostgreSQL connection.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// SyncConfig tunes the offline queue, dispatcher and read cache.
type SyncConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	CallTimeout   time.Duration `yaml:"call_timeout"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	Debounce      time.Duration `yaml:"debounce"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
}

// MessagingConfig defines the broker used for cross-device change notices.
type MessagingConfig struct {
	Backend      string      `yaml:"backend"` // "", "mqtt", "kafka" or "redis"
	MQTT         MQTTConfig  `yaml:"mqtt"`
	Kafka        KafkaConfig `yaml:"kafka"`
	ChangesTopic string      `yaml:"changes_topic"`
}

// MQTTConfig defines MQTT broker settings.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
}

// KafkaConfig defines Kafka broker settings.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
}

// RedisConfig defines the redis connection used by the redis messaging backend.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// WebConfig defines the web server settings.
type WebConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	SessionSecret string `yaml:"session_secret"`
	// AdminPassword lets the first login create the admin account. Unset,
	// the admin endpoints stay locked until an account exists in the store.
	AdminPassword string `yaml:"admin_password"`
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		DeviceID:     "terminal-1",
		ActingUser:   "operator",
		DatabasePath: "assetedge.db",
		Backend: BackendConfig{
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "assets",
				User:     "assetedge",
				SSLMode:  "disable",
			},
			ListenChanges: true,
		},
		Sync: SyncConfig{
			MaxRetries:    3,
			CallTimeout:   15 * time.Second,
			CacheTTL:      5 * time.Minute,
			Debounce:      500 * time.Millisecond,
			ProbeInterval: 10 * time.Second,
		},
		Messaging: MessagingConfig{
			ChangesTopic: "assetedge/changes",
			MQTT: MQTTConfig{
				Broker: "localhost",
				Port:   1883,
			},
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
		},
		Web: WebConfig{
			Host: "0.0.0.0",
			Port: 8090,
		},
	}
}

// Load reads a YAML config file. If the file doesn't exist, defaults are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ClientID returns the configured MQTT client ID, or derives one from the device ID.
func (c *Config) ClientID() string {
	if c.Messaging.MQTT.ClientID != "" {
		return c.Messaging.MQTT.ClientID
	}
	return "assetedge-" + c.DeviceID
}

// KafkaGroupID returns the configured consumer group, or one unique to this device
// so every terminal sees every change notice.
func (c *Config) KafkaGroupID() string {
	if c.Messaging.Kafka.GroupID != "" {
		return c.Messaging.Kafka.GroupID
	}
	return "assetedge-" + c.DeviceID
}
