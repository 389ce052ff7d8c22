package config

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/harun/chatrelay/pkg/channels"
)

// Config represents the chatrelay configuration
type Config struct {
	// Server holds the websocket listener settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Data directory for channel logs and the PID file
	DataDir string `json:"data_dir" mapstructure:"data_dir" validate:"required"`

	// Store selects the log store backend
	Store StoreConfig `json:"store" mapstructure:"store"`

	// Channels maps channel id to display name
	Channels map[string]string `json:"channels" mapstructure:"channels" validate:"required,min=1,dive,keys,channelid,endkeys,required"`

	Hub      HubConfig      `json:"hub" mapstructure:"hub"`
	Protocol ProtocolConfig `json:"protocol" mapstructure:"protocol"`
	Stats    StatsConfig    `json:"stats" mapstructure:"stats"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
}

// ServerConfig holds websocket server configuration
type ServerConfig struct {
	Host            string        `json:"host" mapstructure:"host"`
	Port            int           `json:"port" mapstructure:"port" validate:"min=0,max=65535"` // 0 picks a free port
	Path            string        `json:"path" mapstructure:"path" validate:"required,startswith=/"`
	ReadLimit       int64         `json:"read_limit" mapstructure:"read_limit" validate:"gte=0"`
	IdleTimeout     time.Duration `json:"idle_timeout" mapstructure:"idle_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"gte=0"`
}

// StoreConfig holds log store configuration
type StoreConfig struct {
	Driver string `json:"driver" mapstructure:"driver" validate:"oneof=file sqlite"`
	Sync   bool   `json:"sync" mapstructure:"sync"`
}

// HubConfig tunes channel hubs
type HubConfig struct {
	SubscriberBuffer int `json:"subscriber_buffer" mapstructure:"subscriber_buffer" validate:"gte=0"`
	QueueSize        int `json:"queue_size" mapstructure:"queue_size" validate:"gte=1"`
}

// ProtocolConfig holds wire protocol limits
type ProtocolConfig struct {
	MaxMessageLength int `json:"max_message_length" mapstructure:"max_message_length" validate:"gte=1"`
}

// StatsConfig controls the periodic hub stats report
type StatsConfig struct {
	Interval time.Duration `json:"interval" mapstructure:"interval" validate:"gte=0"` // 0 disables
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size" validate:"gte=0"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age" validate:"gte=0"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            1337,
			Path:            "/",
			ReadLimit:       64 * 1024,
			IdleTimeout:     0,
			ShutdownTimeout: 10 * time.Second,
		},
		DataDir: "./data",
		Store: StoreConfig{
			Driver: "file",
			Sync:   true,
		},
		Channels: channels.Defaults(),
		Hub: HubConfig{
			SubscriberBuffer: 1024,
			QueueSize:        64,
		},
		Protocol: ProtocolConfig{
			MaxMessageLength: 2000,
		},
		Stats: StatsConfig{
			Interval: time.Minute,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Pretty:   true,
			MaxSize:  100,
			MaxAge:   7,
			Compress: true,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}

// ChannelSet builds the immutable channel set.
func (c *Config) ChannelSet() (*channels.Set, error) {
	return channels.NewSet(c.Channels)
}
