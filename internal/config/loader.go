package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. CHATRELAY_SERVER_PORT.
const EnvPrefix = "CHATRELAY"

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the config file, if it exists, and applies environment
// overrides on top of the defaults.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return nil, fmt.Errorf("failed to resolve config path")
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if ext := strings.TrimPrefix(filepath.Ext(configPath), "."); ext == "" {
			v.SetConfigType("json")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	// A configured channel map replaces the defaults rather than merging.
	cfg.Channels = nil
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(cfg.Channels) == 0 {
		cfg.Channels = DefaultConfig().Channels
	}

	if cfg.DataDir == "" {
		cfg.DataDir = DefaultConfig().DataDir
	}

	return cfg, nil
}

// setDefaults registers every scalar key so environment overrides apply
// even without a config file.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.path", cfg.Server.Path)
	v.SetDefault("server.read_limit", cfg.Server.ReadLimit)
	v.SetDefault("server.idle_timeout", cfg.Server.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout)
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("store.driver", cfg.Store.Driver)
	v.SetDefault("store.sync", cfg.Store.Sync)
	v.SetDefault("hub.subscriber_buffer", cfg.Hub.SubscriberBuffer)
	v.SetDefault("hub.queue_size", cfg.Hub.QueueSize)
	v.SetDefault("protocol.max_message_length", cfg.Protocol.MaxMessageLength)
	v.SetDefault("stats.interval", cfg.Stats.Interval)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.pretty", cfg.Logging.Pretty)
	v.SetDefault("logging.max_size", cfg.Logging.MaxSize)
	v.SetDefault("logging.max_age", cfg.Logging.MaxAge)
	v.SetDefault("logging.compress", cfg.Logging.Compress)
	v.SetDefault("logging.audit_file", cfg.Logging.AuditFile)
}

// Save writes cfg to the config file, creating its directory.
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to resolve config path")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	if filepath.Ext(configPath) == "" {
		v.SetConfigType("json")
	}

	v.Set("server", map[string]interface{}{
		"host":             cfg.Server.Host,
		"port":             cfg.Server.Port,
		"path":             cfg.Server.Path,
		"read_limit":       cfg.Server.ReadLimit,
		"idle_timeout":     cfg.Server.IdleTimeout.String(),
		"shutdown_timeout": cfg.Server.ShutdownTimeout.String(),
	})
	v.Set("data_dir", cfg.DataDir)
	v.Set("store", cfg.Store)
	v.Set("channels", cfg.Channels)
	v.Set("hub", cfg.Hub)
	v.Set("protocol", cfg.Protocol)
	v.Set("stats", map[string]interface{}{
		"interval": cfg.Stats.Interval.String(),
	})
	v.Set("logging", cfg.Logging)

	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".chatrelay", "chatrelay.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
