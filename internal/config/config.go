// Package config handles configuration loading and persistence for the
// match server and client.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigFile = "config.json"
	DefaultPort       = 9999
	DefaultAPIPort    = 5000
)

// Config is the root configuration structure, shared by both binaries;
// each reads only its own sections.
type Config struct {
	path string

	Server  ServerConfig  `json:"server"`
	Client  ClientConfig  `json:"client"`
	API     APIConfig     `json:"api"`
	History HistoryConfig `json:"history"`
	MQTT    MQTTConfig    `json:"mqtt"`
	Logging LoggingConfig `json:"logging"`
}

// ServerConfig holds match server settings.
type ServerConfig struct {
	ListenAddr  string `json:"listen_addr"`
	Port        int    `json:"port"`
	ProtocolMin uint16 `json:"protocol_min"`
	ProtocolMax uint16 `json:"protocol_max"`
}

// ClientConfig holds client connection settings.
type ClientConfig struct {
	ServerAddr  string `json:"server_addr"`
	Port        int    `json:"port"`
	ProtocolMin uint16 `json:"protocol_min"`
	ProtocolMax uint16 `json:"protocol_max"`

	// UserID identifies this player to the server. Zero means derive an
	// id from the connection's local ephemeral port.
	UserID int64 `json:"user_id"`
}

// APIConfig holds the admin HTTP API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// HistoryConfig holds match-history recording settings. The recorder only
// appends finished matches; live games are never restored from it.
type HistoryConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
	Username    string `json:"username"`
	Password    string `json:"password"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:  "0.0.0.0",
			Port:        DefaultPort,
			ProtocolMin: 0,
			ProtocolMax: 0,
		},
		Client: ClientConfig{
			ServerAddr:  "localhost",
			Port:        DefaultPort,
			ProtocolMin: 0,
			ProtocolMax: 0,
		},
		API: APIConfig{
			Enabled: true,
			Port:    DefaultAPIPort,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    "data/history.db",
		},
		MQTT: MQTTConfig{
			TopicPrefix: "reversi",
			Port:        1883,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxBackups: 5,
		},
	}
}

// Load reads configuration from a JSON file, creating a default file when
// none exists. Defaults are applied first, then overlaid by the file.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", path).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = path
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	cfg.path = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Info().Str("path", path).Msg("configuration loaded")
	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks configured values for internal consistency.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Client.Port <= 0 || c.Client.Port > 65535 {
		return fmt.Errorf("client port %d out of range", c.Client.Port)
	}
	if c.Server.ProtocolMin > c.Server.ProtocolMax {
		return fmt.Errorf("server protocol_min %d exceeds protocol_max %d",
			c.Server.ProtocolMin, c.Server.ProtocolMax)
	}
	if c.Client.ProtocolMin > c.Client.ProtocolMax {
		return fmt.Errorf("client protocol_min %d exceeds protocol_max %d",
			c.Client.ProtocolMin, c.Client.ProtocolMax)
	}
	if c.API.Enabled && (c.API.Port <= 0 || c.API.Port > 65535) {
		return fmt.Errorf("api port %d out of range", c.API.Port)
	}
	return nil
}

// Path returns the config file path.
func (c *Config) Path() string { return c.path }
