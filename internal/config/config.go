package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds server configuration values.
type Config struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`

	DataDir   string `mapstructure:"data_dir" yaml:"data_dir"`
	RoomsFile string `mapstructure:"rooms_file" yaml:"rooms_file"`
	UsersFile string `mapstructure:"users_file" yaml:"users_file"`
	AuditDB   string `mapstructure:"audit_db" yaml:"audit_db"`

	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	LogFile  string `mapstructure:"log_file" yaml:"log_file"`

	MaxConnections    int           `mapstructure:"max_connections" yaml:"max_connections"`
	MaxLineBytes      int           `mapstructure:"max_line_bytes" yaml:"max_line_bytes"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	AutosaveInterval  time.Duration `mapstructure:"autosave_interval" yaml:"autosave_interval"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	StatsInterval     time.Duration `mapstructure:"stats_interval" yaml:"stats_interval"`
	HistoryReplay     int           `mapstructure:"history_replay" yaml:"history_replay"`
	MaxAuthAttempts   int           `mapstructure:"max_auth_attempts" yaml:"max_auth_attempts"`
	MessagesPerMinute int           `mapstructure:"messages_per_minute" yaml:"messages_per_minute"`
	BcryptCost        int           `mapstructure:"bcrypt_cost" yaml:"bcrypt_cost"`

	// HTTPAddr serves the admin API and WebSocket gateway; empty disables it.
	HTTPAddr          string        `mapstructure:"http_addr" yaml:"http_addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	JWTSecret         string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer         string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience       string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Host:              "0.0.0.0",
		Port:              12345,
		DataDir:           "data",
		RoomsFile:         "chat_data.json",
		UsersFile:         "users_data.json",
		AuditDB:           "audit.db",
		LogLevel:          "info",
		MaxConnections:    100,
		MaxLineBytes:      1024,
		HandshakeTimeout:  30 * time.Second,
		WriteTimeout:      5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		AutosaveInterval:  60 * time.Second,
		SweepInterval:     5 * time.Minute,
		StatsInterval:     60 * time.Second,
		HistoryReplay:     10,
		MaxAuthAttempts:   3,
		MessagesPerMinute: 120,
		BcryptCost:        10,
		HTTPAddr:          "127.0.0.1:8090",
		ReadHeaderTimeout: 5 * time.Second,
		JWTIssuer:         "chatserver",
		JWTAudience:       "chatserver-admin",
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Host != "" {
		c.Host = other.Host
	}
	if other.Port != 0 {
		c.Port = other.Port
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}
	if other.HTTPAddr != "" {
		c.HTTPAddr = other.HTTPAddr
	}
}

// Validate rejects values the server cannot start with.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MaxLineBytes <= 0 {
		return fmt.Errorf("max_line_bytes must be positive")
	}
	return nil
}

// ListenAddr is the TCP chat listener address.
func (c Config) ListenAddr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// RoomsPath is the room snapshot location.
func (c Config) RoomsPath() string { return c.dataPath(c.RoomsFile) }

// UsersPath is the user snapshot location.
func (c Config) UsersPath() string { return c.dataPath(c.UsersFile) }

// AuditPath is the audit database location; empty disables the audit trail.
func (c Config) AuditPath() string {
	if c.AuditDB == "" {
		return ""
	}
	return c.dataPath(c.AuditDB)
}

func (c Config) dataPath(name string) string {
	if filepath.IsAbs(name) || c.DataDir == "" {
		return name
	}
	return filepath.Join(c.DataDir, name)
}
