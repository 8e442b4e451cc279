package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Encryption EncryptionConfig `yaml:"encryption"`
	Logging    LoggingConfig    `yaml:"logging"`
	Reconcile  ReconcileConfig  `yaml:"reconcile"`
}

// ServerConfig holds the local http listener and storage paths.
type ServerConfig struct {
	Address   string    `yaml:"address"`
	Port      int       `yaml:"port"`
	DBPath    string    `yaml:"db_path"`
	VaultPath string    `yaml:"vault_path"`
	AuditDir  string    `yaml:"audit_dir"`
	MaxBody   SizeBytes `yaml:"max_body"`
}

// GatewayConfig holds the remote chat server connection settings.
type GatewayConfig struct {
	BaseURL   string   `yaml:"base_url"`
	AuthToken string   `yaml:"auth_token"`
	UserID    string   `yaml:"user_id"`
	Timeout   Duration `yaml:"timeout"`
	RateRPS   float64  `yaml:"rate_rps"`
	RateBurst int      `yaml:"rate_burst"`
}

// EncryptionConfig holds E2E key handling settings.
type EncryptionConfig struct {
	ServerID      string `yaml:"server_id"`
	MasterKeyHex  string `yaml:"master_key_hex"`
	MasterKeyFile string `yaml:"master_key_file"`
	SweepWorkers  int    `yaml:"sweep_workers"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ReconcileConfig holds configuration for the scheduled status runner.
type ReconcileConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Cron      string `yaml:"cron"`
	BatchSize int    `yaml:"batch_size"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
