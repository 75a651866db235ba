// Package config provides configuration loading for the tallyberry server
// and CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/blockberries/tallyberry/engine"
	"github.com/blockberries/tallyberry/store/sqlstore"
)

// EnvPrefix prefixes environment overrides, e.g. TALLYBERRY_STORE_DSN.
const EnvPrefix = "TALLYBERRY_"

// Config represents the complete tallyberry configuration
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Engine  EngineConfig  `yaml:"engine"`
	Journal JournalConfig `yaml:"journal"`
	NATS    NATSConfig    `yaml:"nats"`
	HTTP    HTTPConfig    `yaml:"http"`
	Log     LogConfig     `yaml:"log"`
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	// Driver is "sqlite", "postgres" or "memory"
	Driver string `yaml:"driver"`
	// DSN is the SQLite file or the Postgres connection string
	DSN string `yaml:"dsn"`
	// MaxOpenConns limits the connection pool (0 = driver default)
	MaxOpenConns int `yaml:"max_open_conns"`
}

// EngineConfig holds the ledger rules
type EngineConfig struct {
	QuorumAmount        int           `yaml:"quorum_amount"`
	DefaultPointsNeeded int64         `yaml:"default_points_needed"`
	MaxWeight           int64         `yaml:"max_weight"`
	TxTimeout           time.Duration `yaml:"tx_timeout"`
	ImplicitCreatorVote bool          `yaml:"implicit_creator_vote"`
	CacheSize           int           `yaml:"cache_size"`
}

// JournalConfig configures the event journal
type JournalConfig struct {
	// Dir is the journal directory (empty = no journal)
	Dir string `yaml:"dir"`
	// Sync fsyncs every event before the operation returns
	Sync bool `yaml:"sync"`
	// MaxSegmentBytes is the segment rotation size
	MaxSegmentBytes int64 `yaml:"max_segment_bytes"`
}

// NATSConfig configures event publication
type NATSConfig struct {
	// URL is the NATS server URL (empty = publishing disabled)
	URL string `yaml:"url"`
	// SubjectPrefix is the first subject token
	SubjectPrefix string `yaml:"subject_prefix"`
}

// HTTPConfig configures the API listener
type HTTPConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LogConfig configures logging
type LogConfig struct {
	// Level is a logrus level name
	Level string `yaml:"level"`
	// Format is "text" or "json"
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	ec := engine.DefaultConfig()
	return &Config{
		Store: StoreConfig{
			Driver: sqlstore.DriverSQLite,
			DSN:    "tallyberry.db",
		},
		Engine: EngineConfig{
			QuorumAmount:        ec.QuorumAmount,
			DefaultPointsNeeded: ec.DefaultPointsNeeded,
			MaxWeight:           ec.MaxWeight,
			TxTimeout:           ec.TxTimeout,
			ImplicitCreatorVote: ec.ImplicitCreatorVote,
			CacheSize:           ec.CacheSize,
		},
		Journal: JournalConfig{
			Dir:             "journal",
			Sync:            true,
			MaxSegmentBytes: 64 * 1024 * 1024,
		},
		NATS: NATSConfig{
			SubjectPrefix: "tallyberry",
		},
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case sqlstore.DriverSQLite, sqlstore.DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver)
		}
	case "memory":
	default:
		return fmt.Errorf("store.driver must be sqlite, postgres or memory, got %q", c.Store.Driver)
	}
	if err := c.EngineConfig().ValidateBasic(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if c.Journal.MaxSegmentBytes < 0 {
		return fmt.Errorf("journal.max_segment_bytes must not be negative")
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// EngineConfig returns the engine subset.
func (c *Config) EngineConfig() *engine.Config {
	return &engine.Config{
		QuorumAmount:        c.Engine.QuorumAmount,
		DefaultPointsNeeded: c.Engine.DefaultPointsNeeded,
		MaxWeight:           c.Engine.MaxWeight,
		TxTimeout:           c.Engine.TxTimeout,
		ImplicitCreatorVote: c.Engine.ImplicitCreatorVote,
		CacheSize:           c.Engine.CacheSize,
	}
}

// LoadFromFile loads configuration from a YAML file on top of the defaults
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. The YAML file at path, if path is not empty
// 3. TALLYBERRY_* environment variables
func Load(path string) (*Config, error) {
	config := DefaultConfig()
	if path != "" {
		var err error
		if config, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}

	config.applyEnv(os.LookupEnv)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnv overrides deployment-specific settings from the environment
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	overrides := map[string]*string{
		"STORE_DRIVER":        &c.Store.Driver,
		"STORE_DSN":           &c.Store.DSN,
		"JOURNAL_DIR":         &c.Journal.Dir,
		"NATS_URL":            &c.NATS.URL,
		"NATS_SUBJECT_PREFIX": &c.NATS.SubjectPrefix,
		"HTTP_ADDR":           &c.HTTP.Addr,
		"LOG_LEVEL":           &c.Log.Level,
		"LOG_FORMAT":          &c.Log.Format,
	}
	for name, field := range overrides {
		if v, ok := lookup(EnvPrefix + name); ok {
			*field = strings.TrimSpace(v)
		}
	}
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ConfigureLogger applies the log section to l.
func (c *Config) ConfigureLogger(l *logrus.Logger) error {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return err
	}
	l.SetLevel(level)
	if c.Log.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
