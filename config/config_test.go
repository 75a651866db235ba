package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/tallyberry/engine"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, *engine.DefaultConfig(), *cfg.EngineConfig())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid default config", func(c *Config) {}, false},
		{"memory store", func(c *Config) { c.Store.Driver = "memory"; c.Store.DSN = "" }, false},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mysql" }, true},
		{"missing dsn", func(c *Config) { c.Store.DSN = "" }, true},
		{"zero quorum", func(c *Config) { c.Engine.QuorumAmount = 0 }, true},
		{"zero tx timeout", func(c *Config) { c.Engine.TxTimeout = 0 }, true},
		{"zero max weight", func(c *Config) { c.Engine.MaxWeight = 0 }, true},
		{"negative segment size", func(c *Config) { c.Journal.MaxSegmentBytes = -1 }, true},
		{"missing addr", func(c *Config) { c.HTTP.Addr = "" }, true},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, true},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tallyberry.yaml")
	content := `
store:
  driver: postgres
  dsn: "postgres://tally@localhost/tally"
engine:
  quorum_amount: 5
  tx_timeout: 2s
  implicit_creator_vote: false
nats:
  url: "nats://localhost:4222"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 5, cfg.Engine.QuorumAmount)
	assert.Equal(t, 2*time.Second, cfg.Engine.TxTimeout)
	assert.False(t, cfg.Engine.ImplicitCreatorVote)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)

	// unset fields keep their defaults
	assert.Equal(t, int64(100), cfg.Engine.DefaultPointsNeeded)
	assert.Equal(t, "tallyberry", cfg.NATS.SubjectPrefix)
}

func TestLoadFromFileErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: [\n"), 0644))
	_, err = LoadFromFile(path)
	assert.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tallyberry.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http:\n  addr: \":9000\"\n"), 0644))

	t.Setenv("TALLYBERRY_STORE_DSN", "/var/lib/tally.db")
	t.Setenv("TALLYBERRY_HTTP_ADDR", ":7070")
	t.Setenv("TALLYBERRY_LOG_FORMAT", "json")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/tally.db", cfg.Store.DSN)
	assert.Equal(t, ":7070", cfg.HTTP.Addr)
	assert.Equal(t, "json", cfg.Log.Format)

	t.Setenv("TALLYBERRY_LOG_LEVEL", "loud")
	_, err = Load("")
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tallyberry.yaml")
	cfg := DefaultConfig()
	cfg.Engine.CacheSize = 17
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestConfigureLogger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Log.Level = "debug"
	cfg.Log.Format = "json"

	l := logrus.New()
	require.NoError(t, cfg.ConfigureLogger(l))
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, l.Formatter)
}
