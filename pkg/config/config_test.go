package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnv(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadWithPath_Defaults(t *testing.T) {
	cfg, err := LoadWithPath(writeEnv(t, "APP_NAME=tcats\n"))
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.App.Environment)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, StoreDriverPostgres, cfg.Store.Driver)
	assert.Equal(t, 5*time.Second, cfg.Store.OperationTimeout)
	assert.Equal(t, 2, cfg.Store.MaxRetries)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.Equal(t, 5*time.Minute, cfg.Redis.CacheTTL)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.False(t, cfg.Outbox.Enabled)
	assert.Equal(t, "reservation-events", cfg.Outbox.Topic)
	assert.Equal(t, time.Minute, cfg.Outbox.ClaimLease)
	assert.Equal(t, 8, cfg.Token.Length)
	assert.Equal(t, 16, cfg.Token.MaxAttempts)
	assert.Equal(t, 4*time.Hour, cfg.Token.ValidFor)
	assert.Empty(t, cfg.SeatMap.Path)
	assert.Equal(t, "host=localhost port=5432 user=postgres password=postgres dbname=tcats sslmode=disable", cfg.Database.DSN())
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
}

func TestLoadWithPath_FileValues(t *testing.T) {
	cfg, err := LoadWithPath(writeEnv(t, `APP_ENVIRONMENT=production
STORE_DRIVER=Memory
KAFKA_BROKERS=k1:9092,k2:9092
OUTBOX_ENABLED=true
OUTBOX_POLL_INTERVAL=2s
TOKEN_LENGTH=10
SEATMAP_PATH=/etc/tcats/seatmaps.yaml
`))
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, StoreDriverMemory, cfg.Store.Driver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Outbox.Enabled)
	assert.Equal(t, 2*time.Second, cfg.Outbox.PollInterval)
	assert.Equal(t, 10, cfg.Token.Length)
	assert.Equal(t, "/etc/tcats/seatmaps.yaml", cfg.SeatMap.Path)
}

func TestLoadWithPath_EnvironmentWins(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("TOKEN_MAX_ATTEMPTS", "4")

	cfg, err := LoadWithPath(writeEnv(t, "SERVER_PORT=8081\n"))
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Token.MaxAttempts)
}

func TestLoadWithPath_MissingFile(t *testing.T) {
	_, err := LoadWithPath(filepath.Join(t.TempDir(), "absent.env"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			App:    AppConfig{Name: "tcats"},
			Server: ServerConfig{Port: 8080},
			Database: DatabaseConfig{
				Host:   "localhost",
				DBName: "tcats",
			},
			Store:  StoreConfig{Driver: StoreDriverPostgres, OperationTimeout: time.Second},
			Token:  TokenConfig{Length: 8, MaxAttempts: 16},
			Outbox: OutboxConfig{Topic: "reservation-events"},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing app name", func(c *Config) { c.App.Name = "" }},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"unknown store driver", func(c *Config) { c.Store.Driver = "sqlite" }},
		{"postgres without host", func(c *Config) { c.Database.Host = "" }},
		{"no operation timeout", func(c *Config) { c.Store.OperationTimeout = 0 }},
		{"token too short", func(c *Config) { c.Token.Length = 3 }},
		{"token too long", func(c *Config) { c.Token.Length = 13 }},
		{"no token attempts", func(c *Config) { c.Token.MaxAttempts = 0 }},
		{"outbox without topic", func(c *Config) { c.Outbox.Enabled = true; c.Outbox.Topic = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("memory store needs no database", func(t *testing.T) {
		cfg := valid()
		cfg.Store.Driver = StoreDriverMemory
		cfg.Database = DatabaseConfig{}
		assert.NoError(t, cfg.Validate())
	})
}
