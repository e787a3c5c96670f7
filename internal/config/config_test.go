package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, args ...string) (Config, error) {
	t.Helper()
	v := viper.New()
	cmd := &cobra.Command{Use: "test"}
	require.NoError(t, SetupFlags(cmd, v))
	require.NoError(t, cmd.ParseFlags(args))
	return Load(v)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(t)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, QueueMemory, cfg.Queue)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 3, cfg.ActivityRetry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.ActivityRetry.InitialBackoff)
	assert.Equal(t, 10*time.Second, cfg.ActivityRetry.MaxBackoff)
	assert.Equal(t, 5*time.Second, cfg.StorageMaxElapsed)
	assert.Equal(t, 5*time.Second, cfg.RescheduleInterval)
	assert.Empty(t, cfg.SeedStock)
}

func TestLoad_FlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("ORDERFLOW_WORKERS", "7")
	t.Setenv("ORDERFLOW_HTTP_PORT", "9000")
	t.Setenv("ORDERFLOW_STORAGE_MAX_ELAPSED", "2s")

	cfg, err := load(t, "--http-port", "9100", "--storage", "SQLite", "--seed-stock", "Widget=10, Gadget=5")
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Workers)
	assert.Equal(t, 9100, cfg.HTTPPort)
	assert.Equal(t, 2*time.Second, cfg.StorageMaxElapsed)
	assert.Equal(t, StorageSQLite, cfg.Storage)
	assert.Equal(t, map[string]int{"Widget": 10, "Gadget": 5}, cfg.SeedStock)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orderflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queue: redis\nredis-prefix: shop\nworkers: 2\n"), 0o600))

	cfg, err := load(t, "--config-file", path, "--workers", "3")
	require.NoError(t, err)

	assert.Equal(t, QueueRedis, cfg.Queue)
	assert.Equal(t, "shop", cfg.RedisPrefix)
	assert.Equal(t, 3, cfg.Workers, "explicit flags win over the file")
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := load(t, "--config-file", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown storage", []string{"--storage", "cassandra"}},
		{"unknown queue", []string{"--queue", "sqs"}},
		{"postgres without dsn", []string{"--storage", "postgres"}},
		{"postgres queue without dsn", []string{"--queue", "postgres"}},
		{"no workers", []string{"--workers", "0"}},
		{"no attempts", []string{"--activity-max-attempts", "0"}},
		{"inverted backoff", []string{"--activity-initial-backoff", "5s", "--activity-max-backoff", "1s"}},
		{"bad port", []string{"--http-port", "70000"}},
		{"no reschedule interval", []string{"--reschedule-interval", "0s"}},
		{"bad seed", []string{"--seed-stock", "Widget"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestParseSeedStock(t *testing.T) {
	tests := []struct {
		in      string
		want    map[string]int
		wantErr bool
	}{
		{in: "", want: map[string]int{}},
		{in: "Widget=1", want: map[string]int{"Widget": 1}},
		{in: "Widget=1,Widget=2", want: map[string]int{"Widget": 3}},
		{in: " A = 0 ,, B=4 ", want: map[string]int{"A": 0, "B": 4}},
		{in: "=3", wantErr: true},
		{in: "A=-1", wantErr: true},
		{in: "A=x", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseSeedStock(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestFormatSeedStock(t *testing.T) {
	s := FormatSeedStock(map[string]int{"b": 2, "a": 1})
	assert.Equal(t, "a=1,b=2", s)

	back, err := ParseSeedStock(s)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 1, "b": 2}, back)
}
