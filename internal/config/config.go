// Package config binds process settings from flags, environment and an
// optional config file.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/petrijr/orderflow/pkg/api"
)

type StorageType string

type QueueType string

const (
	StorageMemory   StorageType = "memory"
	StorageSQLite   StorageType = "sqlite"
	StoragePostgres StorageType = "postgres"
	StorageRedis    StorageType = "redis"
	StorageMongo    StorageType = "mongo"
)

const (
	QueueMemory   QueueType = "memory"
	QueueSQLite   QueueType = "sqlite"
	QueuePostgres QueueType = "postgres"
	QueueRedis    QueueType = "redis"
	QueueMongo    QueueType = "mongo"
)

// EnvPrefix prefixes every environment override, e.g. ORDERFLOW_HTTP_PORT.
const EnvPrefix = "ORDERFLOW"

type Config struct {
	HTTPPort int
	Storage  StorageType
	Queue    QueueType

	SQLitePath    string
	PostgresDSN   string
	RedisAddr     string
	RedisPrefix   string
	MongoURI      string
	MongoDatabase string

	Workers           int
	ActivityRetry     api.RetryPolicy
	StorageMaxElapsed time.Duration

	// RescheduleInterval is how often instances whose run task could not
	// be enqueued are retried.
	RescheduleInterval time.Duration

	LogLevel  string
	LogFormat string

	// SeedStock is the starting stock of the in-memory inventory.
	SeedStock map[string]int
}

// SetupFlags registers the process flags on cmd and binds them to v.
func SetupFlags(cmd *cobra.Command, v *viper.Viper) error {
	f := cmd.Flags()
	f.String("config-file", "", "Path to config file.")
	f.Int("http-port", 8080, "http port for the order endpoints")
	f.String("storage", string(StorageMemory), "history log and status index backend (memory|sqlite|postgres|redis|mongo)")
	f.String("queue", string(QueueMemory), "task queue backend (memory|sqlite|postgres|redis|mongo)")
	f.String("sqlite-path", "orderflow.db", "sqlite database file")
	f.String("postgres-dsn", "", "postgres connection string")
	f.String("redis-addr", "localhost:6379", "redis host:port")
	f.String("redis-prefix", "orderflow", "prefix for redis keys")
	f.String("mongo-uri", "mongodb://localhost:27017", "mongodb connection uri")
	f.String("mongo-database", "orderflow", "mongodb database name")
	f.Int("workers", 4, "number of concurrent workers")
	f.Int("activity-max-attempts", 3, "attempts per activity before a fault is recorded")
	f.Duration("activity-initial-backoff", 500*time.Millisecond, "delay before the first activity retry")
	f.Duration("activity-max-backoff", 10*time.Second, "upper bound of activity retry delay")
	f.Duration("storage-max-elapsed", 5*time.Second, "how long storage calls are retried before an execution suspends")
	f.Duration("reschedule-interval", 5*time.Second, "how often orders whose run task could not be queued are rescheduled")
	f.String("log-level", "info", "log level (debug|info|warn|error)")
	f.String("log-format", "json", "log format (json|console)")
	f.String("seed-stock", "", "initial in-memory stock, e.g. Widget=10,Gadget=5")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v.BindPFlags(f)
}

// Load reads the optional config file named by the config-file key and
// returns the merged configuration.
func Load(v *viper.Viper) (Config, error) {
	if path := v.GetString("config-file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			// it's ok if config file doesn't exist
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	stock, err := ParseSeedStock(v.GetString("seed-stock"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		HTTPPort:      v.GetInt("http-port"),
		Storage:       StorageType(strings.ToLower(v.GetString("storage"))),
		Queue:         QueueType(strings.ToLower(v.GetString("queue"))),
		SQLitePath:    v.GetString("sqlite-path"),
		PostgresDSN:   v.GetString("postgres-dsn"),
		RedisAddr:     v.GetString("redis-addr"),
		RedisPrefix:   v.GetString("redis-prefix"),
		MongoURI:      v.GetString("mongo-uri"),
		MongoDatabase: v.GetString("mongo-database"),
		Workers:       v.GetInt("workers"),
		ActivityRetry: api.RetryPolicy{
			MaxAttempts:       v.GetInt("activity-max-attempts"),
			InitialBackoff:    v.GetDuration("activity-initial-backoff"),
			BackoffMultiplier: 2,
			MaxBackoff:        v.GetDuration("activity-max-backoff"),
		},
		StorageMaxElapsed:  v.GetDuration("storage-max-elapsed"),
		RescheduleInterval: v.GetDuration("reschedule-interval"),
		LogLevel:           v.GetString("log-level"),
		LogFormat:          v.GetString("log-format"),
		SeedStock:          stock,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the backends are known and carry their settings.
func (c Config) Validate() error {
	switch c.Storage {
	case StorageMemory, StorageSQLite, StorageRedis, StorageMongo:
	case StoragePostgres:
		if c.PostgresDSN == "" {
			return errors.New("storage postgres requires postgres-dsn")
		}
	default:
		return fmt.Errorf("unknown storage %q", c.Storage)
	}

	switch c.Queue {
	case QueueMemory, QueueSQLite, QueueRedis, QueueMongo:
	case QueuePostgres:
		if c.PostgresDSN == "" {
			return errors.New("queue postgres requires postgres-dsn")
		}
	default:
		return fmt.Errorf("unknown queue %q", c.Queue)
	}

	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port %d out of range", c.HTTPPort)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.ActivityRetry.MaxAttempts < 1 {
		return fmt.Errorf("activity-max-attempts must be at least 1, got %d", c.ActivityRetry.MaxAttempts)
	}
	if c.ActivityRetry.MaxBackoff < c.ActivityRetry.InitialBackoff {
		return errors.New("activity-max-backoff is below activity-initial-backoff")
	}
	if c.RescheduleInterval <= 0 {
		return fmt.Errorf("reschedule-interval must be positive, got %s", c.RescheduleInterval)
	}
	return nil
}

// ParseSeedStock parses "Widget=10,Gadget=5". An empty string yields an
// empty map.
func ParseSeedStock(s string) (map[string]int, error) {
	stock := make(map[string]int)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, qty, ok := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("seed-stock entry %q: want name=quantity", part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(qty))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("seed-stock entry %q: quantity must be a non-negative integer", part)
		}
		stock[name] += n
	}
	return stock, nil
}

// FormatSeedStock is the inverse of ParseSeedStock with names sorted.
func FormatSeedStock(stock map[string]int) string {
	names := make([]string, 0, len(stock))
	for name := range stock {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%d", name, stock[name])
	}
	return strings.Join(parts, ",")
}
