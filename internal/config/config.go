package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rl1809/seckill/internal/cacheaside"
	"github.com/rl1809/seckill/internal/core/domain"
	"github.com/rl1809/seckill/internal/core/service"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SECKILL_"

// Backends for the admission gate and its queue.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Relational stores.
const (
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Database DatabaseConfig
	Queue    QueueConfig
	Worker   WorkerConfig
	Cache    CacheConfig
	Log      LogConfig
}

type ServerConfig struct {
	HTTPAddr        string
	GRPCAddr        string
	ShutdownTimeout time.Duration
	// Backend is "redis" or "memory". Memory runs everything in one process.
	Backend string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

type DatabaseConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Migrate         bool
}

type QueueConfig struct {
	Stream   string
	Group    string
	Consumer string
}

type WorkerConfig struct {
	BatchSize      int64
	BlockTimeout   time.Duration
	LockTTL        time.Duration
	PendingBackoff time.Duration
	PersistTimeout time.Duration
	SweepInterval  time.Duration
}

type CacheConfig struct {
	TTL            time.Duration
	NullTTL        time.Duration
	LockTTL        time.Duration
	RefreshWorkers int
	RefreshQueue   int
	RefreshTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Pretty bool
}

func Default() Config {
	worker := service.DefaultWorkerConfig()
	cache := cacheaside.DefaultConfig()

	return Config{
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			GRPCAddr:        ":50051",
			ShutdownTimeout: 5 * time.Second,
			Backend:         BackendRedis,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 100,
		},
		Database: DatabaseConfig{
			Driver:          DriverMySQL,
			DSN:             "root:root@tcp(localhost:3306)/seckill?parseTime=true&clientFoundRows=true",
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
			Migrate:         true,
		},
		Queue: QueueConfig{
			Stream:   "stream.orders",
			Group:    "g1",
			Consumer: "c1",
		},
		Worker: WorkerConfig{
			BatchSize:      worker.BatchSize,
			BlockTimeout:   worker.BlockTimeout,
			LockTTL:        worker.LockTTL,
			PendingBackoff: worker.PendingBackoff,
			PersistTimeout: worker.PersistTimeout,
			SweepInterval:  worker.SweepInterval,
		},
		Cache: CacheConfig{
			TTL:            30 * time.Minute,
			NullTTL:        cache.NullTTL,
			LockTTL:        cache.LockTTL,
			RefreshWorkers: cache.RefreshWorkers,
			RefreshQueue:   cache.RefreshQueue,
			RefreshTimeout: cache.RefreshTimeout,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load returns the defaults overridden by SECKILL_* environment variables.
func Load() (Config, error) {
	return load(os.LookupEnv)
}

func load(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	env := envReader{lookup: lookup}

	env.str("HTTP_ADDR", &cfg.Server.HTTPAddr)
	env.str("GRPC_ADDR", &cfg.Server.GRPCAddr)
	env.duration("SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	env.str("BACKEND", &cfg.Server.Backend)

	env.str("REDIS_ADDR", &cfg.Redis.Addr)
	env.str("REDIS_PASSWORD", &cfg.Redis.Password)
	env.integer("REDIS_DB", &cfg.Redis.DB)
	env.integer("REDIS_POOL_SIZE", &cfg.Redis.PoolSize)

	env.str("DB_DRIVER", &cfg.Database.Driver)
	env.str("DB_DSN", &cfg.Database.DSN)
	env.integer("DB_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns)
	env.integer("DB_MAX_IDLE_CONNS", &cfg.Database.MaxIdleConns)
	env.duration("DB_CONN_MAX_LIFETIME", &cfg.Database.ConnMaxLifetime)
	env.boolean("DB_MIGRATE", &cfg.Database.Migrate)

	env.str("QUEUE_STREAM", &cfg.Queue.Stream)
	env.str("QUEUE_GROUP", &cfg.Queue.Group)
	env.str("QUEUE_CONSUMER", &cfg.Queue.Consumer)

	env.integer64("WORKER_BATCH_SIZE", &cfg.Worker.BatchSize)
	env.duration("WORKER_BLOCK_TIMEOUT", &cfg.Worker.BlockTimeout)
	env.duration("WORKER_LOCK_TTL", &cfg.Worker.LockTTL)
	env.duration("WORKER_PENDING_BACKOFF", &cfg.Worker.PendingBackoff)
	env.duration("WORKER_PERSIST_TIMEOUT", &cfg.Worker.PersistTimeout)
	env.duration("WORKER_SWEEP_INTERVAL", &cfg.Worker.SweepInterval)

	env.duration("CACHE_TTL", &cfg.Cache.TTL)
	env.duration("CACHE_NULL_TTL", &cfg.Cache.NullTTL)
	env.duration("CACHE_LOCK_TTL", &cfg.Cache.LockTTL)
	env.integer("CACHE_REFRESH_WORKERS", &cfg.Cache.RefreshWorkers)
	env.integer("CACHE_REFRESH_QUEUE", &cfg.Cache.RefreshQueue)
	env.duration("CACHE_REFRESH_TIMEOUT", &cfg.Cache.RefreshTimeout)

	env.str("LOG_LEVEL", &cfg.Log.Level)
	env.boolean("LOG_PRETTY", &cfg.Log.Pretty)

	if env.err != nil {
		return Config{}, env.err
	}
	return cfg, nil
}

// envReader keeps the first parse error so Load can report it once.
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) get(name string) (string, bool) {
	if e.err != nil {
		return "", false
	}
	v, ok := e.lookup(EnvPrefix + name)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) fail(name, raw string, err error) {
	e.err = &ConfigError{Field: EnvPrefix + name, Message: fmt.Sprintf("cannot parse %q: %v", raw, err)}
}

func (e *envReader) str(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e *envReader) integer(name string, dst *int) {
	if v, ok := e.get(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) integer64(name string, dst *int64) {
	if v, ok := e.get(name); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) boolean(name string, dst *bool) {
	if v, ok := e.get(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(name string, dst *time.Duration) {
	if v, ok := e.get(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = d
	}
}

type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Message)
}

func (c Config) Validate() error {
	switch c.Server.Backend {
	case BackendRedis:
		if c.Redis.Addr == "" {
			return &ConfigError{Field: "redis.addr", Message: "required for the redis backend"}
		}
		if c.Redis.PoolSize <= 0 {
			return &ConfigError{Field: "redis.pool_size", Message: "must be positive"}
		}
	case BackendMemory:
	default:
		return &ConfigError{Field: "server.backend", Message: fmt.Sprintf("unknown backend %q", c.Server.Backend)}
	}

	switch c.Database.Driver {
	case DriverMySQL, DriverSQLite, DriverPostgres:
	default:
		return &ConfigError{Field: "database.driver", Message: fmt.Sprintf("unknown driver %q", c.Database.Driver)}
	}
	if c.Database.DSN == "" {
		return &ConfigError{Field: "database.dsn", Message: "required"}
	}
	if c.Database.MaxOpenConns <= 0 {
		return &ConfigError{Field: "database.max_open_conns", Message: "must be positive"}
	}

	if c.Queue.Stream == "" || c.Queue.Group == "" || c.Queue.Consumer == "" {
		return &ConfigError{Field: "queue", Message: "stream, group and consumer are required"}
	}

	if c.Worker.BatchSize <= 0 {
		return &ConfigError{Field: "worker.batch_size", Message: "must be positive"}
	}
	if c.Worker.BlockTimeout <= 0 {
		return &ConfigError{Field: "worker.block_timeout", Message: "must be positive"}
	}
	if c.Worker.LockTTL <= 0 {
		return &ConfigError{Field: "worker.lock_ttl", Message: "must be positive"}
	}
	if c.Worker.PersistTimeout <= 0 {
		return &ConfigError{Field: "worker.persist_timeout", Message: "must be positive"}
	}
	if c.Worker.PendingBackoff < 0 || c.Worker.SweepInterval < 0 {
		return &ConfigError{Field: "worker", Message: "backoff and sweep interval cannot be negative"}
	}

	if c.Cache.TTL <= 0 {
		return &ConfigError{Field: "cache.ttl", Message: "must be positive"}
	}
	if err := c.CacheAside().Validate(); err != nil {
		return err
	}
	return nil
}

// OrderWorker converts the worker section.
func (c Config) OrderWorker() service.WorkerConfig {
	return service.WorkerConfig{
		BatchSize:      c.Worker.BatchSize,
		BlockTimeout:   c.Worker.BlockTimeout,
		LockTTL:        c.Worker.LockTTL,
		PendingBackoff: c.Worker.PendingBackoff,
		PersistTimeout: c.Worker.PersistTimeout,
		SweepInterval:  c.Worker.SweepInterval,
		Epoch:          domain.DefaultEpoch,
	}
}

// CacheAside converts the cache section.
func (c Config) CacheAside() cacheaside.Config {
	cfg := cacheaside.DefaultConfig()
	cfg.NullTTL = c.Cache.NullTTL
	cfg.LockTTL = c.Cache.LockTTL
	cfg.RefreshWorkers = c.Cache.RefreshWorkers
	cfg.RefreshQueue = c.Cache.RefreshQueue
	cfg.RefreshTimeout = c.Cache.RefreshTimeout
	return cfg
}
