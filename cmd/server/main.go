package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/rl1809/seckill/internal/adapter/handler"
	"github.com/rl1809/seckill/internal/adapter/storage"
	"github.com/rl1809/seckill/internal/cacheaside"
	"github.com/rl1809/seckill/internal/config"
	"github.com/rl1809/seckill/internal/core/domain"
	"github.com/rl1809/seckill/internal/core/service"
	"github.com/rl1809/seckill/internal/port"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := newRootCmd(&cfg).Execute(); err != nil {
		os.Exit(1)
	}
}

type seedOptions struct {
	itemID string
	stock  int
	window time.Duration
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	var seed seedOptions

	cmd := &cobra.Command{
		Use:          "seckill",
		Short:        "Flash-sale admission gate, order queue and persistence worker",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, *cfg, seed, logger)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.Server.HTTPAddr, "http-addr", cfg.Server.HTTPAddr, "HTTP listen address")
	f.StringVar(&cfg.Server.GRPCAddr, "grpc-addr", cfg.Server.GRPCAddr, "gRPC listen address")
	f.StringVar(&cfg.Server.Backend, "backend", cfg.Server.Backend, "admission backend: redis or memory")
	f.StringVar(&cfg.Redis.Addr, "redis-addr", cfg.Redis.Addr, "Redis address")
	f.StringVar(&cfg.Database.Driver, "db-driver", cfg.Database.Driver, "relational store: mysql, sqlite3 or postgres")
	f.StringVar(&cfg.Database.DSN, "db-dsn", cfg.Database.DSN, "relational store DSN")
	f.BoolVar(&cfg.Database.Migrate, "migrate", cfg.Database.Migrate, "create tables on startup")
	f.StringVar(&cfg.Queue.Consumer, "consumer", cfg.Queue.Consumer, "consumer name within the group")
	f.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "log level")
	f.BoolVar(&cfg.Log.Pretty, "log-pretty", cfg.Log.Pretty, "human readable console logs")
	f.StringVar(&seed.itemID, "seed-item", "", "launch a sale for this item on startup")
	f.IntVar(&seed.stock, "seed-stock", 100, "stock for --seed-item")
	f.DurationVar(&seed.window, "seed-window", 24*time.Hour, "sale window for --seed-item, starting now")

	return cmd
}

func newLogger(cfg config.LogConfig) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Logger{}, &config.ConfigError{Field: "log.level", Message: err.Error()}
	}

	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger(), nil
}

// backend is everything the admission side needs from the cache store.
type backend struct {
	cache   port.CacheRepository
	counter port.Counter
	queue   port.OrderQueue
	locks   port.Locker
	kv      port.KVStore
	close   func()
}

type store interface {
	port.DatabaseRepository
	Migrate(ctx context.Context) error
}

func run(ctx context.Context, cfg config.Config, seed seedOptions, logger zerolog.Logger) error {
	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.close()

	db, closeDB, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	cache, err := cacheaside.NewClient(be.kv, cfg.CacheAside(), logger)
	if err != nil {
		return err
	}
	defer cache.Close()

	ids := service.NewIDGenerator(be.counter, domain.DefaultEpoch)
	items := service.NewItemService(db, be.cache, cache, cfg.Cache.TTL, logger)
	orders := service.NewOrderService(be.cache, ids, items, logger)
	worker := service.NewOrderWorker(be.queue, db, be.locks, cfg.OrderWorker(), logger)

	if seed.itemID != "" {
		if err := seedItem(ctx, db, be.cache, items, seed); err != nil {
			return fmt.Errorf("seed item %s: %w", seed.itemID, err)
		}
	}

	grpcServer := grpc.NewServer()
	handler.RegisterOrderServiceServer(grpcServer, handler.NewGRPCHandler(orders, logger))

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           handler.NewHTTPHandler(orders, items, logger).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.GRPCAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return worker.Run(gctx)
	})

	g.Go(func() error {
		logger.Info().Str("addr", cfg.Server.GRPCAddr).Msg("gRPC server listening")
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("gRPC server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info().Str("addr", cfg.Server.HTTPAddr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("HTTP shutdown")
		}
		grpcServer.GracefulStop()
		return nil
	})

	err = g.Wait()
	logger.Info().Msg("stopped")
	return err
}

func openBackend(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*backend, error) {
	if cfg.Server.Backend == config.BackendMemory {
		mem, err := storage.NewMemoryAdapter(cfg.Queue.Stream)
		if err != nil {
			return nil, err
		}
		logger.Warn().Msg("memory backend: admissions do not survive a restart")
		return &backend{
			cache:   mem,
			counter: mem,
			queue:   mem.Stream(cfg.Queue.Stream),
			locks:   mem,
			kv:      mem,
			close:   mem.Close,
		}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	logger.Info().Str("addr", cfg.Redis.Addr).Msg("connected to redis")

	stream := storage.NewRedisStream(rdb, cfg.Queue.Stream, cfg.Queue.Group, cfg.Queue.Consumer)
	if err := stream.EnsureGroup(ctx); err != nil {
		rdb.Close()
		return nil, err
	}

	adapter := storage.NewRedisAdapter(rdb, cfg.Queue.Stream)
	return &backend{
		cache:   adapter,
		counter: adapter,
		queue:   stream,
		locks:   storage.NewRedisLocker(rdb),
		kv:      storage.NewRedisKV(rdb),
		close:   func() { rdb.Close() },
	}, nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (store, func(), error) {
	var (
		s       store
		closeFn func()
	)

	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := storage.NewPostgresPool(ctx, cfg.DSN, int32(cfg.MaxOpenConns))
		if err != nil {
			return nil, nil, err
		}
		s, closeFn = storage.NewPostgresAdapter(pool), pool.Close
	default:
		db, err := sql.Open(cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
		}
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		if cfg.Driver == config.DriverSQLite {
			db.SetMaxOpenConns(1)
		}

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
		}
		s, closeFn = storage.NewSQLAdapter(db), func() { db.Close() }
	}
	logger.Info().Str("driver", cfg.Driver).Msg("connected to store")

	if cfg.Migrate {
		if err := s.Migrate(ctx); err != nil {
			closeFn()
			return nil, nil, err
		}
	}
	return s, closeFn, nil
}

// seedItem launches the sale on first start and re-seeds the gate from the
// stored stock on later starts.
func seedItem(ctx context.Context, db port.ItemRepository, gate port.CacheRepository, items *service.ItemService, seed seedOptions) error {
	existing, err := db.GetItem(ctx, seed.itemID)
	if err != nil {
		return err
	}
	if existing != nil {
		return gate.SetStock(ctx, existing.ID, existing.Stock)
	}

	now := time.Now().UTC().Truncate(time.Second)
	return items.LaunchSale(ctx, domain.Item{
		ID:      seed.itemID,
		Name:    seed.itemID,
		Stock:   seed.stock,
		BeginAt: now,
		EndAt:   now.Add(seed.window),
	})
}
