package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/rl1809/seckill/internal/adapter/handler"
	"github.com/rl1809/seckill/internal/adapter/storage"
	"github.com/rl1809/seckill/internal/core/domain"
	"github.com/rl1809/seckill/internal/core/service"
	"github.com/rl1809/seckill/internal/port"
)

type options struct {
	backend   string
	redisAddr string
	target    string
	itemID    string
	stock     int
	requests  int
	repeats   int
}

// purchaseFunc reports whether the purchase was admitted, sold out, or a
// duplicate; anything else is an error.
type purchaseFunc func(ctx context.Context, userID, itemID string) (outcome, error)

type outcome int

const (
	admitted outcome = iota
	soldOut
	duplicate
)

func main() {
	var opts options

	cmd := &cobra.Command{
		Use:   "stress_test",
		Short: "Fire concurrent purchases at the admission gate and check that it never oversells",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.backend, "backend", "memory", "in-process gate backend: memory or redis")
	f.StringVar(&opts.redisAddr, "redis-addr", "localhost:6379", "Redis address for --backend=redis")
	f.StringVar(&opts.target, "target", "", "gRPC address of a running server; bypasses the in-process gate")
	f.StringVar(&opts.itemID, "item", "", "item id (random when empty; must already be on sale with --target)")
	f.IntVar(&opts.stock, "stock", 20, "initial stock")
	f.IntVar(&opts.requests, "requests", 50, "distinct users")
	f.IntVar(&opts.repeats, "repeats", 1, "purchases per user")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if opts.itemID == "" {
		if opts.target != "" {
			return errors.New("--item is required with --target")
		}
		opts.itemID = "stress-" + uuid.NewString()
	}

	purchase, stock, cleanup, err := setup(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	var admittedCount, soldOutCount, dupCount, errCount atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < opts.requests; i++ {
		for r := 0; r < opts.repeats; r++ {
			wg.Add(1)
			go func(userID string) {
				defer wg.Done()

				res, err := purchase(ctx, userID, opts.itemID)
				if err != nil {
					errCount.Add(1)
					logger.Error().Err(err).Str("user_id", userID).Msg("purchase failed")
					return
				}
				switch res {
				case admitted:
					admittedCount.Add(1)
				case soldOut:
					soldOutCount.Add(1)
				case duplicate:
					dupCount.Add(1)
				}
			}(fmt.Sprintf("user-%d", i))
		}
	}

	wg.Wait()
	elapsed := time.Since(start)

	admittedN := int(admittedCount.Load())
	wantAdmitted := min(opts.stock, opts.requests)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Item:             %s\n", opts.itemID)
	fmt.Printf("Initial Stock:    %d\n", opts.stock)
	fmt.Printf("Total Requests:   %d\n", opts.requests*opts.repeats)
	fmt.Printf("Admitted:         %d\n", admittedN)
	fmt.Printf("Sold Out:         %d\n", soldOutCount.Load())
	fmt.Printf("Duplicates:       %d\n", dupCount.Load())
	fmt.Printf("Errors:           %d\n", errCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if admittedN == wantAdmitted {
		fmt.Printf("PASS: exactly %d orders admitted\n", wantAdmitted)
	} else {
		fmt.Printf("FAIL: expected %d admitted, got %d\n", wantAdmitted, admittedN)
	}

	if stock != nil {
		remaining, ok := stock()
		if ok && remaining == opts.stock-admittedN {
			fmt.Printf("PASS: remaining stock %d\n", remaining)
		} else {
			fmt.Printf("FAIL: remaining stock %d, expected %d\n", remaining, opts.stock-admittedN)
		}
	}

	if admittedN != wantAdmitted {
		return errors.New("admission count mismatch")
	}
	return nil
}

func setup(ctx context.Context, opts options, logger zerolog.Logger) (purchaseFunc, func() (int, bool), func(), error) {
	if opts.target != "" {
		conn, err := grpc.NewClient(opts.target, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, nil, nil, err
		}
		return grpcPurchase(handler.NewOrderServiceClient(conn)), nil, func() { conn.Close() }, nil
	}

	var (
		gate    port.CacheRepository
		counter port.Counter
		stock   func() (int, bool)
		cleanup func()
	)

	switch opts.backend {
	case "memory":
		mem, err := storage.NewMemoryAdapter("stream.orders")
		if err != nil {
			return nil, nil, nil, err
		}
		gate, counter, cleanup = mem, mem, mem.Close
		stock = func() (int, bool) { return mem.Stock(opts.itemID) }
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: opts.redisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		streamName := "stress:stream:" + opts.itemID
		adapter := storage.NewRedisAdapter(rdb, streamName)
		gate, counter = adapter, adapter
		stock = func() (int, bool) {
			n, err := rdb.Get(ctx, storage.StockKey(opts.itemID)).Int()
			return n, err == nil
		}
		cleanup = func() {
			rdb.Del(context.Background(), streamName, storage.StockKey(opts.itemID), storage.BuyersKey(opts.itemID))
			rdb.Close()
		}
	default:
		return nil, nil, nil, fmt.Errorf("unknown backend %q", opts.backend)
	}

	if err := gate.SetStock(ctx, opts.itemID, opts.stock); err != nil {
		cleanup()
		return nil, nil, nil, fmt.Errorf("set stock: %w", err)
	}

	svc := service.NewOrderService(gate, service.NewIDGenerator(counter, domain.DefaultEpoch), nil, logger)
	return servicePurchase(svc), stock, cleanup, nil
}

func servicePurchase(svc *service.OrderService) purchaseFunc {
	return func(ctx context.Context, userID, itemID string) (outcome, error) {
		_, err := svc.Purchase(ctx, userID, itemID)
		switch {
		case err == nil:
			return admitted, nil
		case errors.Is(err, service.ErrInsufficientStock):
			return soldOut, nil
		case errors.Is(err, service.ErrAlreadyPurchased):
			return duplicate, nil
		default:
			return 0, err
		}
	}
}

func grpcPurchase(client handler.OrderServiceClient) purchaseFunc {
	return func(ctx context.Context, userID, itemID string) (outcome, error) {
		_, err := client.Purchase(ctx, &handler.PurchaseRequest{UserId: userID, ItemId: itemID})
		switch status.Code(err) {
		case codes.OK:
			return admitted, nil
		case codes.ResourceExhausted:
			return soldOut, nil
		case codes.AlreadyExists:
			return duplicate, nil
		default:
			return 0, err
		}
	}
}
