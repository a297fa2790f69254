package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/rl1809/flashsale-orders/internal/adapter/event"
	"github.com/rl1809/flashsale-orders/internal/adapter/queue"
	"github.com/rl1809/flashsale-orders/internal/adapter/storage"
	"github.com/rl1809/flashsale-orders/internal/core/domain"
	"github.com/rl1809/flashsale-orders/internal/core/service"
	"github.com/rl1809/flashsale-orders/internal/metrics"
	"github.com/rl1809/flashsale-orders/internal/obs"
	"github.com/rl1809/flashsale-orders/internal/port"
)

const (
	productID     = "flash-sale-item"
	initialStock  = 20
	totalRequests = 50
	queueSize     = 100
	workerCount   = 5
)

func main() {
	obs.Setup("warn", true)
	ctx := context.Background()

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer rdb.Close()

	// Clear previous test data
	rdb.Del(ctx, "stock:"+productID)
	keys, _ := rdb.Keys(ctx, "purchase:user-*:"+productID).Result()
	for _, k := range keys {
		rdb.Del(ctx, k)
	}

	// Durable side lives in memory so only Redis is required
	store := storage.NewMemoryStore()
	store.CreateProduct(ctx, domain.Product{ID: productID, Name: "Stress Item", Price: decimal.NewFromInt(99), Stock: initialStock})
	now := time.Now().UTC()
	store.CreateFlashSale(ctx, domain.FlashSale{
		ID:        "stress-sale",
		ProductID: productID,
		StartDate: now.Add(-time.Hour).Format(time.RFC3339),
		EndDate:   now.Add(time.Hour).Format(time.RFC3339),
	})

	redisAdapter := storage.NewRedisAdapter(rdb)
	reg := metrics.NewRegistry()
	counter := service.NewStockCounter(redisAdapter, store, 0)
	orderQueue := queue.NewMemoryQueue(queueSize, queue.Options{Concurrency: workerCount})
	defer orderQueue.Close()

	gate := service.NewAdmissionGate(store, service.NewWindowValidator(store, nil), redisAdapter, counter, orderQueue,
		port.EnqueueOptions{Attempts: 3, BackoffBase: 100 * time.Millisecond, RemoveOnComplete: true}, reg)
	processor := service.NewOrderProcessor(store, counter, redisAdapter, event.Noop{}, reg)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	go orderQueue.Consume(workerCtx, processor)

	// Counters
	var successCount atomic.Int32
	var soldOutCount atomic.Int32
	var otherCount atomic.Int32

	// Spawn concurrent requests
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(userID int) {
			defer wg.Done()

			id := fmt.Sprintf("user-%d", userID)
			_, err := gate.Admit(ctx, id, id, productID)
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrOutOfStock):
				soldOutCount.Add(1)
			default:
				otherCount.Add(1)
				log.Error().Err(err).Str("user_id", id).Msg("unexpected admission error")
			}
		}(i)
	}

	wg.Wait()
	admitted := time.Since(start)

	drainCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := orderQueue.Drain(drainCtx); err != nil {
		log.Error().Err(err).Msg("queue did not drain")
	}
	elapsed := time.Since(start)

	// Results
	success := successCount.Load()
	soldOut := soldOutCount.Load()
	orders := len(store.Orders())
	product, _ := store.GetProduct(ctx, productID)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Admitted:         %d\n", success)
	fmt.Printf("Sold Out:         %d\n", soldOut)
	fmt.Printf("Other Errors:     %d\n", otherCount.Load())
	fmt.Printf("Orders Committed: %d\n", orders)
	fmt.Printf("Failed Jobs:      %d\n", len(orderQueue.Failed()))
	fmt.Printf("Admission Time:   %v\n", admitted)
	fmt.Printf("Total Duration:   %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	if success == int32(initialStock) && soldOut == int32(totalRequests-initialStock) {
		fmt.Printf("PASS: Exactly %d admitted, %d sold out\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d admitted/%d sold out, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, soldOut)
	}

	if orders == initialStock && product.Stock == 0 {
		fmt.Println("PASS: Every admission committed, durable stock is 0")
	} else {
		fmt.Printf("FAIL: Expected %d orders and stock 0, got %d orders and stock %d\n", initialStock, orders, product.Stock)
	}

	// Verify final stock in Redis
	finalStock, _ := rdb.Get(ctx, "stock:"+productID).Int()
	fmt.Printf("Final Redis Stock: %d\n", finalStock)

	if finalStock == 0 {
		fmt.Println("PASS: Stock depleted to 0")
	} else {
		fmt.Printf("FAIL: Expected stock 0, got %d\n", finalStock)
	}
}
