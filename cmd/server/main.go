package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/flashsale-orders/internal/adapter/event"
	"github.com/rl1809/flashsale-orders/internal/adapter/handler"
	"github.com/rl1809/flashsale-orders/internal/adapter/queue"
	"github.com/rl1809/flashsale-orders/internal/adapter/storage"
	"github.com/rl1809/flashsale-orders/internal/config"
	"github.com/rl1809/flashsale-orders/internal/core/service"
	"github.com/rl1809/flashsale-orders/internal/metrics"
	"github.com/rl1809/flashsale-orders/internal/obs"
	"github.com/rl1809/flashsale-orders/internal/port"
)

func main() {
	cfg := config.Load()
	obs.Setup(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize MySQL
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect mysql")
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping mysql")
	}
	log.Info().Msg("connected to mysql")

	if cfg.Migrate {
		if err := storage.Migrate(ctx, db, 3, time.Second); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate schema")
		}
	}

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: cfg.RedisPoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	log.Info().Msg("connected to redis")

	// Initialize adapters
	mysqlAdapter := storage.NewMySQLAdapter(db)
	redisAdapter := storage.NewRedisAdapter(rdb).WithClaimTTL(cfg.ClaimTTL)
	windows := storage.NewWindowCache(rdb, mysqlAdapter, cfg.WindowCacheTTL)

	qopts := queue.Options{Name: cfg.QueueName, Concurrency: cfg.WorkerCount, JobTimeout: cfg.JobTimeout}
	orderQueue, closeQueue := newQueue(ctx, cfg, rdb, qopts)
	defer closeQueue()

	var publisher port.OrderEventPublisher = event.Noop{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := event.NewKafkaPublisher(event.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic))
		defer kp.Close()
		publisher = kp
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing order events to kafka")
	}

	// Initialize services
	reg := metrics.NewRegistry()
	counter := service.NewStockCounter(redisAdapter, mysqlAdapter, cfg.CounterTTL)
	gate := service.NewAdmissionGate(
		mysqlAdapter,
		service.NewWindowValidator(windows, nil),
		redisAdapter,
		counter,
		orderQueue,
		port.EnqueueOptions{
			Attempts:         cfg.JobAttempts,
			BackoffBase:      cfg.JobBackoff,
			RemoveOnComplete: true,
			RemoveOnFail:     false,
		},
		reg,
	)
	processor := service.NewOrderProcessor(mysqlAdapter, counter, redisAdapter, publisher, reg,
		service.WithCounterRestore(cfg.RestoreCounterOnFailure))

	secret := []byte(cfg.JWTSecret)
	httpServer := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: handler.NewRouter(handler.NewHTTPHandler(gate), handler.RouterConfig{
			JWTSecret:      secret,
			RateLimitRPS:   cfg.RateLimitRPS,
			RateLimitBurst: cfg.RateLimitBurst,
			Metrics:        reg.Handler(),
		}),
	}
	grpcServer := handler.NewGRPCServer(handler.NewGRPCHandler(gate), secret)

	g, gctx := errgroup.WithContext(ctx)

	// Start worker pool
	workerCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWorkers()
	workersDone := make(chan struct{})
	g.Go(func() error {
		defer close(workersDone)
		log.Info().Int("workers", cfg.WorkerCount).Str("backend", cfg.QueueBackend).Msg("starting workers")
		return orderQueue.Consume(workerCtx, processor)
	})

	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		log.Info().Str("addr", cfg.GRPCAddr).Msg("gRPC server listening")
		return grpcServer.Serve(lis)
	})

	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP shutdown")
		}
		log.Info().Msg("HTTP server stopped")

		grpcServer.GracefulStop()
		log.Info().Msg("gRPC server stopped")

		// stops fetching; running jobs keep their own timeout and settle normally
		stopWorkers()
		select {
		case <-workersDone:
			log.Info().Msg("workers stopped")
		case <-shutdownCtx.Done():
			log.Warn().Msg("workers did not stop before shutdown timeout")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server exited with error")
	}

	// Close connections
	rdb.Close()
	db.Close()
	log.Info().Msg("connections closed")
}

func newQueue(ctx context.Context, cfg config.Config, rdb *redis.Client, opts queue.Options) (port.OrderQueue, func()) {
	switch cfg.QueueBackend {
	case config.QueueBackendRabbitMQ:
		conn, err := queue.Dial(cfg.AMQPURL, 5)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect rabbitmq")
		}
		q, err := queue.NewRabbitQueue(conn, opts)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to set up rabbitmq queue")
		}
		return q, func() {
			q.Close()
			conn.Close()
		}
	case config.QueueBackendMemory:
		log.Warn().Msg("memory queue selected, queued jobs are lost on restart")
		q := queue.NewMemoryQueue(0, opts)
		return q, q.Close
	default:
		q := queue.NewRedisQueue(rdb, opts)
		if n, err := q.RequeueActive(ctx); err != nil {
			log.Error().Err(err).Msg("failed to requeue active jobs")
		} else if n > 0 {
			log.Warn().Int("jobs", n).Msg("requeued jobs left active by a previous run")
		}
		return q, func() {}
	}
}
