// Package app wires the flash-sale service together and manages its
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/flashsale/internal/buffer"
	"github.com/utafrali/flashsale/internal/config"
	"github.com/utafrali/flashsale/internal/domain"
	"github.com/utafrali/flashsale/internal/event"
	"github.com/utafrali/flashsale/internal/gateway"
	handler "github.com/utafrali/flashsale/internal/handler/http"
	"github.com/utafrali/flashsale/internal/ledger"
	"github.com/utafrali/flashsale/internal/lock"
	"github.com/utafrali/flashsale/internal/repository/postgres"
	"github.com/utafrali/flashsale/internal/service"
	"github.com/utafrali/flashsale/internal/wal"
	"github.com/utafrali/flashsale/migrations"
	"github.com/utafrali/flashsale/pkg/database"
	"github.com/utafrali/flashsale/pkg/health"
	pkgkafka "github.com/utafrali/flashsale/pkg/kafka"
	"github.com/utafrali/flashsale/pkg/tracing"
)

// App wires together all dependencies and runs the flash-sale service.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	pool     *pgxpool.Pool
	redis    *redis.Client
	producer *pkgkafka.Producer

	admin        *service.AdminService
	buf          *buffer.Buffer
	walProcessor *wal.Processor
	recoverer    *wal.Recoverer
	archiver     *wal.Archiver

	httpServer     *http.Server
	tracerShutdown func(context.Context) error
	bgCancel       context.CancelFunc
}

// NewApp creates the application, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "flashsale",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	pgCfg := database.PostgresConfig{
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPass,
		DBName:          cfg.PostgresDB,
		SSLMode:         cfg.PostgresSSL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute,
	}
	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.String("database", cfg.PostgresDB),
	)

	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	redisCfg := database.DefaultRedisConfig()
	redisCfg.Host = cfg.RedisHost
	redisCfg.Port = cfg.RedisPort
	redisCfg.Password = cfg.RedisPassword
	redisCfg.DB = cfg.RedisDB
	redisCfg.PoolSize = cfg.RedisPoolSize

	redisClient, err := database.NewRedisClient(ctx, redisCfg)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("connected to Redis",
		slog.String("host", cfg.RedisHost),
		slog.Int("pool_size", cfg.RedisPoolSize),
	)
	database.RegisterPoolMetrics(pool, redisClient, "flashsale")

	// Durable layer.
	walRepo := postgres.NewWALRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	paymentRepo := postgres.NewPaymentRepository(pool)
	reservationRepo := postgres.NewReservationRepository(pool)

	// Hot-path layer.
	led := ledger.NewRedisLedger(redisClient)
	locker := lock.NewRedisLocker(redisClient)

	// Events.
	var producer *pkgkafka.Producer
	var events event.Publisher = event.Nop{}
	if cfg.KafkaEnabled {
		producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		events = event.NewProducer(producer, logger)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	// Write-ahead log.
	walProcessor := wal.NewProcessor(walRepo, logger)
	walWriter := wal.NewWriter(walRepo, walProcessor, logger)
	recoverer := wal.NewRecoverer(walRepo, led, logger).
		WithStuckAge(time.Duration(cfg.WALStuckAgeMinutes) * time.Minute)
	archiver := wal.NewArchiver(walRepo, logger).
		WithRetention(time.Duration(cfg.WALRetentionDays) * 24 * time.Hour)

	// Write buffer. Exhausted commands go to the dead-letter topic.
	bufCfg := buffer.DefaultConfig()
	bufCfg.PrimaryCapacity = cfg.BufferPrimaryCapacity
	bufCfg.RetryCapacity = cfg.BufferRetryCapacity
	bufCfg.Eviction.MaxAge = time.Duration(cfg.BufferEvictionMaxAge) * time.Minute

	writeProcessor := service.NewWriteProcessor(orderRepo, paymentRepo, reservationRepo, logger)
	deadLetter := func(ctx context.Context, cmd *domain.WriteCommand, cause error) {
		_ = events.DeadLetteredCommand(ctx, cmd, cause)
	}
	buf := buffer.New(bufCfg, writeProcessor, deadLetter, logger)

	// Payment gateways, behind circuit breakers.
	mockGW := gateway.NewMock(gateway.MockConfig{
		Name:        "mock",
		SuccessRate: cfg.GatewaySuccessRate,
		MinLatency:  time.Duration(cfg.GatewayMinLatencyMs) * time.Millisecond,
		MaxLatency:  time.Duration(cfg.GatewayMaxLatencyMs) * time.Millisecond,
	}, logger)
	breakerCfg := gateway.BreakerConfig{
		MaxRequests:  cfg.CBMaxRequests,
		Interval:     time.Duration(cfg.CBInterval) * time.Second,
		Timeout:      time.Duration(cfg.CBTimeout) * time.Second,
		FailureRatio: cfg.CBFailureRatio,
		MinRequests:  cfg.CBMinRequests,
	}
	registry := gateway.NewRegistry()
	registry.Register(gateway.WithBreaker(mockGW, breakerCfg, logger))

	// Services.
	purchaseSvc := service.NewPurchaseService(
		service.PurchaseConfig{ReservationTTL: cfg.ReservationTTL()},
		led, walWriter, buf, registry, events, logger,
	)
	adminSvc := service.NewAdminService(buf, locker, led, walWriter, registry, events, logger)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.Register("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.Register("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})
	if producer != nil {
		healthHandler.Register("kafka", func(ctx context.Context) error {
			return producer.Ping(ctx)
		})
	}

	router := handler.NewRouter(purchaseSvc, adminSvc, healthHandler, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		redis:          redisClient,
		producer:       producer,
		admin:          adminSvc,
		buf:            buf,
		walProcessor:   walProcessor,
		recoverer:      recoverer,
		archiver:       archiver,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// Run starts the background loops and the HTTP server, blocking until the
// context is canceled.
func (a *App) Run(ctx context.Context) error {
	bgCtx, bgCancel := context.WithCancel(context.Background())
	a.bgCancel = bgCancel

	a.buf.Start(bgCtx)
	a.walProcessor.Start(bgCtx)
	go a.recoverer.Run(bgCtx, time.Duration(a.cfg.WALRecoveryIntervalMins)*time.Minute)
	go a.archiver.Run(bgCtx, time.Duration(a.cfg.WALArchiveIntervalHours)*time.Hour)
	go a.expireSweepLoop(bgCtx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// expireSweepLoop periodically releases overdue reservations so expired holds
// return to the available pool even without traffic.
func (a *App) expireSweepLoop(ctx context.Context) {
	interval := time.Duration(a.cfg.ExpirySweepIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.admin.ExpireReservations(ctx); err != nil {
				a.logger.Warn("reservation expiry sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Shutdown stops all components in order: drain HTTP, stop the background
// loops, flush the write buffer and WAL processor, then close the external
// connections.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if a.bgCancel != nil {
		a.bgCancel()
	}

	// Flush buffered writes before the database pool goes away.
	a.buf.Close()
	a.walProcessor.Close()

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if err := a.redis.Close(); err != nil {
		a.logger.Error("redis close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
