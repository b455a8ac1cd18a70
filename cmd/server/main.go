package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/segmentio/kafka-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/richardliu001/token-ledger/internal/auth"
	"github.com/richardliu001/token-ledger/internal/config"
	"github.com/richardliu001/token-ledger/internal/hash"
	"github.com/richardliu001/token-ledger/internal/idempotency"
	"github.com/richardliu001/token-ledger/internal/logger"
	"github.com/richardliu001/token-ledger/internal/metrics"
	"github.com/richardliu001/token-ledger/internal/model"
	"github.com/richardliu001/token-ledger/internal/repo"
	"github.com/richardliu001/token-ledger/internal/rules"
	"github.com/richardliu001/token-ledger/internal/service"
	httptransport "github.com/richardliu001/token-ledger/internal/transport/http"
)

func main() {
	cfgPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	flag.Parse()

	// 1. load config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	// 3. postgres
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true, TranslateError: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(model.Tables()...); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	// 4. redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}
	defer rdb.Close()

	// 5. kafka writer; the server only fills the outbox, the poller publishes
	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.Hash{},
	}
	defer kw.Close()

	// 6. ledger core
	repository := repo.NewRepository(gdb, kw, log, repo.WithTimeout(cfg.Ledger.StorageTimeout))
	jwtp := auth.NewJWTProvider(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	owners := service.NewOwners(jwtp, repository)
	hasher := hash.NewService()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.New(reg)

	transfers := service.NewTransactionProcessor(repository, rules.NewEngine(repository), hasher, owners,
		cfg.Ledger.FeeCollector, log, service.WithTransferMetrics(rec))
	swaps := service.NewSwapProcessor(repository, hasher, owners, log, service.WithSwapMetrics(rec))

	// 7. gin router
	gin.SetMode(cfg.Server.Mode)
	router := httptransport.NewRouter(httptransport.RouterDeps{
		Handler:  httptransport.NewHandler(transfers, swaps, cfg.Ledger.HistoryLimit),
		Identity: jwtp,
		Idempotency: idempotency.NewStore(rdb,
			idempotency.WithLockTTL(cfg.Idempotency.LockTTL),
			idempotency.WithRetention(cfg.Idempotency.Retention)),
		Gatherer: reg,
		Health: map[string]httptransport.HealthCheck{
			"postgres": func(ctx context.Context) error {
				sqlDB, err := gdb.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
			"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
		RateLimit: cfg.RateLimit,
		Log:       log,
	})

	// 8. serve until signalled
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		log.Infof("ledger-server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()
	<-ctx.Done()

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
}
