package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/richardliu001/token-ledger/internal/config"
	"github.com/richardliu001/token-ledger/internal/logger"
	"github.com/richardliu001/token-ledger/internal/repo"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/segmentio/kafka-go"
)

func main() {
	cfgPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true, TranslateError: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}

	kw := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        cfg.Kafka.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	defer kw.Close()

	r := repo.NewRepository(gdb, kw, log, repo.WithTimeout(cfg.Ledger.StorageTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(cfg.Poller.Interval)
	defer ticker.Stop()

	log.Infow("ledger-poller started", "interval", cfg.Poller.Interval, "batch", cfg.Poller.BatchSize, "topic", cfg.Kafka.Topic)
	for {
		select {
		case <-ctx.Done():
			log.Info("ledger-poller stopped")
			return
		case <-ticker.C:
			sent, err := r.RelayOutbox(ctx, cfg.Poller.BatchSize)
			if err != nil {
				log.Errorf("poll outbox: %v", err)
				continue
			}
			if sent > 0 {
				log.Infof("%d events sent", sent)
			}
		}
	}
}
