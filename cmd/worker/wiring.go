package main

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/doubles-registration/internal/config"
	"github.com/richardliu001/doubles-registration/internal/cronlock"
	"github.com/richardliu001/doubles-registration/internal/logger"
	"github.com/richardliu001/doubles-registration/internal/notify"
	"github.com/richardliu001/doubles-registration/internal/outbox"
	"github.com/richardliu001/doubles-registration/internal/repo"
	"github.com/richardliu001/doubles-registration/internal/scheduler"
	"github.com/richardliu001/doubles-registration/internal/service"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	jobOutboxDispatch = "outbox-dispatch"
	jobExpirySweep    = "pairing-expiry-sweep"
)

type worker struct {
	log   *zap.SugaredLogger
	sched *scheduler.Scheduler
	kw    *kafka.Writer
	rdb   *redis.Client
}

func openDB(cfg *config.Config) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return gdb, nil
}

func migrate(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()
	gdb, err := openDB(cfg)
	if err != nil {
		return err
	}
	if err := repo.Migrate(gdb); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Infow("schema migrated")
	return nil
}

func newWorker(configPath string) (*worker, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	gdb, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	if err := repo.VerifySchema(gdb); err != nil {
		return nil, err
	}

	w := &worker{log: log}
	if cfg.Redis.Addr != "" {
		w.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := w.rdb.Ping(context.Background()).Err(); err != nil {
			log.Warnw("redis unavailable, status cache disabled", "error", err)
			_ = w.rdb.Close()
			w.rdb = nil
		}
	}

	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node: %w", err)
	}
	repository := repo.NewRepository(gdb, w.rdb, node, log)
	svc := service.NewPairingService(repository, outbox.NewProducer(repository), cfg.Pairing.Policy(), log)

	var sink notify.Notifier = notify.NewLogNotifier(log)
	if len(cfg.Kafka.Brokers) > 0 {
		w.kw = &kafka.Writer{
			Addr:     kafka.TCP(cfg.Kafka.Brokers...),
			Topic:    cfg.Kafka.Topic,
			Balancer: &kafka.LeastBytes{},
		}
		sink = notify.NewKafkaNotifier(w.kw, log)
	}

	reg := outbox.NewRegistry()
	if err := service.NewConsumers(svc, sink, log).Register(reg); err != nil {
		return nil, err
	}
	dispatcher := outbox.NewDispatcher(repository, reg, cfg.Outbox.Dispatcher(), log)

	w.sched, err = scheduler.NewScheduler(cronlock.NewLocker(gdb, cfg.Cron.Env, log), log,
		scheduler.Job{
			Key:      jobOutboxDispatch,
			Interval: cfg.Outbox.Interval,
			LeaseTTL: cfg.Cron.LeaseTTL,
			Run: func(ctx context.Context) error {
				_, err := dispatcher.DispatchBatch(ctx)
				return err
			},
		},
		scheduler.Job{
			Key:      jobExpirySweep,
			Interval: cfg.Cron.ExpirySweepInterval,
			LeaseTTL: cfg.Cron.LeaseTTL,
			Run: func(ctx context.Context) error {
				n, err := svc.EnqueueDueExpirations(ctx, cfg.Cron.ExpirySweepLimit)
				if n > 0 {
					log.Infow("deadline events enqueued", "job", jobExpirySweep, "count", n)
				}
				return err
			},
		},
	)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (w *worker) close() {
	if w.kw != nil {
		if err := w.kw.Close(); err != nil {
			w.log.Warnw("close kafka writer", "error", err)
		}
	}
	if w.rdb != nil {
		_ = w.rdb.Close()
	}
	_ = w.log.Sync()
}
