package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/richardliu001/doubles-registration/internal/config"
	"github.com/richardliu001/doubles-registration/internal/logger"
	"github.com/richardliu001/doubles-registration/internal/outbox"
	"github.com/richardliu001/doubles-registration/internal/repo"
	"github.com/richardliu001/doubles-registration/internal/service"
	httptransport "github.com/richardliu001/doubles-registration/internal/transport/http"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	_ = godotenv.Load()

	// 1. load config
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	// 3. postgres; schema is owned by `worker migrate`
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := repo.VerifySchema(gdb); err != nil {
		log.Fatalf("schema check: %v", err)
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

	// 5. repo & service
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		log.Fatalf("snowflake node: %v", err)
	}
	repository := repo.NewRepository(gdb, rdb, node, log)
	svc := service.NewPairingService(repository, outbox.NewProducer(repository), cfg.Pairing.Policy(), log)

	// 6. gin router
	limiter := httptransport.NewMemoryStore(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	router := httptransport.NewRouter(svc, limiter, log)

	// 7. serve
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.Port), Handler: router}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	log.Infof("doubles-registration server listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("listen: %v", err)
	}
}
