package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"production-scheduler/config"
	"production-scheduler/internal/api"
	"production-scheduler/internal/broker"
	"production-scheduler/internal/redisclient"
	"production-scheduler/internal/service"
	"production-scheduler/internal/store"
	"production-scheduler/internal/util"
	"production-scheduler/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting production scheduler")

	tp, err := util.InitTracer("production-scheduler", cfg.Server.Env, cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	if err := db.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicBatch)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	ledger := service.NewLedgerService(db, redisClient, service.LedgerConfig{
		AlmostDueWindowDays: cfg.Scheduler.AlmostDueWindowDays,
	})
	composer := service.NewComposer(db, db, ledger, service.ComposerConfig{
		CapacityCeiling:     cfg.Scheduler.CapacityCeiling,
		AlmostDueWindowDays: cfg.Scheduler.AlmostDueWindowDays,
	})
	lifecycle := service.NewLifecycleService(db, db, ledger, eventPublisher)
	stallMonitor := service.NewStallMonitor(db, eventPublisher, service.StallConfig{
		ThresholdBusinessDays: cfg.Scheduler.StallThresholdBizDays,
		ScanInterval:          cfg.Scheduler.StallScanInterval,
		RealertBase:           cfg.Scheduler.StallRealertBase,
	})

	ctx := context.Background()
	if err := ledger.SyncBalancesToRedis(ctx); err != nil {
		log.Printf("Failed to sync balances to Redis: %v", err)
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	intakeConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	intakeWorker := worker.NewIntakeWorker(intakeConsumer, db, ledger)
	go func() {
		if err := intakeWorker.Start(workerCtx); err != nil {
			log.Printf("Intake worker error: %v", err)
		}
	}()

	inventoryConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicInventory, cfg.Kafka.ConsumerGroup)
	inventoryWorker := worker.NewInventoryWorker(inventoryConsumer, db, ledger)
	go func() {
		if err := inventoryWorker.Start(workerCtx); err != nil {
			log.Printf("Inventory worker error: %v", err)
		}
	}()

	go stallMonitor.Start(workerCtx)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(composer, lifecycle, ledger, stallMonitor)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	intakeWorker.Stop()
	inventoryWorker.Stop()

	log.Println("Server exited")
}
