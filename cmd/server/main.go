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

	"checkout-service/config"
	"checkout-service/internal/api"
	"checkout-service/internal/broker"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/service"
	"checkout-service/internal/store"
	"checkout-service/internal/util"
	"checkout-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting checkout service")

	tp, err := util.InitTracer("checkout-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	var st store.Store
	switch cfg.Database.Backend {
	case "postgres":
		pg, err := store.NewPostgres(cfg.Database.URL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		st = pg
		logger.Info("Database connected")
	default:
		st = store.NewMemory()
		logger.Info("Using in-memory store")
	}
	defer st.Close()

	var redisClient *redisclient.Client
	if cfg.Redis.Enabled {
		redisClient, err = redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
	}

	var eventPublisher *broker.EventPublisher
	if cfg.Kafka.Enabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
		defer producer.Close()
		eventPublisher = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	inventory := service.NewInventoryLedger(st)
	coupons := service.NewCouponService(st, redisClient, eventPublisher, cfg.Business.CouponTTL)
	orders := service.NewOrderService(st, inventory, coupons, eventPublisher, cfg.Business.OrderTTL)
	gateway := service.NewSimulatedGateway(cfg.Business.GatewaySuccessRate)
	payments := service.NewPaymentService(st, orders, gateway, redisClient, eventPublisher, cfg.Business.PaymentTimeout)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var fulfillment *worker.FulfillmentWorker
	if cfg.Kafka.Enabled {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
		fulfillment = worker.NewFulfillmentWorker(consumer, orders, st)
		go func() {
			if err := fulfillment.Start(workerCtx); err != nil && err != context.Canceled {
				logger.Error("Fulfillment worker error", zap.Error(err))
			}
		}()
	}

	sweeper := worker.NewSweeper(orders, cfg.Business.SweepInterval, 100)
	go func() {
		if err := sweeper.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Sweeper error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orders, payments, coupons, inventory)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if fulfillment != nil {
		fulfillment.Stop()
	}

	logger.Info("Server exited")
}
