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

	"delivery-service/config"
	"delivery-service/internal/api"
	"delivery-service/internal/broker"
	"delivery-service/internal/gateway"
	"delivery-service/internal/redisclient"
	"delivery-service/internal/routing"
	"delivery-service/internal/service"
	"delivery-service/internal/store"
	"delivery-service/internal/util"
	"delivery-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting delivery service")

	tp, err := util.InitTracer("delivery-service", cfg.Observ.JaegerEndpoint)
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

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	notifier := broker.NewNotifier(producer, cfg.Kafka.TopicOrder)

	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL:       cfg.Gateway.BaseURL,
		KeyID:         cfg.Gateway.KeyID,
		KeySecret:     cfg.Gateway.KeySecret,
		WebhookSecret: cfg.Gateway.WebhookSecret,
		Timeout:       time.Duration(cfg.Gateway.TimeoutMS) * time.Millisecond,
	})
	routingClient := routing.NewClient(cfg.Routing.BaseURL, cfg.Routing.APIKey,
		time.Duration(cfg.Routing.TimeoutMS)*time.Millisecond)

	orderService := service.NewOrderService(db, redisClient, gatewayClient, notifier, cfg.Business.DefaultDeliveryFee)
	paymentService := service.NewPaymentService(db, redisClient, gatewayClient, notifier)
	partnerService := service.NewPartnerService(db, cfg.Business.GeofenceRadiusM)
	dispatchService := service.NewDispatchService(db, db, notifier,
		service.NewStrategy(cfg.Dispatch.Strategy), cfg.Dispatch.MaxAttempts)
	routeService := service.NewRouteService(db, redisClient, routingClient,
		time.Duration(cfg.Routing.ThrottleMS)*time.Millisecond)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	dispatchConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	dispatchWorker := worker.NewDispatchWorker(dispatchConsumer, dispatchService)
	go func() {
		if err := dispatchWorker.Start(workerCtx); err != nil {
			log.Printf("Dispatch worker error: %v", err)
		}
	}()

	routeConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, "route-estimator-group")
	routeWorker := worker.NewRouteWorker(routeConsumer, routeService)
	go func() {
		if err := routeWorker.Start(workerCtx); err != nil {
			log.Printf("Route worker error: %v", err)
		}
	}()

	janitor := worker.NewJanitor(partnerService, redisClient, time.Minute)
	go janitor.Start(workerCtx)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, paymentService, dispatchService, partnerService, db)
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
	dispatchWorker.Stop()
	routeWorker.Stop()

	log.Println("Server exited")
}
