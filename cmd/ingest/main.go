package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"dashlink/internal/bus"
	"dashlink/internal/config"
	"dashlink/internal/handler"
	"dashlink/internal/model"
	"dashlink/internal/registry"
	"dashlink/internal/server"
	"dashlink/internal/service"
)

func main() {
	log.Println("[Ingest] Starting Dashlink ingest node...")

	cfg := config.Load()
	log.Printf("[Ingest] Configuration loaded: JT808=%d JT1078=%d public_ip=%s", cfg.JT808Port, cfg.JT1078Port, cfg.PublicIP)

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatalf("[Ingest] Failed to connect to database: %v", err)
	}
	if err := db.AutoMigrate(model.All()...); err != nil {
		log.Fatalf("[Ingest] Failed to migrate database: %v", err)
	}
	log.Println("[Ingest] Connected to database")

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisURL,
		DB:   0,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("[Ingest] Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("[Ingest] Connected to Redis")

	natsConn, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		log.Fatalf("[Ingest] Failed to connect to NATS: %v", err)
	}
	defer natsConn.Close()
	log.Println("[Ingest] Connected to NATS")

	messageBus := bus.New(natsConn)
	reg := registry.New()

	catalog := service.NewDeviceCatalog(db)
	connections := service.NewConnectionService(db, redisClient)
	locations := service.NewLocationService(db)
	notifier := service.NewNotificationDispatcher()

	router := handler.NewRouter(reg, catalog, connections, locations, notifier)

	signaling := server.NewJT808Server(cfg, reg, router, connections, messageBus)
	if err := signaling.Start(); err != nil {
		log.Fatalf("[Ingest] Failed to start JT808 server: %v", err)
	}

	video := server.NewJT1078Server(cfg, reg, messageBus)
	if err := video.Start(); err != nil {
		log.Fatalf("[Ingest] Failed to start JT1078 server: %v", err)
	}

	log.Println("[Ingest] Ingest node started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("[Ingest] Shutting down...")

	signaling.Stop()
	video.Stop()
	log.Println("[Ingest] Stopped")
}
