package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"dashlink/internal/bus"
	"dashlink/internal/config"
	"dashlink/internal/model"
	"dashlink/internal/service"
	"dashlink/internal/web"
)

func main() {
	log.Println("[API] Starting Dashlink API gateway...")

	cfg := config.Load()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatalf("[API] Failed to connect to database: %v", err)
	}
	if err := db.AutoMigrate(model.All()...); err != nil {
		log.Fatalf("[API] Failed to migrate database: %v", err)
	}
	log.Println("[API] Connected to database")

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisURL,
		DB:   0,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("[API] Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("[API] Connected to Redis")

	natsConn, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		log.Fatalf("[API] Failed to connect to NATS: %v", err)
	}
	defer natsConn.Close()
	log.Println("[API] Connected to NATS")

	messageBus := bus.New(natsConn)

	catalog := service.NewDeviceCatalog(db)
	connections := service.NewConnectionService(db, redisClient)
	locations := service.NewLocationService(db)
	streams := service.NewStreamService(db)

	// Keep the stream bookkeeping in step with ingest announcements.
	statusSub, err := messageBus.SubscribeStreamStatus(func(st *bus.StreamStatus) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := streams.Apply(ctx, st.Identifier, int(st.Channel), st.Streaming, st.Codec, st.Width, st.Height, st.FPS); err != nil {
			log.Printf("[API] Stream bookkeeping update failed for %s: %v", st.Identifier, err)
		}
	})
	if err != nil {
		log.Fatalf("[API] Failed to subscribe to stream status: %v", err)
	}
	defer statusSub.Unsubscribe()

	dashcams := web.NewDashcamHandler(cfg, catalog, connections, streams, service.LogSMSSender{})
	videoWS := web.NewVideoHandler(cfg, messageBus, catalog, connections, streams)
	positions := web.NewPositionHandler(locations, catalog)

	router := gin.Default()

	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/ws/dashcam/", videoWS.Handle)

	api := router.Group("/api/tcp-service")
	dashcams.Register(api)
	positions.Register(api)

	addr := fmt.Sprintf(":%d", cfg.APIPort)
	go func() {
		log.Printf("[API] HTTP server listening on %s", addr)
		if err := router.Run(addr); err != nil {
			log.Fatalf("[API] Failed to start server: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("[API] Shutting down...")
}
