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

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/Phuonglp03/melodyhub-dev-sub005/internal/cache"
	"github.com/Phuonglp03/melodyhub-dev-sub005/internal/collab"
	"github.com/Phuonglp03/melodyhub-dev-sub005/internal/config"
	"github.com/Phuonglp03/melodyhub-dev-sub005/internal/httpapi/handlers"
	"github.com/Phuonglp03/melodyhub-dev-sub005/internal/metrics"
	"github.com/Phuonglp03/melodyhub-dev-sub005/internal/store"
	"github.com/Phuonglp03/melodyhub-dev-sub005/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}
	log.Printf("config: %+v", cfg)

	// Redis 连不上不退出：缓存层会逐调用降级到进程内存
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Printf("redis unavailable, running on in-memory fallback: %v", err)
	}
	defer rdb.Close()
	backend := cache.NewFallbackBackend(cache.NewRedisBackend(rdb))

	db, err := store.InitMySQL(cfg.Mysql.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	snapshotStore := store.NewSnapshotStore(db)

	var sink metrics.Sink = metrics.Noop{}
	var kafkaSink *metrics.KafkaSink
	if cfg.Collab.MetricsEnabled && len(cfg.Kafka.Brokers) > 0 {
		kafkaCfg := sarama.NewConfig()
		// SyncProducer 必须开启 Return.Successes
		kafkaCfg.Producer.Return.Successes = true
		kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
		producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
		if err != nil {
			log.Printf("kafka unavailable, metrics disabled: %v", err)
		} else {
			defer producer.Close()
			kafkaSink = metrics.NewKafkaSink(producer, cfg.Kafka.Topic, metrics.KafkaSinkOptions{
				QueueSize:   10_000,
				Workers:     4,
				MaxRetry:    3,
				BaseBackoff: 50 * time.Millisecond,
				MaxBackoff:  1 * time.Second,
			})
			sink = kafkaSink
		}
	}

	presenceTTL := time.Duration(cfg.Collab.PresenceTTLSeconds) * time.Second
	stateStore := collab.NewStateStore(backend, snapshotStore, sink, collab.StateStoreOptions{
		MaxOps:       cfg.Collab.MaxOps,
		PersistDelay: time.Duration(cfg.Collab.SnapshotDebounceMs) * time.Millisecond,
	})
	presence := cache.NewPresence(backend, presenceTTL)

	sweeper := cache.NewSweeper(backend, presenceTTL,
		time.Duration(cfg.Collab.SweepIntervalMs)*time.Millisecond)
	sweeper.Start()

	hub := ws.NewHub()
	manager := ws.NewManager(hub, stateStore, presence)
	rooms := handlers.NewRooms(stateStore, presence)

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	api := r.Group("/collab")
	api.GET("/ws", manager.WebSocketConnect)
	api.GET("/rooms/:projectID", rooms.GetState)
	api.GET("/rooms/:projectID/ops", rooms.GetMissingOps)
	api.POST("/rooms/:projectID/ops", rooms.ApplyOperation)
	api.PUT("/rooms/:projectID/snapshot", rooms.SetSnapshot)
	api.DELETE("/rooms/:projectID", rooms.Clear)
	api.GET("/rooms/:projectID/presence", rooms.ListPresence)
	api.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "ok"})
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Running.Port),
		Handler: r,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	sweeper.Stop()
	stateStore.Close()
	if kafkaSink != nil {
		kafkaSink.Close()
	}
}
