package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aminedk/ws-chat-server/bus"
	"github.com/aminedk/ws-chat-server/config"
	"github.com/aminedk/ws-chat-server/metrics"
	"github.com/aminedk/ws-chat-server/server"
	"github.com/aminedk/ws-chat-server/services"
	"github.com/aminedk/ws-chat-server/session"
	"github.com/aminedk/ws-chat-server/websocket"
)

func main() {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}
	if err := config.Initialize(env); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize config")
	}
	cfg := config.Get()
	setupLogging(cfg.Log.Level)

	// Unique ID for this server instance; also used to give each instance
	// its own Kafka consumer group so broadcasts reach every instance.
	instanceID := uuid.New().String()
	log.Info().Str("instance_id", instanceID).Msg("Starting server instance")

	var redisClient *redis.Client
	if strings.ToLower(cfg.Session.Store) == "redis" || strings.ToLower(cfg.Bus.Type) == "redis" {
		var err error
		redisClient, err = services.NewRedisClient(&cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer services.CloseRedisClient(redisClient)
	}

	var store session.Store
	switch strings.ToLower(cfg.Session.Store) {
	case "redis":
		store = session.NewRedisStore(redisClient)
	case "memory":
		store = session.NewMemoryStore()
	}

	var messageBus bus.Bus
	log.Info().Str("type", cfg.Bus.Type).Msg("Initializing message bus")
	switch strings.ToLower(cfg.Bus.Type) {
	case "memory":
		messageBus = bus.NewMemoryBus()
	case "redis":
		messageBus = bus.NewRedisBus(redisClient)
	case "kafka":
		groupID := cfg.Bus.Kafka.GroupID
		if groupID == "" {
			groupID = "ws-chat-" + instanceID
		}
		var err error
		messageBus, err = bus.NewKafkaBus(cfg.Bus.Kafka.Brokers, groupID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Kafka bus")
		}
	}
	defer messageBus.Close()

	manager := websocket.NewManager(store, messageBus, cfg)
	handler := websocket.NewHandler(manager, &cfg.WebSocket)

	if cfg.Metrics.Enabled {
		metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path)
	}

	addr := ":" + strconv.Itoa(cfg.Server.Port)
	srv := server.New(addr, &cfg.Server, handler.HandleWebSocket, store)
	go srv.Start()
	log.Info().Str("addr", addr).Msg("WebSocket server started")

	metrics.AppHealthy.Set(1)
	metrics.AppReady.Set(1)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	metrics.AppReady.Set(0)

	// The surrounding deployment gives the process 10 seconds to go away;
	// the manager's own close budget leaves a margin inside it.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx, manager)
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	switch strings.ToLower(level) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
