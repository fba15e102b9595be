package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

func (c *AppConfig) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.New("invalid server port")
	}

	switch strings.ToLower(c.Session.Store) {
	case "memory":
	case "redis":
		if c.Redis.Address == "" {
			return errors.New("redis address must be specified for the redis session store")
		}
	default:
		return fmt.Errorf("invalid session store: %s. Must be 'redis' or 'memory'", c.Session.Store)
	}

	if c.Session.TTL < 1 {
		return errors.New("session TTL must be at least 1 second")
	}

	switch strings.ToLower(c.Bus.Type) {
	case "memory":
	case "redis":
		if c.Redis.Address == "" {
			return errors.New("redis address must be specified for the redis bus")
		}
	case "kafka":
		if len(c.Bus.Kafka.Brokers) == 0 {
			return errors.New("kafka brokers must be specified for the kafka bus")
		}
	default:
		return fmt.Errorf("invalid bus type: %s. Must be 'memory', 'redis' or 'kafka'", c.Bus.Type)
	}

	if c.Bus.BroadcastGroup == "" {
		return errors.New("bus broadcast group must be configured")
	}

	if c.WebSocket.HeartbeatInterval < 1 {
		return errors.New("heartbeat interval must be at least 1 second")
	}

	if c.WebSocket.ShutdownTimeout < 1 {
		return errors.New("shutdown timeout must be at least 1 second")
	}

	if c.WebSocket.ShutdownTimeout >= 10 {
		return errors.New("shutdown timeout must leave a margin inside the 10 second deployment deadline")
	}

	return nil
}

func bindEnvVars() {
	// Server
	viper.BindEnv("server.port", "WSCHAT_PORT")

	// Logging
	viper.BindEnv("log.level", "WSCHAT_LOG_LEVEL")

	// Redis
	viper.BindEnv("redis.address", "WSCHAT_REDIS_ADDRESS")
	viper.BindEnv("redis.password", "WSCHAT_REDIS_PASSWORD")

	// Session
	viper.BindEnv("session.store", "WSCHAT_SESSION_STORE")
	viper.BindEnv("session.ttl", "WSCHAT_SESSION_TTL")

	// Bus
	viper.BindEnv("bus.type", "WSCHAT_BUS_TYPE")
	viper.BindEnv("bus.broadcastGroup", "WSCHAT_BUS_BROADCAST_GROUP")
	viper.BindEnv("bus.kafka.brokers", "WSCHAT_KAFKA_BROKERS")
	viper.BindEnv("bus.kafka.groupID", "WSCHAT_KAFKA_GROUPID")

	// WebSocket
	viper.BindEnv("websocket.heartbeatInterval", "WSCHAT_HEARTBEAT_INTERVAL")
	viper.BindEnv("websocket.writeTimeout", "WSCHAT_WRITE_TIMEOUT")
	viper.BindEnv("websocket.shutdownTimeout", "WSCHAT_SHUTDOWN_TIMEOUT")

	// Metrics
	viper.BindEnv("metrics.enabled", "WSCHAT_METRICS_ENABLED")
	viper.BindEnv("metrics.port", "WSCHAT_METRICS_PORT")
}
