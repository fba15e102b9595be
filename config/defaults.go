package config

import "github.com/spf13/viper"

func setDefaults() {
	// Server
	viper.SetDefault("server.port", 8000)
	viper.SetDefault("server.readTimeout", 15)
	viper.SetDefault("server.writeTimeout", 15)

	// Logging
	viper.SetDefault("log.level", "info")

	// Redis
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.poolSize", 100)
	viper.SetDefault("redis.poolTimeout", 5)

	// Session
	viper.SetDefault("session.store", "redis")
	viper.SetDefault("session.ttl", 300)

	// Bus
	viper.SetDefault("bus.type", "redis")
	viper.SetDefault("bus.broadcastGroup", "broadcast")
	viper.SetDefault("bus.kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("bus.kafka.groupID", "")

	// WebSocket
	viper.SetDefault("websocket.messageSizeLimit", 4096)
	viper.SetDefault("websocket.heartbeatInterval", 30)
	viper.SetDefault("websocket.writeTimeout", 10)
	viper.SetDefault("websocket.writeRetries", 3)
	viper.SetDefault("websocket.shutdownTimeout", 9)

	// Metrics
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)
	viper.SetDefault("metrics.path", "/metrics")
}
