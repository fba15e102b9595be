package config

import (
	"fmt"
	"sync"

	"github.com/spf13/viper"
)

type AppConfig struct {
	Server    ServerConfig
	Log       LogConfig
	Redis     RedisConfig
	Session   SessionConfig
	Bus       BusConfig
	WebSocket WebSocketConfig
	Metrics   MetricsConfig
}

type ServerConfig struct {
	Port         int
	ReadTimeout  int // Seconds
	WriteTimeout int // Seconds
}

type LogConfig struct {
	Level string
}

type RedisConfig struct {
	Address     string
	Password    string
	DB          int
	PoolSize    int
	PoolTimeout int // Seconds
}

type SessionConfig struct {
	Store string // "redis" or "memory"
	TTL   int    // Seconds
}

type BusConfig struct {
	Type           string // "memory", "redis" or "kafka"
	BroadcastGroup string
	Kafka          KafkaConfig
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
}

type WebSocketConfig struct {
	MessageSizeLimit  int
	HeartbeatInterval int // Seconds
	WriteTimeout      int // Seconds
	WriteRetries      int
	ShutdownTimeout   int // Seconds
}

type MetricsConfig struct {
	Enabled bool
	Port    int
	Path    string
}

var (
	instance *AppConfig
	once     sync.Once
)

func Initialize(env string) error {
	var initErr error
	once.Do(func() {
		viper.SetConfigName(fmt.Sprintf("config.%s", env))
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")

		viper.AutomaticEnv()
		viper.SetEnvPrefix("WSCHAT")

		setDefaults()
		bindEnvVars()

		// A missing config file is fine; defaults and env vars cover everything.
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				initErr = fmt.Errorf("config file error: %w", err)
				return
			}
		}

		if err := viper.Unmarshal(&instance); err != nil {
			initErr = fmt.Errorf("config unmarshal error: %w", err)
			return
		}

		if err := instance.Validate(); err != nil {
			initErr = fmt.Errorf("config validation failed: %w", err)
			return
		}
	})
	return initErr
}

func Get() *AppConfig {
	return instance
}
