package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Socket  SocketConfig  `mapstructure:"socket"`
	Backend BackendConfig `mapstructure:"backend"`
	Storage StorageConfig `mapstructure:"storage"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

type SocketConfig struct {
	URL               string        `mapstructure:"url"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
}

type BackendConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

type StorageConfig struct {
	// Backend is "file" for the on-device cache or "redis" for a
	// shared cache.
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func Load() (*Config, error) {
	viper.SetDefault("socket.url", "ws://localhost:8080/socket")
	viper.SetDefault("socket.reconnect_attempts", 5)
	viper.SetDefault("socket.reconnect_delay", 3*time.Second)
	viper.SetDefault("socket.handshake_timeout", 10*time.Second)
	viper.SetDefault("backend.base_url", "http://localhost:8080")
	viper.SetDefault("storage.backend", "file")
	viper.SetDefault("storage.path", "bidsession-cache.json")
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	viper.BindEnv("socket.url", "SOCKET_URL")
	viper.BindEnv("socket.reconnect_attempts", "SOCKET_RECONNECT_ATTEMPTS")
	viper.BindEnv("socket.reconnect_delay", "SOCKET_RECONNECT_DELAY")
	viper.BindEnv("backend.base_url", "BACKEND_BASE_URL")
	viper.BindEnv("storage.backend", "STORAGE_BACKEND")
	viper.BindEnv("storage.path", "STORAGE_PATH")
	viper.BindEnv("redis.address", "REDIS_ADDRESS")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// No config file; defaults and environment variables apply.
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
