package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type RateConfig struct {
	// Limit is the max inbound messages per connection inside Window; zero
	// disables the guard.
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

type MediaConfig struct {
	// MaxRestarts bounds the backoff-restart loop after a worker crash.
	MaxRestarts     uint64        `mapstructure:"max_restarts"`
	RestartInterval time.Duration `mapstructure:"restart_interval"`
}

type Config struct {
	Mode          string        `mapstructure:"mode"`
	Port          int           `mapstructure:"port"`
	ReadLimit     int64         `mapstructure:"read_limit"`
	PingPeriod    time.Duration `mapstructure:"ping_period"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
	Secret        string        `mapstructure:"secret"`
	Rate          RateConfig    `mapstructure:"rate"`
	Redis         RedisConfig   `mapstructure:"redis"`
	Media         MediaConfig   `mapstructure:"media"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "30s")
	v.SetDefault("shutdown_grace", "10s")
	v.SetDefault("rate.limit", 120)
	v.SetDefault("rate.window", "10s")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("media.max_restarts", 5)
	v.SetDefault("media.restart_interval", "500ms")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d\n", cfg.Mode, cfg.Port)
	return &cfg, nil
}
