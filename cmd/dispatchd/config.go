package main

import (
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type config struct {
	Addr     string `env:"DISPATCH_ADDR" envDefault:":8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Store selection: Postgres when DATABASE_URL is set, Redis when
	// REDIS_ADDR is set, in-memory otherwise.
	DatabaseURL   string `env:"DATABASE_URL"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	MaxRetries     int           `env:"DISPATCH_MAX_RETRIES" envDefault:"3"`
	RequestTimeout time.Duration `env:"DISPATCH_REQUEST_TIMEOUT" envDefault:"15s"`
	Concurrency    int           `env:"DISPATCH_CONCURRENCY" envDefault:"10"`
	PollInterval   time.Duration `env:"DISPATCH_POLL_INTERVAL" envDefault:"1s"`
	BatchSize      int           `env:"DISPATCH_BATCH_SIZE" envDefault:"50"`
	Retention      time.Duration `env:"DISPATCH_RETENTION" envDefault:"0"`

	ShutdownTimeout time.Duration `env:"DISPATCH_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

func loadConfig() (*config, error) {
	// A .env file is optional; real env vars win either way.
	_ = godotenv.Load()

	cfg, err := env.ParseAs[config]()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}
