// Package config содержит логику чтения конфигурации сервиса brewclub.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config содержит параметры конфигурации сервиса brewclub.
type Config struct {
	RunAddress      string        `env:"RUN_ADDRESS"`
	DatabaseURI     string        `env:"DATABASE_URI"`
	JWTSecret       string        `env:"JWT_SECRET"`
	RabbitMQURL     string        `env:"RABBITMQ_URL"`
	RabbitExchange  string        `env:"RABBITMQ_EXCHANGE" envDefault:"brewclub.orders"`
	SeedFile        string        `env:"SEED_FILE"`
	ExpiryTimeout   time.Duration `env:"ORDER_EXPIRY_TIMEOUT" envDefault:"5m"`
	ExpiryInterval  time.Duration `env:"ORDER_EXPIRY_INTERVAL" envDefault:"1m"`
	ReportRetention int           `env:"REPORT_RETENTION_DAYS" envDefault:"90"`
	Timezone        string        `env:"TIMEZONE" envDefault:"UTC"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
}

// Parse считывает конфигурацию из .env, флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envJWTSecret := cfg.JWTSecret
	envRabbitMQURL := cfg.RabbitMQURL
	envSeedFile := cfg.SeedFile

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI, in-memory store when empty")
	flag.StringVar(&cfg.JWTSecret, "s", "", "JWT signing secret")
	flag.StringVar(&cfg.RabbitMQURL, "q", "", "RabbitMQ URL, order events are disabled when empty")
	flag.StringVar(&cfg.SeedFile, "f", "", "YAML seed file with partners, products and users")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envJWTSecret != "" {
		cfg.JWTSecret = envJWTSecret
	}
	if envRabbitMQURL != "" {
		cfg.RabbitMQURL = envRabbitMQURL
	}
	if envSeedFile != "" {
		cfg.SeedFile = envSeedFile
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if _, err := cfg.Location(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Location возвращает часовой пояс, в котором считаются календарные дни.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
