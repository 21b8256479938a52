// Package config содержит логику чтения конфигурации кассы доверия.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса кассы.
type Config struct {
	RunAddress     string `env:"RUN_ADDRESS"`
	DatabaseURI    string `env:"DATABASE_URI"`
	AuthSecret     string `env:"AUTH_SECRET"`
	CurrencySymbol string `env:"CURRENCY_SYMBOL"`
	CurrencyFactor int64  `env:"CURRENCY_FACTOR"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Значения из окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envAuthSecret := cfg.AuthSecret
	envCurrencySymbol := cfg.CurrencySymbol
	envCurrencyFactor := cfg.CurrencyFactor

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret key for auth cookies")
	flag.StringVar(&cfg.CurrencySymbol, "c", "€", "currency symbol for display")
	flag.Int64Var(&cfg.CurrencyFactor, "f", 100, "minor units per major currency unit")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envCurrencySymbol != "" {
		cfg.CurrencySymbol = envCurrencySymbol
	}
	if envCurrencyFactor != 0 {
		cfg.CurrencyFactor = envCurrencyFactor
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.CurrencyFactor <= 0 {
		return nil, fmt.Errorf("currency factor must be positive, got %d", cfg.CurrencyFactor)
	}

	return cfg, nil
}
