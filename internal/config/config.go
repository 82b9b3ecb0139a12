// Package config содержит логику чтения конфигурации сервиса подбора доноров.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/mmeshcher/pulsebank/internal/chat"
)

const (
	defaultRunAddress    = "localhost:8080"
	defaultStatsInterval = 30 * time.Second
)

// Config содержит параметры конфигурации сервиса подбора доноров.
type Config struct {
	RunAddress    string        `env:"RUN_ADDRESS"`
	DatabaseURI   string        `env:"DATABASE_URI"`
	DonorsFile    string        `env:"DONORS_FILE"`
	ChatAPIKey    string        `env:"CHAT_API_KEY"`
	ChatEndpoint  string        `env:"CHAT_ENDPOINT"`
	StatsInterval time.Duration `env:"STATS_INTERVAL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envCfg := *cfg

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI; in-memory directory is used when empty")
	flag.StringVar(&cfg.DonorsFile, "f", "", "YAML file with donors for the in-memory directory")
	flag.StringVar(&cfg.ChatAPIKey, "k", "", "API key of the chat model")
	flag.StringVar(&cfg.ChatEndpoint, "e", chat.DefaultEndpoint, "chat model endpoint")
	flag.DurationVar(&cfg.StatsInterval, "s", defaultStatsInterval, "active donors metric refresh interval")

	flag.Parse()

	if envCfg.RunAddress != "" {
		cfg.RunAddress = envCfg.RunAddress
	}
	if envCfg.DatabaseURI != "" {
		cfg.DatabaseURI = envCfg.DatabaseURI
	}
	if envCfg.DonorsFile != "" {
		cfg.DonorsFile = envCfg.DonorsFile
	}
	if envCfg.ChatAPIKey != "" {
		cfg.ChatAPIKey = envCfg.ChatAPIKey
	}
	if envCfg.ChatEndpoint != "" {
		cfg.ChatEndpoint = envCfg.ChatEndpoint
	}
	if envCfg.StatsInterval != 0 {
		cfg.StatsInterval = envCfg.StatsInterval
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}

	return cfg, nil
}
