package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		URL string `yaml:"url"`
	} `yaml:"server"`
	Reconnect struct {
		InitialDelay string `yaml:"initial_delay"`
		MaxDelay     string `yaml:"max_delay"`
		MaxAttempts  int    `yaml:"max_attempts"`
	} `yaml:"reconnect"`
	Game struct {
		FeedbackDelay      string `yaml:"feedback_delay"`
		LeaderboardDismiss string `yaml:"leaderboard_dismiss"`
		LeaderboardTopN    int    `yaml:"leaderboard_top_n"`
	} `yaml:"game"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Duration parses a duration string or returns the fallback if empty or invalid.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
