package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Mongo struct {
		URI      string `yaml:"uri"`
		Database string `yaml:"database"`
	} `yaml:"mongo"`
	QuestionSets struct {
		// Source selects the loader: "postgres", "mongo" or "static".
		Source string `yaml:"source"`
		TTL    string `yaml:"ttl"`
	} `yaml:"questionSets"`
	Session struct {
		LeaderboardSize int    `yaml:"leaderboardSize"`
		ExpiryInterval  string `yaml:"expiryInterval"`
		StoreRetries    uint64 `yaml:"storeRetries"`
	} `yaml:"session"`
	Auth struct {
		JWTSecret string `yaml:"jwtSecret"`
	} `yaml:"auth"`
	WebSocket struct {
		PongWait  string `yaml:"pongWait"`
		WriteWait string `yaml:"writeWait"`
	} `yaml:"websocket"`
}

// Load reads YAML config from path. JWT_SECRET overrides auth.jwtSecret.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	return cfg, nil
}

// QuestionSetSource resolves which loader backs the question-set repository.
func (c Config) QuestionSetSource() string {
	if c.QuestionSets.Source != "" {
		return c.QuestionSets.Source
	}
	switch {
	case c.Postgres.URL != "":
		return "postgres"
	case c.Mongo.URI != "":
		return "mongo"
	default:
		return "static"
	}
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
