// Package config loads server configuration from an optional YAML file with
// environment variables layered on top.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds every value the core honors.
type Config struct {
	Neo4j struct {
		URI      string `yaml:"uri"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Database string `yaml:"database"`
	} `yaml:"neo4j"`

	HTTP struct {
		Port string `yaml:"port"`
	} `yaml:"http"`

	Broker struct {
		WaitTimeoutMs   int64 `yaml:"waitTimeoutMs"`
		HistoryCapacity int   `yaml:"historyCapacity"`
	} `yaml:"broker"`

	Events struct {
		MailboxSize int `yaml:"mailboxSize"`
	} `yaml:"events"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	var cfg Config
	cfg.Neo4j.URI = "bolt://localhost:7687"
	cfg.Neo4j.Username = "neo4j"
	cfg.Neo4j.Password = "password"
	cfg.Neo4j.Database = "neo4j"
	cfg.HTTP.Port = "8080"
	cfg.Broker.WaitTimeoutMs = 300000
	cfg.Broker.HistoryCapacity = 1000
	cfg.Events.MailboxSize = 256
	return cfg
}

// Load reads path (when non-empty and present) and applies environment
// overrides. A missing file is not an error; an unreadable one is.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, fmt.Errorf("parsing config %s: %w", path, err)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Neo4j.URI, "NEO4J_URI")
	setString(&cfg.Neo4j.Username, "NEO4J_USER")
	setString(&cfg.Neo4j.Password, "NEO4J_PASSWORD")
	setString(&cfg.Neo4j.Database, "NEO4J_DATABASE")
	setString(&cfg.HTTP.Port, "PORT")
	setInt64(&cfg.Broker.WaitTimeoutMs, "BROKER_WAIT_TIMEOUT_MS")
	setInt(&cfg.Broker.HistoryCapacity, "BROKER_HISTORY_CAPACITY")
	setInt(&cfg.Events.MailboxSize, "EVENT_MAILBOX_SIZE")
}

func setString(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func setInt(dst *int, key string) {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			*dst = parsed
		}
	}
}

func setInt64(dst *int64, key string) {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			*dst = parsed
		}
	}
}
