// Package config loads service configuration from the environment.
package config

import (
	"os"

	log "github.com/go-pkgz/lgr"
	"github.com/joho/godotenv"
)

// Config holds service settings. Values come from the environment, with
// an optional .env file loaded first.
type Config struct {
	ListenAddr  string // NEWSBRIEF_ADDR, default ":8080"
	DBDriver    string // NEWSBRIEF_DB_DRIVER: "sqlite" or "postgres"
	SQLitePath  string // NEWSBRIEF_SQLITE_PATH
	PostgresDSN string // NEWSBRIEF_POSTGRES_DSN
}

// Load reads .env if present and builds the config from the environment.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Printf("[INFO] loaded .env file")
	}
	return &Config{
		ListenAddr:  getenv("NEWSBRIEF_ADDR", ":8080"),
		DBDriver:    getenv("NEWSBRIEF_DB_DRIVER", "sqlite"),
		SQLitePath:  getenv("NEWSBRIEF_SQLITE_PATH", "newsbrief.db"),
		PostgresDSN: os.Getenv("NEWSBRIEF_POSTGRES_DSN"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
