package main

import (
	"errors"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"prism-board/board-api/api"
	"prism-board/logging"
)

type config struct {
	Port string `env:"PORT" envDefault:"8080"`

	StoreDriver       string `env:"STORE_DRIVER" envDefault:"mongo"`
	MongoURI          string `env:"MONGO_URI"`
	MongoDB           string `env:"MONGO_DB" envDefault:"prism_board"`
	MongoTransactions bool   `env:"MONGO_TRANSACTIONS"`

	BreakerFailures uint32        `env:"STORE_BREAKER_FAILURES" envDefault:"5"`
	BreakerTimeout  time.Duration `env:"STORE_BREAKER_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`

	RedisConn       string        `env:"REDIS_CONNECTION_STRING"`
	RealtimeChannel string        `env:"REALTIME_CHANNEL" envDefault:"board-events"`
	BoardCacheTTL   time.Duration `env:"BOARD_CACHE_TTL" envDefault:"30s"`
	ImportDedupeTTL time.Duration `env:"IMPORT_DEDUPE_TTL" envDefault:"24h"`

	StorageConn string `env:"STORAGE_CONNECTION_STRING"`
	UsersTable  string `env:"USERS_TABLE"`
	EventsQueue string `env:"EVENTS_QUEUE"`

	RealtimeEmbedded bool `env:"REALTIME_EMBEDDED"`
	PeerBuffer       int  `env:"PEER_BUFFER" envDefault:"32"`

	Auth api.AuthConfig
	Log  logging.Config
}

// loadConfig reads .env when present and then the process environment.
func loadConfig() (config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return config{}, err
	}
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return config{}, err
	}
	switch cfg.StoreDriver {
	case "mongo":
		if cfg.MongoURI == "" {
			return config{}, errors.New("MONGO_URI is required with STORE_DRIVER=mongo")
		}
	case "memory":
	default:
		return config{}, errors.New("STORE_DRIVER must be mongo or memory")
	}
	if !cfg.Auth.Symmetric() && (cfg.Auth.Domain == "" || cfg.Auth.Audience == "") {
		return config{}, errors.New("missing Auth0 config")
	}
	return cfg, nil
}
