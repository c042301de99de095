package main

import (
	"errors"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"prism-board/board-api/api"
	"prism-board/logging"
)

type config struct {
	Port            string `env:"STREAM_SERVICE_PORT" envDefault:"9000"`
	RedisConn       string `env:"REDIS_CONNECTION_STRING,required"`
	RealtimeChannel string `env:"REALTIME_CHANNEL" envDefault:"board-events"`
	PeerBuffer      int    `env:"PEER_BUFFER" envDefault:"32"`

	// Without MONGO_URI project joins are not checked against membership.
	MongoURI string `env:"MONGO_URI"`
	MongoDB  string `env:"MONGO_DB" envDefault:"prism_board"`

	Auth api.AuthConfig
	Log  logging.Config
}

func loadConfig() (config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return config{}, err
	}
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return config{}, err
	}
	if !cfg.Auth.Symmetric() && (cfg.Auth.Domain == "" || cfg.Auth.Audience == "") {
		return config{}, errors.New("missing Auth0 config")
	}
	return cfg, nil
}
