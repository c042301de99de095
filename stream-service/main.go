package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-board/board-api/api"
	"prism-board/board-api/domain"
	"prism-board/board-api/storage"
	"prism-board/logging"
	"prism-board/realtime"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New("stream-service", cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rc := redis.NewClient(realtime.ParseRedisOptions(cfg.RedisConn))
	defer func() { _ = rc.Close() }()

	var guard realtime.RoomGuard
	if cfg.MongoURI != "" {
		client, err := storage.Connect(ctx, cfg.MongoURI)
		if err != nil {
			logger.Fatalf("mongo: %v", err)
		}
		defer func() { _ = client.Disconnect(context.Background()) }()
		guard = domain.NewRoomGuard(storage.NewMongo(client, cfg.MongoDB, storage.WithLogger(logger)).Projects(), logger)
	} else {
		logger.Warn("MONGO_URI not set; project rooms are open to any authenticated user")
	}

	auth := newAuth(cfg.Auth, logger)
	hub := realtime.NewHub(logger, cfg.PeerBuffer)
	go realtime.Subscribe(ctx, logger, rc, cfg.RealtimeChannel, hub.Deliver)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	e.GET("/healthz", api.Healthz(func(c echo.Context) error {
		return rc.Ping(c.Request().Context()).Err()
	}, logger))
	e.GET("/ws", echo.WrapHandler(realtime.NewWSHandler(hub, auth, guard, logger)))
	e.GET("/stream", realtime.NewSSEHandler(hub, auth, guard, logger))

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http: %v", err)
		}
	}()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
}

func newAuth(cfg api.AuthConfig, logger *log.Logger) *api.Auth {
	var jwks *keyfunc.JWKS
	if !cfg.Symmetric() {
		var err error
		jwks, err = keyfunc.Get(cfg.JWKSURL(), keyfunc.Options{})
		if err != nil {
			logger.Fatalf("jwks: %v", err)
		}
	}
	auth, err := api.NewAuth(jwks, cfg)
	if err != nil {
		logger.Fatalf("auth: %v", err)
	}
	return auth
}
