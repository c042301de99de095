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
	"prism-board/board-api/storage/memory"
	"prism-board/logging"
	"prism-board/realtime"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New("board-api", cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		projects domain.ProjectStore
		tasks    domain.TaskStore
		ping     func(echo.Context) error
	)
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("using in-memory store; data is lost on restart")
		store := memory.New()
		projects, tasks = store.Projects(), store.Tasks()
	default:
		client, err := storage.Connect(ctx, cfg.MongoURI)
		if err != nil {
			logger.Fatalf("mongo: %v", err)
		}
		defer func() { _ = client.Disconnect(context.Background()) }()
		m := storage.NewMongo(client, cfg.MongoDB,
			storage.WithBreaker(storage.NewBreaker("mongo", cfg.BreakerFailures, cfg.BreakerTimeout, logger)),
			storage.WithTransactions(cfg.MongoTransactions),
			storage.WithLogger(logger),
		)
		if err := storage.EnsureIndexes(ctx, m.Database()); err != nil {
			logger.Fatalf("mongo indexes: %v", err)
		}
		projects, tasks = m.Projects(), m.Tasks()
		ping = func(c echo.Context) error { return m.Ping(c.Request().Context()) }
	}

	opts := []domain.Option{domain.WithLogger(logger)}
	var emitters realtime.Fanout

	if cfg.RedisConn != "" {
		rc := redis.NewClient(realtime.ParseRedisOptions(cfg.RedisConn))
		defer func() { _ = rc.Close() }()
		tasks = storage.NewCachedTasks(tasks, rc, cfg.BoardCacheTTL, logger)
		pub := realtime.NewRedisPublisher(rc, cfg.RealtimeChannel, logger)
		defer pub.Flush()
		emitters = append(emitters, pub)
		opts = append(opts, domain.WithImportDeduper(api.NewRedisDeduper(rc, cfg.ImportDedupeTTL)))
	} else {
		logger.Info("redis not configured; board cache, cross-instance events and import dedupe are off")
	}

	if cfg.StorageConn != "" && cfg.UsersTable != "" {
		users, err := storage.NewUserDirectory(cfg.StorageConn, cfg.UsersTable)
		if err != nil {
			logger.Fatalf("users table: %v", err)
		}
		opts = append(opts, domain.WithUsers(users))
	}
	if cfg.StorageConn != "" && cfg.EventsQueue != "" {
		sink, err := realtime.NewQueueSink(cfg.StorageConn, cfg.EventsQueue, logger)
		if err != nil {
			logger.Fatalf("events queue: %v", err)
		}
		defer sink.Flush()
		emitters = append(emitters, sink)
	}

	var hub *realtime.Hub
	if cfg.RealtimeEmbedded {
		hub = realtime.NewHub(logger, cfg.PeerBuffer)
		emitters = append(emitters, hub)
	}
	opts = append(opts, domain.WithEmitter(emitters))

	board := domain.NewOrchestrator(projects, tasks, opts...)
	auth := newAuth(cfg.Auth, logger)

	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = api.SonicSerializer{}
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentEncoding},
	}))
	e.Use(api.Telemetry(logger))

	e.GET("/healthz", api.Healthz(ping, logger))
	api.Register(e, board, auth, logger, api.RequestTimeout(cfg.RequestTimeout))
	if hub != nil {
		e.GET("/ws", echo.WrapHandler(realtime.NewWSHandler(hub, auth, board, logger)))
		e.GET("/stream", realtime.NewSSEHandler(hub, auth, board, logger))
	}

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
