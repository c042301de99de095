// Command storage-init provisions the stores the board services expect:
// Mongo indexes, the Azure users table and the events queue. Every step is
// idempotent and skipped when its connection setting is empty.
package main

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"prism-board/board-api/storage"
	"prism-board/logging"
)

const queueAlreadyExists = "QueueAlreadyExists"

type config struct {
	MongoURI    string        `env:"MONGO_URI"`
	MongoDB     string        `env:"MONGO_DB" envDefault:"prism_board"`
	StorageConn string        `env:"STORAGE_CONNECTION_STRING"`
	UsersTable  string        `env:"USERS_TABLE"`
	EventsQueue string        `env:"EVENTS_QUEUE"`
	Timeout     time.Duration `env:"INIT_TIMEOUT" envDefault:"2m"`

	Log logging.Config
}

type tableCreator interface {
	CreateTable(ctx context.Context, options *aztables.CreateTableOptions) (aztables.CreateTableResponse, error)
}

type queueCreator interface {
	Create(ctx context.Context, options *azqueue.CreateOptions) (azqueue.CreateQueueResponse, error)
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("load .env: %v", err)
	}
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("parse config: %v", err)
	}
	logger := logging.New("storage-init", cfg.Log)
	logger.Info("storage init starting")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	if cfg.MongoURI != "" {
		if err := initMongo(ctx, cfg); err != nil {
			logger.Fatalf("mongo indexes: %v", err)
		}
		logger.WithField("database", cfg.MongoDB).Info("mongo indexes ensured")
	}

	if cfg.StorageConn == "" {
		logger.Info("STORAGE_CONNECTION_STRING not set - skipping azure storage")
	} else {
		if cfg.UsersTable != "" {
			svc, err := aztables.NewServiceClientFromConnectionString(cfg.StorageConn, nil)
			if err != nil {
				logger.Fatalf("table client: %v", err)
			}
			if err := ensureTable(ctx, svc.NewClient(cfg.UsersTable)); err != nil {
				logger.Fatalf("create table %s: %v", cfg.UsersTable, err)
			}
			logger.WithField("table", cfg.UsersTable).Info("table ready")
		}
		if cfg.EventsQueue != "" {
			q, err := azqueue.NewQueueClientFromConnectionString(cfg.StorageConn, cfg.EventsQueue, nil)
			if err != nil {
				logger.Fatalf("queue client: %v", err)
			}
			if err := ensureQueue(ctx, q); err != nil {
				logger.Fatalf("create queue %s: %v", cfg.EventsQueue, err)
			}
			logger.WithField("queue", cfg.EventsQueue).Info("queue ready")
		}
	}

	logger.Info("storage init complete")
}

func initMongo(ctx context.Context, cfg config) error {
	client, err := storage.Connect(ctx, cfg.MongoURI)
	if err != nil {
		return err
	}
	defer func() { _ = client.Disconnect(context.Background()) }()
	return storage.EnsureIndexes(ctx, client.Database(cfg.MongoDB))
}

func ensureTable(ctx context.Context, t tableCreator) error {
	_, err := t.CreateTable(ctx, nil)
	return ignoreCode(err, string(aztables.TableAlreadyExists))
}

func ensureQueue(ctx context.Context, q queueCreator) error {
	_, err := q.Create(ctx, nil)
	return ignoreCode(err, queueAlreadyExists)
}

func ignoreCode(err error, code string) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.ErrorCode == code {
		return nil
	}
	return err
}
