package storage

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	projectsCollection = "projects"
	tasksCollection    = "tasks"
)

// Connect dials MongoDB and verifies the connection.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

// EnsureIndexes creates the indexes the gateways rely on. It is idempotent.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	if _, err := db.Collection(projectsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "joinCode", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "ownerId", Value: 1}}},
		{Keys: bson.D{{Key: "members", Value: 1}}},
	}); err != nil {
		return err
	}
	_, err := db.Collection(tasksCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "projectId", Value: 1}, {Key: "columnKey", Value: 1}, {Key: "order", Value: 1}}},
		{Keys: bson.D{{Key: "projectId", Value: 1}, {Key: "backlog", Value: 1}, {Key: "createdAt", Value: -1}}},
	})
	return err
}

// Mongo owns the collections backing the project and task gateways.
type Mongo struct {
	client       *mongo.Client
	db           *mongo.Database
	breaker      *gobreaker.CircuitBreaker
	transactions bool
	logger       *log.Logger
}

type MongoOption func(*Mongo)

// WithBreaker routes every gateway call through b.
func WithBreaker(b *gobreaker.CircuitBreaker) MongoOption { return func(m *Mongo) { m.breaker = b } }

// WithTransactions runs batch reorders inside a multi-document transaction.
// It needs a replica set.
func WithTransactions(on bool) MongoOption { return func(m *Mongo) { m.transactions = on } }

func WithLogger(l *log.Logger) MongoOption { return func(m *Mongo) { m.logger = l } }

func NewMongo(client *mongo.Client, database string, opts ...MongoOption) *Mongo {
	m := &Mongo{client: client, db: client.Database(database), logger: log.StandardLogger()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Mongo) Database() *mongo.Database { return m.db }

func (m *Mongo) Projects() *Projects {
	return &Projects{coll: m.db.Collection(projectsCollection), breaker: m.breaker}
}

func (m *Mongo) Tasks() *Tasks {
	return &Tasks{
		client:       m.client,
		coll:         m.db.Collection(tasksCollection),
		breaker:      m.breaker,
		transactions: m.transactions,
		logger:       m.logger,
	}
}

// Ping is used by the health endpoint.
func (m *Mongo) Ping(ctx context.Context) error {
	_, err := execute(m.breaker, func() (struct{}, error) {
		return struct{}{}, m.client.Ping(ctx, nil)
	})
	return err
}

func findOne[D any](ctx context.Context, coll *mongo.Collection, filter any, opts ...*options.FindOneOptions) (*D, error) {
	var doc D
	err := coll.FindOne(ctx, filter, opts...).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func findAll[D any](ctx context.Context, coll *mongo.Collection, filter any, opts ...*options.FindOptions) ([]D, error) {
	cur, err := coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	var docs []D
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}
