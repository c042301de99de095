package storage

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"prism-board/board-api/domain"
)

// Tasks is the MongoDB task gateway.
type Tasks struct {
	client       *mongo.Client
	coll         *mongo.Collection
	breaker      *gobreaker.CircuitBreaker
	transactions bool
	logger       *log.Logger
}

func projectOID(projectID string) (primitive.ObjectID, bool) {
	oid, err := primitive.ObjectIDFromHex(projectID)
	return oid, err == nil
}

func taskFilter(projectID, taskID string) (bson.M, bool) {
	pid, ok := projectOID(projectID)
	if !ok {
		return nil, false
	}
	tid, err := primitive.ObjectIDFromHex(taskID)
	if err != nil {
		return nil, false
	}
	return bson.M{"_id": tid, "projectId": pid}, true
}

func boardFilter(pid primitive.ObjectID) bson.M {
	return bson.M{"projectId": pid, "backlog": bson.M{"$ne": true}}
}

func backlogFilter(pid primitive.ObjectID) bson.M {
	return bson.M{"projectId": pid, "backlog": true}
}

func columnCountFilter(pid primitive.ObjectID, columnKey string) bson.M {
	return bson.M{"projectId": pid, "columnKey": columnKey, "backlog": bson.M{"$ne": true}}
}

// reorderModels turns reorder items into one update per task. Items with a
// column key also pull the task out of the backlog.
func reorderModels(pid primitive.ObjectID, changes []domain.OrderChange, now time.Time) ([]mongo.WriteModel, error) {
	models := make([]mongo.WriteModel, 0, len(changes))
	for _, c := range changes {
		tid, err := primitive.ObjectIDFromHex(c.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid task id %q", c.ID)
		}
		set := bson.M{"order": c.Order, "updatedAt": now}
		if c.ColumnKey != "" {
			set["columnKey"] = c.ColumnKey
			set["backlog"] = false
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": tid, "projectId": pid}).
			SetUpdate(bson.M{"$set": set}))
	}
	return models, nil
}

func docsToTasks(docs []taskDoc) []domain.Task {
	out := make([]domain.Task, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDomain())
	}
	return out
}

func (r *Tasks) FindByID(ctx context.Context, projectID, taskID string) (*domain.Task, error) {
	filter, ok := taskFilter(projectID, taskID)
	if !ok {
		return nil, nil
	}
	doc, err := execute(r.breaker, func() (*taskDoc, error) {
		return findOne[taskDoc](ctx, r.coll, filter)
	})
	if err != nil || doc == nil {
		return nil, err
	}
	t := doc.toDomain()
	return &t, nil
}

func (r *Tasks) list(ctx context.Context, filter bson.M, sort bson.D) ([]domain.Task, error) {
	docs, err := execute(r.breaker, func() ([]taskDoc, error) {
		return findAll[taskDoc](ctx, r.coll, filter, options.Find().SetSort(sort))
	})
	if err != nil {
		return nil, err
	}
	return docsToTasks(docs), nil
}

func (r *Tasks) ListBoard(ctx context.Context, projectID string) ([]domain.Task, error) {
	pid, ok := projectOID(projectID)
	if !ok {
		return []domain.Task{}, nil
	}
	return r.list(ctx, boardFilter(pid), bson.D{{Key: "order", Value: 1}, {Key: "_id", Value: 1}})
}

func (r *Tasks) ListBacklog(ctx context.Context, projectID string) ([]domain.Task, error) {
	pid, ok := projectOID(projectID)
	if !ok {
		return []domain.Task{}, nil
	}
	return r.list(ctx, backlogFilter(pid), bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
}

func (r *Tasks) CountInColumn(ctx context.Context, projectID, columnKey string) (int, error) {
	pid, ok := projectOID(projectID)
	if !ok {
		return 0, nil
	}
	n, err := execute(r.breaker, func() (int64, error) {
		return r.coll.CountDocuments(ctx, columnCountFilter(pid, columnKey))
	})
	return int(n), err
}

func (r *Tasks) Create(ctx context.Context, t domain.Task) (domain.Task, error) {
	doc := taskToDoc(t)
	doc.ID = primitive.NewObjectID()
	_, err := execute(r.breaker, func() (*mongo.InsertOneResult, error) {
		return r.coll.InsertOne(ctx, doc)
	})
	if err != nil {
		return domain.Task{}, err
	}
	return doc.toDomain(), nil
}

func (r *Tasks) CreateMany(ctx context.Context, ts []domain.Task) ([]domain.Task, error) {
	if len(ts) == 0 {
		return []domain.Task{}, nil
	}
	docs := make([]interface{}, 0, len(ts))
	out := make([]domain.Task, 0, len(ts))
	for _, t := range ts {
		doc := taskToDoc(t)
		doc.ID = primitive.NewObjectID()
		docs = append(docs, doc)
		out = append(out, doc.toDomain())
	}
	_, err := execute(r.breaker, func() (*mongo.InsertManyResult, error) {
		return r.coll.InsertMany(ctx, docs)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Tasks) Save(ctx context.Context, t domain.Task) error {
	filter, ok := taskFilter(t.ProjectID, t.ID)
	if !ok {
		return fmt.Errorf("invalid task id %q", t.ID)
	}
	res, err := execute(r.breaker, func() (*mongo.UpdateResult, error) {
		return r.coll.ReplaceOne(ctx, filter, taskToDoc(t))
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// Reorder writes every change in one ordered bulk write, inside a
// transaction when enabled.
func (r *Tasks) Reorder(ctx context.Context, projectID string, changes []domain.OrderChange) error {
	pid, ok := projectOID(projectID)
	if !ok {
		return fmt.Errorf("invalid project id %q", projectID)
	}
	models, err := reorderModels(pid, changes, time.Now().UTC())
	if err != nil || len(models) == 0 {
		return err
	}
	write := func(ctx context.Context) (*mongo.BulkWriteResult, error) {
		return r.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true))
	}
	res, err := execute(r.breaker, func() (*mongo.BulkWriteResult, error) {
		if !r.transactions {
			return write(ctx)
		}
		sess, err := r.client.StartSession()
		if err != nil {
			return nil, err
		}
		defer sess.EndSession(ctx)
		out, err := sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
			return write(sc)
		})
		if err != nil {
			return nil, err
		}
		return out.(*mongo.BulkWriteResult), nil
	})
	if err != nil {
		return err
	}
	if int(res.MatchedCount) != len(models) {
		r.logger.WithFields(log.Fields{"project": projectID, "matched": res.MatchedCount, "changes": len(models)}).Warn("reorder matched fewer tasks than requested")
	}
	return nil
}

func (r *Tasks) Delete(ctx context.Context, projectID, taskID string) error {
	filter, ok := taskFilter(projectID, taskID)
	if !ok {
		return nil
	}
	_, err := execute(r.breaker, func() (*mongo.DeleteResult, error) {
		return r.coll.DeleteOne(ctx, filter)
	})
	return err
}

func (r *Tasks) DeleteByProject(ctx context.Context, projectID string) (int64, error) {
	pid, ok := projectOID(projectID)
	if !ok {
		return 0, nil
	}
	res, err := execute(r.breaker, func() (*mongo.DeleteResult, error) {
		return r.coll.DeleteMany(ctx, bson.M{"projectId": pid})
	})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
