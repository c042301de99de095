package storage

import (
	"context"
	"fmt"

	"github.com/sony/gobreaker"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"prism-board/board-api/domain"
)

// Projects is the MongoDB project gateway.
type Projects struct {
	coll    *mongo.Collection
	breaker *gobreaker.CircuitBreaker
}

func byIDFilter(id string) (bson.M, bool) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, false
	}
	return bson.M{"_id": oid}, true
}

func projectsForUserFilter(userID string) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"ownerId": userID},
		bson.M{"members": userID},
	}}
}

func (r *Projects) findOne(ctx context.Context, filter bson.M) (*domain.Project, error) {
	doc, err := execute(r.breaker, func() (*projectDoc, error) {
		return findOne[projectDoc](ctx, r.coll, filter)
	})
	if err != nil || doc == nil {
		return nil, err
	}
	p := doc.toDomain()
	return &p, nil
}

// FindByID treats malformed ids as missing.
func (r *Projects) FindByID(ctx context.Context, id string) (*domain.Project, error) {
	filter, ok := byIDFilter(id)
	if !ok {
		return nil, nil
	}
	return r.findOne(ctx, filter)
}

func (r *Projects) FindByJoinCode(ctx context.Context, code string) (*domain.Project, error) {
	return r.findOne(ctx, bson.M{"joinCode": code})
}

func (r *Projects) FindForUser(ctx context.Context, userID string) ([]domain.Project, error) {
	docs, err := execute(r.breaker, func() ([]projectDoc, error) {
		return findAll[projectDoc](ctx, r.coll, projectsForUserFilter(userID),
			options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Project, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDomain())
	}
	return out, nil
}

func (r *Projects) Create(ctx context.Context, p domain.Project) (domain.Project, error) {
	doc := projectToDoc(p)
	doc.ID = primitive.NewObjectID()
	_, err := execute(r.breaker, func() (*mongo.InsertOneResult, error) {
		return r.coll.InsertOne(ctx, doc)
	})
	if err != nil {
		return domain.Project{}, err
	}
	return doc.toDomain(), nil
}

func (r *Projects) Save(ctx context.Context, p domain.Project) error {
	filter, ok := byIDFilter(p.ID)
	if !ok {
		return fmt.Errorf("invalid project id %q", p.ID)
	}
	res, err := execute(r.breaker, func() (*mongo.UpdateResult, error) {
		return r.coll.ReplaceOne(ctx, filter, projectToDoc(p))
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

func (r *Projects) Delete(ctx context.Context, id string) error {
	filter, ok := byIDFilter(id)
	if !ok {
		return nil
	}
	_, err := execute(r.breaker, func() (*mongo.DeleteResult, error) {
		return r.coll.DeleteOne(ctx, filter)
	})
	return err
}
