package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	ToursCollection   = "tours"
	UsersCollection   = "users"
	ReviewsCollection = "reviews"
)

// Collection is the subset of *mongo.Collection the services use.
type Collection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	FindOneAndDelete(ctx context.Context, filter interface{}, opts ...*options.FindOneAndDeleteOptions) *mongo.SingleResult
	Aggregate(ctx context.Context, pipeline interface{}, opts ...*options.AggregateOptions) (*mongo.Cursor, error)
}

var _ Collection = (*mongo.Collection)(nil)

// DB groups the three collections of the application.
type DB struct {
	client  *mongo.Client
	Tours   *mongo.Collection
	Users   *mongo.Collection
	Reviews *mongo.Collection
}

// Connect dials MongoDB, pings it and returns the application collections.
func Connect(ctx context.Context, uri, database string) (*DB, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true, NilSliceAsEmpty: true})

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	slog.Info("DB connection successful", "database", database)

	db := client.Database(database)
	return &DB{
		client:  client,
		Tours:   db.Collection(ToursCollection),
		Users:   db.Collection(UsersCollection),
		Reviews: db.Collection(ReviewsCollection),
	}, nil
}

// EnsureIndexes creates the unique and geo indexes the application relies on.
func (d *DB) EnsureIndexes(ctx context.Context) error {
	specs := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{d.Tours, mongo.IndexModel{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)}},
		{d.Tours, mongo.IndexModel{Keys: bson.D{{Key: "price", Value: 1}, {Key: "ratingsAverage", Value: -1}}}},
		{d.Tours, mongo.IndexModel{Keys: bson.D{{Key: "slug", Value: 1}}}},
		{d.Tours, mongo.IndexModel{Keys: bson.D{{Key: "startLocation", Value: "2dsphere"}}}},
		{d.Users, mongo.IndexModel{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)}},
		{d.Users, mongo.IndexModel{Keys: bson.D{{Key: "passwordResetToken", Value: 1}}, Options: options.Index().SetSparse(true)}},
		{d.Reviews, mongo.IndexModel{Keys: bson.D{{Key: "tour", Value: 1}, {Key: "user", Value: 1}}, Options: options.Index().SetUnique(true)}},
	}
	for _, s := range specs {
		if _, err := s.coll.Indexes().CreateOne(ctx, s.model); err != nil {
			return fmt.Errorf("create index on %s: %w", s.coll.Name(), err)
		}
	}
	return nil
}

func (d *DB) Disconnect(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}

func (d *DB) Ping(ctx context.Context) error {
	return d.client.Ping(ctx, nil)
}
