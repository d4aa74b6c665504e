package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	mopt "go.mongodb.org/mongo-driver/mongo/options"
)

// store is the round-trip layer behind a document connection.
type store interface {
	aggregate(ctx context.Context, collection string, pipeline mongo.Pipeline) (*mongo.Cursor, error)
	insertMany(ctx context.Context, collection string, documentList []any) ([]any, error)
	updateMany(ctx context.Context, collection string, filter, update bson.D) (int64, error)
	deleteMany(ctx context.Context, collection string, filter bson.D) (int64, error)
	createCollection(ctx context.Context, collection string, validator bson.D) error
	dropCollection(ctx context.Context, collection string) error
	collectionExists(ctx context.Context, collection string) (bool, error)
	ping(ctx context.Context) error
	close(ctx context.Context) error
}

//region mongo

// mongoStore runs operations on a mongo-driver client bound to one database.
type mongoStore struct {
	client   *mongo.Client
	database string
}

func openMongo(ctx context.Context, uri, database string, timeout time.Duration) (*mongoStore, error) {
	if database == "" {
		return nil, errors.New("database name is empty")
	}
	opts := mopt.Client().ApplyURI(uri)
	opts.SetConnectTimeout(timeout).SetServerSelectionTimeout(timeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &mongoStore{client: client, database: database}, nil
}

func (s *mongoStore) db() *mongo.Database {
	return s.client.Database(s.database)
}

func (s *mongoStore) aggregate(ctx context.Context, collection string, pipeline mongo.Pipeline) (*mongo.Cursor, error) {
	cursor, err := s.db().Collection(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to run aggregate: %w", err)
	}
	return cursor, nil
}

func (s *mongoStore) insertMany(ctx context.Context, collection string, documentList []any) ([]any, error) {
	result, err := s.db().Collection(collection).InsertMany(ctx, documentList)
	if err != nil {
		return nil, fmt.Errorf("failed to insert documents: %w", err)
	}
	return result.InsertedIDs, nil
}

func (s *mongoStore) updateMany(ctx context.Context, collection string, filter, update bson.D) (int64, error) {
	result, err := s.db().Collection(collection).UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to update documents: %w", err)
	}
	return result.MatchedCount, nil
}

func (s *mongoStore) deleteMany(ctx context.Context, collection string, filter bson.D) (int64, error) {
	result, err := s.db().Collection(collection).DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to delete documents: %w", err)
	}
	return result.DeletedCount, nil
}

func (s *mongoStore) createCollection(ctx context.Context, collection string, validator bson.D) error {
	opts := mopt.CreateCollection()
	if len(validator) > 0 {
		opts.SetValidator(validator)
	}
	return s.db().CreateCollection(ctx, collection, opts)
}

func (s *mongoStore) dropCollection(ctx context.Context, collection string) error {
	return s.db().Collection(collection).Drop(ctx)
}

func (s *mongoStore) collectionExists(ctx context.Context, collection string) (bool, error) {
	nameList, err := s.db().ListCollectionNames(ctx, bson.D{{Key: "name", Value: collection}})
	if err != nil {
		return false, err
	}
	return len(nameList) > 0, nil
}

func (s *mongoStore) ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *mongoStore) close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

//endregion
