package dispatchpool

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.flowcatalyst.tech/dispatch/internal/common/tsid"
)

var (
	ErrNotFound      = errors.New("dispatch pool not found")
	ErrDuplicateCode = errors.New("dispatch pool code already exists")
)

// mongoStore provides MongoDB access to dispatch pool data
type mongoStore struct {
	pools *mongo.Collection
}

// NewStore creates a dispatch pool store with instrumentation
func NewStore(db *mongo.Database) Store {
	return newInstrumentedStore(&mongoStore{
		pools: db.Collection("dispatch_pools"),
	})
}

func (s *mongoStore) FindByID(ctx context.Context, id string) (*DispatchPool, error) {
	var pool DispatchPool
	err := s.pools.FindOne(ctx, bson.M{"_id": id}).Decode(&pool)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &pool, nil
}

func (s *mongoStore) FindByCode(ctx context.Context, code string) (*DispatchPool, error) {
	var pool DispatchPool
	err := s.pools.FindOne(ctx, bson.M{"code": code}).Decode(&pool)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &pool, nil
}

func (s *mongoStore) FindAll(ctx context.Context) ([]*DispatchPool, error) {
	return s.find(ctx, bson.M{})
}

func (s *mongoStore) FindAllActive(ctx context.Context) ([]*DispatchPool, error) {
	return s.find(ctx, bson.M{"status": StatusActive})
}

func (s *mongoStore) find(ctx context.Context, filter bson.M) ([]*DispatchPool, error) {
	opts := options.Find().SetSort(bson.D{{Key: "code", Value: 1}})

	cursor, err := s.pools.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var pools []*DispatchPool
	if err := cursor.All(ctx, &pools); err != nil {
		return nil, err
	}
	return pools, nil
}

func (s *mongoStore) Insert(ctx context.Context, pool *DispatchPool) error {
	if pool.ID == "" {
		pool.ID = tsid.Generate()
	}
	now := time.Now()
	pool.CreatedAt = now
	pool.UpdatedAt = now

	if pool.Status == "" {
		pool.Status = StatusActive
	}

	_, err := s.pools.InsertOne(ctx, pool)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateCode
	}
	return err
}

func (s *mongoStore) Update(ctx context.Context, pool *DispatchPool) error {
	pool.UpdatedAt = time.Now()

	result, err := s.pools.ReplaceOne(ctx, bson.M{"_id": pool.ID}, pool)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *mongoStore) UpdateConfig(ctx context.Context, id string, concurrency, queueCapacity int, rateLimitPerMin *int) error {
	update := bson.M{
		"$set": bson.M{
			"concurrency":     concurrency,
			"queueCapacity":   queueCapacity,
			"rateLimitPerMin": rateLimitPerMin,
			"updatedAt":       time.Now(),
		},
	}

	result, err := s.pools.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *mongoStore) SetStatus(ctx context.Context, id string, status Status) error {
	update := bson.M{
		"$set": bson.M{
			"status":    status,
			"updatedAt": time.Now(),
		},
	}

	result, err := s.pools.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *mongoStore) Delete(ctx context.Context, id string) error {
	result, err := s.pools.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *mongoStore) Count(ctx context.Context) (int64, error) {
	return s.pools.CountDocuments(ctx, bson.M{})
}

func (s *mongoStore) CountActive(ctx context.Context) (int64, error) {
	return s.pools.CountDocuments(ctx, bson.M{"status": StatusActive})
}

func (s *mongoStore) ExistsByCode(ctx context.Context, code string) (bool, error) {
	count, err := s.pools.CountDocuments(ctx, bson.M{"code": code})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
