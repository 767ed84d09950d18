package mongo

import (
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// IndexDefinition defines a MongoDB index
type IndexDefinition struct {
	Collection string
	Keys       bson.D
	Options    *options.IndexOptions
}

// IndexInitializer creates indexes on startup
type IndexInitializer struct {
	client *Client
}

// NewIndexInitializer creates a new index initializer
func NewIndexInitializer(client *Client) *IndexInitializer {
	return &IndexInitializer{client: client}
}

// Initialize creates all required indexes
func (i *IndexInitializer) Initialize(ctx context.Context) error {
	indexes := i.getIndexDefinitions()

	for _, idx := range indexes {
		if err := i.createIndex(ctx, idx); err != nil {
			slog.Warn("Failed to create index (may already exist)",
				"error", err,
				"collection", idx.Collection)
		}
	}

	slog.Info("Index initialization complete", "count", len(indexes))
	return nil
}

func (i *IndexInitializer) createIndex(ctx context.Context, idx IndexDefinition) error {
	collection := i.client.Collection(idx.Collection)

	indexModel := mongo.IndexModel{
		Keys:    idx.Keys,
		Options: idx.Options,
	}

	_, err := collection.Indexes().CreateOne(ctx, indexModel)
	return err
}

func (i *IndexInitializer) getIndexDefinitions() []IndexDefinition {
	return []IndexDefinition{
		// dispatch_jobs
		{
			Collection: "dispatch_jobs",
			Keys:       bson.D{{Key: "idempotencyKey", Value: 1}},
			Options:    options.Index().SetUnique(true).SetSparse(true),
		},
		{
			// Promote loop: PENDING jobs ordered by (scheduledFor, createdAt)
			Collection: "dispatch_jobs",
			Keys:       bson.D{{Key: "status", Value: 1}, {Key: "scheduledFor", Value: 1}, {Key: "createdAt", Value: 1}},
		},
		{
			// BLOCK_ON_ERROR gating: groups with ERROR jobs
			Collection: "dispatch_jobs",
			Keys:       bson.D{{Key: "messageGroup", Value: 1}, {Key: "status", Value: 1}},
			Options:    options.Index().SetSparse(true),
		},
		{
			// Stale recovery: QUEUED jobs by queuedAt
			Collection: "dispatch_jobs",
			Keys:       bson.D{{Key: "status", Value: 1}, {Key: "queuedAt", Value: 1}},
		},
		{
			Collection: "dispatch_jobs",
			Keys:       bson.D{{Key: "createdAt", Value: 1}},
			Options:    options.Index().SetExpireAfterSeconds(int32(30 * 24 * time.Hour / time.Second)),
		},

		// dispatch_pools
		{
			Collection: "dispatch_pools",
			Keys:       bson.D{{Key: "code", Value: 1}},
			Options:    options.Index().SetUnique(true),
		},
		{
			Collection: "dispatch_pools",
			Keys:       bson.D{{Key: "status", Value: 1}},
		},

		// service_accounts
		{
			Collection: "service_accounts",
			Keys:       bson.D{{Key: "code", Value: 1}},
			Options:    options.Index().SetUnique(true),
		},

		// leader_locks (TTL on expiresAt)
		{
			Collection: "leader_locks",
			Keys:       bson.D{{Key: "expiresAt", Value: 1}},
			Options:    options.Index().SetExpireAfterSeconds(0),
		},
	}
}
