package dispatchjob

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
	ErrNotFound       = errors.New("dispatch job not found")
	ErrDuplicateJob   = errors.New("duplicate dispatch job")
	ErrStatusConflict = errors.New("dispatch job status conflict")
)

// mongoStore provides MongoDB access to dispatch job data
type mongoStore struct {
	jobs *mongo.Collection
}

// NewStore creates a dispatch job store with instrumentation
func NewStore(db *mongo.Database) Store {
	return newInstrumentedStore(&mongoStore{
		jobs: db.Collection("dispatch_jobs"),
	})
}

func (s *mongoStore) FindByID(ctx context.Context, id string) (*DispatchJob, error) {
	var job DispatchJob
	err := s.jobs.FindOne(ctx, bson.M{"_id": id}).Decode(&job)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

func (s *mongoStore) FindByIdempotencyKey(ctx context.Context, key string) (*DispatchJob, error) {
	var job DispatchJob
	err := s.jobs.FindOne(ctx, bson.M{"idempotencyKey": key}).Decode(&job)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

func (s *mongoStore) FindReadyPending(ctx context.Context, limit int64) ([]*DispatchJob, error) {
	filter := bson.M{
		"status": DispatchStatusPending,
		"$or": []bson.M{
			{"scheduledFor": bson.M{"$exists": false}},
			{"scheduledFor": bson.M{"$lte": time.Now()}},
		},
	}

	opts := options.Find().
		SetLimit(limit).
		SetSort(bson.D{{Key: "scheduledFor", Value: 1}, {Key: "createdAt", Value: 1}})

	cursor, err := s.jobs.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var jobs []*DispatchJob
	if err := cursor.All(ctx, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (s *mongoStore) FindStaleQueued(ctx context.Context, threshold time.Duration) ([]*DispatchJob, error) {
	staleTime := time.Now().Add(-threshold)

	filter := bson.M{
		"status":    DispatchStatusQueued,
		"updatedAt": bson.M{"$lt": staleTime},
	}

	cursor, err := s.jobs.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var jobs []*DispatchJob
	if err := cursor.All(ctx, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (s *mongoStore) Insert(ctx context.Context, job *DispatchJob) error {
	if job.ID == "" {
		job.ID = tsid.Generate()
	}
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now

	if job.Status == "" {
		job.Status = DispatchStatusPending
	}

	_, err := s.jobs.InsertOne(ctx, job)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateJob
	}
	return err
}

func (s *mongoStore) InsertMany(ctx context.Context, jobs []*DispatchJob) error {
	now := time.Now()
	docs := make([]interface{}, len(jobs))
	for i, job := range jobs {
		if job.ID == "" {
			job.ID = tsid.Generate()
		}
		job.CreatedAt = now
		job.UpdatedAt = now
		if job.Status == "" {
			job.Status = DispatchStatusPending
		}
		docs[i] = job
	}

	_, err := s.jobs.InsertMany(ctx, docs)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateJob
	}
	return err
}

// UpdateStatusFrom performs the transition as a filtered update so two
// instances racing for the same job cannot both win.
func (s *mongoStore) UpdateStatusFrom(ctx context.Context, id string, from, to DispatchStatus) error {
	update := bson.M{
		"$set": bson.M{
			"status":    to,
			"updatedAt": time.Now(),
		},
	}

	result, err := s.jobs.UpdateOne(ctx, bson.M{"_id": id, "status": from}, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		// Distinguish a missing job from a lost race
		count, err := s.jobs.CountDocuments(ctx, bson.M{"_id": id})
		if err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrStatusConflict
	}
	return nil
}

func (s *mongoStore) MarkQueued(ctx context.Context, id string) error {
	now := time.Now()
	update := bson.M{
		"$set": bson.M{
			"status":    DispatchStatusQueued,
			"queuedAt":  now,
			"updatedAt": now,
		},
	}

	result, err := s.jobs.UpdateOne(ctx, bson.M{"_id": id, "status": DispatchStatusPending}, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		count, err := s.jobs.CountDocuments(ctx, bson.M{"_id": id})
		if err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrStatusConflict
	}
	return nil
}

// terminalStatuses are the statuses a job never leaves.
var terminalStatuses = []DispatchStatus{
	DispatchStatusCompleted,
	DispatchStatusError,
	DispatchStatusCancelled,
}

// nonTerminalFilter matches the job by id only while it is still in a
// non-terminal status, so a racing completion, error or retry update can
// never resurrect a finished job.
func nonTerminalFilter(id string) bson.M {
	return bson.M{
		"_id":    id,
		"status": bson.M{"$nin": terminalStatuses},
	}
}

func (s *mongoStore) MarkCompleted(ctx context.Context, id string, durationMillis int64) error {
	now := time.Now()
	update := bson.M{
		"$set": bson.M{
			"status":         DispatchStatusCompleted,
			"completedAt":    now,
			"durationMillis": durationMillis,
			"updatedAt":      now,
		},
	}

	result, err := s.jobs.UpdateOne(ctx, nonTerminalFilter(id), update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		count, err := s.jobs.CountDocuments(ctx, bson.M{"_id": id})
		if err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrStatusConflict
	}
	return nil
}

func (s *mongoStore) MarkError(ctx context.Context, id string, errorMsg string) error {
	now := time.Now()
	update := bson.M{
		"$set": bson.M{
			"status":    DispatchStatusError,
			"lastError": errorMsg,
			"updatedAt": now,
		},
	}

	result, err := s.jobs.UpdateOne(ctx, nonTerminalFilter(id), update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		count, err := s.jobs.CountDocuments(ctx, bson.M{"_id": id})
		if err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrStatusConflict
	}
	return nil
}

func (s *mongoStore) AppendAttempt(ctx context.Context, id string, attempt DispatchAttempt) error {
	if attempt.ID == "" {
		attempt.ID = tsid.Generate()
	}
	now := time.Now()
	attempt.CreatedAt = now

	update := bson.M{
		"$push": bson.M{"attempts": attempt},
		"$set": bson.M{
			"lastAttemptAt": attempt.AttemptedAt,
			"updatedAt":     now,
		},
		"$inc": bson.M{"attemptCount": 1},
	}

	result, err := s.jobs.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *mongoStore) ResetToPending(ctx context.Context, id string, scheduledFor time.Time) error {
	now := time.Now()
	update := bson.M{
		"$set": bson.M{
			"status":       DispatchStatusPending,
			"scheduledFor": scheduledFor,
			"updatedAt":    now,
		},
	}

	result, err := s.jobs.UpdateOne(ctx, nonTerminalFilter(id), update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		count, err := s.jobs.CountDocuments(ctx, bson.M{"_id": id})
		if err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrStatusConflict
	}
	return nil
}

func (s *mongoStore) CountByStatus(ctx context.Context, status DispatchStatus) (int64, error) {
	return s.jobs.CountDocuments(ctx, bson.M{"status": status})
}

func (s *mongoStore) HasErrorJobsInGroup(ctx context.Context, messageGroup string) (bool, error) {
	count, err := s.jobs.CountDocuments(ctx, bson.M{
		"messageGroup": messageGroup,
		"status":       DispatchStatusError,
	})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *mongoStore) GetBlockedMessageGroups(ctx context.Context, groups []string) (map[string]bool, error) {
	if len(groups) == 0 {
		return map[string]bool{}, nil
	}

	pipeline := []bson.M{
		{
			"$match": bson.M{
				"messageGroup": bson.M{"$in": groups},
				"status":       DispatchStatusError,
			},
		},
		{
			"$group": bson.M{
				"_id": "$messageGroup",
			},
		},
	}

	cursor, err := s.jobs.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	blocked := make(map[string]bool)
	for cursor.Next(ctx) {
		var result struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&result); err != nil {
			continue
		}
		blocked[result.ID] = true
	}

	return blocked, cursor.Err()
}

func (s *mongoStore) Delete(ctx context.Context, id string) error {
	result, err := s.jobs.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
