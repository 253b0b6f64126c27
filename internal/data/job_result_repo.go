package data

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/purplemerit/collab-jobs/internal/core"
	"github.com/purplemerit/collab-jobs/internal/domain/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// JobResultCollection is the MongoDB collection holding job result documents.
const JobResultCollection = "job_results"

// JobResultRepo stores job inputs, outputs, logs, and errors in MongoDB.
// Documents are keyed 1:1 by job_id; the Postgres ledger stays authoritative
// for status while this store absorbs the large, schema-light data.
type JobResultRepo struct {
	coll         *mongo.Collection
	timeProvider TimeProvider
}

// NewJobResultRepo constructs a JobResultRepo over the given database.
func NewJobResultRepo(db *mongo.Database, cfg RepoConfig) *JobResultRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &JobResultRepo{
		coll:         db.Collection(JobResultCollection),
		timeProvider: tp,
	}
}

// EnsureIndexes creates the unique job_id index. Safe to call repeatedly.
func (r *JobResultRepo) EnsureIndexes(ctx context.Context) error {
	if r == nil || r.coll == nil {
		return ErrJobResultNotConfigured
	}
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "job_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create job_results index: %w", err)
	}
	return nil
}

// Create inserts the result document for a freshly created job. The input
// payload is write-once; logs and errors start empty.
func (r *JobResultRepo) Create(ctx context.Context, params core.CreateJobResultParams) error {
	if r == nil || r.coll == nil {
		return ErrJobResultNotConfigured
	}
	if strings.TrimSpace(params.JobID) == "" {
		return ErrJobIDRequired
	}

	now := r.timeProvider.Now().UTC()
	doc := model.JobResult{
		JobID:        params.JobID,
		InputPayload: params.InputPayload,
		Logs:         []string{},
		Errors:       []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert job result: %w", err)
	}
	return nil
}

// FindByJobID retrieves the result document for a job.
func (r *JobResultRepo) FindByJobID(ctx context.Context, jobID string) (*model.JobResult, error) {
	if r == nil || r.coll == nil {
		return nil, ErrJobResultNotConfigured
	}
	if strings.TrimSpace(jobID) == "" {
		return nil, ErrJobIDRequired
	}

	var result model.JobResult
	err := r.coll.FindOne(ctx, bson.M{"job_id": jobID}).Decode(&result)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrJobResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find job result: %w", err)
	}
	return &result, nil
}

// Update records the output of a successful run and appends a log line.
func (r *JobResultRepo) Update(ctx context.Context, params core.UpdateJobResultParams) error {
	if r == nil || r.coll == nil {
		return ErrJobResultNotConfigured
	}
	if strings.TrimSpace(params.JobID) == "" {
		return ErrJobIDRequired
	}

	update := bson.M{
		"$set": bson.M{
			"output_result": params.OutputResult,
			"updated_at":    r.timeProvider.Now().UTC(),
		},
	}
	if params.Log != "" {
		update["$push"] = bson.M{"logs": params.Log}
	}

	res, err := r.coll.UpdateOne(ctx, bson.M{"job_id": params.JobID}, update)
	if err != nil {
		return fmt.Errorf("update job result: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrJobResultNotFound
	}
	return nil
}

// AppendLog appends a log line to the document's ordered log sequence.
func (r *JobResultRepo) AppendLog(ctx context.Context, jobID, line string) error {
	return r.push(ctx, jobID, "logs", line)
}

// AppendError appends an error message to the document's ordered error list.
func (r *JobResultRepo) AppendError(ctx context.Context, jobID, message string) error {
	return r.push(ctx, jobID, "errors", message)
}

func (r *JobResultRepo) push(ctx context.Context, jobID, field, value string) error {
	if r == nil || r.coll == nil {
		return ErrJobResultNotConfigured
	}
	if strings.TrimSpace(jobID) == "" {
		return ErrJobIDRequired
	}

	res, err := r.coll.UpdateOne(ctx, bson.M{"job_id": jobID}, bson.M{
		"$push": bson.M{field: value},
		"$set":  bson.M{"updated_at": r.timeProvider.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("append job result %s: %w", field, err)
	}
	if res.MatchedCount == 0 {
		return ErrJobResultNotFound
	}
	return nil
}
