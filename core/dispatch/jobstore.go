package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	jobMetaKeyPrefix = "stepjob:meta:"
	jobRecentKey     = "stepjob:recent"

	defaultRetainedRecords = 1000
	jobMetaTTL             = 7 * 24 * time.Hour
)

// JobRecord is the persisted view of one step job dispatch.
type JobRecord struct {
	JobID     string `json:"job_id"`
	RunID     string `json:"run_id"`
	StepID    string `json:"step_id"`
	Tool      string `json:"tool"`
	State     string `json:"state"`
	Error     string `json:"error,omitempty"`
	Attempt   int    `json:"attempt"`
	UpdatedAt int64  `json:"updated_at"`
}

// JobStore tracks step job lifecycle in Redis. Completed and failed records
// are pruned past a bounded count so queue storage cannot grow without limit.
type JobStore struct {
	client redis.UniversalClient
	retain int64
}

// NewJobStore wraps a Redis client. retain <= 0 keeps the default bound.
func NewJobStore(client redis.UniversalClient, retain int64) *JobStore {
	if retain <= 0 {
		retain = defaultRetainedRecords
	}
	return &JobStore{client: client, retain: retain}
}

// Record registers a freshly dispatched job.
func (s *JobStore) Record(ctx context.Context, job StepJob) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("job store not initialized")
	}
	if job.JobID == "" {
		return fmt.Errorf("job id required")
	}
	now := time.Now().Unix()
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, jobMetaKey(job.JobID), map[string]any{
		"run_id":     job.RunID,
		"step_id":    job.PlanStepID,
		"tool":       job.Tool,
		"state":      StatusDispatched,
		"attempt":    job.Attempt,
		"updated_at": now,
	})
	pipe.Expire(ctx, jobMetaKey(job.JobID), jobMetaTTL)
	pipe.ZAdd(ctx, jobRecentKey, redis.Z{Score: float64(now), Member: job.JobID})
	pipe.ZRemRangeByRank(ctx, jobRecentKey, 0, -(s.retain + 1))
	_, err := pipe.Exec(ctx)
	return err
}

// SetState moves a job to a new state, keeping the error message for failures.
func (s *JobStore) SetState(ctx context.Context, jobID, state, errMsg string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("job store not initialized")
	}
	if jobID == "" {
		return fmt.Errorf("job id required")
	}
	fields := map[string]any{
		"state":      state,
		"updated_at": time.Now().Unix(),
	}
	if errMsg != "" {
		fields["error"] = errMsg
	}
	return s.client.HSet(ctx, jobMetaKey(jobID), fields).Err()
}

// Get returns the record for one job.
func (s *JobStore) Get(ctx context.Context, jobID string) (*JobRecord, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("job store not initialized")
	}
	vals, err := s.client.HGetAll(ctx, jobMetaKey(jobID)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, redis.Nil
	}
	rec := &JobRecord{JobID: jobID}
	rec.RunID = vals["run_id"]
	rec.StepID = vals["step_id"]
	rec.Tool = vals["tool"]
	rec.State = vals["state"]
	rec.Error = vals["error"]
	fmt.Sscanf(vals["attempt"], "%d", &rec.Attempt)
	fmt.Sscanf(vals["updated_at"], "%d", &rec.UpdatedAt)
	return rec, nil
}

// Recent lists the most recently touched job ids, newest first.
func (s *JobStore) Recent(ctx context.Context, limit int64) ([]string, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("job store not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	return s.client.ZRevRange(ctx, jobRecentKey, 0, limit-1).Result()
}

func jobMetaKey(jobID string) string {
	return jobMetaKeyPrefix + jobID
}
