package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists plan runs in Redis with recency and status indexes.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// SaveRun upserts a run document and bumps its index scores. The previous
// status index entry is removed when the status changed.
func (s *RedisStore) SaveRun(ctx context.Context, run *PlanRun) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run id required")
	}
	prevStatus := RunStatus("")
	if data, err := s.client.Get(ctx, runKey(run.ID)).Bytes(); err == nil {
		var prev PlanRun
		if err := json.Unmarshal(data, &prev); err == nil {
			prevStatus = prev.Status
		}
	}
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	if run.Status == "" {
		run.Status = RunStatusPending
	}

	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, runKey(run.ID), payload, 0)
	pipe.ZAdd(ctx, runAllIndexKey(), redis.Z{Score: float64(now.Unix()), Member: run.ID})
	pipe.ZAdd(ctx, runStatusIndexKey(run.Status), redis.Z{Score: float64(now.Unix()), Member: run.ID})
	if prevStatus != "" && prevStatus != run.Status {
		pipe.ZRem(ctx, runStatusIndexKey(prevStatus), run.ID)
	}
	if run.Actor.UserID != 0 {
		pipe.ZAdd(ctx, runUserIndexKey(run.Actor.UserID), redis.Z{Score: float64(now.Unix()), Member: run.ID})
	}
	_, err = pipe.Exec(ctx)
	return err
}

// GetRun fetches a run by ID.
func (s *RedisStore) GetRun(ctx context.Context, runID string) (*PlanRun, error) {
	if runID == "" {
		return nil, fmt.Errorf("run id required")
	}
	data, err := s.client.Get(ctx, runKey(runID)).Bytes()
	if err != nil {
		return nil, err
	}
	var run PlanRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &run, nil
}

// DeleteRun removes a run and its index entries.
func (s *RedisStore) DeleteRun(ctx context.Context, runID string) error {
	if runID == "" {
		return fmt.Errorf("run id required")
	}
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, runKey(runID))
	pipe.ZRem(ctx, runAllIndexKey(), runID)
	if run.Status != "" {
		pipe.ZRem(ctx, runStatusIndexKey(run.Status), runID)
	}
	if run.Actor.UserID != 0 {
		pipe.ZRem(ctx, runUserIndexKey(run.Actor.UserID), runID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// ListRuns returns recent runs, optionally scoped to one user.
func (s *RedisStore) ListRuns(ctx context.Context, userID int64, limit int64) ([]*PlanRun, error) {
	if limit <= 0 {
		limit = 50
	}
	index := runAllIndexKey()
	if userID != 0 {
		index = runUserIndexKey(userID)
	}
	ids, err := s.client.ZRevRange(ctx, index, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*PlanRun{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(ids))
	for _, id := range ids {
		cmds[id] = pipe.Get(ctx, runKey(id))
	}
	_, _ = pipe.Exec(ctx)

	out := make([]*PlanRun, 0, len(ids))
	for _, id := range ids {
		cmd := cmds[id]
		if cmd == nil {
			continue
		}
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}
		var run PlanRun
		if err := json.Unmarshal(data, &run); err != nil {
			continue
		}
		out = append(out, &run)
	}
	return out, nil
}

// ListRunIDsByStatus returns recent run IDs in one status, newest first.
func (s *RedisStore) ListRunIDsByStatus(ctx context.Context, status RunStatus, limit int64) ([]string, error) {
	if status == "" {
		return nil, fmt.Errorf("status required")
	}
	if limit <= 0 {
		limit = 200
	}
	return s.client.ZRevRange(ctx, runStatusIndexKey(status), 0, limit-1).Result()
}

func runKey(id string) string {
	return "plan:run:" + id
}

func runAllIndexKey() string {
	return "plan:runs:all"
}

func runStatusIndexKey(status RunStatus) string {
	return "plan:runs:status:" + string(status)
}

func runUserIndexKey(userID int64) string {
	return fmt.Sprintf("plan:runs:user:%d", userID)
}
