package durable

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Store persists run state and per-step memoization records, so a crashed
// worker can resume a run from its last completed step rather than from
// scratch.
type Store interface {
	SaveRun(ctx context.Context, state RunState) error
	LoadRun(ctx context.Context, runID RunID) (RunState, bool, error)

	SaveStep(ctx context.Context, runID RunID, stepID StepID, rec StepRecord) error
	LoadStep(ctx context.Context, runID RunID, stepID StepID) (StepRecord, bool, error)
	LoadSteps(ctx context.Context, runID RunID) (map[StepID]StepRecord, error)
}

// MemoryStore is the reference Store implementation: a process-local map,
// durable only for the life of the process.
type MemoryStore struct {
	mu    sync.RWMutex
	runs  map[RunID]RunState
	steps map[RunID]map[StepID]StepRecord
}

// NewMemoryStore builds an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:  make(map[RunID]RunState),
		steps: make(map[RunID]map[StepID]StepRecord),
	}
}

func (s *MemoryStore) SaveRun(ctx context.Context, state RunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[state.RunID] = state
	return nil
}

func (s *MemoryStore) LoadRun(ctx context.Context, runID RunID) (RunState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.runs[runID]
	return st, ok, nil
}

func (s *MemoryStore) SaveStep(ctx context.Context, runID RunID, stepID StepID, rec StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.steps[runID] == nil {
		s.steps[runID] = make(map[StepID]StepRecord)
	}
	s.steps[runID][stepID] = rec
	return nil
}

func (s *MemoryStore) LoadStep(ctx context.Context, runID RunID, stepID StepID) (StepRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.steps[runID][stepID]
	return rec, ok, nil
}

func (s *MemoryStore) LoadSteps(ctx context.Context, runID RunID) (map[StepID]StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[StepID]StepRecord, len(s.steps[runID]))
	for k, v := range s.steps[runID] {
		out[k] = v
	}
	return out, nil
}

// RedisStore persists run state and steps as Redis hashes, one hash per
// run (runs) and one hash per run's steps, keyed under prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing *redis.Client. prefix namespaces this
// store's keys, e.g. "arbor:durable:".
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) runKey(runID RunID) string  { return s.prefix + "run:" + runID }
func (s *RedisStore) stepsKey(runID RunID) string { return s.prefix + "steps:" + runID }

func (s *RedisStore) SaveRun(ctx context.Context, state RunState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal run state: %w", err)
	}
	return s.client.Set(ctx, s.runKey(state.RunID), raw, 0).Err()
}

func (s *RedisStore) LoadRun(ctx context.Context, runID RunID) (RunState, bool, error) {
	raw, err := s.client.Get(ctx, s.runKey(runID)).Bytes()
	if err == redis.Nil {
		return RunState{}, false, nil
	}
	if err != nil {
		return RunState{}, false, err
	}
	var state RunState
	if err := json.Unmarshal(raw, &state); err != nil {
		return RunState{}, false, fmt.Errorf("unmarshal run state: %w", err)
	}
	return state, true, nil
}

func (s *RedisStore) SaveStep(ctx context.Context, runID RunID, stepID StepID, rec StepRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal step record: %w", err)
	}
	return s.client.HSet(ctx, s.stepsKey(runID), stepID, raw).Err()
}

func (s *RedisStore) LoadStep(ctx context.Context, runID RunID, stepID StepID) (StepRecord, bool, error) {
	raw, err := s.client.HGet(ctx, s.stepsKey(runID), stepID).Bytes()
	if err == redis.Nil {
		return StepRecord{}, false, nil
	}
	if err != nil {
		return StepRecord{}, false, err
	}
	var rec StepRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return StepRecord{}, false, fmt.Errorf("unmarshal step record: %w", err)
	}
	return rec, true, nil
}

func (s *RedisStore) LoadSteps(ctx context.Context, runID RunID) (map[StepID]StepRecord, error) {
	all, err := s.client.HGetAll(ctx, s.stepsKey(runID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[StepID]StepRecord, len(all))
	for stepID, raw := range all {
		var rec StepRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal step record %s: %w", stepID, err)
		}
		out[stepID] = rec
	}
	return out, nil
}
