// Package database also provides the Redis-backed guardrail state store.
// Counters are keyed by trading day and expire on their own, so a crashed
// process never leaves a stale disable in place past the day it belongs to.
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tradegate/internal/circuit"
)

// Redis key prefixes for guardrail state and entry accounting
const (
	// GuardrailFailuresKeyPrefix is the day-keyed consecutive failure counter.
	// Format: tradegate:guardrail:failures:{YYYY-MM-DD}
	GuardrailFailuresKeyPrefix = "tradegate:guardrail:failures"

	// GuardrailDisabledKeyPrefix holds the disable reason when tripped.
	GuardrailDisabledKeyPrefix = "tradegate:guardrail:disabled"

	// GuardrailLastFailureKeyPrefix holds last-failure metadata as JSON.
	GuardrailLastFailureKeyPrefix = "tradegate:guardrail:last_failure"

	// EntriesTodayKeyPrefix is the day-keyed count of executed entries.
	EntriesTodayKeyPrefix = "tradegate:entries"

	// guardrailTTL keeps day-keyed state around long enough to inspect
	// after the session, then lets Redis reclaim it.
	guardrailTTL = 48 * time.Hour
)

// GuardrailStore persists per-day guardrail state with atomic counter
// operations. The counter is incremented by Redis, never read-then-written
// by this process.
type GuardrailStore interface {
	State(ctx context.Context, day string) (*circuit.State, error)
	RecordFailure(ctx context.Context, day string, rec circuit.FailureRecord, maxFailures int) (*circuit.State, error)
	Reset(ctx context.Context, day string) error
}

// EntryCounter tracks executed entries per trading day.
type EntryCounter interface {
	EntriesToday(ctx context.Context, day string) (int, error)
	IncrEntries(ctx context.Context, day string) (int, error)
}

// RedisGuardrailStore implements GuardrailStore and EntryCounter.
type RedisGuardrailStore struct {
	client *redis.Client
}

// NewRedisGuardrailStore creates a guardrail store on the given client.
func NewRedisGuardrailStore(client *redis.Client) *RedisGuardrailStore {
	return &RedisGuardrailStore{client: client}
}

func failuresKey(day string) string    { return fmt.Sprintf("%s:%s", GuardrailFailuresKeyPrefix, day) }
func disabledKey(day string) string    { return fmt.Sprintf("%s:%s", GuardrailDisabledKeyPrefix, day) }
func lastFailureKey(day string) string { return fmt.Sprintf("%s:%s", GuardrailLastFailureKeyPrefix, day) }
func entriesKey(day string) string     { return fmt.Sprintf("%s:%s", EntriesTodayKeyPrefix, day) }

// State reads the guardrail state for a trading day.
func (s *RedisGuardrailStore) State(ctx context.Context, day string) (*circuit.State, error) {
	state := &circuit.State{Day: day}

	failures, err := s.client.Get(ctx, failuresKey(day)).Int()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read failure counter: %w", err)
	}
	state.Failures = failures

	reason, err := s.client.Get(ctx, disabledKey(day)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read disabled flag: %w", err)
	}
	state.DisabledReason = reason

	raw, err := s.client.Get(ctx, lastFailureKey(day)).Bytes()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read last failure: %w", err)
	}
	if len(raw) > 0 {
		var rec circuit.FailureRecord
		if err := json.Unmarshal(raw, &rec); err == nil {
			state.LastFailure = &rec
			state.LastLossAt = &rec.At
		}
	}

	return state, nil
}

// RecordFailure atomically increments the day's failure counter, stores the
// failure metadata, and sets the disabled flag when the post-increment count
// reaches maxFailures. Returns the resulting state.
func (s *RedisGuardrailStore) RecordFailure(ctx context.Context, day string, rec circuit.FailureRecord, maxFailures int) (*circuit.State, error) {
	if maxFailures < 1 {
		maxFailures = 1
	}

	count, err := s.client.Incr(ctx, failuresKey(day)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to increment failure counter: %w", err)
	}
	s.client.Expire(ctx, failuresKey(day), guardrailTTL)

	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	if raw, err := json.Marshal(rec); err == nil {
		s.client.Set(ctx, lastFailureKey(day), raw, guardrailTTL)
	}

	state := &circuit.State{
		Day:         day,
		Failures:    int(count),
		LastFailure: &rec,
		LastLossAt:  &rec.At,
	}

	if int(count) >= maxFailures {
		reason := fmt.Sprintf("consecutive failures: %d (last: %s)", count, rec.Reason)
		if err := s.client.Set(ctx, disabledKey(day), reason, guardrailTTL).Err(); err != nil {
			return nil, fmt.Errorf("failed to set disabled flag: %w", err)
		}
		state.DisabledReason = reason
	}

	return state, nil
}

// Reset clears the failure counter and the disabled flag for the day.
// Called on any SUCCESS outcome and on manual reset.
func (s *RedisGuardrailStore) Reset(ctx context.Context, day string) error {
	if err := s.client.Del(ctx, failuresKey(day), disabledKey(day)).Err(); err != nil {
		return fmt.Errorf("failed to reset guardrail: %w", err)
	}
	return nil
}

// EntriesToday returns the number of entries executed on the given day.
func (s *RedisGuardrailStore) EntriesToday(ctx context.Context, day string) (int, error) {
	n, err := s.client.Get(ctx, entriesKey(day)).Int()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("failed to read entry counter: %w", err)
	}
	return n, nil
}

// IncrEntries atomically increments the day's entry counter.
func (s *RedisGuardrailStore) IncrEntries(ctx context.Context, day string) (int, error) {
	n, err := s.client.Incr(ctx, entriesKey(day)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment entry counter: %w", err)
	}
	s.client.Expire(ctx, entriesKey(day), guardrailTTL)
	return int(n), nil
}

var (
	_ GuardrailStore = (*RedisGuardrailStore)(nil)
	_ EntryCounter   = (*RedisGuardrailStore)(nil)
)
