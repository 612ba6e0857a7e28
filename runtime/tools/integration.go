package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// IntegrationStore backs the process-wide, keyed IntegrationSession map
// (§4.6): sandboxed external tools (debuggers, browsers, shells) persist
// state under `session_key = hash(tool_name, chat_id)`, mutually excluded
// per key and LRU-expired on inactivity.
//
// Grounded on the teacher's features/model middleware state keyed by
// request identity (a process-local map guarding concurrent access per
// key); generalized here with a Redis-backed value store so session state
// survives this process restarting, while the per-key mutual-exclusion
// lock itself stays in-process (matching the spec's single-process
// cooperative scheduling model, §5 — this is not a distributed lock).
type IntegrationStore struct {
	rdb *redis.Client
	ttl time.Duration

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu         sync.Mutex
	lastActive time.Time
}

// NewIntegrationStore builds a store backed by rdb, expiring idle sessions
// after ttl both in Redis (value TTL) and in the local bookkeeping map.
func NewIntegrationStore(rdb *redis.Client, ttl time.Duration) *IntegrationStore {
	return &IntegrationStore{rdb: rdb, ttl: ttl, locks: make(map[string]*sessionLock)}
}

// SessionKey computes the spec's hash(tool_name, chat_id) key.
func SessionKey(toolName, chatID string) string {
	sum := sha256.Sum256([]byte(toolName + "\x00" + chatID))
	return hex.EncodeToString(sum[:16])
}

// Lock acquires the in-process mutual-exclusion lock for key, blocking
// until it is free or ctx is canceled. The returned func releases it.
func (s *IntegrationStore) Lock(ctx context.Context, key string) (func(), error) {
	lk := s.lockFor(key)
	acquired := make(chan struct{})
	go func() {
		lk.mu.Lock()
		close(acquired)
	}()
	select {
	case <-acquired:
		s.touch(key)
		return lk.mu.Unlock, nil
	case <-ctx.Done():
		// Release once the pending Lock() above completes, so the
		// mutex doesn't stay held forever with no owner to unlock it.
		go func() {
			<-acquired
			lk.mu.Unlock()
		}()
		return nil, ctx.Err()
	}
}

func (s *IntegrationStore) lockFor(key string) *sessionLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	lk, ok := s.locks[key]
	if !ok {
		lk = &sessionLock{}
		s.locks[key] = lk
	}
	return lk
}

func (s *IntegrationStore) touch(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lk, ok := s.locks[key]; ok {
		lk.lastActive = time.Now()
	}
}

// Save persists state under key with the store's TTL.
func (s *IntegrationStore) Save(ctx context.Context, key string, state any) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode integration session state: %w", err)
	}
	return s.rdb.Set(ctx, "integr:"+key, data, s.ttl).Err()
}

// Load fetches the state stored under key, reporting ok=false if absent or
// expired.
func (s *IntegrationStore) Load(ctx context.Context, key string, out any) (bool, error) {
	data, err := s.rdb.Get(ctx, "integr:"+key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode integration session state: %w", err)
	}
	return true, nil
}

// TryStop drives graceful termination: it removes the persisted state and
// the local lock bookkeeping for key. Callers that need to flush a running
// process (e.g. terminate a shell) must do so before calling TryStop.
func (s *IntegrationStore) TryStop(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.locks, key)
	s.mu.Unlock()
	return s.rdb.Del(ctx, "integr:"+key).Err()
}

// SweepIdle drops local lock bookkeeping for sessions inactive longer than
// the store's TTL, bounding the size of the in-process map. Redis' own TTL
// independently reclaims the persisted state.
func (s *IntegrationStore) SweepIdle() {
	cutoff := time.Now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, lk := range s.locks {
		if lk.lastActive.Before(cutoff) {
			delete(s.locks, key)
		}
	}
}
