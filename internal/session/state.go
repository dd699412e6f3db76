package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultStatePrefix namespaces login state keys in Redis.
	DefaultStatePrefix = "tubepilot:oidc:state:"
	// DefaultStateTTL bounds how long a login may take.
	DefaultStateTTL = 10 * time.Minute
)

// StateData is the per-login secret material kept between redirect and callback.
type StateData struct {
	Verifier string `json:"verifier"`
	Nonce    string `json:"nonce"`
	ReturnTo string `json:"return_to,omitempty"`
}

// StateCache stores login state. Take removes the entry so each state is
// usable once.
type StateCache interface {
	Put(ctx context.Context, state string, data StateData) error
	Take(ctx context.Context, state string) (StateData, bool, error)
}

// DefaultStateMaxEntries caps pending logins held by MemoryStateCache.
const DefaultStateMaxEntries = 10000

const stateSweepInterval = time.Minute

// ErrStateCacheFull means too many logins are pending at once.
var ErrStateCacheFull = errors.New("session: too many pending logins")

// MemoryStateCache is a process-local StateCache with TTL eviction and a
// cap on pending entries.
type MemoryStateCache struct {
	mu        sync.Mutex
	ttl       time.Duration
	max       int
	data      map[string]stateItem
	now       func() time.Time
	lastSweep time.Time
}

type stateItem struct {
	v   StateData
	exp time.Time
}

// MemoryStateOption configures a MemoryStateCache.
type MemoryStateOption func(*MemoryStateCache)

// WithMaxEntries overrides DefaultStateMaxEntries.
func WithMaxEntries(n int) MemoryStateOption {
	return func(s *MemoryStateCache) {
		if n > 0 {
			s.max = n
		}
	}
}

// NewMemoryStateCache returns an in-memory cache; ttl <= 0 uses DefaultStateTTL.
func NewMemoryStateCache(ttl time.Duration, opts ...MemoryStateOption) *MemoryStateCache {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	s := &MemoryStateCache{
		ttl:  ttl,
		max:  DefaultStateMaxEntries,
		data: make(map[string]stateItem),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put stores v under state. Expired entries are swept at most once per
// stateSweepInterval, or immediately when the cache is full.
func (s *MemoryStateCache) Put(_ context.Context, state string, v StateData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if len(s.data) >= s.max || now.Sub(s.lastSweep) >= stateSweepInterval {
		s.sweep(now)
	}
	if _, exists := s.data[state]; !exists && len(s.data) >= s.max {
		return ErrStateCacheFull
	}
	s.data[state] = stateItem{v: v, exp: now.Add(s.ttl)}
	return nil
}

func (s *MemoryStateCache) sweep(now time.Time) {
	for k, it := range s.data {
		if now.After(it.exp) {
			delete(s.data, k)
		}
	}
	s.lastSweep = now
}

func (s *MemoryStateCache) Take(_ context.Context, state string) (StateData, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.data[state]
	if !ok {
		return StateData{}, false, nil
	}
	delete(s.data, state)
	if s.now().After(it.exp) {
		return StateData{}, false, nil
	}
	return it.v, true, nil
}

// Len reports the number of live entries.
func (s *MemoryStateCache) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// RedisStateCache keeps login state in Redis so any replica can finish a login.
type RedisStateCache struct {
	rdb   redis.UniversalClient
	keyNS string
	ttl   time.Duration
}

// NewRedisStateCache returns a Redis-backed cache. Empty prefix and
// non-positive ttl fall back to defaults.
func NewRedisStateCache(rdb redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisStateCache {
	if keyPrefix == "" {
		keyPrefix = DefaultStatePrefix
	}
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &RedisStateCache{rdb: rdb, keyNS: keyPrefix, ttl: ttl}
}

func (s *RedisStateCache) key(state string) string { return s.keyNS + state }

func (s *RedisStateCache) Put(ctx context.Context, state string, data StateData) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key(state), b, s.ttl).Err()
}

func (s *RedisStateCache) Take(ctx context.Context, state string) (StateData, bool, error) {
	val, err := s.rdb.GetDel(ctx, s.key(state)).Bytes()
	if errors.Is(err, redis.Nil) {
		return StateData{}, false, nil
	}
	if err != nil {
		return StateData{}, false, err
	}
	var d StateData
	if err := json.Unmarshal(val, &d); err != nil {
		return StateData{}, false, err
	}
	return d, true, nil
}

// Ping checks Redis connectivity for readiness probes.
func (s *RedisStateCache) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
