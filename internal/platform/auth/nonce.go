package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var errNonceArgs = errors.New("auth: nonce scope, value and ttl are required")

// NonceStore remembers delivery ids so a webhook is processed at most once.
type NonceStore interface {
	// UseNonce claims nonce within scope for ttl. It returns false when the nonce
	// was already claimed and has not expired.
	UseNonce(ctx context.Context, scope, nonce string, ttl time.Duration) (bool, error)
}

// InMemoryNonceStore is a single-process NonceStore for local runs and tests.
type InMemoryNonceStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
	swept   time.Time
}

func NewInMemoryNonceStore() *InMemoryNonceStore {
	return &InMemoryNonceStore{expires: make(map[string]time.Time), now: time.Now}
}

func (s *InMemoryNonceStore) UseNonce(_ context.Context, scope, nonce string, ttl time.Duration) (bool, error) {
	if scope == "" || nonce == "" || ttl <= 0 {
		return false, errNonceArgs
	}
	key := scope + "/" + nonce

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.swept) > time.Minute {
		for k, exp := range s.expires {
			if !now.Before(exp) {
				delete(s.expires, k)
			}
		}
		s.swept = now
	}
	if exp, seen := s.expires[key]; seen && now.Before(exp) {
		return false, nil
	}
	s.expires[key] = now.Add(ttl)
	return true, nil
}

// RedisNonceStore shares claimed nonces between instances through SET NX.
type RedisNonceStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisNonceStore(client redis.UniversalClient, prefix string) *RedisNonceStore {
	if prefix == "" {
		prefix = "nonce:"
	}
	return &RedisNonceStore{client: client, prefix: prefix}
}

func (s *RedisNonceStore) UseNonce(ctx context.Context, scope, nonce string, ttl time.Duration) (bool, error) {
	if s == nil || s.client == nil {
		return false, errors.New("auth: redis nonce store not configured")
	}
	if scope == "" || nonce == "" || ttl <= 0 {
		return false, errNonceArgs
	}
	claimed, err := s.client.SetNX(ctx, s.prefix+scope+"/"+nonce, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("auth: claim nonce: %w", err)
	}
	return claimed, nil
}
