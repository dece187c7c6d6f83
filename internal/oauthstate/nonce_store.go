package oauthstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/skilder-ai/identity/internal/clock"
	"github.com/skilder-ai/identity/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const nonceKeyPattern = "oauth:state:nonce:%s"

// NonceStore remembers consumed nonces for a bounded time.
type NonceStore interface {
	// Consume marks nonce as used for ttl. It reports false when the nonce
	// was already consumed and has not yet expired.
	Consume(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

// MemoryNonceStore tracks nonces in process. It does not survive restarts
// and is not shared between instances.
type MemoryNonceStore struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]time.Time
}

func NewMemoryNonceStore(c clock.Clock) *MemoryNonceStore {
	return &MemoryNonceStore{
		clock:   c,
		entries: make(map[string]time.Time),
	}
}

func (s *MemoryNonceStore) Consume(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	if nonce == "" || ttl <= 0 {
		return false, errors.New("nonce and positive ttl are required")
	}

	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if expiresAt, ok := s.entries[nonce]; ok && now.Before(expiresAt) {
		return false, nil
	}
	s.entries[nonce] = now.Add(ttl)
	return true, nil
}

// Sweep drops expired entries and returns how many were removed.
func (s *MemoryNonceStore) Sweep() int {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for nonce, expiresAt := range s.entries {
		if !now.Before(expiresAt) {
			delete(s.entries, nonce)
			removed++
		}
	}
	return removed
}

func (s *MemoryNonceStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryNonceStore) run(ctx context.Context, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.Sweep(); removed > 0 {
				log.Debug("swept expired oauth nonces", zap.Int("removed", removed))
			}
		}
	}
}

// RedisNonceStore shares consumed nonces across instances with SET NX PX.
type RedisNonceStore struct {
	client *redis.Client
}

func NewRedisNonceStore(client *redis.Client) *RedisNonceStore {
	return &RedisNonceStore{client: client}
}

func (s *RedisNonceStore) Consume(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	if s == nil || s.client == nil {
		return false, errors.New("nonce store redis client not configured")
	}
	if nonce == "" || ttl <= 0 {
		return false, errors.New("nonce and positive ttl are required")
	}
	return s.client.SetNX(ctx, fmt.Sprintf(nonceKeyPattern, nonce), 1, ttl).Result()
}

type nonceStoreParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Clock     clock.Clock
	Log       *zap.Logger
	Redis     *redis.Client `optional:"true"`
}

func newNonceStore(p nonceStoreParams) (NonceStore, error) {
	log := p.Log.Named("oauthstate.nonce")

	if p.Config.OAuthState.NonceStore == config.NonceStoreRedis {
		if p.Redis == nil {
			return nil, errors.New("OAUTH_NONCE_STORE=redis requires REDIS_ADDR")
		}
		log.Info("using redis nonce store")
		return NewRedisNonceStore(p.Redis), nil
	}

	store := NewMemoryNonceStore(p.Clock)
	interval := p.Config.OAuthState.TTL
	if interval <= 0 {
		interval = DefaultWindow
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go store.run(ctx, interval, log)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})

	log.Info("using in-memory nonce store", zap.Duration("sweep_interval", interval))
	return store, nil
}
