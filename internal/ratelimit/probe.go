package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/skilder-ai/identity/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyFailedAuth = "identity:auth:failed:%s"

// ProbeLimiter slows down clients that keep presenting bad identity keys.
// Only failures take tokens; a client with an empty bucket is refused
// before its key is even looked up.
type ProbeLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
	ttl    time.Duration
}

type ProbeLimiterParams struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	Redis  *redis.Client `optional:"true"`
}

// NewProbeLimiter returns nil when rate limiting is disabled or redis is
// not configured. A nil limiter allows everything.
func NewProbeLimiter(p ProbeLimiterParams) (*ProbeLimiter, error) {
	limitCfg := p.Config.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	if p.Redis == nil {
		p.Log.Warn("RATE_LIMIT_ENABLED is set but REDIS_ADDR is not, failed auth limiting disabled")
		return nil, nil
	}
	if limitCfg.FailedAuthRate <= 0 || limitCfg.FailedAuthBurst <= 0 {
		return nil, fmt.Errorf("failed auth rate limit must be positive")
	}

	return &ProbeLimiter{
		bucket: NewTokenBucket(p.Redis),
		rate:   limitCfg.FailedAuthRate,
		burst:  limitCfg.FailedAuthBurst,
		ttl:    limitCfg.FailedAuthWindow,
	}, nil
}

func (l *ProbeLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Check reports whether the client may attempt authentication.
func (l *ProbeLimiter) Check(ctx context.Context, clientIP string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Peek(ctx, failedAuthKey(clientIP), l.rate, l.burst, l.ttl)
}

// RecordFailure takes a token for a failed authentication.
func (l *ProbeLimiter) RecordFailure(ctx context.Context, clientIP string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, failedAuthKey(clientIP), l.rate, l.burst, l.ttl)
}

func failedAuthKey(clientIP string) string {
	ip := strings.TrimSpace(clientIP)
	if ip == "" {
		ip = "unknown"
	}
	return fmt.Sprintf(keyFailedAuth, ip)
}
