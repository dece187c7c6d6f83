package server

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/skilder-ai/identity/internal/authorization"
	identitykeydomain "github.com/skilder-ai/identity/internal/identitykey/domain"
	obscontext "github.com/skilder-ai/identity/internal/observability/context"
	"github.com/skilder-ai/identity/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	contextIdentityKey = "identity"
	contextKeyNature   = "key_nature"

	rateLimitReasonFailedAuth = "failed-auth"
)

// IdentityKeyRequired authenticates the bearer identity key and records the
// key's role for Authorized.
func (s *Server) IdentityKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		clientIP := c.ClientIP()

		if !s.allowAuthAttempt(c, clientIP) {
			return
		}

		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			s.recordAuthFailure(ctx, clientIP)
			AbortWithError(c, ErrUnauthorized)
			return
		}

		identity, err := s.identityKeys.FindKey(ctx, raw)
		if err != nil {
			if isAuthFailure(err) {
				s.recordAuthFailure(ctx, clientIP)
				AbortWithError(c, &authError{cause: err})
				return
			}
			logger.FromContext(ctx).Error("identity key lookup failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}

		ctx = obscontext.WithActor(ctx, identity.Nature.String(), identity.OwnerReference)
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextIdentityKey, identity)
		c.Set(contextKeyNature, identity.Nature.String())
		c.Set(contextRole, authorization.RoleForNature(identity.Nature))
		c.Next()
	}
}

func identityFromContext(c *gin.Context) (*identitykeydomain.ResolvedIdentity, bool) {
	value, ok := c.Get(contextIdentityKey)
	if !ok {
		return nil, false
	}
	identity, ok := value.(*identitykeydomain.ResolvedIdentity)
	return identity, ok && identity != nil
}

func (s *Server) allowAuthAttempt(c *gin.Context, clientIP string) bool {
	if !s.probeLimiter.Enabled() {
		return true
	}

	ctx := c.Request.Context()
	res, err := s.probeLimiter.Check(ctx, clientIP)
	if err != nil {
		logger.FromContext(ctx).Warn("failed auth rate limit check failed", zap.Error(err))
		AbortWithError(c, ErrServiceUnavailable)
		return false
	}
	if res.Allowed {
		return true
	}

	endpoint := c.FullPath()
	logger.FromContext(ctx).Warn("failed auth rate limit exceeded",
		zap.String("reason", rateLimitReasonFailedAuth),
		zap.String("endpoint", endpoint),
	)
	s.obsMetrics.RecordRateLimitDenied(ctx, endpoint, rateLimitReasonFailedAuth)

	c.Header("Retry-After", retryAfterSeconds(res.RetryAfter.Seconds()))
	c.Header("X-Rate-Limited-Reason", rateLimitReasonFailedAuth)
	AbortWithError(c, ErrRateLimited)
	return false
}

func (s *Server) recordAuthFailure(ctx context.Context, clientIP string) {
	if !s.probeLimiter.Enabled() {
		return
	}
	if _, err := s.probeLimiter.RecordFailure(ctx, clientIP); err != nil {
		logger.FromContext(ctx).Warn("failed auth rate limit record failed", zap.Error(err))
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.Fields(strings.TrimSpace(header))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

func isAuthFailure(err error) bool {
	return errors.Is(err, identitykeydomain.ErrInvalidKeyFormat) ||
		errors.Is(err, identitykeydomain.ErrInvalidKeyPrefix) ||
		errors.Is(err, identitykeydomain.ErrNotFound) ||
		errors.Is(err, identitykeydomain.ErrRevoked) ||
		errors.Is(err, identitykeydomain.ErrExpired) ||
		errors.Is(err, identitykeydomain.ErrNatureMismatch)
}

func retryAfterSeconds(seconds float64) string {
	if seconds < 1 {
		return "1"
	}
	return strconv.Itoa(int(math.Ceil(seconds)))
}
