package server

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/skilder-ai/identity/internal/authorization"
	"github.com/skilder-ai/identity/internal/observability/logger"
	"go.uber.org/zap"
)

const contextRole = "authz_role"

// Authorized checks the role set by the authentication middleware against
// the policy for object and action.
func (s *Server) Authorized(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(contextRole)
		if role == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		err := s.authz.Authorize(c.Request.Context(), role, object, action)
		switch {
		case err == nil:
			c.Next()
		case errors.Is(err, authorization.ErrForbidden):
			AbortWithError(c, ErrForbidden)
		default:
			logger.FromContext(c.Request.Context()).Error("authorization check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
		}
	}
}
