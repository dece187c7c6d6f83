package server

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"
	"github.com/skilder-ai/identity/internal/authorization"
	obscontext "github.com/skilder-ai/identity/internal/observability/context"
)

const actorAdmin = "admin"

// AdminTokenRequired guards key management with the static ADMIN_API_TOKEN.
// With no token configured the admin routes are closed.
func (s *Server) AdminTokenRequired() gin.HandlerFunc {
	expected := []byte(s.cfg.AdminAPIToken)

	return func(c *gin.Context) {
		if len(expected) == 0 {
			AbortWithError(c, ErrForbidden)
			return
		}

		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok || subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), actorAdmin, actorAdmin))
		c.Set(contextRole, authorization.RoleAdmin)
		c.Next()
	}
}
