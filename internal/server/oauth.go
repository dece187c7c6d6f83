package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/skilder-ai/identity/internal/oauthstate"
	"github.com/skilder-ai/identity/internal/observability/logger"
	"go.uber.org/zap"
)

// OAuthAuthorize issues a state for the workspace and redirects to the
// provider. With ?redirect=false the authorization URL is returned as JSON.
func (s *Server) OAuthAuthorize(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	auth, err := s.oauthStates.AuthorizeURL(c.Request.Context(), oauthstate.GenerateRequest{
		UserID:      strings.TrimSpace(c.Query("user_id")),
		WorkspaceID: identity.OwnerReference,
		Provider:    c.Param("provider"),
		RedirectURI: strings.TrimSpace(c.Query("redirect_uri")),
		Scopes:      splitScopes(c.Query("scope")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if c.Query("redirect") == "false" {
		c.JSON(http.StatusOK, auth)
		return
	}
	c.Redirect(http.StatusFound, auth.URL)
}

// OAuthCallback consumes the state returned by the provider.
func (s *Server) OAuthCallback(c *gin.Context) {
	if errCode := strings.TrimSpace(c.Query("error")); errCode != "" {
		AbortWithError(c, newValidationError("error", errCode, "authorization was not granted"))
		return
	}

	state := strings.TrimSpace(c.Query("state"))
	code := strings.TrimSpace(c.Query("code"))
	if state == "" || code == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	payload, err := s.oauthStates.ValidateState(c.Request.Context(), state)
	if err != nil {
		if !errors.Is(err, oauthstate.ErrInvalidState) {
			logger.FromContext(c.Request.Context()).Error("oauth state validation failed", zap.Error(err))
			err = ErrServiceUnavailable
		}
		AbortWithError(c, err)
		return
	}

	if !strings.EqualFold(payload.Provider, c.Param("provider")) {
		AbortWithError(c, oauthstate.ErrInvalidState)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"provider":     payload.Provider,
		"workspace_id": payload.WorkspaceID,
		"user_id":      payload.UserID,
		"redirect_uri": payload.RedirectURI,
		"scopes":       payload.Scopes,
		"code":         code,
	})
}

func splitScopes(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' '
	})
	if len(parts) == 0 {
		return nil
	}
	return parts
}
