package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	identitykeydomain "github.com/skilder-ai/identity/internal/identitykey/domain"
	obscontext "github.com/skilder-ai/identity/internal/observability/context"
	"github.com/skilder-ai/identity/internal/observability/logger"
	"go.uber.org/zap"
)

type runtimeSessionRequest struct {
	Name         string `json:"name"`
	WorkspaceKey string `json:"workspace_key"`
	SkillKey     string `json:"skill_key"`
	NatsServers  string `json:"nats_servers"`
	LogLevel     string `json:"log_level"`
}

type runtimeSessionResponse struct {
	Identity *identitykeydomain.ResolvedIdentity `json:"identity"`
	Env      map[string]string                   `json:"env"`
}

// RuntimeSession resolves the credentials a runtime launcher was given and
// returns the environment for the spawned process. A key presented in the
// wrong field is rejected even when it is otherwise valid.
func (s *Server) RuntimeSession(c *gin.Context) {
	var req runtimeSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	auth := identitykeydomain.ClientAuth{
		Name:         req.Name,
		WorkspaceKey: req.WorkspaceKey,
		SkillKey:     req.SkillKey,
		NatsServers:  req.NatsServers,
		LogLevel:     req.LogLevel,
	}
	env, err := auth.Env()
	if err != nil {
		AbortWithError(c, newValidationError(clientAuthField(err), clientAuthCode(err), err.Error()))
		return
	}

	ctx := c.Request.Context()
	clientIP := c.ClientIP()
	if !s.allowAuthAttempt(c, clientIP) {
		return
	}

	raw, _ := auth.Key()
	identity, err := s.identityKeys.FindKey(ctx, raw)
	if err == nil {
		err = auth.Check(identity)
	}
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
	logger.FromContext(ctx).Info("runtime session resolved", zap.String("key_id", identity.KeyID))

	c.JSON(http.StatusOK, runtimeSessionResponse{Identity: identity, Env: env})
}

func clientAuthCode(err error) string {
	switch {
	case errors.Is(err, identitykeydomain.ErrAuthConflict):
		return "auth_conflict"
	case errors.Is(err, identitykeydomain.ErrNameRequired):
		return "name_required"
	case errors.Is(err, identitykeydomain.ErrNameNotAllowed):
		return "name_not_allowed"
	default:
		return "auth_required"
	}
}

func clientAuthField(err error) string {
	if errors.Is(err, identitykeydomain.ErrNameRequired) || errors.Is(err, identitykeydomain.ErrNameNotAllowed) {
		return "name"
	}
	return "key"
}
