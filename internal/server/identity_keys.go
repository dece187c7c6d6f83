package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	identitykeydomain "github.com/skilder-ai/identity/internal/identitykey/domain"
)

type createIdentityKeyRequest struct {
	Nature         string `json:"nature"`
	OwnerReference string `json:"owner_reference"`
	Description    string `json:"description"`
	Permissions    string `json:"permissions"`
	Key            string `json:"key"`
}

func (s *Server) CreateIdentityKey(c *gin.Context) {
	var req createIdentityKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	nature, err := identitykeydomain.ParseNature(req.Nature)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	key, err := s.identityKeys.CreateKey(c.Request.Context(), identitykeydomain.CreateRequest{
		Nature:         nature,
		OwnerReference: req.OwnerReference,
		Description:    req.Description,
		Permissions:    req.Permissions,
		Key:            strings.TrimSpace(req.Key),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, identitykeydomain.SecretResponse{Response: key.ToResponse(), Key: key.Key})
}

func (s *Server) ListIdentityKeys(c *gin.Context) {
	keys, err := s.identityKeys.ListKeys(c.Request.Context(), c.Query("owner"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": keys})
}

func (s *Server) GetIdentityKey(c *gin.Context) {
	key, err := s.identityKeys.GetKey(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, key)
}

func (s *Server) RevokeIdentityKey(c *gin.Context) {
	key, err := s.identityKeys.RevokeKey(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, key)
}

func (s *Server) DeleteIdentityKey(c *gin.Context) {
	key, err := s.identityKeys.DeleteKey(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, key)
}

func (s *Server) WhoAmI(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	c.JSON(http.StatusOK, identity)
}
