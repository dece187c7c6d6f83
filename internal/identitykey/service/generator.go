package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	auditdomain "github.com/skilder-ai/identity/internal/audit/domain"
	identitykeydomain "github.com/skilder-ai/identity/internal/identitykey/domain"
	"go.uber.org/zap"
)

const (
	// collisionCheckAttempts covers one retry of a failed lookup.
	collisionCheckAttempts = 2
	// generateAttempts bounds regeneration after a collision on a generated key.
	generateAttempts = 3
)

type randomSource interface {
	Read(p []byte) (int, error)
}

type cryptoRandom struct{}

func (cryptoRandom) Read(p []byte) (int, error) { return rand.Read(p) }

// CreateKey mints a key for the owner, or imports req.Key when supplied.
func (s *Service) CreateKey(ctx context.Context, req identitykeydomain.CreateRequest) (*identitykeydomain.IdentityKey, error) {
	nature := req.Nature
	if !nature.Valid() {
		return nil, identitykeydomain.NewKeyCreationError(identitykeydomain.ErrInvalidNature)
	}
	owner := strings.TrimSpace(req.OwnerReference)
	if owner == "" {
		return nil, identitykeydomain.NewKeyCreationError(identitykeydomain.ErrInvalidOwner)
	}

	imported := req.Key != ""
	if imported {
		parsed, err := identitykeydomain.ParseKey(req.Key)
		if err != nil {
			return nil, identitykeydomain.NewKeyCreationError(err)
		}
		if parsed != nature {
			return nil, identitykeydomain.NewKeyCreationError(identitykeydomain.ErrInvalidKeyPrefix)
		}
	}

	log := s.log.With(zap.String("nature", nature.String()), zap.String("owner_reference", owner))

	var lastErr error
	for attempt := 1; attempt <= generateAttempts; attempt++ {
		value := req.Key
		if !imported {
			generated, err := s.generate(nature)
			if err != nil {
				return nil, identitykeydomain.NewKeyCreationError(err)
			}
			value = generated
		}

		exists, err := s.keyExists(ctx, value)
		if err != nil {
			log.Error("identity key collision check failed", zap.Error(err))
			return nil, identitykeydomain.NewKeyCreationError(err)
		}
		if exists {
			log.Warn("identity key collision detected", zap.Bool("imported", imported), zap.Int("attempt", attempt))
			if imported {
				return nil, identitykeydomain.NewKeyCreationError(identitykeydomain.ErrKeyCollision)
			}
			lastErr = identitykeydomain.ErrKeyCollision
			continue
		}

		key, err := s.repo.Create(ctx, s.newRecord(value, nature, owner, req))
		if errors.Is(err, identitykeydomain.ErrKeyCollision) {
			log.Warn("identity key rejected by unique constraint", zap.Bool("imported", imported), zap.Int("attempt", attempt))
			if imported {
				return nil, identitykeydomain.NewKeyCreationError(err)
			}
			lastErr = err
			continue
		}
		if err != nil {
			log.Error("identity key insert failed", zap.Error(err))
			return nil, identitykeydomain.NewKeyCreationError(err)
		}

		s.metrics.RecordKeyCreated(ctx, nature.String(), imported)
		log.Info("identity key created", zap.String("key_id", key.ID.String()), zap.Bool("imported", imported))
		s.recordAudit(ctx, auditdomain.ActionIdentityKeyCreated, key)
		return key, nil
	}

	log.Error("identity key generation exhausted", zap.Int("attempts", generateAttempts), zap.Error(lastErr))
	return nil, identitykeydomain.NewKeyCreationError(
		fmt.Errorf("%w after %d attempts: %v", identitykeydomain.ErrKeyGenerationExhausted, generateAttempts, lastErr),
	)
}

// keyExists looks the value up, retrying once when the lookup itself fails.
func (s *Service) keyExists(ctx context.Context, value string) (bool, error) {
	var err error
	for attempt := 1; attempt <= collisionCheckAttempts; attempt++ {
		var existing *identitykeydomain.IdentityKey
		existing, err = s.repo.FindByKey(ctx, value)
		if err == nil {
			return existing != nil, nil
		}
		if ctx.Err() != nil {
			return false, err
		}
		s.log.Warn("identity key collision check errored", zap.Int("attempt", attempt), zap.Error(err))
	}
	return false, err
}

func (s *Service) generate(nature identitykeydomain.Nature) (string, error) {
	secret := make([]byte, identitykeydomain.SecretBytes)
	if _, err := s.random.Read(secret); err != nil {
		return "", err
	}
	return nature.Prefix() + base64.RawURLEncoding.EncodeToString(secret), nil
}

func (s *Service) newRecord(value string, nature identitykeydomain.Nature, owner string, req identitykeydomain.CreateRequest) *identitykeydomain.IdentityKey {
	now := s.clock.Now().UTC()
	key := &identitykeydomain.IdentityKey{
		ID:          s.genID.Generate(),
		Key:         value,
		RelatedID:   owner,
		Nature:      nature,
		Description: strings.TrimSpace(req.Description),
		Permissions: strings.TrimSpace(req.Permissions),
		CreatedAt:   now,
	}
	if ttl := s.keyTTL(nature); ttl > 0 {
		key.ExpiresAt = ptrTime(now.Add(ttl))
	}
	return key
}

func (s *Service) keyTTL(nature identitykeydomain.Nature) time.Duration {
	if s.policy == nil {
		return 0
	}
	return s.policy.Get().TTLFor(nature.String())
}

func ptrTime(value time.Time) *time.Time {
	return &value
}
