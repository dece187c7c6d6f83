package service

import (
	"context"
	"crypto/subtle"
	"errors"

	identitykeydomain "github.com/skilder-ai/identity/internal/identitykey/domain"
	"go.uber.org/zap"
)

// FindKey resolves a presented bearer key to the identity it authenticates.
// Guards run in a fixed order: format, prefix, lookup, revocation, expiry.
// The stored record is never modified.
func (s *Service) FindKey(ctx context.Context, raw string) (*identitykeydomain.ResolvedIdentity, error) {
	nature, err := identitykeydomain.ParseKey(raw)
	if err != nil {
		s.recordValidation(ctx, "", err)
		return nil, err
	}

	key, err := s.repo.FindByKey(ctx, raw)
	if err != nil {
		return nil, err
	}
	if key == nil || subtle.ConstantTimeCompare([]byte(key.Key), []byte(raw)) != 1 {
		s.recordValidation(ctx, nature, identitykeydomain.ErrNotFound)
		return nil, identitykeydomain.ErrNotFound
	}

	if key.Revoked() {
		s.recordValidation(ctx, nature, identitykeydomain.ErrRevoked)
		return nil, identitykeydomain.ErrRevoked
	}
	if key.ExpiredAt(s.clock.Now()) {
		s.recordValidation(ctx, nature, identitykeydomain.ErrExpired)
		return nil, identitykeydomain.ErrExpired
	}

	s.recordValidation(ctx, nature, nil)
	return &identitykeydomain.ResolvedIdentity{
		OwnerReference: key.RelatedID,
		Nature:         nature,
		KeyID:          key.ID.String(),
	}, nil
}

func (s *Service) recordValidation(ctx context.Context, nature identitykeydomain.Nature, err error) {
	result := "ok"
	if err != nil {
		result = err.Error()
	}
	s.metrics.RecordKeyValidation(ctx, nature.String(), result)

	if err != nil && !errors.Is(err, identitykeydomain.ErrNotFound) {
		s.log.Debug("identity key rejected", zap.String("nature", nature.String()), zap.String("result", result))
	}
}
