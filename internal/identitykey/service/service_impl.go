package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/skilder-ai/identity/internal/audit/domain"
	"github.com/skilder-ai/identity/internal/clock"
	"github.com/skilder-ai/identity/internal/config"
	identitykeydomain "github.com/skilder-ai/identity/internal/identitykey/domain"
	obsmetrics "github.com/skilder-ai/identity/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    identitykeydomain.Repository
	Clock   clock.Clock
	Policy  *config.KeyPolicyHolder
	Metrics *obsmetrics.Metrics `optional:"true"`
	Audit   auditdomain.Service `optional:"true"`
}

type Service struct {
	log     *zap.Logger
	repo    identitykeydomain.Repository
	genID   *snowflake.Node
	clock   clock.Clock
	policy  *config.KeyPolicyHolder
	metrics *obsmetrics.Metrics
	audit   auditdomain.Service
	random  randomSource
}

func New(p Params) identitykeydomain.Service {
	return &Service{
		log:     p.Log.Named("identitykey.service"),
		repo:    p.Repo,
		genID:   p.GenID,
		clock:   p.Clock,
		policy:  p.Policy,
		metrics: p.Metrics,
		audit:   p.Audit,
		random:  cryptoRandom{},
	}
}

func (s *Service) ListKeys(ctx context.Context, ownerReference string) ([]identitykeydomain.Response, error) {
	owner := strings.TrimSpace(ownerReference)
	if owner == "" {
		return nil, identitykeydomain.ErrInvalidOwner
	}

	items, err := s.repo.FindByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}

	resp := make([]identitykeydomain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, items[i].ToResponse())
	}
	return resp, nil
}

func (s *Service) GetKey(ctx context.Context, id string) (*identitykeydomain.Response, error) {
	keyID, err := parseKeyID(id)
	if err != nil {
		return nil, err
	}

	key, err := s.repo.FindByID(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, identitykeydomain.ErrNotFound
	}

	resp := key.ToResponse()
	return &resp, nil
}

func (s *Service) RevokeKey(ctx context.Context, id string) (*identitykeydomain.Response, error) {
	keyID, err := parseKeyID(id)
	if err != nil {
		return nil, err
	}

	key, err := s.repo.Revoke(ctx, keyID, s.clock.Now())
	if err != nil {
		return nil, err
	}

	s.log.Info("identity key revoked",
		zap.String("key_id", key.ID.String()),
		zap.String("owner_reference", key.RelatedID),
		zap.String("nature", key.Nature.String()),
	)
	s.recordAudit(ctx, auditdomain.ActionIdentityKeyRevoked, key)
	resp := key.ToResponse()
	return &resp, nil
}

func (s *Service) DeleteKey(ctx context.Context, id string) (*identitykeydomain.Response, error) {
	keyID, err := parseKeyID(id)
	if err != nil {
		return nil, err
	}

	key, err := s.repo.Delete(ctx, keyID)
	if err != nil {
		return nil, err
	}

	s.log.Info("identity key deleted",
		zap.String("key_id", key.ID.String()),
		zap.String("owner_reference", key.RelatedID),
	)
	s.recordAudit(ctx, auditdomain.ActionIdentityKeyDeleted, key)
	resp := key.ToResponse()
	return &resp, nil
}

// recordAudit is best effort: a failed audit write never undoes the change.
func (s *Service) recordAudit(ctx context.Context, action string, key *identitykeydomain.IdentityKey) {
	if s.audit == nil || key == nil {
		return
	}
	_ = s.audit.Record(ctx, auditdomain.Entry{
		Action:     action,
		TargetType: auditdomain.TargetIdentityKey,
		TargetID:   key.ID.String(),
		Metadata: map[string]any{
			"owner_reference": key.RelatedID,
			"nature":          key.Nature.String(),
			"key":             key.Key,
		},
	})
}

func parseKeyID(raw string) (snowflake.ID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, identitykeydomain.ErrInvalidKeyID
	}
	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || id <= 0 {
		return 0, identitykeydomain.ErrInvalidKeyID
	}
	return snowflake.ID(id), nil
}
