package authorization

import (
	"context"
	_ "embed"
	"errors"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/skilder-ai/identity/internal/audit/domain"
	identitykeydomain "github.com/skilder-ai/identity/internal/identitykey/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectIdentity    = "identity"
	ObjectOAuth       = "oauth"
	ObjectIdentityKey = "identity_key"
	ObjectAuditLog    = "audit_log"
)

const (
	ActionIdentityWhoAmI   = "identity.whoami"
	ActionOAuthAuthorize   = "oauth.authorize"
	ActionIdentityKeyAdmin = "identity_key.manage"
	ActionAuditLogView     = "audit_log.view"
)

const (
	RoleAdmin = "role:admin"

	actionDenied = "authorization.denied"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)

// Service decides whether a subject may perform an action on an object.
type Service interface {
	Authorize(ctx context.Context, subject, object, action string) error
}

// RoleForNature maps a key nature onto its policy role.
func RoleForNature(nature identitykeydomain.Nature) string {
	return "role:" + nature.String()
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

// NewEnforcer loads policies from the casbin_rule table and seeds the
// defaults. Rows added by operators survive restarts.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	return enforcer, nil
}

// NewMemoryEnforcer builds an enforcer holding only the default policies.
func NewMemoryEnforcer() (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, subject, object, action string) error {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Debug("authorization denied",
			zap.String("subject", subject),
			zap.String("object", object),
			zap.String("action", action),
		)
		s.auditDenied(ctx, subject, object, action)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) auditDenied(ctx context.Context, subject, object, action string) {
	if s.auditSvc == nil {
		return
	}
	_ = s.auditSvc.Record(ctx, auditdomain.Entry{
		Action:     actionDenied,
		TargetType: object,
		Metadata: map[string]any{
			"subject": subject,
			"action":  action,
		},
	})
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{RoleForNature(identitykeydomain.NatureWorkspace), ObjectIdentity, ActionIdentityWhoAmI},
		{RoleForNature(identitykeydomain.NatureWorkspace), ObjectOAuth, ActionOAuthAuthorize},
		{RoleForNature(identitykeydomain.NatureRuntime), ObjectIdentity, ActionIdentityWhoAmI},
		{RoleForNature(identitykeydomain.NatureSkill), ObjectIdentity, ActionIdentityWhoAmI},

		{RoleAdmin, ObjectIdentityKey, ActionIdentityKeyAdmin},
		{RoleAdmin, ObjectAuditLog, ActionAuditLogView},
	}

	for _, policy := range policies {
		// AddPolicy reports false without error for rows already present.
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
