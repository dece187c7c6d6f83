package oauthstate

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/skilder-ai/identity/internal/clock"
	"github.com/skilder-ai/identity/internal/config"
	obsmetrics "github.com/skilder-ai/identity/internal/observability/metrics"
	"github.com/skilder-ai/identity/pkg/sealbox"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	// DefaultWindow is how long an issued state stays redeemable.
	DefaultWindow = 10 * time.Minute

	maxClockSkew = time.Minute
	nonceBytes   = 16
	sealPurpose  = "oauth-state/v1"
)

var (
	// ErrInvalidState is the only rejection callers see, whatever the cause.
	ErrInvalidState       = errors.New("invalid_state")
	ErrInvalidRequest     = errors.New("invalid_state_request")
	ErrProviderNotFound   = errors.New("oauth_provider_not_found")
	ErrRedirectNotAllowed = errors.New("oauth_redirect_not_allowed")
)

// Rejection reasons, logged and counted but never returned.
const (
	reasonMalformed = "malformed"
	reasonExpired   = "expired"
	reasonFuture    = "future"
	reasonReplayed  = "replayed"
)

// Payload is the self-contained content of a state token.
type Payload struct {
	UserID      string   `json:"userId"`
	WorkspaceID string   `json:"workspaceId"`
	Provider    string   `json:"provider"`
	RedirectURI string   `json:"redirectUri"`
	Scopes      []string `json:"scopes"`
	Nonce       string   `json:"nonce"`
	CreatedAt   int64    `json:"createdAt"`
}

func (p Payload) IssuedAt() time.Time {
	return time.UnixMilli(p.CreatedAt).UTC()
}

type GenerateRequest struct {
	UserID      string
	WorkspaceID string
	Provider    string
	RedirectURI string
	Scopes      []string
}

type Params struct {
	fx.In

	Log       *zap.Logger
	Config    config.Config
	Clock     clock.Clock
	Nonces    NonceStore
	Providers *ProviderRegistry
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

type Manager struct {
	log       *zap.Logger
	sealer    sealbox.Sealer
	nonces    NonceStore
	clock     clock.Clock
	providers *ProviderRegistry
	metrics   *obsmetrics.Metrics
	window    time.Duration
}

func New(p Params) (*Manager, error) {
	log := p.Log.Named("oauthstate")

	secret := p.Config.OAuthState.Secret
	if secret == "" && !p.Config.IsProduction() {
		generated, err := ephemeralSecret()
		if err != nil {
			return nil, err
		}
		log.Warn("OAUTH_STATE_SECRET not set, using an ephemeral secret; issued states will not survive a restart")
		secret = generated
	}

	sealer, err := sealbox.New(secret, sealPurpose)
	if err != nil {
		return nil, fmt.Errorf("oauth state sealer: %w", err)
	}

	window := p.Config.OAuthState.TTL
	if window <= 0 {
		window = DefaultWindow
	}

	return &Manager{
		log:       log,
		sealer:    sealer,
		nonces:    p.Nonces,
		clock:     p.Clock,
		providers: p.Providers,
		metrics:   p.Metrics,
		window:    window,
	}, nil
}

// GenerateState seals the request together with a fresh nonce and the
// issue time. Nothing is persisted.
func (m *Manager) GenerateState(ctx context.Context, req GenerateRequest) (string, error) {
	if strings.TrimSpace(req.Provider) == "" || strings.TrimSpace(req.RedirectURI) == "" {
		return "", ErrInvalidRequest
	}

	nonce, err := newNonce()
	if err != nil {
		return "", err
	}

	payload := Payload{
		UserID:      req.UserID,
		WorkspaceID: req.WorkspaceID,
		Provider:    req.Provider,
		RedirectURI: req.RedirectURI,
		Scopes:      req.Scopes,
		Nonce:       nonce,
		CreatedAt:   m.clock.Now().UnixMilli(),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sealed, err := m.sealer.Seal(raw)
	if err != nil {
		return "", fmt.Errorf("seal oauth state: %w", err)
	}

	m.metrics.RecordStateIssued(ctx, req.Provider)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// ValidateState opens a state token and consumes its nonce. A token is
// accepted at most once, and only within the window after issue.
func (m *Manager) ValidateState(ctx context.Context, state string) (*Payload, error) {
	payload, ok := m.open(state)
	if !ok {
		return nil, m.reject(ctx, reasonMalformed)
	}

	age := m.clock.Now().Sub(payload.IssuedAt())
	if age >= m.window {
		return nil, m.reject(ctx, reasonExpired)
	}
	if age < -maxClockSkew {
		return nil, m.reject(ctx, reasonFuture)
	}

	// The nonce only has to be remembered until the token expires on its own.
	fresh, err := m.nonces.Consume(ctx, payload.Nonce, m.window-age)
	if err != nil {
		m.metrics.RecordStateValidation(ctx, "error", "nonce_store")
		m.log.Error("oauth state nonce store failed", zap.Error(err))
		return nil, fmt.Errorf("consume oauth state nonce: %w", err)
	}
	if !fresh {
		return nil, m.reject(ctx, reasonReplayed)
	}

	m.metrics.RecordStateValidation(ctx, "ok", "")
	return payload, nil
}

func (m *Manager) open(state string) (*Payload, bool) {
	sealed, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(state))
	if err != nil || len(sealed) <= sealbox.Overhead {
		return nil, false
	}
	raw, err := m.sealer.Open(sealed)
	if err != nil {
		return nil, false
	}

	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, false
	}
	if !validNonce(payload.Nonce) || payload.CreatedAt <= 0 {
		return nil, false
	}
	return &payload, true
}

func (m *Manager) reject(ctx context.Context, reason string) error {
	m.metrics.RecordStateValidation(ctx, "rejected", reason)
	m.log.Debug("oauth state rejected", zap.String("reason", reason))
	return ErrInvalidState
}

func newNonce() (string, error) {
	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func validNonce(nonce string) bool {
	if len(nonce) != hex.EncodedLen(nonceBytes) {
		return false
	}
	_, err := hex.DecodeString(nonce)
	return err == nil
}

func ephemeralSecret() (string, error) {
	buf := make([]byte, sealbox.MinSecretLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
