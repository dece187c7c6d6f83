package oauthstate

import (
	"context"
	"strings"

	"github.com/skilder-ai/identity/internal/config"
	"go.uber.org/zap"
)

// Authorization is where to send the user's browser, and the state it carries.
type Authorization struct {
	Provider string `json:"provider"`
	URL      string `json:"url"`
	State    string `json:"state"`
}

// AuthorizeURL issues a state for a configured provider and attaches it to the
// provider's authorization endpoint. Empty redirect URI and scopes fall back to
// the provider configuration; an explicit redirect URI must be the configured
// one or on the provider's allowlist.
func (m *Manager) AuthorizeURL(ctx context.Context, req GenerateRequest) (*Authorization, error) {
	provider, ok := m.providers.Get(req.Provider)
	if !ok {
		return nil, ErrProviderNotFound
	}

	req.Provider = provider.Name
	req.RedirectURI = strings.TrimSpace(req.RedirectURI)
	if req.RedirectURI == "" {
		req.RedirectURI = provider.RedirectURI
	} else if !redirectAllowed(provider, req.RedirectURI) {
		m.log.Warn("oauth redirect uri rejected", zap.String("provider", provider.Name))
		return nil, ErrRedirectNotAllowed
	}
	if len(req.Scopes) == 0 {
		req.Scopes = provider.Scopes
	}

	state, err := m.GenerateState(ctx, req)
	if err != nil {
		return nil, err
	}

	authURL, err := buildAuthURL(provider, req.RedirectURI, state, req.Scopes)
	if err != nil {
		return nil, err
	}
	return &Authorization{Provider: provider.Name, URL: authURL, State: state}, nil
}

func redirectAllowed(provider config.OAuthProviderConfig, redirectURI string) bool {
	if redirectURI == provider.RedirectURI {
		return true
	}
	for _, allowed := range provider.AllowedRedirectURIs {
		if redirectURI == allowed {
			return true
		}
	}
	return false
}
