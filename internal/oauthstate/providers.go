package oauthstate

import (
	"net/url"
	"sort"
	"strings"

	"github.com/skilder-ai/identity/internal/config"
	"go.uber.org/zap"
)

// ProviderRegistry holds the OAuth providers that are enabled and complete.
type ProviderRegistry struct {
	active  map[string]config.OAuthProviderConfig
	ignored map[string]string
}

func NewProviderRegistry(cfg config.Config, log *zap.Logger) *ProviderRegistry {
	return BuildProviderRegistry(cfg.OAuthProviders, log.Named("oauthstate.providers"))
}

func BuildProviderRegistry(cfgs map[string]config.OAuthProviderConfig, log *zap.Logger) *ProviderRegistry {
	registry := &ProviderRegistry{
		active:  make(map[string]config.OAuthProviderConfig),
		ignored: make(map[string]string),
	}

	names := make([]string, 0, len(cfgs))
	for name := range cfgs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cfg := cfgs[name]
		if cfg.Name == "" {
			cfg.Name = name
		}
		switch {
		case !cfg.Enabled:
			log.Info("oauth provider disabled", zap.String("provider", name))
			continue
		case cfg.ClientID == "" || cfg.AuthURL == "":
			registry.ignored[name] = "client id and auth url are required"
			log.Warn("oauth provider ignored", zap.String("provider", name), zap.String("reason", registry.ignored[name]))
			continue
		}
		if _, err := url.ParseRequestURI(cfg.AuthURL); err != nil {
			registry.ignored[name] = "auth url is not a valid url"
			log.Warn("oauth provider ignored", zap.String("provider", name), zap.String("reason", registry.ignored[name]))
			continue
		}
		registry.active[name] = cfg
		log.Info("oauth provider active", zap.String("provider", name))
	}

	return registry
}

func (r *ProviderRegistry) Get(name string) (config.OAuthProviderConfig, bool) {
	if r == nil {
		return config.OAuthProviderConfig{}, false
	}
	cfg, ok := r.active[strings.ToLower(strings.TrimSpace(name))]
	return cfg, ok
}

func (r *ProviderRegistry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.active))
	for name := range r.active {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func buildAuthURL(cfg config.OAuthProviderConfig, redirectURI, state string, scopes []string) (string, error) {
	parsed, err := url.Parse(cfg.AuthURL)
	if err != nil {
		return "", err
	}
	query := parsed.Query()
	query.Set("response_type", "code")
	query.Set("client_id", cfg.ClientID)
	query.Set("redirect_uri", redirectURI)
	if len(scopes) > 0 {
		query.Set("scope", strings.Join(scopes, " "))
	}
	query.Set("state", state)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
