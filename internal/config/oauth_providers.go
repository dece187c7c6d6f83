package config

import (
	"os"
	"strings"
)

const envOAuthProviders = "AUTH_PROVIDERS"

// OAuthProviderConfig defines a third-party authorization server the
// authorize endpoint can redirect to.
type OAuthProviderConfig struct {
	Name        string
	DisplayName string
	Enabled     bool
	ClientID    string
	AuthURL     string
	TokenURL    string
	RedirectURI string
	// AllowedRedirectURIs are accepted in addition to RedirectURI when a
	// caller asks for a specific callback.
	AllowedRedirectURIs []string
	Scopes              []string
}

// parseOAuthProviders reads AUTH_PROVIDERS (comma separated names) and the
// AUTH_<NAME>_* variables of each listed provider.
func parseOAuthProviders() map[string]OAuthProviderConfig {
	names := parseList(os.Getenv(envOAuthProviders))
	configs := make(map[string]OAuthProviderConfig, len(names))
	for _, name := range names {
		key := normalizeProviderName(name)
		if key == "" {
			continue
		}
		configs[key] = parseOAuthProvider(key)
	}
	return configs
}

func parseOAuthProvider(name string) OAuthProviderConfig {
	prefix := "AUTH_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_"
	display := strings.TrimSpace(os.Getenv(prefix + "NAME"))
	if display == "" {
		display = name
	}
	return OAuthProviderConfig{
		Name:                name,
		DisplayName:         display,
		Enabled:             getenvBool(prefix+"ENABLED", true),
		ClientID:            strings.TrimSpace(os.Getenv(prefix + "CLIENT_ID")),
		AuthURL:             strings.TrimSpace(os.Getenv(prefix + "AUTH_URL")),
		TokenURL:            strings.TrimSpace(os.Getenv(prefix + "TOKEN_URL")),
		RedirectURI:         strings.TrimSpace(os.Getenv(prefix + "REDIRECT_URI")),
		AllowedRedirectURIs: parseList(os.Getenv(prefix + "ALLOWED_REDIRECT_URIS")),
		Scopes:              parseScopes(os.Getenv(prefix + "SCOPES")),
	}
}

func normalizeProviderName(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func parseScopes(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if len(parts) == 0 {
		return nil
	}
	return parts
}
