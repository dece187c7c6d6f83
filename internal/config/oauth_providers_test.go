package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOAuthProviders(t *testing.T) {
	t.Setenv("AUTH_PROVIDERS", "GitHub, google-workspace")
	t.Setenv("AUTH_GITHUB_CLIENT_ID", " client-1 ")
	t.Setenv("AUTH_GITHUB_AUTH_URL", "https://github.com/login/oauth/authorize")
	t.Setenv("AUTH_GITHUB_SCOPES", "repo, read:user")
	t.Setenv("AUTH_GITHUB_ALLOWED_REDIRECT_URIS", "https://a.example.com/cb, https://b.example.com/cb")
	t.Setenv("AUTH_GOOGLE_WORKSPACE_ENABLED", "false")
	t.Setenv("AUTH_GOOGLE_WORKSPACE_NAME", "Google Workspace")

	providers := parseOAuthProviders()
	require.Len(t, providers, 2)

	github := providers["github"]
	assert.Equal(t, "github", github.Name)
	assert.Equal(t, "github", github.DisplayName)
	assert.True(t, github.Enabled)
	assert.Equal(t, "client-1", github.ClientID)
	assert.Equal(t, []string{"repo", "read:user"}, github.Scopes)
	assert.Equal(t, []string{"https://a.example.com/cb", "https://b.example.com/cb"}, github.AllowedRedirectURIs)

	google := providers["google-workspace"]
	assert.False(t, google.Enabled)
	assert.Equal(t, "Google Workspace", google.DisplayName)
}

func TestParseOAuthProvidersEmpty(t *testing.T) {
	t.Setenv("AUTH_PROVIDERS", "")
	assert.Empty(t, parseOAuthProviders())
}
