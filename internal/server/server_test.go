package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/skilder-ai/identity/internal/audit/domain"
	auditrepository "github.com/skilder-ai/identity/internal/audit/repository"
	auditservice "github.com/skilder-ai/identity/internal/audit/service"
	"github.com/skilder-ai/identity/internal/authorization"
	"github.com/skilder-ai/identity/internal/clock"
	"github.com/skilder-ai/identity/internal/config"
	identitykeydomain "github.com/skilder-ai/identity/internal/identitykey/domain"
	"github.com/skilder-ai/identity/internal/identitykey/repository"
	"github.com/skilder-ai/identity/internal/identitykey/service"
	"github.com/skilder-ai/identity/internal/oauthstate"
	"github.com/skilder-ai/identity/internal/observability"
	"github.com/skilder-ai/identity/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testAdminToken = "admin-token-for-tests"

type testServer struct {
	engine *gin.Engine
	clock  *clock.FakeClock
}

func newTestServer(t *testing.T, adminToken string) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&identitykeydomain.IdentityKey{}, &auditdomain.AuditLog{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC))
	audit := auditservice.NewService(auditservice.Params{
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  auditrepository.Provide(conn),
		Clock: fake,
	})
	keys := service.New(service.Params{
		Log:    zap.NewNop(),
		GenID:  node,
		Repo:   repository.Provide(conn),
		Clock:  fake,
		Policy: config.NewStaticKeyPolicyHolder(config.DefaultKeyPolicy()),
		Audit:  audit,
	})

	cfg := config.Config{
		Environment:   "test",
		AdminAPIToken: adminToken,
		OAuthState: config.OAuthStateConfig{
			Secret: "server-test-secret-0123456789abcdef",
			TTL:    oauthstate.DefaultWindow,
		},
	}
	states, err := oauthstate.New(oauthstate.Params{
		Log:    zap.NewNop(),
		Config: cfg,
		Clock:  fake,
		Nonces: oauthstate.NewMemoryNonceStore(fake),
		Providers: oauthstate.BuildProviderRegistry(map[string]config.OAuthProviderConfig{
			"github": {
				Name:        "github",
				Enabled:     true,
				ClientID:    "client-1",
				AuthURL:     "https://github.com/login/oauth/authorize",
				RedirectURI: "https://app.example.com/api/oauth/github/callback",
				AllowedRedirectURIs: []string{
					"https://staging.example.com/api/oauth/github/callback",
				},
			},
		}, zap.NewNop()),
	})
	require.NoError(t, err)

	engine := NewEngine(observability.Config{Environment: "test"}, nil)
	enforcer, err := authorization.NewMemoryEnforcer()
	require.NoError(t, err)
	authz := authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer, AuditSvc: audit})

	NewServer(ServerParams{
		Gin:          engine,
		Cfg:          cfg,
		IdentityKeys: keys,
		AuditSvc:     audit,
		Authz:        authz,
		OAuthStates:  states,
	})
	return testServer{engine: engine, clock: fake}
}

func (ts testServer) do(t *testing.T, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func (ts testServer) createKey(t *testing.T, nature, owner string) identitykeydomain.SecretResponse {
	t.Helper()

	rec := ts.do(t, http.MethodPost, "/admin/identity-keys", testAdminToken, map[string]string{
		"nature":          nature,
		"owner_reference": owner,
		"description":     "Test",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp identitykeydomain.SecretResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func errorType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp.Error.Type
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, testAdminToken)

	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestAdminRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t, testAdminToken)

	rec := ts.do(t, http.MethodGet, "/admin/identity-keys?owner=ws-1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/admin/identity-keys?owner=ws-1", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	closed := newTestServer(t, "")
	rec = closed.do(t, http.MethodGet, "/admin/identity-keys?owner=ws-1", testAdminToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestIdentityKeyLifecycle(t *testing.T) {
	ts := newTestServer(t, testAdminToken)

	created := ts.createKey(t, "workspace", "ws-1")
	assert.Regexp(t, `^WSK[A-Za-z0-9_-]{43}$`, created.Key)
	assert.Equal(t, identitykeydomain.NatureWorkspace, created.Nature)
	assert.NotContains(t, created.KeyHint, created.Key[3:len(created.Key)-4])

	rec := ts.do(t, http.MethodGet, "/api/whoami", created.Key, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var identity identitykeydomain.ResolvedIdentity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &identity))
	assert.Equal(t, "ws-1", identity.OwnerReference)
	assert.Equal(t, identitykeydomain.NatureWorkspace, identity.Nature)

	rec = ts.do(t, http.MethodGet, "/admin/identity-keys?owner=ws-1", testAdminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Data []identitykeydomain.Response `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Data, 1)
	assert.Equal(t, created.ID, listed.Data[0].ID)
	assert.NotContains(t, rec.Body.String(), created.Key)

	rec = ts.do(t, http.MethodPost, "/admin/identity-keys/"+created.ID+"/revoke", testAdminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/whoami", created.Key, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "key_revoked", errorType(t, rec))

	rec = ts.do(t, http.MethodDelete, "/admin/identity-keys/"+created.ID, testAdminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/admin/identity-keys/"+created.ID, testAdminToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/admin/identity-keys/"+created.ID+"/revoke", testAdminToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuditLogsRecordLifecycle(t *testing.T) {
	ts := newTestServer(t, testAdminToken)

	created := ts.createKey(t, "skill", "skill-7")
	rec := ts.do(t, http.MethodPost, "/admin/identity-keys/"+created.ID+"/revoke", testAdminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/admin/audit-logs?target_id="+created.ID, testAdminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), created.Key)

	var listed struct {
		Data []auditdomain.AuditLog `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Data, 2)
	assert.NotZero(t, listed.Data[0].ID)
	assert.NotEqual(t, listed.Data[0].ID, listed.Data[1].ID)
	actions := []string{listed.Data[0].Action, listed.Data[1].Action}
	assert.ElementsMatch(t, []string{auditdomain.ActionIdentityKeyCreated, auditdomain.ActionIdentityKeyRevoked}, actions)
	assert.Equal(t, "admin", listed.Data[0].ActorType)

	rec = ts.do(t, http.MethodGet, "/admin/audit-logs?limit=x", testAdminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/admin/audit-logs?start_at=2025-05-02T00:00:00Z&end_at=2025-05-01T00:00:00Z", testAdminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateIdentityKeyValidation(t *testing.T) {
	ts := newTestServer(t, testAdminToken)

	tests := []struct {
		name   string
		body   map[string]string
		status int
	}{
		{name: "unknown nature", body: map[string]string{"nature": "admin", "owner_reference": "ws-1"}, status: http.StatusBadRequest},
		{name: "missing owner", body: map[string]string{"nature": "skill"}, status: http.StatusBadRequest},
		{name: "malformed import", body: map[string]string{"nature": "skill", "owner_reference": "sk-1", "key": "short"}, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/admin/identity-keys", testAdminToken, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, "validation_error", errorType(t, rec))
		})
	}

	rec := ts.do(t, http.MethodGet, "/admin/identity-keys/abc", testAdminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImportedKeyCollisionConflicts(t *testing.T) {
	ts := newTestServer(t, testAdminToken)
	body := map[string]string{
		"nature":          "runtime",
		"owner_reference": "agent-1",
		"key":             "RTKlegacy0000000000000000000000000",
	}

	rec := ts.do(t, http.MethodPost, "/admin/identity-keys", testAdminToken, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/admin/identity-keys", testAdminToken, body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestWhoAmIRejections(t *testing.T) {
	ts := newTestServer(t, testAdminToken)

	tests := []struct {
		name     string
		token    string
		wantType string
	}{
		{name: "missing", token: "", wantType: "unauthorized"},
		{name: "short", token: "short", wantType: "invalid_key_format"},
		{name: "unknown prefix", token: "XYZsomevalidlookingbody00000000000000000000000", wantType: "invalid_key_prefix"},
		{name: "unknown key", token: "WSKnonexistent00000000000000000000000000000000", wantType: "key_not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, "/api/whoami", tt.token, nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, tt.wantType, errorType(t, rec))
		})
	}
}

func TestWhoAmIExpiredKey(t *testing.T) {
	ts := newTestServer(t, testAdminToken)
	created := ts.createKey(t, "skill", "toolset-1")

	ts.clock.Advance(config.DefaultKeyTTL)
	rec := ts.do(t, http.MethodGet, "/api/whoami", created.Key, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "key_expired", errorType(t, rec))
}

func TestOAuthFlow(t *testing.T) {
	ts := newTestServer(t, testAdminToken)
	workspace := ts.createKey(t, "workspace", "ws-9")
	runtime := ts.createKey(t, "runtime", "agent-9")

	rec := ts.do(t, http.MethodGet, "/api/oauth/github/authorize?redirect=false&user_id=user-9", runtime.Key, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/oauth/gitlab/authorize?redirect=false", workspace.Key, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/oauth/github/authorize", workspace.Key, nil)
	require.Equal(t, http.StatusFound, rec.Code)
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "github.com", location.Host)

	rec = ts.do(t, http.MethodGet, "/api/oauth/github/authorize?redirect=false&user_id=user-9", workspace.Key, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var auth oauthstate.Authorization
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &auth))
	require.NotEmpty(t, auth.State)

	callback := "/api/oauth/github/callback?code=abc&state=" + url.QueryEscape(auth.State)
	rec = ts.do(t, http.MethodGet, callback, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "ws-9", payload["workspace_id"])
	assert.Equal(t, "user-9", payload["user_id"])

	rec = ts.do(t, http.MethodGet, callback, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_state", errorType(t, rec))

	rec = ts.do(t, http.MethodGet, "/api/oauth/github/callback?state=x", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOAuthCallbackExpiredState(t *testing.T) {
	ts := newTestServer(t, testAdminToken)
	workspace := ts.createKey(t, "workspace", "ws-1")

	rec := ts.do(t, http.MethodGet, "/api/oauth/github/authorize?redirect=false", workspace.Key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var auth oauthstate.Authorization
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &auth))

	ts.clock.Advance(oauthstate.DefaultWindow)
	rec = ts.do(t, http.MethodGet, "/api/oauth/github/callback?code=abc&state="+url.QueryEscape(auth.State), "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_state", errorType(t, rec))
}

func TestOAuthAuthorizeRedirectAllowlist(t *testing.T) {
	ts := newTestServer(t, testAdminToken)
	workspace := ts.createKey(t, "workspace", "ws-3")

	allowed := url.QueryEscape("https://staging.example.com/api/oauth/github/callback")
	rec := ts.do(t, http.MethodGet, "/api/oauth/github/authorize?redirect=false&redirect_uri="+allowed, workspace.Key, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	foreign := url.QueryEscape("https://attacker.example.net/collect")
	rec = ts.do(t, http.MethodGet, "/api/oauth/github/authorize?redirect_uri="+foreign, workspace.Key, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, rec.Header().Get("Location"))

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Error.Errors, 1)
	assert.Equal(t, "redirect_uri", resp.Error.Errors[0].Field)
}

func TestRuntimeSession(t *testing.T) {
	ts := newTestServer(t, testAdminToken)
	workspace := ts.createKey(t, "workspace", "ws-5")
	skill := ts.createKey(t, "skill", "toolset-5")

	rec := ts.do(t, http.MethodPost, "/api/runtime/session", "", map[string]string{
		"name":          "search",
		"workspace_key": workspace.Key,
		"nats_servers":  "nats://localhost:4222",
		"log_level":     "debug",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp runtimeSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Identity)
	assert.Equal(t, "ws-5", resp.Identity.OwnerReference)
	assert.Equal(t, identitykeydomain.NatureWorkspace, resp.Identity.Nature)
	assert.Equal(t, map[string]string{
		"NATS_SERVERS":  "nats://localhost:4222",
		"WORKSPACE_KEY": workspace.Key,
		"SKILL_NAME":    "search",
		"LOG_LEVEL":     "debug",
	}, resp.Env)

	rec = ts.do(t, http.MethodPost, "/api/runtime/session", "", map[string]string{"skill_key": skill.Key})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp = runtimeSessionResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, map[string]string{"SKILL_KEY": skill.Key}, resp.Env)

	tests := []struct {
		name       string
		body       map[string]string
		wantStatus int
		wantType   string
	}{
		{name: "no key", body: map[string]string{"name": "search"}, wantStatus: http.StatusBadRequest, wantType: "validation_error"},
		{name: "both keys", body: map[string]string{"name": "search", "workspace_key": workspace.Key, "skill_key": skill.Key}, wantStatus: http.StatusBadRequest, wantType: "validation_error"},
		{name: "workspace key without name", body: map[string]string{"workspace_key": workspace.Key}, wantStatus: http.StatusBadRequest, wantType: "validation_error"},
		{name: "skill key in workspace field", body: map[string]string{"name": "search", "workspace_key": skill.Key}, wantStatus: http.StatusUnauthorized, wantType: "key_nature_mismatch"},
		{name: "workspace key in skill field", body: map[string]string{"skill_key": workspace.Key}, wantStatus: http.StatusUnauthorized, wantType: "key_nature_mismatch"},
		{name: "unknown key", body: map[string]string{"skill_key": "SKK" + strings.Repeat("a", 43)}, wantStatus: http.StatusUnauthorized, wantType: "key_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/runtime/session", "", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantType, errorType(t, rec))
		})
	}
}

func TestMapErrorKeyCreation(t *testing.T) {
	status, payload := mapError(identitykeydomain.NewKeyCreationError(identitykeydomain.ErrKeyCollision))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", payload.Type)

	exhausted := fmt.Errorf("%w after 3 attempts: %v", identitykeydomain.ErrKeyGenerationExhausted, identitykeydomain.ErrKeyCollision)
	status, payload = mapError(identitykeydomain.NewKeyCreationError(exhausted))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal_error", payload.Type)
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t, testAdminToken)

	rec := ts.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
