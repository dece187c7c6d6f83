package seed

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/skilder-ai/identity/internal/clock"
	"github.com/skilder-ai/identity/internal/config"
	identitykeydomain "github.com/skilder-ai/identity/internal/identitykey/domain"
	"github.com/skilder-ai/identity/internal/identitykey/repository"
	"github.com/skilder-ai/identity/internal/identitykey/service"
	"github.com/skilder-ai/identity/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const bootstrapKey = "WSKbootstrapbootstrapbootstrapbootstrapboots"

func newKeyService(t *testing.T) identitykeydomain.Service {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&identitykeydomain.IdentityKey{}))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return service.New(service.Params{
		Log:    zap.NewNop(),
		GenID:  node,
		Repo:   repository.Provide(conn),
		Clock:  clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
		Policy: config.NewStaticKeyPolicyHolder(config.DefaultKeyPolicy()),
	})
}

func TestEnsureBootstrapKeyIsIdempotent(t *testing.T) {
	keys := newKeyService(t)
	ctx := context.Background()
	cfg := config.BootstrapConfig{WorkspaceKey: bootstrapKey, WorkspaceOwner: "ws-local"}

	require.NoError(t, EnsureBootstrapKey(ctx, cfg, keys, zap.NewNop()))
	require.NoError(t, EnsureBootstrapKey(ctx, cfg, keys, zap.NewNop()))

	listed, err := keys.ListKeys(ctx, "ws-local")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, bootstrapDescription, listed[0].Description)

	identity, err := keys.FindKey(ctx, bootstrapKey)
	require.NoError(t, err)
	assert.Equal(t, identitykeydomain.NatureWorkspace, identity.Nature)
}

func TestEnsureBootstrapKeySkipsWhenUnset(t *testing.T) {
	keys := newKeyService(t)
	require.NoError(t, EnsureBootstrapKey(context.Background(), config.BootstrapConfig{WorkspaceOwner: "ws"}, keys, zap.NewNop()))

	listed, err := keys.ListKeys(context.Background(), "ws")
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestEnsureBootstrapKeyRejectsWrongNature(t *testing.T) {
	keys := newKeyService(t)
	cfg := config.BootstrapConfig{WorkspaceKey: "SKK" + bootstrapKey[3:], WorkspaceOwner: "ws"}

	err := EnsureBootstrapKey(context.Background(), cfg, keys, zap.NewNop())
	assert.ErrorIs(t, err, identitykeydomain.ErrInvalidKeyPrefix)
}
