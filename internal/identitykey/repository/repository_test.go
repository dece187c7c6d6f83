package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	identitykeydomain "github.com/skilder-ai/identity/internal/identitykey/domain"
	"github.com/skilder-ai/identity/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) (identitykeydomain.Repository, *snowflake.Node) {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&identitykeydomain.IdentityKey{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return Provide(conn), node
}

func newKey(node *snowflake.Node, key, owner string, createdAt time.Time) *identitykeydomain.IdentityKey {
	return &identitykeydomain.IdentityKey{
		ID:        node.Generate(),
		Key:       key,
		RelatedID: owner,
		Nature:    identitykeydomain.NatureWorkspace,
		CreatedAt: createdAt,
	}
}

func TestCreateAndFind(t *testing.T) {
	repo, node := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	created, err := repo.Create(ctx, newKey(node, "WSK-first-key-value-000000000000000000000000", "ws-1", now))
	require.NoError(t, err)

	byKey, err := repo.FindByKey(ctx, created.Key)
	require.NoError(t, err)
	require.NotNil(t, byKey)
	assert.Equal(t, created.ID, byKey.ID)
	assert.Equal(t, "ws-1", byKey.RelatedID)

	byID, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, created.Key, byID.Key)
}

func TestFindAbsentReturnsNil(t *testing.T) {
	repo, node := newTestRepo(t)
	ctx := context.Background()

	byKey, err := repo.FindByKey(ctx, "WSK-missing")
	require.NoError(t, err)
	assert.Nil(t, byKey)

	byID, err := repo.FindByID(ctx, node.Generate())
	require.NoError(t, err)
	assert.Nil(t, byID)

	byOwner, err := repo.FindByOwner(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, byOwner)
	assert.Empty(t, byOwner)
}

func TestCreateDuplicateKeyIsCollision(t *testing.T) {
	repo, node := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := repo.Create(ctx, newKey(node, "WSK-dup", "ws-1", now))
	require.NoError(t, err)

	_, err = repo.Create(ctx, newKey(node, "WSK-dup", "ws-2", now))
	assert.ErrorIs(t, err, identitykeydomain.ErrKeyCollision)
}

func TestFindByOwnerIncludesRevoked(t *testing.T) {
	repo, node := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	older, err := repo.Create(ctx, newKey(node, "WSK-older", "ws-1", base))
	require.NoError(t, err)
	_, err = repo.Create(ctx, newKey(node, "WSK-newer", "ws-1", base.Add(time.Hour)))
	require.NoError(t, err)
	_, err = repo.Create(ctx, newKey(node, "WSK-other", "ws-2", base))
	require.NoError(t, err)

	_, err = repo.Revoke(ctx, older.ID, base.Add(2*time.Hour))
	require.NoError(t, err)

	keys, err := repo.FindByOwner(ctx, "ws-1")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "WSK-newer", keys[0].Key)
	assert.Equal(t, "WSK-older", keys[1].Key)
	assert.NotNil(t, keys[1].RevokedAt)
}

func TestRevokeIsMonotonic(t *testing.T) {
	repo, node := newTestRepo(t)
	ctx := context.Background()
	first := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	key, err := repo.Create(ctx, newKey(node, "WSK-revoke", "ws-1", first))
	require.NoError(t, err)

	revoked, err := repo.Revoke(ctx, key.ID, first.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, revoked.RevokedAt)
	assert.True(t, revoked.RevokedAt.Equal(first.Add(time.Minute)))

	again, err := repo.Revoke(ctx, key.ID, first.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, again.RevokedAt)
	assert.True(t, again.RevokedAt.Equal(first.Add(time.Minute)))
	assert.Equal(t, "WSK-revoke", again.Key)
}

func TestRevokeAndDeleteAbsent(t *testing.T) {
	repo, node := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Revoke(ctx, node.Generate(), time.Now())
	assert.ErrorIs(t, err, identitykeydomain.ErrNotFound)

	_, err = repo.Delete(ctx, node.Generate())
	assert.ErrorIs(t, err, identitykeydomain.ErrNotFound)
}

func TestDelete(t *testing.T) {
	repo, node := newTestRepo(t)
	ctx := context.Background()

	key, err := repo.Create(ctx, newKey(node, "WSK-delete", "ws-1", time.Now().UTC()))
	require.NoError(t, err)

	deleted, err := repo.Delete(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, key.ID, deleted.ID)
	assert.Equal(t, "ws-1", deleted.RelatedID)

	found, err := repo.FindByID(ctx, key.ID)
	require.NoError(t, err)
	assert.Nil(t, found)
}
