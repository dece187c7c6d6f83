package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	identitykeydomain "github.com/skilder-ai/identity/internal/identitykey/domain"
	"github.com/stretchr/testify/mock"
)

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) Create(ctx context.Context, key *identitykeydomain.IdentityKey) (*identitykeydomain.IdentityKey, error) {
	args := m.Called(ctx, key)
	switch v := args.Get(0).(type) {
	case func(context.Context, *identitykeydomain.IdentityKey) *identitykeydomain.IdentityKey:
		return v(ctx, key), args.Error(1)
	case *identitykeydomain.IdentityKey:
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRepository) FindByKey(ctx context.Context, key string) (*identitykeydomain.IdentityKey, error) {
	args := m.Called(ctx, key)
	if v := args.Get(0); v != nil {
		return v.(*identitykeydomain.IdentityKey), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRepository) FindByOwner(ctx context.Context, owner string) ([]identitykeydomain.IdentityKey, error) {
	args := m.Called(ctx, owner)
	if v := args.Get(0); v != nil {
		return v.([]identitykeydomain.IdentityKey), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRepository) FindByID(ctx context.Context, id snowflake.ID) (*identitykeydomain.IdentityKey, error) {
	args := m.Called(ctx, id)
	if v := args.Get(0); v != nil {
		return v.(*identitykeydomain.IdentityKey), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRepository) Revoke(ctx context.Context, id snowflake.ID, at time.Time) (*identitykeydomain.IdentityKey, error) {
	args := m.Called(ctx, id, at)
	if v := args.Get(0); v != nil {
		return v.(*identitykeydomain.IdentityKey), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRepository) Delete(ctx context.Context, id snowflake.ID) (*identitykeydomain.IdentityKey, error) {
	args := m.Called(ctx, id)
	if v := args.Get(0); v != nil {
		return v.(*identitykeydomain.IdentityKey), args.Error(1)
	}
	return nil, args.Error(1)
}

// fixedRandom returns the same bytes on every read.
type fixedRandom struct {
	b byte
}

func (r fixedRandom) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = r.b
	}
	return len(p), nil
}
