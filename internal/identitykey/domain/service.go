package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Repository persists identity keys. Lookups return nil, nil when the
// record is absent; mutations on an absent id return ErrNotFound.
type Repository interface {
	Create(ctx context.Context, key *IdentityKey) (*IdentityKey, error)
	FindByKey(ctx context.Context, key string) (*IdentityKey, error)
	FindByOwner(ctx context.Context, ownerReference string) ([]IdentityKey, error)
	FindByID(ctx context.Context, id snowflake.ID) (*IdentityKey, error)
	Revoke(ctx context.Context, id snowflake.ID, at time.Time) (*IdentityKey, error)
	Delete(ctx context.Context, id snowflake.ID) (*IdentityKey, error)
}

type Service interface {
	CreateKey(ctx context.Context, req CreateRequest) (*IdentityKey, error)
	FindKey(ctx context.Context, raw string) (*ResolvedIdentity, error)
	ListKeys(ctx context.Context, ownerReference string) ([]Response, error)
	GetKey(ctx context.Context, id string) (*Response, error)
	RevokeKey(ctx context.Context, id string) (*Response, error)
	DeleteKey(ctx context.Context, id string) (*Response, error)
}

type CreateRequest struct {
	Nature         Nature `json:"nature"`
	OwnerReference string `json:"owner_reference"`
	Description    string `json:"description"`
	Permissions    string `json:"permissions"`
	// Key imports an existing key instead of generating one.
	Key string `json:"key,omitempty"`
}

// Response is the listing view of a key. The secret is never echoed back.
type Response struct {
	ID             string     `json:"id"`
	Nature         Nature     `json:"nature"`
	OwnerReference string     `json:"owner_reference"`
	Description    string     `json:"description"`
	Permissions    string     `json:"permissions"`
	KeyHint        string     `json:"key_hint"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      *time.Time `json:"expires_at"`
	RevokedAt      *time.Time `json:"revoked_at"`
}

// SecretResponse is returned once, at creation time.
type SecretResponse struct {
	Response
	Key string `json:"key"`
}
