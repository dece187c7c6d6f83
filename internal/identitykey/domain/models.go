package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// IdentityKey stores a bearer credential issued to a workspace, runtime or skill.
type IdentityKey struct {
	ID          snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	Key         string       `gorm:"column:key;type:text;not null;uniqueIndex:ux_identity_keys_key"`
	RelatedID   string       `gorm:"column:related_id;type:text;not null;index:ix_identity_keys_related_id"`
	Nature      Nature       `gorm:"column:nature;type:text;not null"`
	Description string       `gorm:"column:description;type:text;not null;default:''"`
	Permissions string       `gorm:"column:permissions;type:text;not null;default:''"`
	CreatedAt   time.Time    `gorm:"column:created_at;not null"`
	ExpiresAt   *time.Time   `gorm:"column:expires_at"`
	RevokedAt   *time.Time   `gorm:"column:revoked_at"`
}

// TableName sets the database table name.
func (IdentityKey) TableName() string { return "identity_keys" }

func (k *IdentityKey) Revoked() bool {
	return k.RevokedAt != nil
}

// ExpiredAt reports whether the key is past its expiry at the given instant.
func (k *IdentityKey) ExpiredAt(now time.Time) bool {
	if k.ExpiresAt == nil {
		return false
	}
	return !now.Before(*k.ExpiresAt)
}

// ToResponse builds the listing view. Only a hint of the secret is kept:
// the prefix and the last four characters.
func (k *IdentityKey) ToResponse() Response {
	return Response{
		ID:             k.ID.String(),
		Nature:         k.Nature,
		OwnerReference: k.RelatedID,
		Description:    k.Description,
		Permissions:    k.Permissions,
		KeyHint:        keyHint(k.Key),
		CreatedAt:      k.CreatedAt,
		ExpiresAt:      k.ExpiresAt,
		RevokedAt:      k.RevokedAt,
	}
}

func keyHint(key string) string {
	if len(key) <= PrefixLength+4 {
		return key
	}
	return key[:PrefixLength] + "..." + key[len(key)-4:]
}

// ResolvedIdentity is the caller identity derived from a validated key.
// It is computed on every validation and never cached.
type ResolvedIdentity struct {
	OwnerReference string `json:"owner_reference"`
	Nature         Nature `json:"nature"`
	KeyID          string `json:"key_id"`
}
