package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	identitykeydomain "github.com/skilder-ai/identity/internal/identitykey/domain"
	"github.com/skilder-ai/identity/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct {
	db *gorm.DB
}

func Provide(conn *gorm.DB) identitykeydomain.Repository {
	return &repo{db: conn}
}

func (r *repo) Create(ctx context.Context, key *identitykeydomain.IdentityKey) (*identitykeydomain.IdentityKey, error) {
	if err := r.db.WithContext(ctx).Create(key).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, identitykeydomain.ErrKeyCollision
		}
		return nil, err
	}
	return key, nil
}

func (r *repo) FindByKey(ctx context.Context, key string) (*identitykeydomain.IdentityKey, error) {
	return r.findOne(ctx, clause.Eq{Column: clause.Column{Name: "key"}, Value: key})
}

func (r *repo) FindByOwner(ctx context.Context, ownerReference string) ([]identitykeydomain.IdentityKey, error) {
	keys := []identitykeydomain.IdentityKey{}
	err := r.db.WithContext(ctx).
		Where("related_id = ?", ownerReference).
		Order("created_at DESC").
		Order("id DESC").
		Find(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *repo) FindByID(ctx context.Context, id snowflake.ID) (*identitykeydomain.IdentityKey, error) {
	return r.findOne(ctx, clause.Eq{Column: clause.Column{Name: "id"}, Value: id})
}

// Revoke stamps revoked_at once; revoking an already revoked key keeps the
// original timestamp.
func (r *repo) Revoke(ctx context.Context, id snowflake.ID, at time.Time) (*identitykeydomain.IdentityKey, error) {
	var revoked *identitykeydomain.IdentityKey
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&identitykeydomain.IdentityKey{}).
			Where("id = ? AND revoked_at IS NULL", id).
			Update("revoked_at", at.UTC()).Error; err != nil {
			return err
		}

		var key identitykeydomain.IdentityKey
		err := tx.Where("id = ?", id).First(&key).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return identitykeydomain.ErrNotFound
		}
		if err != nil {
			return err
		}
		revoked = &key
		return nil
	})
	if err != nil {
		return nil, err
	}
	return revoked, nil
}

func (r *repo) Delete(ctx context.Context, id snowflake.ID) (*identitykeydomain.IdentityKey, error) {
	var deleted identitykeydomain.IdentityKey
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("id = ?", id).First(&deleted).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return identitykeydomain.ErrNotFound
		}
		if err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&identitykeydomain.IdentityKey{}).Error
	})
	if err != nil {
		return nil, err
	}
	return &deleted, nil
}

func (r *repo) findOne(ctx context.Context, cond clause.Expression) (*identitykeydomain.IdentityKey, error) {
	var key identitykeydomain.IdentityKey
	err := r.db.WithContext(ctx).Where(cond).Limit(1).Find(&key).Error
	if err != nil {
		return nil, err
	}
	if key.ID == 0 {
		return nil, nil
	}
	return &key, nil
}
