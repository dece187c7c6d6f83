package seed

import (
	"context"
	"errors"

	"github.com/skilder-ai/identity/internal/config"
	identitykeydomain "github.com/skilder-ai/identity/internal/identitykey/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const bootstrapDescription = "bootstrap workspace key"

var Module = fx.Module("seed",
	fx.Invoke(func(lc fx.Lifecycle, cfg config.Config, keys identitykeydomain.Service, log *zap.Logger) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return EnsureBootstrapKey(ctx, cfg.Bootstrap, keys, log)
			},
		})
	}),
)

// EnsureBootstrapKey imports the configured workspace key unless it is
// already stored.
func EnsureBootstrapKey(ctx context.Context, cfg config.BootstrapConfig, keys identitykeydomain.Service, log *zap.Logger) error {
	if !cfg.Enabled() {
		return nil
	}
	log = log.Named("seed")

	key, err := keys.CreateKey(ctx, identitykeydomain.CreateRequest{
		Nature:         identitykeydomain.NatureWorkspace,
		OwnerReference: cfg.WorkspaceOwner,
		Description:    bootstrapDescription,
		Key:            cfg.WorkspaceKey,
	})
	if errors.Is(err, identitykeydomain.ErrKeyCollision) {
		log.Info("bootstrap workspace key already present", zap.String("owner_reference", cfg.WorkspaceOwner))
		return nil
	}
	if err != nil {
		return err
	}

	log.Info("bootstrap workspace key imported",
		zap.String("key_id", key.ID.String()),
		zap.String("owner_reference", key.RelatedID),
	)
	return nil
}
