package main

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/skilder-ai/identity/internal/audit"
	"github.com/skilder-ai/identity/internal/authorization"
	"github.com/skilder-ai/identity/internal/cache"
	"github.com/skilder-ai/identity/internal/clock"
	"github.com/skilder-ai/identity/internal/config"
	"github.com/skilder-ai/identity/internal/identitykey"
	"github.com/skilder-ai/identity/internal/migration"
	"github.com/skilder-ai/identity/internal/oauthstate"
	"github.com/skilder-ai/identity/internal/observability"
	"github.com/skilder-ai/identity/internal/ratelimit"
	"github.com/skilder-ai/identity/internal/seed"
	"github.com/skilder-ai/identity/internal/server"
	"github.com/skilder-ai/identity/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		cache.Module,
		clock.Module,
		migration.Module,

		// Functional Domains
		audit.Module,
		authorization.Module,
		identitykey.Module,
		oauthstate.Module,
		ratelimit.Module,
		seed.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.NodeID, err)
	}
	return node, nil
}
