package identitykey

import (
	"github.com/skilder-ai/identity/internal/identitykey/repository"
	"github.com/skilder-ai/identity/internal/identitykey/service"
	"go.uber.org/fx"
)

var Module = fx.Module("identitykey.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
