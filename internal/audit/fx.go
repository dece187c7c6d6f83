package audit

import (
	"github.com/skilder-ai/identity/internal/audit/repository"
	"github.com/skilder-ai/identity/internal/audit/service"
	"go.uber.org/fx"
)

// Module records and lists key lifecycle audit entries.
var Module = fx.Module("audit",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
