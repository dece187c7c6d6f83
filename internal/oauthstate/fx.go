package oauthstate

import "go.uber.org/fx"

var Module = fx.Module("oauthstate",
	fx.Provide(newNonceStore),
	fx.Provide(NewProviderRegistry),
	fx.Provide(New),
)
