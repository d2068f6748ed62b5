package pipeline

import (
	"context"

	"chatbroker/internal/credential"
	"chatbroker/internal/identity"
	"chatbroker/internal/logging"
	"chatbroker/internal/messagecache"
	"chatbroker/internal/platform"
)

// PluginInvoker calls into the plugin host (internal/plugin). Declared as
// an interface here, not a concrete import, so internal/plugin can depend
// on internal/pipeline's Registry (to register plugin-provided filter and
// action types) without an import cycle.
type PluginInvoker interface {
	Invoke(ctx context.Context, plugin, method string, payload map[string]any) (map[string]any, error)
}

// AIResponder generates a chat reply for the ai_respond action. A
// concrete implementation lives outside this package for the same
// import-cycle reason as PluginInvoker.
type AIResponder interface {
	Respond(ctx context.Context, prompt string) (string, error)
}

// Services is the shared handle action and filter instances read from:
// the shared services handle. It is a plain struct of already-constructed collaborators,
// not a service locator: every field a built-in filter/action needs is
// named explicitly.
type Services struct {
	Platforms    *platform.Manager
	Identities   *identity.Resolver
	MessageCache *messagecache.Cache
	Credentials  *credential.Store
	Plugins      PluginInvoker
	AI           AIResponder
	Logger       logging.Logger
}
