package hostsdk

import (
	"context"

	"github.com/relaydash/hostsdk/internal/ioengine"
	"github.com/relaydash/hostsdk/internal/loading"
	"github.com/relaydash/hostsdk/internal/pageengine"
	"github.com/relaydash/hostsdk/internal/wire"
)

// PageSource is the concurrent title/description/menu/children
// description a PageHandler returns; an alias of pageengine.Source so
// callers never need to import internal/pageengine directly.
type PageSource = pageengine.Source

// MenuItem is one entry of a page's menu; an alias of
// pageengine.MenuItem.
type MenuItem = pageengine.MenuItem

// ActionContext is handed to every ActionHandler invocation.
type ActionContext struct {
	context.Context

	Action      wire.ActionInfo
	User        wire.ContextUser
	Params      map[string]any
	Environment wire.ActionEnvironment

	// IO renders component batches and collects their responses.
	IO *ioengine.IOClient
	// Loading reports progress before the first render batch (or
	// between long-running steps).
	Loading *loading.State
}

// PageContext is handed to every PageHandler invocation.
type PageContext struct {
	context.Context

	Page        wire.PageInfo
	User        wire.ContextUser
	Params      map[string]any
	Environment wire.ActionEnvironment

	// IO renders component batches ad hoc, independent of the
	// PageSource.Children the handler returns. Live for the lifetime of
	// the page, the same way a transaction's ActionContext.IO is live
	// for the lifetime of the action.
	IO *ioengine.IOClient
}
