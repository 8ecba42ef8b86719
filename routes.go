package hostsdk

import (
	"sort"
	"sync"

	"github.com/relaydash/hostsdk/internal/wire"
)

// ActionHandler implements one action. It is handed an ActionContext
// giving it access to the transaction's IO client (for rendering
// component batches) and loading-state channel.
type ActionHandler func(actx *ActionContext) (any, error)

// PageHandler builds the concurrent Source a page session renders from.
type PageHandler func(pctx *PageContext) (PageSource, error)

// Route is either an Action or a Page; both can be registered into a
// Routes tree.
type Route interface {
	routeName() string
}

// Action is one leaf route: an operator-invocable action.
type Action struct {
	Name           string
	Description    string
	Unlisted       bool
	Backgroundable bool
	Access         *wire.AccessControl
	Handler        ActionHandler
}

func (a *Action) routeName() string { return a.Name }

// Page is a composite route: a group in the dashboard's navigation that
// may itself render content (via Handler) and/or contain nested routes.
type Page struct {
	Name        string
	Description string
	Unlisted    bool
	Access      *wire.AccessControl
	Handler     PageHandler

	mu     sync.Mutex
	routes map[string]Route
}

func (p *Page) routeName() string { return p.Name }

// Add registers route under slug within this page, replacing whatever
// was there before.
func (p *Page) Add(slug string, route Route) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.routes == nil {
		p.routes = make(map[string]Route)
	}
	p.routes[slug] = route
}

// Remove deletes the route registered under slug, if any.
func (p *Page) Remove(slug string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.routes, slug)
}

// Routes is the top-level route registry a Host walks on every
// (re)INITIALIZE_HOST. Grounded on Interval.Routes in the original
// implementation's main.py.
type Routes struct {
	mu       sync.Mutex
	entries  map[string]Route
	onChange func()
}

func newRoutes() *Routes {
	return &Routes{entries: make(map[string]Route)}
}

// Add registers a top-level route under slug.
func (r *Routes) Add(slug string, route Route) {
	r.mu.Lock()
	r.entries[slug] = route
	cb := r.onChange
	r.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Remove deletes the top-level route registered under slug, if any.
func (r *Routes) Remove(slug string) {
	r.mu.Lock()
	delete(r.entries, slug)
	cb := r.onChange
	r.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// flattened is the result of walking a Routes tree: definitions ready
// for INITIALIZE_HOST plus the handler tables keyed by fully qualified
// slug ("/"-joined path from the root).
type flattened struct {
	actions      []wire.ActionDefinition
	groups       []wire.PageDefinition
	actionByPath map[string]*Action
	pageByPath   map[string]*Page
}

func walkRoutes(r *Routes) flattened {
	out := flattened{
		actionByPath: make(map[string]*Action),
		pageByPath:   make(map[string]*Page),
	}

	r.mu.Lock()
	top := make(map[string]Route, len(r.entries))
	for k, v := range r.entries {
		top[k] = v
	}
	r.mu.Unlock()

	var walk func(groupSlug string, entries map[string]Route)
	walk = func(groupSlug string, entries map[string]Route) {
		slugs := make([]string, 0, len(entries))
		for s := range entries {
			slugs = append(slugs, s)
		}
		sort.Strings(slugs)

		for _, slug := range slugs {
			path := slug
			if groupSlug != "" {
				path = groupSlug + "/" + slug
			}

			switch route := entries[slug].(type) {
			case *Action:
				def := wire.ActionDefinition{
					Slug:           path,
					Name:           strOrNil(route.Name),
					Description:    strOrNil(route.Description),
					Backgroundable: route.Backgroundable,
					Unlisted:       route.Unlisted,
					Access:         route.Access,
				}
				if groupSlug != "" {
					g := groupSlug
					def.GroupSlug = &g
				}
				out.actions = append(out.actions, def)
				out.actionByPath[path] = route

			case *Page:
				out.groups = append(out.groups, wire.PageDefinition{
					Slug:        path,
					Name:        route.Name,
					Description: strOrNil(route.Description),
					HasHandler:  route.Handler != nil,
					Unlisted:    route.Unlisted,
					Access:      route.Access,
				})
				out.pageByPath[path] = route

				route.mu.Lock()
				children := make(map[string]Route, len(route.routes))
				for k, v := range route.routes {
					children[k] = v
				}
				route.mu.Unlock()
				walk(path, children)
			}
		}
	}

	walk("", top)
	return out
}

func strOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
