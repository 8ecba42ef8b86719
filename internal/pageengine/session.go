// Package pageengine implements concurrent composite-layout rendering:
// a page's title, description, menu items and children are each
// evaluated independently, and every change is coalesced into a single
// in-flight SEND_PAGE at a time.
package pageengine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/relaydash/hostsdk/component"
	"github.com/relaydash/hostsdk/internal/ioengine"
)

// maxSendRetries bounds how many times sendLoop retries a failed
// SEND_PAGE before giving up on that snapshot, mirroring
// MAX_PAGE_RETRIES in the original implementation.
const maxSendRetries = 5

// MenuItem is one entry of a page's menu.
type MenuItem struct {
	Label  string `json:"label"`
	Slug   string `json:"slug,omitempty"`
	URL    string `json:"url,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

// ChildError records a failure evaluating one layout child, keyed by
// the layout key the original layout.py's PageError carries.
type ChildError struct {
	LayoutKey string
	Message   string
}

// Layout is the current rendered state of a page: a BASIC layout
// carrying an optional title/description/menu and, if the page has
// children, the whole in-flight render batch for them. Children is the
// complete ioengine.IORender (not just its component list), matching
// BasicLayoutModel.children: Optional[IORender] upstream — the
// dashboard needs inputGroupKey from that envelope to route a child's
// later IO_RESPONSE back to this render.
type Layout struct {
	Kind        string             `json:"kind"`
	Title       *string            `json:"title,omitempty"`
	Description *string            `json:"description,omitempty"`
	MenuItems   []MenuItem         `json:"menuItems,omitempty"`
	Children    *ioengine.IORender `json:"children,omitempty"`
	Errors      []ChildError       `json:"-"`
}

// SendFunc delivers one rendered Layout for pageKey, via SEND_PAGE.
type SendFunc func(ctx context.Context, pageKey string, layout Layout) error

// Source supplies the (possibly asynchronous) pieces of a page. Every
// field is optional; a nil field is simply omitted from the layout.
// Children are rendered as a single group through the page's IO client
// (render_components with no group validator or continue button,
// mirroring handle_page's render_task in the original), so they stay
// interactive: a child's SET_STATE/RETURN reaches it over the same
// IO_RESPONSE channel a transaction's components use.
type Source struct {
	Title       func(ctx context.Context) (string, error)
	Description func(ctx context.Context) (string, error)
	Menu        func(ctx context.Context) ([]MenuItem, error)
	Children    []component.Handle
}

// Session drives one open page: it evaluates Source concurrently,
// coalesces updates behind a dirty flag, and runs a single consumer
// goroutine that sends the latest snapshot whenever one is pending.
// Grounded on Page/_handle_change's debounce-and-coalesce pattern.
type Session struct {
	pageKey       string
	send          SendFunc
	retryInterval time.Duration
	logger        *slog.Logger
	io            *ioengine.IOClient

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	dirty   bool
	sending bool
	layout  Layout
}

// Open starts evaluating src and returns a Session. The returned
// Session's Close must be called once the dashboard closes the page.
// retryInterval is the delay between SEND_PAGE retries; a page whose
// snapshot still fails to send after maxSendRetries attempts is dropped
// and logged, matching "Unsuccessful sending page, max retries
// exceeded." upstream.
//
// io is the page's IO client, already constructed by the caller (so a
// PageHandler can be handed it before Source is known, the same way the
// original hands page_ctx a live client.io ahead of calling the
// handler). Open attaches it to the session and, if src has children,
// starts rendering them as one group.
func Open(parent context.Context, pageKey string, src Source, send SendFunc, retryInterval time.Duration, logger *slog.Logger, io *ioengine.IOClient) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Session{pageKey: pageKey, send: send, retryInterval: retryInterval, logger: logger, io: io, ctx: ctx, cancel: cancel}
	s.layout.Kind = "BASIC"

	if len(src.Children) > 0 && io != nil {
		children := src.Children
		s.evalInto(func(ctx context.Context) {
			if err := io.RenderComponents(ctx, children, nil, nil); err != nil {
				s.update(func(l *Layout) {
					l.Errors = append(l.Errors, ChildError{LayoutKey: "children", Message: err.Error()})
				})
				return
			}
			s.logger.Debug("pageengine: initial children render complete", "page_key", pageKey)
		})
	}

	if src.Title != nil {
		s.evalInto(func(ctx context.Context) {
			v, err := src.Title(ctx)
			s.update(func(l *Layout) {
				if err != nil {
					l.Errors = append(l.Errors, ChildError{LayoutKey: "title", Message: err.Error()})
					return
				}
				l.Title = &v
			})
		})
	}
	if src.Description != nil {
		s.evalInto(func(ctx context.Context) {
			v, err := src.Description(ctx)
			s.update(func(l *Layout) {
				if err != nil {
					l.Errors = append(l.Errors, ChildError{LayoutKey: "description", Message: err.Error()})
					return
				}
				l.Description = &v
			})
		})
	}
	if src.Menu != nil {
		s.evalInto(func(ctx context.Context) {
			v, err := src.Menu(ctx)
			s.update(func(l *Layout) {
				if err != nil {
					l.Errors = append(l.Errors, ChildError{LayoutKey: "menuItems", Message: err.Error()})
					return
				}
				l.MenuItems = v
			})
		})
	}
	return s
}

// IO returns the session's IO client, or nil if none was supplied to
// Open. Used by the host controller to route an inbound IO_RESPONSE
// keyed by this page's page_key.
func (s *Session) IO() *ioengine.IOClient {
	return s.io
}

// DeliverChildrenRender merges a children render batch from the page's
// IO client into the current layout snapshot and schedules a SEND_PAGE,
// mirroring handle_send in the original (render_instruction is
// overwritten and a send is (re)triggered, never blocking the IO
// client's own render() caller).
func (s *Session) DeliverChildrenRender(render ioengine.IORender) {
	r := render
	s.update(func(l *Layout) {
		l.Children = &r
	})
}

func (s *Session) evalInto(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

// update applies mutate under the lock, marks the snapshot dirty, and
// kicks off sendLoop if no send is currently in flight. Exactly one
// sendLoop runs at a time per Session; a change that arrives mid-send
// is picked up by the loop's own re-check rather than spawning another
// goroutine.
func (s *Session) update(mutate func(*Layout)) {
	s.mu.Lock()
	mutate(&s.layout)
	s.dirty = true
	shouldStart := !s.sending
	if shouldStart {
		s.sending = true
	}
	s.mu.Unlock()

	if shouldStart {
		go s.sendLoop()
	}
}

func (s *Session) sendLoop() {
	for {
		s.mu.Lock()
		if !s.dirty {
			s.sending = false
			s.mu.Unlock()
			return
		}
		s.dirty = false
		snapshot := s.layout
		s.mu.Unlock()

		if !s.sendWithRetry(snapshot) {
			s.mu.Lock()
			s.sending = false
			s.mu.Unlock()
			return
		}
	}
}

// sendWithRetry attempts to deliver snapshot up to maxSendRetries times,
// sleeping retryInterval between attempts. It reports whether the send
// eventually succeeded; the caller stops the loop on failure the same
// way it stops on ctx cancellation.
func (s *Session) sendWithRetry(snapshot Layout) bool {
	for attempt := 1; attempt <= maxSendRetries; attempt++ {
		err := s.send(s.ctx, s.pageKey, snapshot)
		if err == nil {
			return true
		}
		if s.ctx.Err() != nil {
			return false
		}
		s.logger.Debug("pageengine: send_page failed, retrying", "page_key", s.pageKey, "attempt", attempt, "error", err)
		if attempt == maxSendRetries {
			break
		}
		select {
		case <-time.After(s.retryInterval):
		case <-s.ctx.Done():
			return false
		}
	}
	s.logger.Error("pageengine: send_page failed, max retries exceeded", "page_key", s.pageKey)
	return false
}

// Close cancels every in-flight evaluation and waits for them to exit.
// It does not send a final layout; the caller is responsible for
// telling the dashboard the page closed (CLOSE_PAGE is driven by the
// host controller, not the session).
func (s *Session) Close() {
	s.cancel()
	s.wg.Wait()
}
