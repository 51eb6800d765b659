package sentrykit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/your-org/sentrykit/internal/clientreport"
	"github.com/your-org/sentrykit/internal/ratelimit"
)

// layer is one (client, scope) entry of a hub stack.
type layer struct {
	client *Client
	scope  *Scope
}

// Hub holds a non-empty stack of (client, scope) layers. It is internally
// synchronized, but two goroutines sharing one hub will observe interleaved
// scope state; the sanctioned pattern is one hub per goroutine via Clone.
type Hub struct {
	mu          sync.RWMutex
	stack       []*layer
	lastEventID EventID
	configuring atomic.Bool
}

// currentHub is the process-wide main hub.
var currentHub = NewHub(nil, NewScope())

// CurrentHub returns the process-wide main hub.
func CurrentHub() *Hub {
	return currentHub
}

// NewHub creates a hub with a single layer.
func NewHub(client *Client, scope *Scope) *Hub {
	if scope == nil {
		scope = NewScope()
	}
	return &Hub{stack: []*layer{{client: client, scope: scope}}}
}

// Clone produces a fresh hub whose single layer copies this hub's top
// (client, scope). This is the sanctioned way to migrate context across
// goroutine boundaries.
func (h *Hub) Clone() *Hub {
	h.mu.RLock()
	top := h.stack[len(h.stack)-1]
	h.mu.RUnlock()
	return NewHub(top.client, top.scope.Clone())
}

func (h *Hub) top() *layer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stack[len(h.stack)-1]
}

// Client returns the client bound to the top layer, or nil.
func (h *Hub) Client() *Client {
	return h.top().client
}

// Scope returns the top scope.
func (h *Hub) Scope() *Scope {
	return h.top().scope
}

// BindClient installs a client on the top layer.
func (h *Hub) BindClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stack[len(h.stack)-1].client = client
}

// ScopeGuard pops the scope it guards exactly once. Guards must be released
// in LIFO order; releasing one out of order clears the offending scope
// instead of corrupting the stack.
type ScopeGuard struct {
	hub   *Hub
	layer *layer
	once  sync.Once
}

// Done releases the guard.
func (g *ScopeGuard) Done() {
	g.once.Do(func() {
		g.hub.popLayer(g.layer)
	})
}

// PushScope duplicates the top scope onto a new layer and returns the guard
// that pops it.
func (h *Hub) PushScope() *ScopeGuard {
	h.mu.Lock()
	defer h.mu.Unlock()

	top := h.stack[len(h.stack)-1]
	pushed := &layer{client: top.client, scope: top.scope.Clone()}
	h.stack = append(h.stack, pushed)
	return &ScopeGuard{hub: h, layer: pushed}
}

// PopScope removes the top layer. On depth one it clears the top scope
// instead, so the stack is never empty.
func (h *Hub) PopScope() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.stack) > 1 {
		h.stack = h.stack[:len(h.stack)-1]
		return
	}
	h.stack[0].scope.Clear()
}

// popLayer implements guard release, degrading gracefully when guards are
// released out of order.
func (h *Hub) popLayer(target *layer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.stack) > 1 && h.stack[len(h.stack)-1] == target {
		h.stack = h.stack[:len(h.stack)-1]
		return
	}
	// The guarded layer is not on top (or is the base): clear it rather
	// than disturbing layers owned by inner guards.
	target.scope.Clear()
}

// WithScope pushes a scope for the duration of f.
func (h *Hub) WithScope(f func(scope *Scope)) {
	guard := h.PushScope()
	defer guard.Done()
	f(guard.layer.scope)
}

// ConfigureScope hands the top scope to f. Re-entrant calls on the same hub
// are detected and dropped with a debug log; the library never panics the
// host over them.
func (h *Hub) ConfigureScope(f func(scope *Scope)) {
	if !h.configuring.CompareAndSwap(false, true) {
		if client := h.Client(); client != nil {
			client.logger.Debug("ConfigureScope called re-entrantly, ignoring")
		}
		return
	}
	defer h.configuring.Store(false)
	f(h.Scope())
}

// CaptureEvent forwards to the bound client. The event ID is returned even
// when the event is dropped inside the pipeline.
func (h *Hub) CaptureEvent(event *Event) EventID {
	top := h.top()
	if top.client == nil {
		return ""
	}
	eventID := top.client.CaptureEvent(event, top.scope)
	h.setLastEventID(eventID)
	return eventID
}

// CaptureMessage captures a plain message at the given level.
func (h *Hub) CaptureMessage(message string, level Level) EventID {
	top := h.top()
	if top.client == nil {
		return ""
	}
	eventID := top.client.CaptureMessage(message, level, top.scope)
	h.setLastEventID(eventID)
	return eventID
}

// CaptureError captures an error and its source chain.
func (h *Hub) CaptureError(err error) EventID {
	top := h.top()
	if top.client == nil || err == nil {
		return ""
	}
	eventID := top.client.CaptureError(err, top.scope)
	h.setLastEventID(eventID)
	return eventID
}

// CaptureLog appends a structured log record.
func (h *Hub) CaptureLog(log Log) {
	top := h.top()
	if top.client != nil {
		top.client.CaptureLog(log, top.scope)
	}
}

func (h *Hub) setLastEventID(id EventID) {
	if id == "" {
		return
	}
	h.mu.Lock()
	h.lastEventID = id
	h.mu.Unlock()
}

// LastEventID returns the most recent event ID captured on this hub.
func (h *Hub) LastEventID() EventID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastEventID
}

// AddBreadcrumb records a breadcrumb on the top scope, after running it
// through BeforeBreadcrumb; the callback's return value replaces the
// original, nil discards.
func (h *Hub) AddBreadcrumb(breadcrumb *Breadcrumb) {
	top := h.top()
	limit := defaultMaxBreadcrumbs
	if top.client != nil {
		options := top.client.Options()
		limit = options.MaxBreadcrumbs
		if options.BeforeBreadcrumb != nil {
			breadcrumb = options.BeforeBreadcrumb(breadcrumb)
			if breadcrumb == nil {
				top.client.outcomes.Record(clientreport.ReasonBeforeBreadcrumb, ratelimit.CategoryError, 1)
				return
			}
		}
	}
	top.scope.AddBreadcrumb(breadcrumb, limit)
}

// StartTransaction constructs a transaction from the given context; the
// trace linkage and sampling decision come from the context when it was
// continued from incoming headers, or are generated fresh.
func (h *Hub) StartTransaction(ctx *TransactionContext) *Transaction {
	return startTransaction(h, ctx)
}

// StartSession starts a release health session on the top scope.
func (h *Hub) StartSession() {
	top := h.top()
	if top.client == nil {
		return
	}
	options := top.client.Options()
	if options.Release == "" {
		top.client.logger.Debug("will not start session without a release")
		return
	}

	session := newSession(top.scope.User().distinctID(), options)
	previous := top.scope.getSession()
	top.scope.setSession(session)
	if previous != nil {
		previous.close(SessionStatusExited)
		if update := previous.takeUpdate(); update != nil {
			top.client.enqueueSession(*update)
		}
	}
	if update := session.takeUpdate(); update != nil {
		top.client.enqueueSession(*update)
	}
}

// EndSession exits the current session cleanly.
func (h *Hub) EndSession() {
	h.EndSessionWithStatus(SessionStatusExited)
}

// EndSessionWithStatus ends the current session in the given terminal state.
func (h *Hub) EndSessionWithStatus(status SessionStatus) {
	top := h.top()
	if top.client == nil {
		return
	}
	session := top.scope.getSession()
	top.scope.setSession(nil)
	if session == nil {
		return
	}
	session.close(status)
	if update := session.takeUpdate(); update != nil {
		top.client.enqueueSession(*update)
	}
}

// Flush drains the client with the given deadline.
func (h *Hub) Flush(timeout time.Duration) bool {
	if client := h.Client(); client != nil {
		return client.Flush(timeout)
	}
	return true
}

type hubContextKey struct{}

// SetHubOnContext binds a hub to the context for the duration of the work
// derived from it.
func SetHubOnContext(ctx context.Context, hub *Hub) context.Context {
	return context.WithValue(ctx, hubContextKey{}, hub)
}

// GetHubFromContext returns the hub bound to the context, if any.
func GetHubFromContext(ctx context.Context) (*Hub, bool) {
	hub, ok := ctx.Value(hubContextKey{}).(*Hub)
	return hub, ok
}

// HubFromContext returns the hub bound to the context, falling back to the
// process-wide main hub.
func HubFromContext(ctx context.Context) *Hub {
	if hub, ok := GetHubFromContext(ctx); ok {
		return hub
	}
	return currentHub
}
