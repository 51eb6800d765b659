package sentrykit

import (
	"sync"
	"time"
)

const defaultMaxBreadcrumbs = 100

// EventProcessor inspects or transforms an event; returning nil drops it.
type EventProcessor func(event *Event) *Event

// PropagationContext is the trace linkage a scope carries even when no
// transaction is active, so cross-service requests can be tied together.
type PropagationContext struct {
	TraceID TraceID
	SpanID  SpanID
}

func newPropagationContext() PropagationContext {
	return PropagationContext{
		TraceID: newTraceID(),
		SpanID:  newSpanID(),
	}
}

// Scope is the mutable contextual overlay merged into outgoing events.
// Cloning yields independent mutability; mutations on one clone never show
// through another.
type Scope struct {
	mu sync.RWMutex

	level       Level
	transaction string
	fingerprint []string
	user        User
	tags        map[string]string
	extra       map[string]any
	contexts    map[string]Context
	breadcrumbs []*Breadcrumb
	processors  []EventProcessor
	attachments []*Attachment
	span        *Span
	propagation PropagationContext
	session     *session
}

// NewScope creates an empty scope with a fresh propagation context.
func NewScope() *Scope {
	return &Scope{
		tags:        make(map[string]string),
		extra:       make(map[string]any),
		contexts:    make(map[string]Context),
		propagation: newPropagationContext(),
	}
}

// Clone returns an independently mutable copy of the scope.
func (s *Scope) Clone() *Scope {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clone := &Scope{
		level:       s.level,
		transaction: s.transaction,
		user:        s.user,
		tags:        make(map[string]string, len(s.tags)),
		extra:       make(map[string]any, len(s.extra)),
		contexts:    make(map[string]Context, len(s.contexts)),
		propagation: s.propagation,
		span:        s.span,
		session:     s.session,
	}
	if s.fingerprint != nil {
		clone.fingerprint = append([]string(nil), s.fingerprint...)
	}
	for k, v := range s.tags {
		clone.tags[k] = v
	}
	for k, v := range s.extra {
		clone.extra[k] = v
	}
	for k, v := range s.contexts {
		clone.contexts[k] = v
	}
	clone.breadcrumbs = append([]*Breadcrumb(nil), s.breadcrumbs...)
	clone.processors = append([]EventProcessor(nil), s.processors...)
	clone.attachments = append([]*Attachment(nil), s.attachments...)
	return clone
}

// SetLevel overrides the level of events finalized through this scope.
func (s *Scope) SetLevel(level Level) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level = level
}

// SetTransaction sets the transaction name applied to events.
func (s *Scope) SetTransaction(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transaction = name
}

// Transaction returns the transaction name on the scope.
func (s *Scope) Transaction() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transaction
}

// SetUser sets the user applied to events lacking one.
func (s *Scope) SetUser(user User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user
}

// User returns the user on the scope.
func (s *Scope) User() User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// SetFingerprint overrides the grouping fingerprint.
func (s *Scope) SetFingerprint(fingerprint []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fingerprint = append([]string(nil), fingerprint...)
}

// SetTag upserts a tag.
func (s *Scope) SetTag(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags[key] = value
}

// RemoveTag erases a tag.
func (s *Scope) RemoveTag(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tags, key)
}

// SetContext upserts a named context block.
func (s *Scope) SetContext(key string, ctx Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[key] = ctx
}

// RemoveContext erases a named context block.
func (s *Scope) RemoveContext(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, key)
}

// SetExtra upserts an extra value.
func (s *Scope) SetExtra(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extra[key] = value
}

// RemoveExtra erases an extra value.
func (s *Scope) RemoveExtra(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.extra, key)
}

// AddBreadcrumb appends a breadcrumb, dropping from the front once the count
// exceeds limit.
func (s *Scope) AddBreadcrumb(breadcrumb *Breadcrumb, limit int) {
	if breadcrumb == nil {
		return
	}
	if breadcrumb.Timestamp.IsZero() {
		breadcrumb.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.breadcrumbs = append(s.breadcrumbs, breadcrumb)
	if len(s.breadcrumbs) > limit {
		s.breadcrumbs = s.breadcrumbs[len(s.breadcrumbs)-limit:]
	}
}

// ClearBreadcrumbs drops all breadcrumbs.
func (s *Scope) ClearBreadcrumbs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breadcrumbs = nil
}

// AddEventProcessor appends a processor invoked in insertion order when the
// scope is applied.
func (s *Scope) AddEventProcessor(processor EventProcessor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processors = append(s.processors, processor)
}

// AddAttachment appends an attachment shipped with every event finalized
// through this scope.
func (s *Scope) AddAttachment(attachment *Attachment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachments = append(s.attachments, attachment)
}

// SetSpan replaces the active span used for trace context attachment.
func (s *Scope) SetSpan(span *Span) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.span = span
}

// Span returns the active span, or nil.
func (s *Scope) Span() *Span {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.span
}

// setSession installs a session on this scope only; clones derived earlier
// or later keep whatever session reference they carry.
func (s *Scope) setSession(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = sess
}

// getSession returns the session on this scope, or nil.
func (s *Scope) getSession() *session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// PropagationContext returns the trace linkage minted when the scope was
// created.
func (s *Scope) PropagationContext() PropagationContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.propagation
}

// Clear restores the scope to its empty state. The propagation context is
// re-minted; the session, if any, stays.
func (s *Scope) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level = ""
	s.transaction = ""
	s.fingerprint = nil
	s.user = User{}
	s.tags = make(map[string]string)
	s.extra = make(map[string]any)
	s.contexts = make(map[string]Context)
	s.breadcrumbs = nil
	s.processors = nil
	s.attachments = nil
	s.span = nil
	s.propagation = newPropagationContext()
}

// ApplyToEvent merges the scope into the event. The order is contractual:
// breadcrumbs, default maps, user, transaction, level, fingerprint,
// attachments, trace context, then event processors. A processor returning
// nil drops the event and short-circuits.
func (s *Scope) ApplyToEvent(event *Event, maxBreadcrumbs int) *Event {
	s.mu.RLock()

	event.Breadcrumbs = append(event.Breadcrumbs, s.breadcrumbs...)
	if len(event.Breadcrumbs) > maxBreadcrumbs {
		event.Breadcrumbs = event.Breadcrumbs[len(event.Breadcrumbs)-maxBreadcrumbs:]
	}

	// Scope values are defaults: the event wins where it already has one.
	if event.Tags == nil {
		event.Tags = make(map[string]string, len(s.tags))
	}
	for k, v := range s.tags {
		if _, ok := event.Tags[k]; !ok {
			event.Tags[k] = v
		}
	}
	if event.Contexts == nil {
		event.Contexts = make(map[string]Context, len(s.contexts))
	}
	for k, v := range s.contexts {
		if _, ok := event.Contexts[k]; !ok {
			event.Contexts[k] = v
		}
	}
	if event.Extra == nil {
		event.Extra = make(map[string]any, len(s.extra))
	}
	for k, v := range s.extra {
		if _, ok := event.Extra[k]; !ok {
			event.Extra[k] = v
		}
	}

	if event.User == nil && !s.user.IsEmpty() {
		user := s.user
		event.User = &user
	}
	if event.Transaction == "" && s.transaction != "" {
		event.Transaction = s.transaction
	}
	if event.Level == "" && s.level != "" {
		event.Level = s.level
	}
	if event.Fingerprint == nil && s.fingerprint != nil {
		event.Fingerprint = append([]string(nil), s.fingerprint...)
	}

	event.attachments = append(event.attachments, s.attachments...)

	if s.span != nil {
		event.setTraceContext(s.span.traceContext())
	} else {
		event.setTraceContext(TraceContext{
			TraceID: s.propagation.TraceID,
			SpanID:  s.propagation.SpanID,
		})
	}

	processors := s.processors
	s.mu.RUnlock()

	for _, processor := range processors {
		event = processor(event)
		if event == nil {
			return nil
		}
	}
	return event
}
