package sentrykit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScope_CloneIsIndependent(t *testing.T) {
	scope := NewScope()
	scope.SetTag("shared", "yes")

	clone := scope.Clone()
	clone.SetTag("foo", "bar")
	clone.SetLevel(LevelWarning)
	clone.AddBreadcrumb(&Breadcrumb{Message: "cloned"}, 10)

	event := NewEvent()
	event = scope.ApplyToEvent(event, 10)
	require.NotNil(t, event)

	assert.Equal(t, "yes", event.Tags["shared"])
	assert.NotContains(t, event.Tags, "foo")
	assert.Empty(t, event.Level)
	assert.Empty(t, event.Breadcrumbs)
}

func TestScope_ApplyOrder(t *testing.T) {
	scope := NewScope()
	scope.SetLevel(LevelWarning)
	scope.SetTransaction("scope-tx")
	scope.SetUser(User{ID: "u1"})
	scope.SetFingerprint([]string{"fp"})
	scope.SetTag("tag", "scope")
	scope.SetExtra("extra", "scope")
	scope.SetContext("custom", Context{"k": "v"})

	event := NewEvent()
	event.Level = LevelFatal
	event.Tags["tag"] = "event"

	applied := scope.ApplyToEvent(event, 10)
	require.NotNil(t, applied)

	// The event is authoritative; the scope only fills gaps.
	assert.Equal(t, LevelFatal, applied.Level)
	assert.Equal(t, "event", applied.Tags["tag"])
	assert.Equal(t, "scope-tx", applied.Transaction)
	assert.Equal(t, "u1", applied.User.ID)
	assert.Equal(t, []string{"fp"}, applied.Fingerprint)
	assert.Equal(t, "scope", applied.Extra["extra"])
	assert.Equal(t, Context{"k": "v"}, applied.Contexts["custom"])
}

func TestScope_BreadcrumbTrimming(t *testing.T) {
	scope := NewScope()
	scope.AddBreadcrumb(&Breadcrumb{Message: "A"}, 2)
	scope.AddBreadcrumb(&Breadcrumb{Message: "B"}, 2)
	scope.AddBreadcrumb(&Breadcrumb{Message: "C"}, 2)

	event := scope.ApplyToEvent(NewEvent(), 2)
	require.NotNil(t, event)
	require.Len(t, event.Breadcrumbs, 2)
	assert.Equal(t, "B", event.Breadcrumbs[0].Message)
	assert.Equal(t, "C", event.Breadcrumbs[1].Message)
}

func TestScope_EventProcessors(t *testing.T) {
	scope := NewScope()
	var order []string
	scope.AddEventProcessor(func(event *Event) *Event {
		order = append(order, "first")
		event.SetTag("processed", "yes")
		return event
	})
	scope.AddEventProcessor(func(event *Event) *Event {
		order = append(order, "second")
		return event
	})

	event := scope.ApplyToEvent(NewEvent(), 10)
	require.NotNil(t, event)
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, "yes", event.Tags["processed"])
}

func TestScope_EventProcessorDropShortCircuits(t *testing.T) {
	scope := NewScope()
	invoked := false
	scope.AddEventProcessor(func(*Event) *Event { return nil })
	scope.AddEventProcessor(func(event *Event) *Event {
		invoked = true
		return event
	})

	assert.Nil(t, scope.ApplyToEvent(NewEvent(), 10))
	assert.False(t, invoked)
}

func TestScope_TraceContextFromPropagation(t *testing.T) {
	scope := NewScope()
	propagation := scope.PropagationContext()

	event := scope.ApplyToEvent(NewEvent(), 10)
	require.NotNil(t, event)

	trace := event.Contexts["trace"]
	require.NotNil(t, trace)
	assert.Equal(t, string(propagation.TraceID), trace["trace_id"])
	assert.Equal(t, string(propagation.SpanID), trace["span_id"])
	assert.NotContains(t, trace, "parent_span_id")
}

func TestScope_TraceContextFromActiveSpan(t *testing.T) {
	hub, _ := newTestHub(ClientOptions{TracesSampleRate: 1})
	tx := hub.StartTransaction(NewTransactionContext("t", "op"))
	span := tx.StartChild("db", "select")

	scope := NewScope()
	scope.SetSpan(span)

	event := scope.ApplyToEvent(NewEvent(), 10)
	require.NotNil(t, event)

	trace := event.Contexts["trace"]
	require.NotNil(t, trace)
	assert.Equal(t, string(span.TraceID), trace["trace_id"])
	assert.Equal(t, string(span.SpanID), trace["span_id"])
	assert.Equal(t, string(tx.SpanID()), trace["parent_span_id"])
}

func TestScope_Clear(t *testing.T) {
	scope := NewScope()
	scope.SetTag("k", "v")
	scope.SetLevel(LevelError)
	scope.AddBreadcrumb(&Breadcrumb{Message: "x"}, 10)
	before := scope.PropagationContext()

	scope.Clear()

	event := scope.ApplyToEvent(NewEvent(), 10)
	require.NotNil(t, event)
	assert.Empty(t, event.Tags)
	assert.Empty(t, event.Level)
	assert.Empty(t, event.Breadcrumbs)
	assert.NotEqual(t, before.TraceID, scope.PropagationContext().TraceID)
}

func TestEvent_SetTagHelper(t *testing.T) {
	event := NewEvent()
	event.SetTag("a", "b")
	assert.Equal(t, "b", event.Tags["a"])
}
