package sentrykit

import (
	"sync"
	"time"
)

// Guard keeps the installed client alive; closing it flushes everything
// pending within the configured shutdown deadline.
type Guard struct {
	client *Client
	once   sync.Once
}

// Init constructs a client from the options and installs it on the
// process-wide main hub. Configuration failures produce an inert client;
// Init never returns an error-like value.
func Init(options ClientOptions) *Guard {
	client := NewClient(options)
	hub := CurrentHub()
	hub.BindClient(client)

	if client.Options().AutoSessionTracking && client.Options().SessionMode == SessionModeApplication {
		hub.StartSession()
	}
	return &Guard{client: client}
}

// Close ends the running session, flushes and shuts the client down with
// the configured deadline. It is safe to call more than once.
func (g *Guard) Close() {
	g.once.Do(func() {
		CurrentHub().EndSession()
		g.client.Close(g.client.Options().ShutdownTimeout)
	})
}

// CaptureEvent captures an event on the main hub.
func CaptureEvent(event *Event) EventID {
	return CurrentHub().CaptureEvent(event)
}

// CaptureMessage captures a plain message on the main hub.
func CaptureMessage(message string, level Level) EventID {
	return CurrentHub().CaptureMessage(message, level)
}

// CaptureError captures an error and its source chain on the main hub.
func CaptureError(err error) EventID {
	return CurrentHub().CaptureError(err)
}

// CaptureLog appends a structured log record on the main hub.
func CaptureLog(log Log) {
	CurrentHub().CaptureLog(log)
}

// AddBreadcrumb records a breadcrumb on the main hub's scope.
func AddBreadcrumb(breadcrumb *Breadcrumb) {
	CurrentHub().AddBreadcrumb(breadcrumb)
}

// ConfigureScope hands the main hub's top scope to f.
func ConfigureScope(f func(scope *Scope)) {
	CurrentHub().ConfigureScope(f)
}

// WithScope pushes a scope on the main hub for the duration of f.
func WithScope(f func(scope *Scope)) {
	CurrentHub().WithScope(f)
}

// StartTransaction starts a transaction on the main hub.
func StartTransaction(ctx *TransactionContext) *Transaction {
	return CurrentHub().StartTransaction(ctx)
}

// StartSession starts a release health session on the main hub.
func StartSession() {
	CurrentHub().StartSession()
}

// EndSession exits the main hub's session cleanly.
func EndSession() {
	CurrentHub().EndSession()
}

// LastEventID returns the most recent event ID captured on the main hub.
func LastEventID() EventID {
	return CurrentHub().LastEventID()
}

// Flush drains the main hub's client within the deadline.
func Flush(timeout time.Duration) bool {
	return CurrentHub().Flush(timeout)
}
