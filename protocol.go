package sentrykit

import (
	"time"
)

// Level is the severity of an event or breadcrumb.
type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelFatal   Level = "fatal"
)

// ordinal is used to compare severities, e.g. for session error accounting.
func (l Level) ordinal() int {
	switch l {
	case LevelDebug:
		return 0
	case LevelInfo:
		return 1
	case LevelWarning:
		return 2
	case LevelError:
		return 3
	case LevelFatal:
		return 4
	default:
		return 3
	}
}

// User describes the user associated with an event.
type User struct {
	ID        string            `json:"id,omitempty"`
	Email     string            `json:"email,omitempty"`
	IPAddress string            `json:"ip_address,omitempty"`
	Username  string            `json:"username,omitempty"`
	Name      string            `json:"name,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
}

// IsEmpty reports whether the user carries no identifying information.
func (u User) IsEmpty() bool {
	return u.ID == "" && u.Email == "" && u.IPAddress == "" &&
		u.Username == "" && u.Name == "" && len(u.Data) == 0
}

// distinctID picks the identifier used for release health sessions.
func (u User) distinctID() string {
	switch {
	case u.ID != "":
		return u.ID
	case u.Email != "":
		return u.Email
	case u.Username != "":
		return u.Username
	default:
		return ""
	}
}

// Request describes the HTTP request being handled when an event occurred.
type Request struct {
	URL         string            `json:"url,omitempty"`
	Method      string            `json:"method,omitempty"`
	Data        string            `json:"data,omitempty"`
	QueryString string            `json:"query_string,omitempty"`
	Cookies     string            `json:"cookies,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
}

// Frame is a single stack frame, oldest-calls-first within a Stacktrace.
type Frame struct {
	Function    string `json:"function,omitempty"`
	Module      string `json:"module,omitempty"`
	Filename    string `json:"filename,omitempty"`
	AbsPath     string `json:"abs_path,omitempty"`
	Lineno      int    `json:"lineno,omitempty"`
	Colno       int    `json:"colno,omitempty"`
	ContextLine string `json:"context_line,omitempty"`
	InApp       bool   `json:"in_app"`
}

// Stacktrace is an ordered list of frames, oldest first.
type Stacktrace struct {
	Frames []Frame `json:"frames,omitempty"`
}

// Mechanism carries metadata about how an exception was captured.
type Mechanism struct {
	Type        string         `json:"type,omitempty"`
	Description string         `json:"description,omitempty"`
	Handled     *bool          `json:"handled,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// Exception is one layer of an error chain attached to an event.
type Exception struct {
	Type       string      `json:"type,omitempty"`
	Value      string      `json:"value,omitempty"`
	Module     string      `json:"module,omitempty"`
	Stacktrace *Stacktrace `json:"stacktrace,omitempty"`
	Mechanism  *Mechanism  `json:"mechanism,omitempty"`
}

// Breadcrumb is a time-ordered record of something that happened before an
// event. Scopes keep a bounded FIFO of them.
type Breadcrumb struct {
	Type      string         `json:"type,omitempty"`
	Category  string         `json:"category,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Level     Level          `json:"level,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Context is a named block of structured contextual data on an event.
type Context map[string]any

// TraceContext links an event or transaction into a distributed trace.
type TraceContext struct {
	TraceID      TraceID    `json:"trace_id,omitempty"`
	SpanID       SpanID     `json:"span_id,omitempty"`
	ParentSpanID SpanID     `json:"parent_span_id,omitempty"`
	Op           string     `json:"op,omitempty"`
	Description  string     `json:"description,omitempty"`
	Status       SpanStatus `json:"status,omitempty"`
}

// toContext converts the trace context into the generic context map form used
// in Event.Contexts.
func (tc TraceContext) toContext() Context {
	ctx := Context{}
	if tc.TraceID != "" {
		ctx["trace_id"] = string(tc.TraceID)
	}
	if tc.SpanID != "" {
		ctx["span_id"] = string(tc.SpanID)
	}
	if tc.ParentSpanID != "" {
		ctx["parent_span_id"] = string(tc.ParentSpanID)
	}
	if tc.Op != "" {
		ctx["op"] = tc.Op
	}
	if tc.Description != "" {
		ctx["description"] = tc.Description
	}
	if tc.Status != "" {
		ctx["status"] = string(tc.Status)
	}
	return ctx
}

// ClientSDKPackage identifies a package shipped as part of the SDK.
type ClientSDKPackage struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientSDKInfo identifies the SDK that produced an event.
type ClientSDKInfo struct {
	Name         string             `json:"name"`
	Version      string             `json:"version"`
	Integrations []string           `json:"integrations,omitempty"`
	Packages     []ClientSDKPackage `json:"packages,omitempty"`
}

// Message is the formatted message payload of an event.
type Message struct {
	Formatted string `json:"formatted"`
	Message   string `json:"message,omitempty"`
	Params    []any  `json:"params,omitempty"`
}

// Attachment is a file-like payload shipped alongside an event.
type Attachment struct {
	Filename       string `json:"filename"`
	ContentType    string `json:"content_type,omitempty"`
	AttachmentType string `json:"attachment_type,omitempty"`
	Payload        []byte `json:"-"`
}

// Event is the unit of error telemetry. The EventID is assigned before the
// event enters the pipeline and never changes afterwards.
type Event struct {
	EventID     EventID            `json:"event_id,omitempty"`
	Level       Level              `json:"level,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
	Platform    string             `json:"platform,omitempty"`
	Logger      string             `json:"logger,omitempty"`
	ServerName  string             `json:"server_name,omitempty"`
	Release     string             `json:"release,omitempty"`
	Dist        string             `json:"dist,omitempty"`
	Environment string             `json:"environment,omitempty"`
	Transaction string             `json:"transaction,omitempty"`
	Message     *Message           `json:"message,omitempty"`
	Fingerprint []string           `json:"fingerprint,omitempty"`
	Exception   []Exception        `json:"exception,omitempty"`
	Threads     []Thread           `json:"threads,omitempty"`
	Breadcrumbs []*Breadcrumb      `json:"breadcrumbs,omitempty"`
	Tags        map[string]string  `json:"tags,omitempty"`
	Extra       map[string]any     `json:"extra,omitempty"`
	Contexts    map[string]Context `json:"contexts,omitempty"`
	User        *User              `json:"user,omitempty"`
	Request     *Request           `json:"request,omitempty"`
	SDK         *ClientSDKInfo     `json:"sdk,omitempty"`

	attachments []*Attachment
}

// Thread describes a thread of execution, used to carry the stack trace of
// the capturing goroutine when AttachStacktrace is enabled.
type Thread struct {
	ID         string      `json:"id,omitempty"`
	Name       string      `json:"name,omitempty"`
	Stacktrace *Stacktrace `json:"stacktrace,omitempty"`
	Crashed    bool        `json:"crashed"`
	Current    bool        `json:"current"`
}

// NewEvent creates an empty event with initialized collections.
func NewEvent() *Event {
	return &Event{
		Tags:     make(map[string]string),
		Extra:    make(map[string]any),
		Contexts: make(map[string]Context),
	}
}

// SetTag upserts a tag on the event.
func (e *Event) SetTag(key, value string) {
	if e.Tags == nil {
		e.Tags = make(map[string]string)
	}
	e.Tags[key] = value
}

// AddAttachment appends an attachment to the event.
func (e *Event) AddAttachment(a *Attachment) {
	if a != nil {
		e.attachments = append(e.attachments, a)
	}
}

// Attachments returns the attachments accumulated on the event.
func (e *Event) Attachments() []*Attachment {
	return e.attachments
}

// setTraceContext stores tc under the well-known "trace" context key.
func (e *Event) setTraceContext(tc TraceContext) {
	if e.Contexts == nil {
		e.Contexts = make(map[string]Context)
	}
	e.Contexts["trace"] = tc.toContext()
}
