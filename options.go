package sentrykit

import (
	"os"
	"time"

	"github.com/roadrunner-server/errors"
	"go.uber.org/zap"
)

// SDK identity reported in event payloads and the auth header.
const (
	sdkName    = "sentrykit.go"
	sdkVersion = "0.9.0"
)

// SessionMode selects how release health sessions are tracked and flushed.
type SessionMode string

const (
	// SessionModeApplication keeps one long-running session per hub and
	// forwards every update individually.
	SessionModeApplication SessionMode = "application"

	// SessionModeRequest expects short-lived per-request sessions and
	// aggregates them into minute buckets before sending.
	SessionModeRequest SessionMode = "request"
)

// RequestBodySize bounds what request payloads framework integrations may
// attach to events.
type RequestBodySize int

const (
	RequestBodyNone RequestBodySize = iota
	RequestBodySmall
	RequestBodyMedium
	RequestBodyAlways
)

// maxBytes returns the attachment budget for the size class, with -1 meaning
// unbounded.
func (s RequestBodySize) maxBytes() int {
	switch s {
	case RequestBodySmall:
		return 4096
	case RequestBodyMedium:
		return 16384
	case RequestBodyAlways:
		return -1
	default:
		return 0
	}
}

// ClientOptions configures a Client.
type ClientOptions struct {
	// Dsn is the endpoint descriptor. Empty means the client is inert and
	// all send operations no-op. Falls back to SENTRY_DSN.
	Dsn string

	// SampleRate is the probability an error event survives sampling.
	// The zero value means 1.0 (keep everything).
	SampleRate float64

	// TracesSampleRate is the default transaction sampling probability.
	TracesSampleRate float64

	// TracesSampler overrides TracesSampleRate when set.
	TracesSampler func(ctx *TransactionContext) float64

	// MaxBreadcrumbs caps the scope breadcrumb FIFO. Zero means the
	// default of 100; negative disables breadcrumbs.
	MaxBreadcrumbs int

	// AttachStacktrace attaches the capturing goroutine's stack trace to
	// events that carry none.
	AttachStacktrace bool

	// SendDefaultPII keeps known PII-bearing request fields (cookies,
	// auth headers, userinfo in URLs) on outgoing events.
	SendDefaultPII bool

	// BeforeSend is the final event transform; returning nil drops.
	BeforeSend func(event *Event) *Event

	// BeforeBreadcrumb transforms every breadcrumb before it is recorded;
	// the returned value replaces the original, nil discards it.
	BeforeBreadcrumb func(breadcrumb *Breadcrumb) *Breadcrumb

	// Release and Environment are default values for event fields. They
	// fall back to SENTRY_RELEASE and SENTRY_ENVIRONMENT.
	Release     string
	Environment string

	// Dist distinguishes builds of the same release.
	Dist string

	// ServerName is reported on events; defaults to the hostname.
	ServerName string

	// MaxRequestBodySize bounds request payload attachment.
	MaxRequestBodySize RequestBodySize

	// ShutdownTimeout is the deadline for the final flush on Close.
	ShutdownTimeout time.Duration

	// SessionMode selects release health aggregation behavior.
	SessionMode SessionMode

	// AutoSessionTracking starts an application session at init.
	AutoSessionTracking bool

	// EnableLogs enables structured log capture and batching.
	EnableLogs bool

	// TrimBacktraces drops frames outside user code from stack traces.
	TrimBacktraces bool

	// InAppInclude and InAppExclude are path globs classifying frames.
	InAppInclude []string
	InAppExclude []string

	// Integrations are registered at client construction, after the
	// default ones.
	Integrations []Integration

	// Transport overrides the HTTP transport. Takes precedence over
	// TransportFactory.
	Transport Transport

	// TransportFactory constructs the transport from the resolved options,
	// so TLS and proxy settings are honored.
	TransportFactory func(options *ClientOptions, dsn *DSN) Transport

	// BufferSize is the capacity of the transport envelope queue.
	BufferSize int

	// HTTP transport tuning. Proxies fall back to the standard proxy
	// environment variables.
	HTTPProxy          string
	HTTPSProxy         string
	Timeout            time.Duration
	InsecureSkipVerify bool
	DisableCompression bool

	// Metrics receives delivery counters when set.
	Metrics *Metrics

	// DebugLogger is the sink for the SDK's own diagnostics. Defaults to
	// a nop logger.
	DebugLogger *zap.Logger
}

// InitDefaults fills unset options with their defaults and consults the
// environment for values left empty.
func (o *ClientOptions) InitDefaults() {
	if o.Dsn == "" {
		o.Dsn = os.Getenv("SENTRY_DSN")
	}
	if o.Release == "" {
		o.Release = os.Getenv("SENTRY_RELEASE")
	}
	if o.Environment == "" {
		o.Environment = os.Getenv("SENTRY_ENVIRONMENT")
	}
	if o.HTTPProxy == "" {
		o.HTTPProxy = os.Getenv("HTTP_PROXY")
	}
	if o.HTTPSProxy == "" {
		o.HTTPSProxy = os.Getenv("HTTPS_PROXY")
	}
	if o.ServerName == "" {
		if hostname, err := os.Hostname(); err == nil {
			o.ServerName = hostname
		}
	}

	if o.SampleRate == 0 {
		o.SampleRate = 1.0
	}
	if o.MaxBreadcrumbs == 0 {
		o.MaxBreadcrumbs = defaultMaxBreadcrumbs
	}
	if o.MaxBreadcrumbs < 0 {
		o.MaxBreadcrumbs = 0
	}
	if o.ShutdownTimeout == 0 {
		o.ShutdownTimeout = 2 * time.Second
	}
	if o.SessionMode == "" {
		o.SessionMode = SessionModeApplication
	}
	if o.BufferSize < defaultBufferSize {
		o.BufferSize = defaultBufferSize
	}
	if o.Timeout == 0 {
		o.Timeout = 30 * time.Second
	}
	if o.DebugLogger == nil {
		o.DebugLogger = zap.NewNop()
	}
}

// Validate checks option ranges. Rates outside [0,1] are configuration
// errors.
func (o *ClientOptions) Validate() error {
	const op = errors.Op("sentrykit_options_validate")

	if o.SampleRate < 0 || o.SampleRate > 1 {
		return errors.E(op, errors.Str("SampleRate must be between 0.0 and 1.0"))
	}
	if o.TracesSampleRate < 0 || o.TracesSampleRate > 1 {
		return errors.E(op, errors.Str("TracesSampleRate must be between 0.0 and 1.0"))
	}
	return nil
}

// sdkInfo describes this SDK for event payloads.
func (o *ClientOptions) sdkInfo() *ClientSDKInfo {
	return &ClientSDKInfo{
		Name:    sdkName,
		Version: sdkVersion,
		Packages: []ClientSDKPackage{{
			Name:    "go:github.com/your-org/sentrykit",
			Version: sdkVersion,
		}},
	}
}

// sdkIdentifier is the sentry_client value in the auth header.
func sdkIdentifier() string {
	return sdkName + "/" + sdkVersion
}
