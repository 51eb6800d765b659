package sentrykit

import (
	stderrors "errors"
	"fmt"
	"math/rand"
	"net/url"
	"reflect"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/sentrykit/internal/clientreport"
	"github.com/your-org/sentrykit/internal/ratelimit"
)

// rateLimitChecker is implemented by transports that track server rate
// limits, so the pipeline can drop early instead of queueing doomed items.
type rateLimitChecker interface {
	RateLimited(category ratelimit.Category) bool
}

// Client owns the resolved options, the registered integrations, the
// transport and the background workers. It runs the event pipeline and is
// immutable once installed on a hub.
type Client struct {
	options      ClientOptions
	dsn          *DSN
	transport    Transport
	logger       *zap.Logger
	integrations []Integration
	outcomes     *clientreport.Recorder
	sdk          *ClientSDKInfo

	sessions *sessionFlusher
	logs     *logBatcher
}

// NewClient constructs a client from the given options. Configuration errors
// do not surface: the returned client is inert and the failure is logged
// once to the debug sink.
func NewClient(options ClientOptions) *Client {
	options.InitDefaults()
	logger := options.DebugLogger

	client := &Client{
		options:  options,
		logger:   logger,
		outcomes: clientreport.NewRecorder(),
		sdk:      options.sdkInfo(),
	}

	if err := options.Validate(); err != nil {
		logger.Error("invalid client options, the client is disabled", zap.Error(err))
		client.transport = &NoopTransport{}
		return client
	}

	if options.Dsn != "" {
		dsn, err := ParseDSN(options.Dsn)
		if err != nil {
			logger.Error("invalid DSN, the client is disabled", zap.Error(err))
		} else {
			client.dsn = dsn
		}
	}

	switch {
	case options.Transport != nil:
		client.transport = options.Transport
	case client.dsn == nil:
		client.transport = &NoopTransport{}
	case options.TransportFactory != nil:
		client.transport = options.TransportFactory(&client.options, client.dsn)
	default:
		client.transport = NewHTTPTransport(&client.options, client.dsn)
	}

	client.integrations = append(defaultIntegrations(), options.Integrations...)
	for _, integration := range client.integrations {
		integration.Setup(&client.options)
		client.sdk.Integrations = append(client.sdk.Integrations, integration.Name())
	}

	if client.enabled() {
		client.sessions = newSessionFlusher(client.transport, options.SessionMode, logger)
		if options.EnableLogs {
			client.logs = newLogBatcher(client.transport, client.outcomes, logger)
		}
	}

	return client
}

// Options returns the resolved client options.
func (c *Client) Options() *ClientOptions {
	return &c.options
}

// DSN returns the parsed DSN, or nil for an inert client.
func (c *Client) DSN() *DSN {
	return c.dsn
}

// Transport returns the transport envelopes are handed to.
func (c *Client) Transport() Transport {
	return c.transport
}

// enabled reports whether the client can actually submit anything.
func (c *Client) enabled() bool {
	return c.dsn != nil
}

// CaptureEvent runs the event through the pipeline. The returned event ID is
// valid even when the event is dropped internally.
func (c *Client) CaptureEvent(event *Event, scope *Scope) EventID {
	if event == nil {
		event = NewEvent()
	}
	if event.EventID == "" {
		event.EventID = newEventID()
	}
	eventID := event.EventID

	if !c.enabled() {
		return eventID
	}
	c.processEvent(event, scope)
	return eventID
}

// CaptureMessage captures a plain message at the given level.
func (c *Client) CaptureMessage(message string, level Level, scope *Scope) EventID {
	event := NewEvent()
	event.Level = level
	event.Message = &Message{Formatted: message}
	return c.CaptureEvent(event, scope)
}

// CaptureError captures an error, walking its source chain and producing one
// exception per layer, outermost first.
func (c *Client) CaptureError(err error, scope *Scope) EventID {
	if err == nil {
		return ""
	}
	return c.CaptureEvent(c.eventFromError(err), scope)
}

func (c *Client) eventFromError(err error) *Event {
	event := NewEvent()
	event.Level = LevelError

	for cause := err; cause != nil; cause = stderrors.Unwrap(cause) {
		event.Exception = append(event.Exception, Exception{
			Type:  reflect.TypeOf(cause).String(),
			Value: cause.Error(),
		})
	}
	return event
}

// processEvent is the pipeline of §scope application, integrations,
// BeforeSend, sampling, rate limiting and envelope hand-off.
func (c *Client) processEvent(event *Event, scope *Scope) {
	c.prepareEvent(event)

	if scope != nil {
		event = scope.ApplyToEvent(event, c.options.MaxBreadcrumbs)
		if event == nil {
			c.recordDiscard(clientreport.ReasonEventProcessor)
			return
		}
	}

	for _, integration := range c.integrations {
		event = integration.ProcessEvent(event, &c.options)
		if event == nil {
			c.recordDiscard(clientreport.ReasonEventProcessor)
			c.logger.Debug("event dropped by integration")
			return
		}
	}

	if !c.options.SendDefaultPII {
		stripPII(event)
	}

	if c.options.BeforeSend != nil {
		event = c.options.BeforeSend(event)
		if event == nil {
			c.recordDiscard(clientreport.ReasonBeforeSend)
			c.logger.Debug("event dropped by BeforeSend")
			return
		}
	}

	if c.options.SampleRate < 1.0 && rand.Float64() >= c.options.SampleRate {
		c.recordDiscard(clientreport.ReasonSampleRate)
		return
	}

	if checker, ok := c.transport.(rateLimitChecker); ok && checker.RateLimited(ratelimit.CategoryError) {
		c.recordDiscard(clientreport.ReasonRateLimitBackoff)
		return
	}

	envelope, err := eventEnvelope(event, c.dsn, c.sdk)
	if err != nil {
		c.recordDiscard(clientreport.ReasonInternalError)
		c.logger.Error("failed to build event envelope", zap.Error(err))
		return
	}
	c.transport.SendEnvelope(envelope)

	if scope != nil {
		c.updateSessionFromEvent(scope, event)
	}
}

// prepareEvent fills option-derived defaults before the scope is applied.
func (c *Client) prepareEvent(event *Event) {
	if event.EventID == "" {
		event.EventID = newEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Level == "" {
		event.Level = LevelError
	}
	if event.Platform == "" {
		event.Platform = "go"
	}
	if event.ServerName == "" {
		event.ServerName = c.options.ServerName
	}
	if event.Release == "" {
		event.Release = c.options.Release
	}
	if event.Dist == "" {
		event.Dist = c.options.Dist
	}
	if event.Environment == "" {
		event.Environment = c.options.Environment
	}
	event.SDK = c.sdk

	if c.options.AttachStacktrace && !eventHasStacktrace(event) {
		if st := currentStacktrace(3, &c.options); st != nil {
			event.Threads = append(event.Threads, Thread{
				Current:    true,
				Stacktrace: st,
			})
		}
	}
}

func eventHasStacktrace(event *Event) bool {
	for i := range event.Exception {
		if event.Exception[i].Stacktrace != nil {
			return true
		}
	}
	for i := range event.Threads {
		if event.Threads[i].Stacktrace != nil {
			return true
		}
	}
	return false
}

// stripPII removes the known PII-bearing request fields: cookies, auth
// headers and userinfo embedded in URLs.
func stripPII(event *Event) {
	if event.Request == nil {
		return
	}
	request := event.Request
	request.Cookies = ""
	for header := range request.Headers {
		switch strings.ToLower(header) {
		case "cookie", "authorization", "x-forwarded-for", "x-real-ip":
			delete(request.Headers, header)
		}
	}
	if request.URL != "" {
		if u, err := url.Parse(request.URL); err == nil && u.User != nil {
			u.User = nil
			request.URL = u.String()
		}
	}
}

// updateSessionFromEvent transitions the scope's session on errored events
// and forwards the resulting session update.
func (c *Client) updateSessionFromEvent(scope *Scope, event *Event) {
	if c.sessions == nil {
		return
	}
	session := scope.getSession()
	if session == nil {
		return
	}
	session.updateFromEvent(event)
	if update := session.takeUpdate(); update != nil {
		c.sessions.Enqueue(*update)
	}
}

// enqueueSession hands a session update to the background flusher.
func (c *Client) enqueueSession(update SessionUpdate) {
	if c.sessions != nil {
		c.sessions.Enqueue(update)
	}
}

// CaptureLog appends a structured log record to the batcher, if logs are
// enabled.
func (c *Client) CaptureLog(log Log, scope *Scope) {
	if c.logs == nil {
		return
	}
	if log.Timestamp.IsZero() {
		log.Timestamp = time.Now().UTC()
	}
	if log.TraceID == "" && scope != nil {
		log.TraceID = scope.PropagationContext().TraceID
	}
	c.logs.Enqueue(log)
}

// sampleTransaction decides the sticky sampling flag for a new transaction.
func (c *Client) sampleTransaction(ctx *TransactionContext) bool {
	if !c.enabled() {
		return false
	}
	if ctx.Sampled != SampledUndefined {
		return ctx.Sampled == SampledTrue
	}
	rate := c.options.TracesSampleRate
	if c.options.TracesSampler != nil {
		rate = c.options.TracesSampler(ctx)
	}
	if rate <= 0 {
		return false
	}
	if rate >= 1 {
		return true
	}
	return rand.Float64() < rate
}

// captureTransaction wraps a finished, sampled transaction into an envelope.
func (c *Client) captureTransaction(payload *transactionEvent) {
	if !c.enabled() {
		return
	}
	if checker, ok := c.transport.(rateLimitChecker); ok && checker.RateLimited(ratelimit.CategoryTransaction) {
		c.recordDiscard(clientreport.ReasonRateLimitBackoff)
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		c.recordDiscard(clientreport.ReasonInternalError)
		c.logger.Error("failed to serialize transaction", zap.Error(err))
		return
	}
	now := time.Now().UTC()
	envelope := &Envelope{
		Header: EnvelopeHeader{
			EventID: payload.EventID,
			SentAt:  &now,
			SDK:     c.sdk,
			Trace:   payload.dynamicSamplingContext,
		},
	}
	envelope.AddItem(&EnvelopeItem{Type: itemTypeTransaction, Payload: body})
	c.transport.SendEnvelope(envelope)
}

func (c *Client) recordDiscard(reason clientreport.DiscardReason) {
	c.outcomes.Record(reason, ratelimit.CategoryError, 1)
}

// DiscardedCount returns the tally of client-side drops for (reason,
// category) without draining it.
func (c *Client) DiscardedCount(reason clientreport.DiscardReason, category ratelimit.Category) int64 {
	return c.outcomes.Count(reason, category)
}

// DiscardedOutcomes drains and returns the accumulated client-side discard
// outcomes.
func (c *Client) DiscardedOutcomes() []clientreport.DiscardedEvent {
	return c.outcomes.Take()
}

// clientReport is the wire payload of a client_report envelope item.
type clientReport struct {
	Timestamp       time.Time                     `json:"timestamp"`
	DiscardedEvents []clientreport.DiscardedEvent `json:"discarded_events"`
}

// flushClientReport drains the pending discard outcomes into one
// client_report item so the server learns what was dropped client-side.
func (c *Client) flushClientReport() {
	outcomes := c.outcomes.Take()
	if len(outcomes) == 0 {
		return
	}
	payload, err := json.Marshal(clientReport{
		Timestamp:       time.Now().UTC(),
		DiscardedEvents: outcomes,
	})
	if err != nil {
		c.logger.Error("failed to serialize client report", zap.Error(err))
		return
	}
	envelope := NewEnvelope()
	envelope.AddItem(&EnvelopeItem{Type: itemTypeClientReport, Payload: payload})
	c.transport.SendEnvelope(envelope)
}

// Flush synchronously drains the background workers into the transport and
// then the transport itself, within the deadline.
func (c *Client) Flush(timeout time.Duration) bool {
	if c.sessions != nil {
		c.sessions.Flush()
	}
	if c.logs != nil {
		c.logs.Flush()
	}
	if c.enabled() {
		c.flushClientReport()
	}
	return c.transport.Flush(timeout)
}

// Close flushes with the shutdown deadline and terminates the background
// workers. The deadline is split between the transport flush, the session
// flusher and the logs batcher, in that order. Close is idempotent.
func (c *Client) Close(timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = c.options.ShutdownTimeout
	}
	deadline := time.Now().Add(timeout)

	if c.enabled() {
		c.flushClientReport()
	}
	drained := c.transport.Flush(timeout / 2)
	if c.sessions != nil {
		c.sessions.Close(time.Until(deadline) / 2)
	}
	if c.logs != nil {
		c.logs.Close(time.Until(deadline))
	}
	return c.transport.Close(time.Until(deadline)) && drained
}

// String implements fmt.Stringer for debug logging.
func (c *Client) String() string {
	if c.dsn == nil {
		return fmt.Sprintf("%s (disabled)", sdkIdentifier())
	}
	return fmt.Sprintf("%s -> %s", sdkIdentifier(), c.dsn.EnvelopeURL)
}
