package sentrykit

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Distributed tracing header names.
const (
	SentryTraceHeader = "sentry-trace"
	BaggageHeader     = "baggage"
)

// SpanStatus is the outcome classification of a span or transaction.
type SpanStatus string

const (
	SpanStatusOK                SpanStatus = "ok"
	SpanStatusCancelled         SpanStatus = "cancelled"
	SpanStatusUnknown           SpanStatus = "unknown"
	SpanStatusInvalidArgument   SpanStatus = "invalid_argument"
	SpanStatusDeadlineExceeded  SpanStatus = "deadline_exceeded"
	SpanStatusNotFound          SpanStatus = "not_found"
	SpanStatusAlreadyExists     SpanStatus = "already_exists"
	SpanStatusPermissionDenied  SpanStatus = "permission_denied"
	SpanStatusResourceExhausted SpanStatus = "resource_exhausted"
	SpanStatusAborted           SpanStatus = "aborted"
	SpanStatusInternalError     SpanStatus = "internal_error"
	SpanStatusUnavailable       SpanStatus = "unavailable"
	SpanStatusUnauthenticated   SpanStatus = "unauthenticated"
)

// Sampled is a tri-state sampling decision.
type Sampled int8

const (
	SampledFalse Sampled = iota - 1
	SampledUndefined
	SampledTrue
)

// TransactionContext seeds a new transaction: its name, operation, trace
// linkage and (optionally) an inherited sampling decision.
type TransactionContext struct {
	Name         string
	Op           string
	Description  string
	TraceID      TraceID
	ParentSpanID SpanID
	Sampled      Sampled

	// baggage carries the incoming dynamic sampling context, propagated
	// unchanged to the envelope header of the resulting transaction.
	baggage map[string]string
}

// NewTransactionContext creates a context with a fresh trace ID and local
// sampling rules.
func NewTransactionContext(name, op string) *TransactionContext {
	return &TransactionContext{
		Name:    name,
		Op:      op,
		TraceID: newTraceID(),
	}
}

// ContinueFromHeaders builds a context from an incoming sentry-trace header
// and an optional baggage header. Absent or malformed headers fall back to
// fresh IDs and local sampling.
func ContinueFromHeaders(name, op, sentryTrace, baggage string) *TransactionContext {
	ctx := NewTransactionContext(name, op)
	if sentryTrace != "" {
		ctx.updateFromSentryTrace(sentryTrace)
	}
	if baggage != "" {
		ctx.baggage = parseBaggage(baggage)
	}
	return ctx
}

// ContinueFromRequest reads the tracing headers off an incoming HTTP request.
func ContinueFromRequest(name, op string, header http.Header) *TransactionContext {
	return ContinueFromHeaders(name, op, header.Get(SentryTraceHeader), header.Get(BaggageHeader))
}

// updateFromSentryTrace parses "trace_id-span_id[-sampled]".
func (ctx *TransactionContext) updateFromSentryTrace(header string) {
	parts := strings.Split(strings.TrimSpace(header), "-")
	if len(parts) < 2 || !validTraceID(parts[0]) || !validSpanID(parts[1]) {
		return
	}
	ctx.TraceID = TraceID(parts[0])
	ctx.ParentSpanID = SpanID(parts[1])
	if len(parts) >= 3 {
		switch parts[2] {
		case "1":
			ctx.Sampled = SampledTrue
		case "0":
			ctx.Sampled = SampledFalse
		}
	}
}

// parseBaggage extracts the sentry-prefixed members of a baggage header,
// keyed without the prefix.
func parseBaggage(header string) map[string]string {
	baggage := make(map[string]string)
	for _, member := range strings.Split(header, ",") {
		member = strings.TrimSpace(member)
		key, value, ok := strings.Cut(member, "=")
		if !ok || !strings.HasPrefix(key, "sentry-") {
			continue
		}
		baggage[strings.TrimPrefix(key, "sentry-")] = value
	}
	if len(baggage) == 0 {
		return nil
	}
	return baggage
}

// spanRecorder collects finished child spans of a transaction.
type spanRecorder struct {
	mu       sync.Mutex
	finished []*Span
}

func (r *spanRecorder) record(span *Span) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, span)
}

func (r *spanRecorder) snapshot() []*Span {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Span(nil), r.finished...)
}

// Span is a child node of a performance trace. Mutations after Finish are
// silently ignored; use the setters rather than assigning fields directly.
type Span struct {
	TraceID      TraceID           `json:"trace_id"`
	SpanID       SpanID            `json:"span_id"`
	ParentSpanID SpanID            `json:"parent_span_id,omitempty"`
	Op           string            `json:"op,omitempty"`
	Description  string            `json:"description,omitempty"`
	Status       SpanStatus        `json:"status,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
	Data         map[string]any    `json:"data,omitempty"`
	StartTime    time.Time         `json:"start_timestamp"`
	EndTime      time.Time         `json:"timestamp"`

	mu       sync.Mutex
	recorder *spanRecorder
	sampled  bool
	finished bool
	noop     bool
}

// noopSpan absorbs operations on spans created after their transaction
// finished.
func noopSpan() *Span {
	return &Span{noop: true, finished: true}
}

// Sampled reports the sticky sampling flag inherited from the transaction.
func (s *Span) Sampled() bool {
	return s.sampled
}

// SetTag sets a tag, unless the span is finished.
func (s *Span) SetTag(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	if s.Tags == nil {
		s.Tags = make(map[string]string)
	}
	s.Tags[key] = value
}

// SetData sets a data value, unless the span is finished.
func (s *Span) SetData(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	if s.Data == nil {
		s.Data = make(map[string]any)
	}
	s.Data[key] = value
}

// SetStatus sets the span status, unless the span is finished.
func (s *Span) SetStatus(status SpanStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.Status = status
}

// StartChild allocates a span under this span, sharing the transaction's
// sampled flag.
func (s *Span) StartChild(op, description string) *Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.noop {
		return noopSpan()
	}
	return &Span{
		TraceID:      s.TraceID,
		SpanID:       newSpanID(),
		ParentSpanID: s.SpanID,
		Op:           op,
		Description:  description,
		StartTime:    time.Now().UTC(),
		recorder:     s.recorder,
		sampled:      s.sampled,
	}
}

// Finish sets the end timestamp and appends the span to its transaction's
// span list. Finish is idempotent; children of unsampled transactions are
// dropped without being recorded.
func (s *Span) Finish() {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.EndTime = time.Now().UTC()
	recorder := s.recorder
	sampled := s.sampled
	s.mu.Unlock()

	if sampled && recorder != nil {
		recorder.record(s)
	}
}

// traceContext renders the span linkage for event trace contexts.
func (s *Span) traceContext() TraceContext {
	return TraceContext{
		TraceID:      s.TraceID,
		SpanID:       s.SpanID,
		ParentSpanID: s.ParentSpanID,
		Op:           s.Op,
		Status:       s.Status,
	}
}

// ToSentryTrace renders the outgoing sentry-trace header for this span.
func (s *Span) ToSentryTrace() string {
	sampled := "0"
	if s.sampled {
		sampled = "1"
	}
	return string(s.TraceID) + "-" + string(s.SpanID) + "-" + sampled
}

// Transaction is the root of a performance trace. It owns the shared span
// recorder its children append to.
type Transaction struct {
	mu sync.Mutex

	name         string
	op           string
	description  string
	traceID      TraceID
	spanID       SpanID
	parentSpanID SpanID
	status       SpanStatus
	tags         map[string]string
	data         map[string]any
	startTime    time.Time
	endTime      time.Time
	sampled      bool
	finished     bool

	recorder *spanRecorder
	client   *Client
	baggage  map[string]string
}

// startTransaction implements Hub.StartTransaction.
func startTransaction(hub *Hub, ctx *TransactionContext) *Transaction {
	if ctx == nil {
		ctx = NewTransactionContext("", "")
	}
	client := hub.Client()

	traceID := ctx.TraceID
	if traceID == "" {
		traceID = newTraceID()
	}

	tx := &Transaction{
		name:         ctx.Name,
		op:           ctx.Op,
		description:  ctx.Description,
		traceID:      traceID,
		spanID:       newSpanID(),
		parentSpanID: ctx.ParentSpanID,
		startTime:    time.Now().UTC(),
		recorder:     &spanRecorder{},
		client:       client,
		baggage:      ctx.baggage,
	}
	if client != nil {
		tx.sampled = client.sampleTransaction(ctx)
	}
	return tx
}

// TraceID returns the trace identifier shared by the whole trace.
func (t *Transaction) TraceID() TraceID { return t.traceID }

// SpanID returns the transaction's own span identifier.
func (t *Transaction) SpanID() SpanID { return t.spanID }

// ParentSpanID returns the inherited parent span, if the transaction was
// continued from incoming headers.
func (t *Transaction) ParentSpanID() SpanID { return t.parentSpanID }

// Sampled reports the sticky sampling decision made at start.
func (t *Transaction) Sampled() bool { return t.sampled }

// Name returns the transaction name.
func (t *Transaction) Name() string { return t.name }

// SetName renames the transaction, unless it is finished.
func (t *Transaction) SetName(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.finished {
		t.name = name
	}
}

// SetTag sets a tag, unless the transaction is finished.
func (t *Transaction) SetTag(key, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return
	}
	if t.tags == nil {
		t.tags = make(map[string]string)
	}
	t.tags[key] = value
}

// SetData sets a data value, unless the transaction is finished.
func (t *Transaction) SetData(key string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return
	}
	if t.data == nil {
		t.data = make(map[string]any)
	}
	t.data[key] = value
}

// SetStatus sets the transaction status, unless it is finished.
func (t *Transaction) SetStatus(status SpanStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.finished {
		t.status = status
	}
}

// StartChild allocates a span directly under the transaction. After Finish,
// StartChild returns a no-op span whose operations are silently dropped.
func (t *Transaction) StartChild(op, description string) *Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return noopSpan()
	}
	return &Span{
		TraceID:      t.traceID,
		SpanID:       newSpanID(),
		ParentSpanID: t.spanID,
		Op:           op,
		Description:  description,
		StartTime:    time.Now().UTC(),
		recorder:     t.recorder,
		sampled:      t.sampled,
	}
}

// Finish sets the end timestamp and, if the transaction is sampled, emits a
// transaction envelope with the finished children. Finish is idempotent.
func (t *Transaction) Finish() {
	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return
	}
	t.finished = true
	t.endTime = time.Now().UTC()
	t.mu.Unlock()

	if !t.sampled || t.client == nil {
		return
	}
	t.client.captureTransaction(t.toEvent())
}

// TraceContext renders the transaction's linkage for event contexts.
func (t *Transaction) TraceContext() TraceContext {
	return TraceContext{
		TraceID:      t.traceID,
		SpanID:       t.spanID,
		ParentSpanID: t.parentSpanID,
		Op:           t.op,
		Description:  t.description,
		Status:       t.status,
	}
}

// ToSentryTrace renders the outgoing sentry-trace header.
func (t *Transaction) ToSentryTrace() string {
	sampled := "0"
	if t.sampled {
		sampled = "1"
	}
	return string(t.traceID) + "-" + string(t.spanID) + "-" + sampled
}

// ToBaggage renders the outgoing dynamic sampling context. The values of an
// inherited baggage are propagated unchanged; otherwise one is built from the
// client options. Only the trace_id, public_key, sample_rate, release,
// environment and transaction members are emitted.
func (t *Transaction) ToBaggage() string {
	dsc := t.dynamicSamplingContext()
	if len(dsc) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(dsc))
	for _, key := range []string{"trace_id", "public_key", "sample_rate", "release", "environment", "transaction"} {
		if value, ok := dsc[key]; ok && value != "" {
			pairs = append(pairs, "sentry-"+key+"="+value)
		}
	}
	return strings.Join(pairs, ",")
}

// IterHeaders yields the distributed tracing headers for downstream
// services.
func (t *Transaction) IterHeaders() map[string]string {
	headers := map[string]string{SentryTraceHeader: t.ToSentryTrace()}
	if baggage := t.ToBaggage(); baggage != "" {
		headers[BaggageHeader] = baggage
	}
	return headers
}

func (t *Transaction) dynamicSamplingContext() map[string]string {
	if t.baggage != nil {
		return t.baggage
	}
	dsc := map[string]string{"trace_id": string(t.traceID)}
	if t.client != nil {
		options := t.client.Options()
		if t.client.DSN() != nil {
			dsc["public_key"] = t.client.DSN().PublicKey
		}
		dsc["sample_rate"] = formatSampleRate(options.TracesSampleRate)
		if options.Release != "" {
			dsc["release"] = options.Release
		}
		if options.Environment != "" {
			dsc["environment"] = options.Environment
		}
	}
	if t.name != "" {
		dsc["transaction"] = t.name
	}
	return dsc
}

// transactionEvent is the wire payload of a transaction envelope item.
type transactionEvent struct {
	EventID     EventID            `json:"event_id"`
	Type        string             `json:"type"`
	Transaction string             `json:"transaction,omitempty"`
	Platform    string             `json:"platform,omitempty"`
	Release     string             `json:"release,omitempty"`
	Dist        string             `json:"dist,omitempty"`
	Environment string             `json:"environment,omitempty"`
	ServerName  string             `json:"server_name,omitempty"`
	Tags        map[string]string  `json:"tags,omitempty"`
	Extra       map[string]any     `json:"extra,omitempty"`
	Contexts    map[string]Context `json:"contexts,omitempty"`
	SDK         *ClientSDKInfo     `json:"sdk,omitempty"`
	StartTime   time.Time          `json:"start_timestamp"`
	EndTime     time.Time          `json:"timestamp"`
	Spans       []*Span            `json:"spans,omitempty"`

	dynamicSamplingContext map[string]string
}

// toEvent snapshots the finished transaction and its recorded children.
func (t *Transaction) toEvent() *transactionEvent {
	payload := &transactionEvent{
		EventID:     newEventID(),
		Type:        itemTypeTransaction,
		Transaction: t.name,
		Platform:    "go",
		Tags:        t.tags,
		Extra:       t.data,
		Contexts: map[string]Context{
			"trace": t.TraceContext().toContext(),
		},
		StartTime: t.startTime,
		EndTime:   t.endTime,
		Spans:     t.recorder.snapshot(),

		dynamicSamplingContext: t.dynamicSamplingContext(),
	}
	if t.client != nil {
		options := t.client.Options()
		payload.Release = options.Release
		payload.Dist = options.Dist
		payload.Environment = options.Environment
		payload.ServerName = options.ServerName
		payload.SDK = t.client.sdk
	}
	return payload
}

func formatSampleRate(rate float64) string {
	if rate <= 0 {
		return "0"
	}
	if rate >= 1 {
		return "1"
	}
	return strconv.FormatFloat(rate, 'f', -1, 64)
}
