package sentrykit

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/sentrykit/internal/clientreport"
	"github.com/your-org/sentrykit/internal/ratelimit"
)

const (
	// Flush when this many logs are pending.
	logsMaxBatchSize = 100
	// Or on every tick of this fixed interval, so no log stays pending
	// longer than this; the interval is not measured from the oldest
	// pending log.
	logsFlushInterval = 5 * time.Second
	// Hard cap on pending logs; the oldest is dropped beyond it.
	logsQueueCap = 1000

	logItemContentType = "application/vnd.sentry.items.log+json"
)

// LogLevel is the severity of a structured log record.
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelFatal LogLevel = "fatal"
)

// LogAttribute is a typed attribute value on a log record.
type LogAttribute struct {
	Value any    `json:"value"`
	Type  string `json:"type"`
}

// StringAttribute builds a string-typed log attribute.
func StringAttribute(value string) LogAttribute {
	return LogAttribute{Value: value, Type: "string"}
}

// IntAttribute builds an integer-typed log attribute.
func IntAttribute(value int64) LogAttribute {
	return LogAttribute{Value: value, Type: "integer"}
}

// Log is a structured log record captured through the SDK.
type Log struct {
	Timestamp  time.Time               `json:"timestamp"`
	TraceID    TraceID                 `json:"trace_id,omitempty"`
	Level      LogLevel                `json:"level"`
	Body       string                  `json:"body"`
	Attributes map[string]LogAttribute `json:"attributes,omitempty"`
}

type logItemPayload struct {
	Items []Log `json:"items"`
}

// logBatcher accumulates logs in a bounded queue and flushes them as a
// single envelope when the batch fills, the flush interval elapses, or a
// flush is requested.
type logBatcher struct {
	transport Transport
	outcomes  *clientreport.Recorder
	logger    *zap.Logger

	mu    sync.Mutex
	queue []Log

	wake      chan struct{}
	shutdown  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newLogBatcher(transport Transport, outcomes *clientreport.Recorder, logger *zap.Logger) *logBatcher {
	b := &logBatcher{
		transport: transport,
		outcomes:  outcomes,
		logger:    logger,
		wake:      make(chan struct{}, 1),
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	go b.worker()
	return b
}

func (b *logBatcher) worker() {
	defer close(b.done)
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("logs batcher worker panicked", zap.Any("panic", r))
		}
	}()

	ticker := time.NewTicker(logsFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.Flush()
		case <-b.wake:
			b.Flush()
		case <-b.shutdown:
			return
		}
	}
}

// Enqueue appends a log. If the hard cap is reached the oldest pending log
// is dropped and tallied as a buffer overflow outcome.
func (b *logBatcher) Enqueue(log Log) {
	b.mu.Lock()
	if len(b.queue) >= logsQueueCap {
		b.queue = b.queue[1:]
		b.outcomes.Record(clientreport.ReasonBufferOverflow, ratelimit.CategoryLog, 1)
	}
	b.queue = append(b.queue, log)
	full := len(b.queue) >= logsMaxBatchSize
	b.mu.Unlock()

	if full {
		select {
		case b.wake <- struct{}{}:
		default:
		}
	}
}

// Flush sends all pending logs as one envelope.
func (b *logBatcher) Flush() {
	b.mu.Lock()
	items := b.queue
	b.queue = nil
	b.mu.Unlock()

	if len(items) == 0 {
		return
	}

	payload, err := json.Marshal(logItemPayload{Items: items})
	if err != nil {
		b.outcomes.Record(clientreport.ReasonInternalError, ratelimit.CategoryLog, int64(len(items)))
		b.logger.Error("failed to serialize log batch", zap.Error(err))
		return
	}

	now := time.Now().UTC()
	envelope := &Envelope{Header: EnvelopeHeader{SentAt: &now}}
	envelope.AddItem(&EnvelopeItem{
		Type:        itemTypeLog,
		ItemCount:   len(items),
		ContentType: logItemContentType,
		Payload:     payload,
	})
	b.transport.SendEnvelope(envelope)
}

// Close stops the worker and flushes whatever is pending. It is idempotent.
func (b *logBatcher) Close(timeout time.Duration) {
	b.closeOnce.Do(func() {
		close(b.shutdown)
	})
	select {
	case <-b.done:
	case <-time.After(timeout):
		b.logger.Warn("logs batcher did not stop within the deadline")
	}
	b.Flush()
}
