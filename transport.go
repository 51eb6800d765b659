package sentrykit

import (
	"bytes"
	"compress/gzip"
	"crypto/tls"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/your-org/sentrykit/internal/clientreport"
	"github.com/your-org/sentrykit/internal/ratelimit"
)

const defaultBufferSize = 30

const rateLimitCleanupInterval = 5 * time.Minute

// Transport delivers envelopes to the ingestion endpoint. Implementations
// must not block in SendEnvelope; Flush and Close block up to their
// deadline and report whether the queue drained in time.
type Transport interface {
	SendEnvelope(envelope *Envelope)
	Flush(timeout time.Duration) bool
	Close(timeout time.Duration) bool
}

// NoopTransport discards everything. It backs inert clients.
type NoopTransport struct{}

func (*NoopTransport) SendEnvelope(*Envelope)    {}
func (*NoopTransport) Flush(time.Duration) bool  { return true }
func (*NoopTransport) Close(time.Duration) bool  { return true }

// HTTPTransport is the reference transport: a bounded queue drained by a
// single worker goroutine that serializes envelopes, submits them and keeps
// the rate limit state up to date. Failed submissions are never retried.
type HTTPTransport struct {
	dsn         *DSN
	client      *http.Client
	logger      *zap.Logger
	limits      *ratelimit.Map
	outcomes    *clientreport.Recorder
	metrics     *Metrics
	compression bool

	queue   chan *Envelope
	flushCh chan chan struct{}
	stop    chan struct{}
	done    chan struct{}

	closed   atomic.Bool
	stopOnce sync.Once
}

// NewHTTPTransport builds the transport from resolved client options and
// starts its worker.
func NewHTTPTransport(options *ClientOptions, dsn *DSN) *HTTPTransport {
	httpTransport := &http.Transport{
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: options.InsecureSkipVerify,
		},
		Proxy: proxyFunc(options),
	}

	bufferSize := options.BufferSize
	if bufferSize < defaultBufferSize {
		bufferSize = defaultBufferSize
	}

	t := &HTTPTransport{
		dsn: dsn,
		client: &http.Client{
			Transport: httpTransport,
			Timeout:   options.Timeout,
		},
		logger:      options.DebugLogger,
		limits:      ratelimit.NewMap(options.DebugLogger),
		outcomes:    clientreport.NewRecorder(),
		metrics:     options.Metrics,
		compression: !options.DisableCompression,
		queue:       make(chan *Envelope, bufferSize),
		flushCh:     make(chan chan struct{}),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go t.worker()
	return t
}

func proxyFunc(options *ClientOptions) func(*http.Request) (*url.URL, error) {
	proxy := options.HTTPSProxy
	if proxy == "" {
		proxy = options.HTTPProxy
	}
	if proxy == "" {
		return http.ProxyFromEnvironment
	}
	proxyURL, err := url.Parse(proxy)
	if err != nil {
		options.DebugLogger.Warn("invalid proxy URL, ignoring", zap.String("proxy", proxy))
		return http.ProxyFromEnvironment
	}
	return http.ProxyURL(proxyURL)
}

// SendEnvelope enqueues the envelope without blocking. A full queue drops
// the envelope and tallies a queue overflow outcome per item.
func (t *HTTPTransport) SendEnvelope(envelope *Envelope) {
	if envelope == nil || t.closed.Load() {
		return
	}
	select {
	case t.queue <- envelope:
	default:
		t.logger.Warn("envelope queue is full, dropping envelope",
			zap.String("event_id", string(envelope.Header.EventID)))
		for _, item := range envelope.Items {
			t.outcomes.Record(clientreport.ReasonQueueOverflow, ratelimit.CategoryForItemType(item.Type), 1)
		}
		if t.metrics != nil {
			t.metrics.IncDroppedEnvelopes()
		}
	}
}

// RateLimited reports whether the category is currently limited, so the
// client pipeline can drop before queueing.
func (t *HTTPTransport) RateLimited(category ratelimit.Category) bool {
	return t.limits.IsRateLimited(category)
}

// DiscardedCount returns the transport-side drop tally for (reason,
// category).
func (t *HTTPTransport) DiscardedCount(reason clientreport.DiscardReason, category ratelimit.Category) int64 {
	return t.outcomes.Count(reason, category)
}

// worker is the transport's single long-running loop. A panic inside the
// loop is caught at the boundary and the loop restarts.
func (t *HTTPTransport) worker() {
	defer close(t.done)
	for {
		if t.runWorker() {
			return
		}
	}
}

func (t *HTTPTransport) runWorker() (stopped bool) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("transport worker panicked, restarting", zap.Any("panic", r))
		}
	}()

	cleanup := time.NewTicker(rateLimitCleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case envelope := <-t.queue:
			t.send(envelope)
		case flushed := <-t.flushCh:
			t.drain()
			close(flushed)
		case <-cleanup.C:
			t.limits.CleanupExpired()
		case <-t.stop:
			t.drain()
			return true
		}
	}
}

// drain sends everything currently queued without blocking on new input.
func (t *HTTPTransport) drain() {
	for {
		select {
		case envelope := <-t.queue:
			t.send(envelope)
		default:
			return
		}
	}
}

// send applies rate limit filtering, serializes and submits one envelope,
// then folds the response headers back into the rate limit state.
func (t *HTTPTransport) send(envelope *Envelope) {
	filtered := envelope.Filter(func(item *EnvelopeItem) bool {
		category := ratelimit.CategoryForItemType(item.Type)
		if t.limits.IsRateLimited(category) {
			t.outcomes.Record(clientreport.ReasonRateLimitBackoff, category, 1)
			return false
		}
		return true
	})
	if filtered == nil {
		if t.metrics != nil {
			t.metrics.IncRateLimitedEnvelopes()
		}
		return
	}

	body, err := filtered.Serialize()
	if err != nil {
		t.logger.Error("failed to serialize envelope", zap.Error(err))
		t.recordFailure(filtered, clientreport.ReasonInternalError)
		return
	}

	request, err := t.newRequest(body)
	if err != nil {
		t.logger.Error("failed to create envelope request", zap.Error(err))
		t.recordFailure(filtered, clientreport.ReasonInternalError)
		return
	}

	response, err := t.client.Do(request)
	if err != nil {
		t.logger.Error("envelope submission failed", zap.Error(err))
		t.recordFailure(filtered, clientreport.ReasonNetworkError)
		return
	}
	defer func() {
		_, _ = io.Copy(io.Discard, response.Body)
		_ = response.Body.Close()
	}()

	t.limits.Update(response)

	switch {
	case response.StatusCode >= 200 && response.StatusCode < 300:
		t.logger.Debug("envelope sent",
			zap.String("event_id", string(filtered.Header.EventID)),
			zap.Int("status_code", response.StatusCode))
		if t.metrics != nil {
			t.metrics.IncSentEnvelopes()
			for _, item := range filtered.Items {
				t.metrics.IncItemsByCategory(ratelimit.CategoryForItemType(item.Type).String())
			}
		}
	case response.StatusCode == http.StatusTooManyRequests:
		t.recordFailure(filtered, clientreport.ReasonRateLimitBackoff)
		if t.metrics != nil {
			t.metrics.IncRateLimitedEnvelopes()
		}
	default:
		t.logger.Error("envelope rejected",
			zap.String("event_id", string(filtered.Header.EventID)),
			zap.Int("status_code", response.StatusCode))
		t.recordFailure(filtered, clientreport.ReasonSendError)
	}
}

func (t *HTTPTransport) recordFailure(envelope *Envelope, reason clientreport.DiscardReason) {
	for _, item := range envelope.Items {
		t.outcomes.Record(reason, ratelimit.CategoryForItemType(item.Type), 1)
	}
	if t.metrics != nil && reason != clientreport.ReasonRateLimitBackoff {
		t.metrics.IncFailedEnvelopes()
	}
}

func (t *HTTPTransport) newRequest(body []byte) (*http.Request, error) {
	var reader io.Reader = bytes.NewReader(body)
	encoding := ""
	if t.compression {
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		reader = &buf
		encoding = "gzip"
	}

	request, err := http.NewRequest(http.MethodPost, t.dsn.EnvelopeURL, reader)
	if err != nil {
		return nil, err
	}
	for header, value := range t.dsn.RequestHeaders(sdkIdentifier()) {
		request.Header.Set(header, value)
	}
	request.Header.Set("User-Agent", sdkIdentifier())
	if encoding != "" {
		request.Header.Set("Content-Encoding", encoding)
	}
	return request, nil
}

// Flush blocks until the queue drains or the deadline elapses; true means
// drained.
func (t *HTTPTransport) Flush(timeout time.Duration) bool {
	deadline := time.After(timeout)
	flushed := make(chan struct{})

	select {
	case t.flushCh <- flushed:
	case <-t.done:
		return len(t.queue) == 0
	case <-deadline:
		return false
	}

	select {
	case <-flushed:
		return true
	case <-t.done:
		return false
	case <-deadline:
		return false
	}
}

// Close flushes with the deadline, stops the worker and stops accepting new
// envelopes. It is idempotent.
func (t *HTTPTransport) Close(timeout time.Duration) bool {
	t.closed.Store(true)

	deadline := time.Now().Add(timeout)
	drained := t.Flush(timeout)

	t.stopOnce.Do(func() {
		close(t.stop)
	})
	select {
	case <-t.done:
	case <-time.After(time.Until(deadline)):
		t.logger.Warn("transport worker did not stop within the deadline, detaching")
		return false
	}
	t.client.CloseIdleConnections()
	return drained
}
