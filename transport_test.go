package sentrykit

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/sentrykit/internal/clientreport"
	"github.com/your-org/sentrykit/internal/ratelimit"
)

// testServer records envelope submissions and replays scripted responses.
type testServer struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   []string
	respond  func(n int, w http.ResponseWriter)
	server   *httptest.Server
}

func newTestServer() *testServer {
	ts := &testServer{}
	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.Header.Get("Content-Encoding") == "gzip" {
			if zr, err := gzip.NewReader(strings.NewReader(string(body))); err == nil {
				if decoded, err := io.ReadAll(zr); err == nil {
					body = decoded
				}
			}
		}
		ts.mu.Lock()
		n := len(ts.requests)
		ts.requests = append(ts.requests, r)
		ts.bodies = append(ts.bodies, string(body))
		respond := ts.respond
		ts.mu.Unlock()
		if respond != nil {
			respond(n, w)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	return ts
}

func (ts *testServer) count() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.requests)
}

func (ts *testServer) dsn() string {
	return strings.Replace(ts.server.URL, "://", "://key@", 1) + "/1"
}

func newServerTransport(t *testing.T, ts *testServer, mutate func(*ClientOptions)) *HTTPTransport {
	t.Helper()
	options := ClientOptions{Dsn: ts.dsn()}
	options.InitDefaults()
	if mutate != nil {
		mutate(&options)
	}
	dsn, err := ParseDSN(options.Dsn)
	require.NoError(t, err)
	return NewHTTPTransport(&options, dsn)
}

func TestHTTPTransport_SubmitsEnvelope(t *testing.T) {
	ts := newTestServer()
	defer ts.server.Close()

	transport := newServerTransport(t, ts, nil)
	defer transport.Close(time.Second)

	env := NewEnvelope()
	env.Header.EventID = "00112233445566778899aabbccddeeff"
	env.AddItem(&EnvelopeItem{Type: itemTypeEvent, Payload: []byte(`{"level":"info"}`)})
	transport.SendEnvelope(env)

	require.True(t, transport.Flush(2*time.Second))
	require.Equal(t, 1, ts.count())

	request := ts.requests[0]
	assert.Equal(t, "/api/1/envelope/", request.URL.Path)
	assert.Equal(t, "application/x-sentry-envelope", request.Header.Get("Content-Type"))
	assert.Contains(t, request.Header.Get("X-Sentry-Auth"), "sentry_key=key")

	parsed, err := ParseEnvelope([]byte(ts.bodies[0]))
	require.NoError(t, err)
	assert.Equal(t, EventID("00112233445566778899aabbccddeeff"), parsed.Header.EventID)
}

func TestHTTPTransport_RetryAfterHonored(t *testing.T) {
	ts := newTestServer()
	defer ts.server.Close()
	ts.respond = func(n int, w http.ResponseWriter) {
		if n == 0 {
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}

	transport := newServerTransport(t, ts, nil)
	defer transport.Close(time.Second)

	first := NewEnvelope()
	first.AddItem(&EnvelopeItem{Type: itemTypeEvent, Payload: []byte(`{}`)})
	transport.SendEnvelope(first)
	require.True(t, transport.Flush(2*time.Second))
	require.Equal(t, 1, ts.count())

	// The second envelope is discarded before transmission.
	second := NewEnvelope()
	second.AddItem(&EnvelopeItem{Type: itemTypeEvent, Payload: []byte(`{}`)})
	transport.SendEnvelope(second)
	require.True(t, transport.Flush(2*time.Second))

	assert.Equal(t, 1, ts.count())
	assert.True(t, transport.RateLimited(ratelimit.CategoryError))
	assert.GreaterOrEqual(t,
		transport.DiscardedCount(clientreport.ReasonRateLimitBackoff, ratelimit.CategoryError),
		int64(1))
}

func TestHTTPTransport_RateLimitStripsOnlyLimitedItems(t *testing.T) {
	ts := newTestServer()
	defer ts.server.Close()
	ts.respond = func(n int, w http.ResponseWriter) {
		if n == 0 {
			w.Header().Set("X-Sentry-Rate-Limits", "60:session:organization")
		}
		w.WriteHeader(http.StatusOK)
	}

	transport := newServerTransport(t, ts, nil)
	defer transport.Close(time.Second)

	first := NewEnvelope()
	first.AddItem(&EnvelopeItem{Type: itemTypeSession, Payload: []byte(`{}`)})
	transport.SendEnvelope(first)
	require.True(t, transport.Flush(2*time.Second))

	mixed := NewEnvelope()
	mixed.AddItem(&EnvelopeItem{Type: itemTypeEvent, Payload: []byte(`{}`)})
	mixed.AddItem(&EnvelopeItem{Type: itemTypeSession, Payload: []byte(`{}`)})
	transport.SendEnvelope(mixed)
	require.True(t, transport.Flush(2*time.Second))

	require.Equal(t, 2, ts.count())
	parsed, err := ParseEnvelope([]byte(ts.bodies[1]))
	require.NoError(t, err)
	require.Len(t, parsed.Items, 1, "the limited session item is stripped")
	assert.Equal(t, itemTypeEvent, parsed.Items[0].Type)
}

func TestHTTPTransport_ServerErrorNotRetried(t *testing.T) {
	ts := newTestServer()
	defer ts.server.Close()
	ts.respond = func(_ int, w http.ResponseWriter) {
		w.WriteHeader(http.StatusInternalServerError)
	}

	transport := newServerTransport(t, ts, nil)
	defer transport.Close(time.Second)

	env := NewEnvelope()
	env.AddItem(&EnvelopeItem{Type: itemTypeEvent, Payload: []byte(`{}`)})
	transport.SendEnvelope(env)
	require.True(t, transport.Flush(2*time.Second))

	assert.Equal(t, 1, ts.count())
	assert.Equal(t, int64(1),
		transport.DiscardedCount(clientreport.ReasonSendError, ratelimit.CategoryError))
	assert.False(t, transport.RateLimited(ratelimit.CategoryError),
		"plain server errors do not update rate limits")
}

func TestHTTPTransport_QueueOverflowIsNonBlocking(t *testing.T) {
	blocked := make(chan struct{})
	release := make(chan struct{})
	ts := newTestServer()
	defer ts.server.Close()
	ts.respond = func(n int, w http.ResponseWriter) {
		if n == 0 {
			close(blocked)
			<-release
		}
		w.WriteHeader(http.StatusOK)
	}
	defer close(release)

	transport := newServerTransport(t, ts, func(o *ClientOptions) {
		o.BufferSize = 30
	})
	defer transport.Close(time.Second)

	// First envelope occupies the worker.
	stuck := NewEnvelope()
	stuck.AddItem(&EnvelopeItem{Type: itemTypeEvent, Payload: []byte(`{}`)})
	transport.SendEnvelope(stuck)
	<-blocked

	// Fill the queue and then overflow it; every call must return promptly.
	start := time.Now()
	for i := 0; i < 40; i++ {
		env := NewEnvelope()
		env.AddItem(&EnvelopeItem{Type: itemTypeEvent, Payload: []byte(`{}`)})
		transport.SendEnvelope(env)
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.GreaterOrEqual(t,
		transport.DiscardedCount(clientreport.ReasonQueueOverflow, ratelimit.CategoryError),
		int64(10))
}

func TestHTTPTransport_FlushDeadline(t *testing.T) {
	release := make(chan struct{})
	ts := newTestServer()
	defer ts.server.Close()
	ts.respond = func(_ int, w http.ResponseWriter) {
		<-release
		w.WriteHeader(http.StatusOK)
	}

	transport := newServerTransport(t, ts, nil)

	env := NewEnvelope()
	env.AddItem(&EnvelopeItem{Type: itemTypeEvent, Payload: []byte(`{}`)})
	transport.SendEnvelope(env)

	start := time.Now()
	drained := transport.Flush(200 * time.Millisecond)
	elapsed := time.Since(start)

	assert.False(t, drained)
	assert.Less(t, elapsed, time.Second, "flush returns promptly after its deadline")
	close(release)
	transport.Close(time.Second)
}

func TestHTTPTransport_CloseWithinDeadline(t *testing.T) {
	ts := newTestServer()
	defer ts.server.Close()

	transport := newServerTransport(t, ts, nil)

	env := NewEnvelope()
	env.AddItem(&EnvelopeItem{Type: itemTypeEvent, Payload: []byte(`{}`)})
	transport.SendEnvelope(env)

	start := time.Now()
	ok := transport.Close(2 * time.Second)
	assert.True(t, ok)
	assert.Less(t, time.Since(start), 3*time.Second)

	// Close is idempotent and envelopes after close are dropped.
	transport.Close(time.Second)
	transport.SendEnvelope(env)
	assert.Equal(t, 1, ts.count())
}

func TestHTTPTransport_MetricsCounters(t *testing.T) {
	ts := newTestServer()
	defer ts.server.Close()

	metrics := NewMetrics()
	transport := newServerTransport(t, ts, func(o *ClientOptions) {
		o.Metrics = metrics
	})
	defer transport.Close(time.Second)

	env := NewEnvelope()
	env.AddItem(&EnvelopeItem{Type: itemTypeEvent, Payload: []byte(`{}`)})
	transport.SendEnvelope(env)
	require.True(t, transport.Flush(2*time.Second))

	assert.Equal(t, uint64(1), metrics.sentEnvelopes.Load())
}

func TestNoopTransport(t *testing.T) {
	transport := &NoopTransport{}
	transport.SendEnvelope(NewEnvelope())
	assert.True(t, transport.Flush(time.Second))
	assert.True(t, transport.Close(time.Second))
}
