package sentrykit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/sentrykit/internal/clientreport"
	"github.com/your-org/sentrykit/internal/ratelimit"
)

func decodeLogItems(t *testing.T, envelope *Envelope) []Log {
	t.Helper()
	require.Len(t, envelope.Items, 1)
	require.Equal(t, itemTypeLog, envelope.Items[0].Type)
	var payload logItemPayload
	require.NoError(t, json.Unmarshal(envelope.Items[0].Payload, &payload))
	return payload.Items
}

func TestLogBatcher_FlushesOnBatchSize(t *testing.T) {
	transport := &TransportMock{}
	outcomes := clientreport.NewRecorder()
	batcher := newLogBatcher(transport, outcomes, zap.NewNop())
	defer batcher.Close(time.Second)

	for i := 0; i < logsMaxBatchSize; i++ {
		batcher.Enqueue(Log{
			Timestamp: time.Now().UTC(),
			Level:     LogLevelInfo,
			Body:      fmt.Sprintf("log %d", i),
		})
	}

	// The full batch wakes the worker; give it a moment.
	require.Eventually(t, func() bool {
		return len(transport.Envelopes()) == 1
	}, time.Second, 10*time.Millisecond)

	items := decodeLogItems(t, transport.Envelopes()[0])
	assert.Len(t, items, logsMaxBatchSize)
	assert.Equal(t, logsMaxBatchSize, transport.Envelopes()[0].Items[0].ItemCount)
	assert.Equal(t, logItemContentType, transport.Envelopes()[0].Items[0].ContentType)
}

func TestLogBatcher_ExplicitFlush(t *testing.T) {
	transport := &TransportMock{}
	batcher := newLogBatcher(transport, clientreport.NewRecorder(), zap.NewNop())
	defer batcher.Close(time.Second)

	batcher.Enqueue(Log{Level: LogLevelWarn, Body: "pending"})
	assert.Empty(t, transport.Envelopes())

	batcher.Flush()
	envelopes := transport.Envelopes()
	require.Len(t, envelopes, 1)
	items := decodeLogItems(t, envelopes[0])
	require.Len(t, items, 1)
	assert.Equal(t, "pending", items[0].Body)
}

func TestLogBatcher_OverflowDropsOldest(t *testing.T) {
	transport := &TransportMock{}
	outcomes := clientreport.NewRecorder()
	batcher := &logBatcher{
		transport: transport,
		outcomes:  outcomes,
		logger:    zap.NewNop(),
		wake:      make(chan struct{}, 1),
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	// No worker started: the queue bound is exercised deterministically.
	close(batcher.done)

	for i := 0; i < logsQueueCap+5; i++ {
		batcher.Enqueue(Log{Body: fmt.Sprintf("log %d", i)})
	}

	assert.Equal(t, int64(5), outcomes.Count(clientreport.ReasonBufferOverflow, ratelimit.CategoryLog))
	batcher.mu.Lock()
	assert.Len(t, batcher.queue, logsQueueCap)
	assert.Equal(t, "log 5", batcher.queue[0].Body)
	batcher.mu.Unlock()
}

func TestLogBatcher_CloseFlushesPending(t *testing.T) {
	transport := &TransportMock{}
	batcher := newLogBatcher(transport, clientreport.NewRecorder(), zap.NewNop())

	batcher.Enqueue(Log{Level: LogLevelInfo, Body: "last words"})
	batcher.Close(time.Second)

	require.Len(t, transport.Envelopes(), 1)
	batcher.Close(time.Second)
	assert.Len(t, transport.Envelopes(), 1)
}

func TestClient_CaptureLog(t *testing.T) {
	hub, transport := newTestHub(ClientOptions{EnableLogs: true})

	hub.CaptureLog(Log{
		Level: LogLevelInfo,
		Body:  "structured",
		Attributes: map[string]LogAttribute{
			"user": StringAttribute("u1"),
		},
	})
	hub.Client().Flush(time.Second)

	envelopes := transport.Envelopes()
	require.Len(t, envelopes, 1)
	items := decodeLogItems(t, envelopes[0])
	require.Len(t, items, 1)
	assert.Equal(t, "structured", items[0].Body)
	assert.False(t, items[0].Timestamp.IsZero())
	assert.Equal(t, hub.Scope().PropagationContext().TraceID, items[0].TraceID,
		"logs inherit the scope's trace linkage")
}

func TestClient_CaptureLogDisabled(t *testing.T) {
	hub, transport := newTestHub(ClientOptions{})
	hub.CaptureLog(Log{Level: LogLevelInfo, Body: "ignored"})
	hub.Client().Flush(time.Second)
	assert.Empty(t, transport.Envelopes())
}
