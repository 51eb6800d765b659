package clientreport

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/sentrykit/internal/ratelimit"
)

func TestRecorder_RecordAndCount(t *testing.T) {
	r := NewRecorder()

	r.Record(ReasonBeforeSend, ratelimit.CategoryError, 1)
	r.Record(ReasonBeforeSend, ratelimit.CategoryError, 2)
	r.Record(ReasonQueueOverflow, ratelimit.CategoryTransaction, 1)

	assert.Equal(t, int64(3), r.Count(ReasonBeforeSend, ratelimit.CategoryError))
	assert.Equal(t, int64(1), r.Count(ReasonQueueOverflow, ratelimit.CategoryTransaction))
	assert.Equal(t, int64(0), r.Count(ReasonSampleRate, ratelimit.CategoryError))
}

func TestRecorder_IgnoresNonPositiveQuantities(t *testing.T) {
	r := NewRecorder()
	r.Record(ReasonBeforeSend, ratelimit.CategoryError, 0)
	r.Record(ReasonBeforeSend, ratelimit.CategoryError, -4)
	assert.Equal(t, int64(0), r.Count(ReasonBeforeSend, ratelimit.CategoryError))
}

func TestRecorder_Take(t *testing.T) {
	r := NewRecorder()
	assert.Nil(t, r.Take())

	r.Record(ReasonRateLimitBackoff, ratelimit.CategorySession, 5)
	events := r.Take()
	require.Len(t, events, 1)
	assert.Equal(t, DiscardedEvent{
		Reason:   ReasonRateLimitBackoff,
		Category: ratelimit.CategorySession,
		Quantity: 5,
	}, events[0])

	assert.Nil(t, r.Take(), "taking drains the recorder")
	assert.Equal(t, int64(0), r.Count(ReasonRateLimitBackoff, ratelimit.CategorySession))
}

func TestRecorder_ConcurrentUse(t *testing.T) {
	r := NewRecorder()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Record(ReasonSampleRate, ratelimit.CategoryError, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(800), r.Count(ReasonSampleRate, ratelimit.CategoryError))
}
