package clientreport

import (
	"sync"

	"github.com/your-org/sentrykit/internal/ratelimit"
)

// OutcomeKey uniquely identifies an outcome bucket for aggregation.
type OutcomeKey struct {
	Reason   DiscardReason
	Category ratelimit.Category
}

// DiscardedEvent is a single aggregated discard outcome.
type DiscardedEvent struct {
	Reason   DiscardReason      `json:"reason"`
	Category ratelimit.Category `json:"category"`
	Quantity int64              `json:"quantity"`
}

// Recorder tallies client-side discard outcomes. All methods are safe for
// concurrent use.
type Recorder struct {
	mu       sync.Mutex
	outcomes map[OutcomeKey]int64
}

// NewRecorder creates an empty outcome recorder.
func NewRecorder() *Recorder {
	return &Recorder{outcomes: make(map[OutcomeKey]int64)}
}

// Record adds quantity to the outcome bucket for (reason, category).
func (r *Recorder) Record(reason DiscardReason, category ratelimit.Category, quantity int64) {
	if quantity <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[OutcomeKey{Reason: reason, Category: category}] += quantity
}

// Count returns the current tally for (reason, category).
func (r *Recorder) Count(reason DiscardReason, category ratelimit.Category) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcomes[OutcomeKey{Reason: reason, Category: category}]
}

// Take returns all accumulated outcomes and resets the recorder.
func (r *Recorder) Take() []DiscardedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.outcomes) == 0 {
		return nil
	}
	events := make([]DiscardedEvent, 0, len(r.outcomes))
	for key, quantity := range r.outcomes {
		events = append(events, DiscardedEvent{
			Reason:   key.Reason,
			Category: key.Category,
			Quantity: quantity,
		})
	}
	r.outcomes = make(map[OutcomeKey]int64)
	return events
}
