package sentrykit

import (
	"sync"
	"time"
)

// TransportMock captures envelopes instead of submitting them.
type TransportMock struct {
	mu        sync.Mutex
	envelopes []*Envelope
	limited   map[string]bool
}

func (t *TransportMock) SendEnvelope(envelope *Envelope) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.envelopes = append(t.envelopes, envelope)
}

func (t *TransportMock) Flush(time.Duration) bool { return true }
func (t *TransportMock) Close(time.Duration) bool { return true }

func (t *TransportMock) Envelopes() []*Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Envelope(nil), t.envelopes...)
}

func (t *TransportMock) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.envelopes = nil
}

// newTestClient builds an enabled client wired to a capturing transport.
func newTestClient(options ClientOptions) (*Client, *TransportMock) {
	transport := &TransportMock{}
	if options.Dsn == "" {
		options.Dsn = "https://key@sentry.example.com/1"
	}
	options.Transport = transport
	return NewClient(options), transport
}

// newTestHub builds a hub bound to a fresh test client.
func newTestHub(options ClientOptions) (*Hub, *TransportMock) {
	client, transport := newTestClient(options)
	return NewHub(client, NewScope()), transport
}

// decodeEventItem unmarshals the first event item of an envelope.
func decodeEventItem(envelope *Envelope) (*Event, error) {
	item := envelope.EventItem()
	if item == nil {
		return nil, nil
	}
	event := &Event{}
	if err := json.Unmarshal(item.Payload, event); err != nil {
		return nil, err
	}
	return event, nil
}
