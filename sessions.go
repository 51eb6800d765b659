package sentrykit

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const sessionFlushInterval = 60 * time.Second

// SessionStatus is the lifecycle state of a release health session.
type SessionStatus string

const (
	SessionStatusOk       SessionStatus = "ok"
	SessionStatusExited   SessionStatus = "exited"
	SessionStatusCrashed  SessionStatus = "crashed"
	SessionStatusAbnormal SessionStatus = "abnormal"
)

// SessionAttributes are the environment a session ran under.
type SessionAttributes struct {
	Release     string `json:"release"`
	Environment string `json:"environment,omitempty"`
	IPAddress   string `json:"ip_address,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
}

// SessionUpdate is a single state report for one session. At most one update
// per session has Init set, and at most one carries a terminal status.
type SessionUpdate struct {
	SessionID  string            `json:"sid"`
	DistinctID string            `json:"did,omitempty"`
	Init       bool              `json:"init"`
	Started    time.Time         `json:"started"`
	Timestamp  time.Time         `json:"timestamp"`
	Status     SessionStatus     `json:"status"`
	Errors     int               `json:"errors"`
	Duration   *float64          `json:"duration,omitempty"`
	Attrs      SessionAttributes `json:"attrs"`
}

// session is the live state machine backing a scope's session.
type session struct {
	mu        sync.Mutex
	update    SessionUpdate
	startedAt time.Time
	dirty     bool
}

func newSession(distinctID string, options *ClientOptions) *session {
	now := time.Now().UTC()
	return &session{
		update: SessionUpdate{
			SessionID:  uuid.NewString(),
			DistinctID: distinctID,
			Init:       true,
			Started:    now,
			Status:     SessionStatusOk,
			Attrs: SessionAttributes{
				Release:     options.Release,
				Environment: options.Environment,
			},
		},
		startedAt: now,
		dirty:     true,
	}
}

// updateFromEvent transitions the session when an errored event passes
// through the pipeline. Terminal sessions ignore further updates.
func (s *session) updateFromEvent(event *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.update.Status != SessionStatusOk {
		return
	}

	hasError := event.Level.ordinal() >= LevelError.ordinal()
	isCrash := false
	for i := range event.Exception {
		hasError = true
		mechanism := event.Exception[i].Mechanism
		if mechanism != nil && mechanism.Handled != nil && !*mechanism.Handled {
			isCrash = true
			break
		}
	}

	if isCrash {
		s.update.Status = SessionStatusCrashed
	}
	if hasError {
		s.update.Errors++
		s.dirty = true
	}
}

// close moves the session into a terminal state. Closing an already
// terminal session is a no-op.
func (s *session) close(status SessionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.update.Status != SessionStatusOk {
		return
	}
	if status == SessionStatusOk {
		status = SessionStatusExited
	}
	duration := monotonicSince(s.startedAt)
	s.update.Duration = &duration
	s.update.Status = status
	s.dirty = true
}

// takeUpdate returns the pending update, if any, and clears the init flag so
// only the first report announces the session.
func (s *session) takeUpdate() *SessionUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil
	}
	update := s.update
	update.Timestamp = time.Now().UTC()
	s.update.Init = false
	s.dirty = false
	return &update
}

// aggregationKey buckets request-mode sessions by start minute and user.
type aggregationKey struct {
	started    int64
	distinctID string
}

type aggregationCounts struct {
	exited   uint32
	errored  uint32
	abnormal uint32
	crashed  uint32
}

type sessionAggregateItem struct {
	Started    time.Time `json:"started"`
	DistinctID string    `json:"did,omitempty"`
	Exited     uint32    `json:"exited,omitempty"`
	Errored    uint32    `json:"errored,omitempty"`
	Abnormal   uint32    `json:"abnormal,omitempty"`
	Crashed    uint32    `json:"crashed,omitempty"`
}

type sessionAggregates struct {
	Aggregates []sessionAggregateItem `json:"aggregates"`
	Attrs      SessionAttributes      `json:"attrs"`
}

// sessionFlusher forwards application-mode updates immediately and
// aggregates request-mode updates into minute buckets flushed on a fixed
// cadence.
type sessionFlusher struct {
	transport Transport
	mode      SessionMode
	logger    *zap.Logger

	mu      sync.Mutex
	buckets map[aggregationKey]*aggregationCounts
	attrs   *SessionAttributes

	shutdown  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newSessionFlusher(transport Transport, mode SessionMode, logger *zap.Logger) *sessionFlusher {
	f := &sessionFlusher{
		transport: transport,
		mode:      mode,
		logger:    logger,
		buckets:   make(map[aggregationKey]*aggregationCounts),
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	go f.worker()
	return f
}

func (f *sessionFlusher) worker() {
	defer close(f.done)
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("session flusher worker panicked", zap.Any("panic", r))
		}
	}()

	ticker := time.NewTicker(sessionFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.Flush()
		case <-f.shutdown:
			return
		}
	}
}

// Enqueue accepts a session update from the client pipeline.
func (f *sessionFlusher) Enqueue(update SessionUpdate) {
	if f.mode == SessionModeApplication {
		payload, err := json.Marshal(update)
		if err != nil {
			f.logger.Error("failed to serialize session update", zap.Error(err))
			return
		}
		now := time.Now().UTC()
		envelope := &Envelope{Header: EnvelopeHeader{SentAt: &now}}
		envelope.AddItem(&EnvelopeItem{Type: itemTypeSession, Payload: payload})
		f.transport.SendEnvelope(envelope)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.attrs == nil {
		attrs := update.Attrs
		f.attrs = &attrs
	}
	key := aggregationKey{
		started:    update.Started.Truncate(time.Minute).Unix(),
		distinctID: update.DistinctID,
	}
	counts, ok := f.buckets[key]
	if !ok {
		counts = &aggregationCounts{}
		f.buckets[key] = counts
	}
	switch update.Status {
	case SessionStatusCrashed:
		counts.crashed++
	case SessionStatusAbnormal:
		counts.abnormal++
	default:
		if update.Errors > 0 {
			counts.errored++
		} else if update.Status == SessionStatusExited {
			counts.exited++
		}
	}
}

// Flush emits all pending aggregate buckets as a single sessions item.
func (f *sessionFlusher) Flush() {
	f.mu.Lock()
	buckets := f.buckets
	attrs := f.attrs
	f.buckets = make(map[aggregationKey]*aggregationCounts)
	f.mu.Unlock()

	if len(buckets) == 0 || attrs == nil {
		return
	}

	aggregates := sessionAggregates{Attrs: *attrs}
	for key, counts := range buckets {
		aggregates.Aggregates = append(aggregates.Aggregates, sessionAggregateItem{
			Started:    time.Unix(key.started, 0).UTC(),
			DistinctID: key.distinctID,
			Exited:     counts.exited,
			Errored:    counts.errored,
			Abnormal:   counts.abnormal,
			Crashed:    counts.crashed,
		})
	}

	payload, err := json.Marshal(aggregates)
	if err != nil {
		f.logger.Error("failed to serialize session aggregates", zap.Error(err))
		return
	}
	now := time.Now().UTC()
	envelope := &Envelope{Header: EnvelopeHeader{SentAt: &now}}
	envelope.AddItem(&EnvelopeItem{Type: itemTypeSessions, Payload: payload})
	f.transport.SendEnvelope(envelope)
}

// Close flushes pending buckets and stops the worker. It is idempotent.
func (f *sessionFlusher) Close(timeout time.Duration) {
	f.closeOnce.Do(func() {
		close(f.shutdown)
	})
	select {
	case <-f.done:
	case <-time.After(timeout):
		f.logger.Warn("session flusher did not stop within the deadline")
	}
	f.Flush()
}
