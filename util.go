package sentrykit

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EventID is a hex-encoded 128-bit event identifier.
type EventID string

// TraceID is a hex-encoded 128-bit trace identifier.
type TraceID string

// SpanID is a hex-encoded 64-bit span identifier.
type SpanID string

func newEventID() EventID {
	id := uuid.New()
	return EventID(hex.EncodeToString(id[:]))
}

func newTraceID() TraceID {
	id := uuid.New()
	return TraceID(hex.EncodeToString(id[:]))
}

func newSpanID() SpanID {
	id := uuid.New()
	return SpanID(hex.EncodeToString(id[:8]))
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}

func validTraceID(s string) bool {
	return len(s) == 32 && isHex(s)
}

func validSpanID(s string) bool {
	return len(s) == 16 && isHex(s)
}

func monotonicSince(start time.Time) float64 {
	return time.Since(start).Seconds()
}
