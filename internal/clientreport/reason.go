package clientreport

// DiscardReason states why an item was dropped client-side before it reached
// the server.
type DiscardReason string

const (
	// ReasonQueueOverflow indicates the transport queue was full.
	ReasonQueueOverflow DiscardReason = "queue_overflow"

	// ReasonBufferOverflow indicates that an internal buffer (for example
	// the logs batcher) was full.
	ReasonBufferOverflow DiscardReason = "buffer_overflow"

	// ReasonRateLimitBackoff indicates the item was dropped because its
	// category was rate limited.
	ReasonRateLimitBackoff DiscardReason = "ratelimit_backoff"

	// ReasonBeforeSend indicates the BeforeSend callback returned nil.
	ReasonBeforeSend DiscardReason = "before_send"

	// ReasonBeforeBreadcrumb indicates the BeforeBreadcrumb callback
	// returned nil.
	ReasonBeforeBreadcrumb DiscardReason = "before_breadcrumb"

	// ReasonEventProcessor indicates a scope event processor or an
	// integration returned nil.
	ReasonEventProcessor DiscardReason = "event_processor"

	// ReasonSampleRate indicates the item was dropped by sampling.
	ReasonSampleRate DiscardReason = "sample_rate"

	// ReasonNetworkError indicates the HTTP request failed to complete.
	ReasonNetworkError DiscardReason = "network_error"

	// ReasonSendError indicates the server returned an error status.
	ReasonSendError DiscardReason = "send_error"

	// ReasonInternalError indicates an internal SDK error.
	ReasonInternalError DiscardReason = "internal_sdk_error"
)
