package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultRetryAfter = 60 * time.Second

// Map tracks per-category backoff deadlines derived from server responses.
// It is safe for concurrent use; in practice it is written only by the
// transport worker and read by the worker and the client pipeline.
type Map struct {
	mu        sync.RWMutex
	deadlines map[Category]time.Time
	logger    *zap.Logger
}

// NewMap creates an empty rate limit map.
func NewMap(logger *zap.Logger) *Map {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Map{
		deadlines: make(map[Category]time.Time),
		logger:    logger,
	}
}

// IsRateLimited reports whether the given category is currently limited,
// either directly or through the catch-all category.
func (m *Map) IsRateLimited(c Category) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	if until, ok := m.deadlines[c]; ok && until.After(now) {
		return true
	}
	if until, ok := m.deadlines[CategoryAll]; ok && until.After(now) {
		return true
	}
	return false
}

// Deadline returns the time until which the category is limited, or the zero
// time if it is not.
func (m *Map) Deadline(c Category) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	var max time.Time
	if until, ok := m.deadlines[c]; ok && until.After(now) {
		max = until
	}
	if until, ok := m.deadlines[CategoryAll]; ok && until.After(now) && until.After(max) {
		max = until
	}
	return max
}

// Update inspects a server response and records any rate limit directives.
// X-Sentry-Rate-Limits takes precedence; Retry-After is honored only on
// 429 and 503 responses and applies to the catch-all category.
func (m *Map) Update(r *http.Response) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if header := r.Header.Get("X-Sentry-Rate-Limits"); header != "" {
		m.parseRateLimits(header, now)
		return
	}
	if r.StatusCode == http.StatusTooManyRequests || r.StatusCode == http.StatusServiceUnavailable {
		if header := r.Header.Get("Retry-After"); header != "" {
			m.parseRetryAfter(header, now)
		}
	}
}

// parseRateLimits parses the X-Sentry-Rate-Limits header.
// Format: "retry_after:categories:scope:reason_code, ..." where categories is
// a semicolon-separated list and an empty list means all categories.
func (m *Map) parseRateLimits(header string, now time.Time) {
	for _, limit := range strings.Split(header, ",") {
		limit = strings.TrimSpace(limit)
		parts := strings.Split(limit, ":")
		if len(parts) < 1 || parts[0] == "" {
			continue
		}

		seconds, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			m.logger.Warn("failed to parse retry_after from rate limit directive",
				zap.String("value", parts[0]))
			continue
		}
		until := now.Add(time.Duration(seconds) * time.Second)

		var categories string
		if len(parts) > 1 {
			categories = strings.TrimSpace(parts[1])
		}
		if categories == "" {
			m.apply(CategoryAll, until, seconds)
			continue
		}
		for _, name := range strings.Split(categories, ";") {
			name = strings.TrimSpace(name)
			if name == "" {
				m.apply(CategoryAll, until, seconds)
				continue
			}
			c, ok := ParseCategory(name)
			if !ok {
				continue
			}
			m.apply(c, until, seconds)
		}
	}
}

// parseRetryAfter parses a Retry-After header, either delta-seconds or an
// HTTP date. Unparseable values fall back to a 60 second backoff.
func (m *Map) parseRetryAfter(header string, now time.Time) {
	header = strings.TrimSpace(header)
	if seconds, err := strconv.Atoi(header); err == nil {
		m.apply(CategoryAll, now.Add(time.Duration(seconds)*time.Second), seconds)
		return
	}
	if t, err := http.ParseTime(header); err == nil && t.After(now) {
		m.apply(CategoryAll, t, int(time.Until(t)/time.Second))
		return
	}
	m.logger.Warn("failed to parse Retry-After header, using default backoff",
		zap.String("header", header))
	m.apply(CategoryAll, now.Add(defaultRetryAfter), int(defaultRetryAfter/time.Second))
}

func (m *Map) apply(c Category, until time.Time, seconds int) {
	if existing, ok := m.deadlines[c]; ok && existing.After(until) {
		return
	}
	m.deadlines[c] = until
	m.logger.Warn("rate limit applied",
		zap.String("category", c.String()),
		zap.Time("disabled_until", until),
		zap.Int("retry_after_seconds", seconds))
}

// CleanupExpired removes deadlines that have already passed.
func (m *Map) CleanupExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for c, until := range m.deadlines {
		if !until.After(now) {
			delete(m.deadlines, c)
		}
	}
}
