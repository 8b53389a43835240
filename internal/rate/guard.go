// Package rate keeps the daemon polite towards the vendor cloud. The API has
// no published quota, but aggressive polling gets accounts throttled, so all
// outbound calls share a token bucket and back off on 429 responses.
package rate

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// LimitError is returned when a call is blocked before reaching the network.
type LimitError struct {
	Reason  string
	RetryAt time.Time
}

func (e LimitError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("api rate limited: %s", e.Reason)
	}
	return fmt.Sprintf("api rate limited: %s (retry at %s)", e.Reason, e.RetryAt.UTC().Format(time.RFC3339))
}

// Guard enforces a per-minute request budget with a server cooldown override.
type Guard struct {
	perMinute int

	mu       sync.Mutex
	tokens   float64
	last     time.Time
	cooldown time.Time
}

// NewGuard builds a guard allowing perMinute requests, refilled continuously.
func NewGuard(perMinute int) *Guard {
	return &Guard{
		perMinute: perMinute,
		tokens:    float64(perMinute),
	}
}

// WrapHTTP returns a copy of base whose transport is throttled by a new
// guard. A nil base wraps http.DefaultTransport.
func WrapHTTP(perMinute int, base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	client := *base
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = &roundTripper{
		base:  transport,
		guard: NewGuard(perMinute),
	}
	return &client
}

type roundTripper struct {
	base  http.RoundTripper
	guard *Guard
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := rt.guard.Allow(time.Now()); err != nil {
		return nil, err
	}

	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	rt.guard.RecordResponse(resp.StatusCode, resp.Header)
	return resp, nil
}

// Allow consumes a token or returns a LimitError.
func (g *Guard) Allow(now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.cooldown.IsZero() {
		if now.Before(g.cooldown) {
			blockedCounter.WithLabelValues("cooldown").Inc()
			return LimitError{Reason: "cooldown", RetryAt: g.cooldown}
		}
		g.cooldown = time.Time{}
	}

	if g.perMinute <= 0 {
		return nil
	}
	if g.last.IsZero() {
		g.last = now
	}
	refill := float64(g.perMinute) / 60.0
	g.tokens = minFloat(float64(g.perMinute), g.tokens+now.Sub(g.last).Seconds()*refill)
	g.last = now
	if g.tokens < 1 {
		retryAt := now.Add(time.Duration((1 - g.tokens) / refill * float64(time.Second)))
		blockedCounter.WithLabelValues("budget").Inc()
		return LimitError{Reason: "budget", RetryAt: retryAt}
	}
	g.tokens--
	tokensGauge.Set(g.tokens)
	return nil
}

// RecordResponse applies server throttle signals. A 429 without Retry-After
// still triggers a short cooldown.
func (g *Guard) RecordResponse(status int, headers http.Header) {
	g.mu.Lock()
	defer g.mu.Unlock()

	lastStatusGauge.Set(float64(status))
	if status != http.StatusTooManyRequests {
		return
	}

	wait := 30 * time.Second
	if after := headerSeconds(headers, "Retry-After"); after > 0 {
		wait = after
	}
	g.cooldown = time.Now().Add(wait)
	retryAfterGauge.Set(wait.Seconds())
}

func headerSeconds(h http.Header, key string) time.Duration {
	val := h.Get(key)
	if val == "" {
		return 0
	}
	secs, err := strconv.Atoi(val)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
