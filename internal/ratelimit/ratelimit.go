// Package ratelimit retries requests that remote task services reject with
// 429 Too Many Requests, waiting for Retry-After or an exponential backoff.
package ratelimit

import (
	"bytes"
	"context"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Defaults applied to zero Config fields.
const (
	DefaultMaxRetries = 5
	DefaultBaseDelay  = time.Second
	DefaultMaxDelay   = 32 * time.Second
)

// Config tunes a Transport.
type Config struct {
	// MaxRetries is the number of retries after the first 429.
	MaxRetries int

	// BaseDelay is the wait before the first retry. It doubles per attempt.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff. Retry-After is honored as sent.
	MaxDelay time.Duration

	// Jitter spreads the backoff by ±20%.
	Jitter bool

	// Provider labels log lines and OnLimited calls.
	Provider string

	// OnLimited is called for every 429 received.
	OnLimited func(provider string)

	Logger *zap.Logger
}

// Transport is an http.RoundTripper retrying rate-limited requests.
type Transport struct {
	base http.RoundTripper
	cfg  Config
	wait func(ctx context.Context, d time.Duration) error
}

// New wraps base, or http.DefaultTransport when base is nil.
func New(base http.RoundTripper, cfg Config) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Transport{base: base, cfg: cfg, wait: sleep}
}

// Wrap returns a copy of c whose transport retries rate-limited requests.
// A nil c wraps a zero http.Client.
func Wrap(c *http.Client, cfg Config) *http.Client {
	wrapped := &http.Client{}
	if c != nil {
		*wrapped = *c
	}
	wrapped.Transport = New(wrapped.Transport, cfg)
	return wrapped
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RoundTrip sends req, resending it while the server answers 429. When the
// retries run out the last 429 response is returned to the caller.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	getBody := req.GetBody
	if req.Body != nil && req.Body != http.NoBody && getBody == nil {
		// Buffer the body once so it can be replayed.
		data, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, err
		}
		getBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil }
	}

	for attempt := 0; ; attempt++ {
		r := req
		if getBody != nil {
			r = req.Clone(req.Context())
			body, err := getBody()
			if err != nil {
				return nil, err
			}
			r.Body = body
		}

		resp, err := t.base.RoundTrip(r)
		if err != nil || resp.StatusCode != http.StatusTooManyRequests {
			return resp, err
		}
		if t.cfg.OnLimited != nil {
			t.cfg.OnLimited(t.cfg.Provider)
		}
		if attempt >= t.cfg.MaxRetries {
			t.cfg.Logger.Warn("rate limit retries exhausted",
				zap.String("provider", t.cfg.Provider),
				zap.String("url", req.URL.Redacted()),
				zap.Int("retries", attempt))
			return resp, nil
		}

		delay := CalculateBackoff(attempt, ParseRetryAfter(resp.Header.Get("Retry-After")), t.cfg.BaseDelay, t.cfg.MaxDelay, t.cfg.Jitter)
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		t.cfg.Logger.Debug("rate limited, retrying",
			zap.String("provider", t.cfg.Provider),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay))
		if err := t.wait(req.Context(), delay); err != nil {
			return nil, err
		}
	}
}

// CalculateBackoff returns the wait before retry attempt+1. retryAfter,
// when present, wins over the exponential schedule.
func CalculateBackoff(attempt int, retryAfter *time.Duration, baseDelay, maxDelay time.Duration, jitter bool) time.Duration {
	if retryAfter != nil {
		return *retryAfter
	}

	delay := maxDelay
	if f := float64(baseDelay) * math.Pow(2, float64(attempt)); f < float64(maxDelay) {
		delay = time.Duration(f)
	}

	if jitter {
		jitterFactor := 0.8 + rand.Float64()*0.4 // 0.8 to 1.2
		delay = time.Duration(float64(delay) * jitterFactor)
	}
	return delay
}

// ParseRetryAfter parses the Retry-After header value.
// It supports both seconds format (integer) and HTTP-date format.
// Returns nil if the value is invalid or empty.
func ParseRetryAfter(value string) *time.Duration {
	if value == "" {
		return nil
	}

	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		if seconds < 0 {
			return nil
		}
		d := time.Duration(seconds) * time.Second
		return &d
	}

	if t, err := http.ParseTime(value); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return &d
	}

	return nil
}
