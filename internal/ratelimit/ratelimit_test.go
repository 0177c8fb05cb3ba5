package ratelimit

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// recordWaits replaces the sleep of tr and returns the delays it was asked for.
func recordWaits(tr *Transport) *[]time.Duration {
	var waits []time.Duration
	tr.wait = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return &waits
}

func durationPtr(d time.Duration) *time.Duration { return &d }

// limitedServer answers 429 to the first n requests.
func limitedServer(t *testing.T, n int32, retryAfter string) (*httptest.Server, *int32) {
	t.Helper()
	var count int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&count, 1) <= n {
			if retryAfter != "" {
				w.Header().Set("Retry-After", retryAfter)
			}
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("success"))
	}))
	t.Cleanup(server.Close)
	return server, &count
}

// TestRateLimitRetry tests that a 429 response is retried after the backoff
func TestRateLimitRetry(t *testing.T) {
	server, count := limitedServer(t, 1, "")

	var limited []string
	tr := New(nil, Config{
		BaseDelay: 10 * time.Millisecond,
		Provider:  "microsoft",
		OnLimited: func(p string) { limited = append(limited, p) },
	})
	waits := recordWaits(tr)

	resp, err := (&http.Client{Transport: tr}).Get(server.URL)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if *count != 2 {
		t.Errorf("expected 2 requests (1 retry), got %d", *count)
	}
	if len(*waits) != 1 || (*waits)[0] != 10*time.Millisecond {
		t.Errorf("waits = %v, want [10ms]", *waits)
	}
	if len(limited) != 1 || limited[0] != "microsoft" {
		t.Errorf("OnLimited calls = %v", limited)
	}
}

// TestRateLimitExponentialBackoff tests that consecutive 429s double the delay
func TestRateLimitExponentialBackoff(t *testing.T) {
	server, _ := limitedServer(t, 4, "")

	tr := New(nil, Config{BaseDelay: time.Second})
	waits := recordWaits(tr)

	resp, err := (&http.Client{Transport: tr}).Get(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	if len(*waits) != len(want) {
		t.Fatalf("waits = %v, want %v", *waits, want)
	}
	for i := range want {
		if (*waits)[i] != want[i] {
			t.Errorf("wait %d = %v, want %v", i, (*waits)[i], want[i])
		}
	}
}

// TestRateLimitMaxRetries tests that the last 429 is returned once retries run out
func TestRateLimitMaxRetries(t *testing.T) {
	server, count := limitedServer(t, 100, "")

	tr := New(nil, Config{MaxRetries: 3, BaseDelay: time.Millisecond})
	recordWaits(tr)

	resp, err := (&http.Client{Transport: tr}).Get(server.URL)
	if err != nil {
		t.Fatalf("expected the 429 response, got error %v", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", resp.StatusCode)
	}
	if *count != 4 {
		t.Errorf("expected 4 requests (3 retries), got %d", *count)
	}
}

// TestRateLimitHeaderRespect tests that Retry-After overrides the schedule
func TestRateLimitHeaderRespect(t *testing.T) {
	server, _ := limitedServer(t, 1, "7")

	tr := New(nil, Config{BaseDelay: time.Millisecond})
	waits := recordWaits(tr)

	resp, err := (&http.Client{Transport: tr}).Get(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()

	if len(*waits) != 1 || (*waits)[0] != 7*time.Second {
		t.Errorf("waits = %v, want [7s]", *waits)
	}
}

// TestRateLimitWithBody tests that the request body is replayed on retry
func TestRateLimitWithBody(t *testing.T) {
	var bodies []string
	var count int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if atomic.AddInt32(&count, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	tr := New(nil, Config{BaseDelay: time.Millisecond})
	recordWaits(tr)

	// A reader without GetBody forces the transport to buffer.
	req, err := http.NewRequest(http.MethodPost, server.URL, io.NopCloser(strings.NewReader(`{"title":"Milk"}`)))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := tr.RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status = %d, want 201", resp.StatusCode)
	}
	if len(bodies) != 2 || bodies[0] != bodies[1] || bodies[1] != `{"title":"Milk"}` {
		t.Errorf("bodies = %q", bodies)
	}
}

// TestRateLimitContextCancellation tests that a cancelled context stops the wait
func TestRateLimitContextCancellation(t *testing.T) {
	server, count := limitedServer(t, 100, "60")

	ctx, cancel := context.WithCancel(context.Background())
	tr := New(nil, Config{})
	tr.wait = func(ctx context.Context, d time.Duration) error {
		cancel()
		return sleep(ctx, d)
	}

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	_, err := tr.RoundTrip(req)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if *count != 1 {
		t.Errorf("expected 1 request before cancellation, got %d", *count)
	}
}

// TestRateLimitNon429Passthrough tests that other statuses are returned untouched
func TestRateLimitNon429Passthrough(t *testing.T) {
	var count int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&count, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := Wrap(nil, Config{})
	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable || count != 1 {
		t.Errorf("status = %d after %d requests", resp.StatusCode, count)
	}
}

func TestWrapKeepsClientSettings(t *testing.T) {
	base := &http.Client{Timeout: 3 * time.Second}
	wrapped := Wrap(base, Config{})

	if wrapped == base {
		t.Fatal("Wrap must not modify the given client")
	}
	if wrapped.Timeout != 3*time.Second {
		t.Errorf("Timeout = %v", wrapped.Timeout)
	}
	if _, ok := wrapped.Transport.(*Transport); !ok {
		t.Errorf("Transport = %T", wrapped.Transport)
	}
	if base.Transport != nil {
		t.Error("original transport changed")
	}
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		name       string
		attempt    int
		retryAfter *time.Duration
		expected   time.Duration
	}{
		{"first attempt", 0, nil, 1 * time.Second},
		{"second attempt", 1, nil, 2 * time.Second},
		{"fifth attempt", 4, nil, 16 * time.Second},
		{"capped at maxDelay", 10, nil, 32 * time.Second},
		{"overflow is capped", 80, nil, 32 * time.Second},
		{"retryAfter overrides calculation", 0, durationPtr(5 * time.Second), 5 * time.Second},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := CalculateBackoff(tc.attempt, tc.retryAfter, time.Second, 32*time.Second, false)
			if result != tc.expected {
				t.Errorf("expected %v, got %v", tc.expected, result)
			}
		})
	}
}

// TestRateLimitJitter tests that jitter stays within ±20%
func TestRateLimitJitter(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := CalculateBackoff(2, nil, time.Second, 32*time.Second, true)
		if d < 3200*time.Millisecond || d > 4800*time.Millisecond {
			t.Fatalf("jittered delay %v outside [3.2s, 4.8s]", d)
		}
	}
}

// TestParseRetryAfter tests parsing of Retry-After header values
func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected *time.Duration
	}{
		{"seconds integer", "60", durationPtr(60 * time.Second)},
		{"zero seconds", "0", durationPtr(0)},
		{"empty value", "", nil},
		{"invalid value", "invalid", nil},
		{"negative value", "-1", nil},
		{"date in the past", "Mon, 02 Jan 2006 15:04:05 GMT", durationPtr(0)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := ParseRetryAfter(tc.value)

			if tc.expected == nil {
				if result != nil {
					t.Errorf("expected nil, got %v", *result)
				}
			} else if result == nil {
				t.Errorf("expected %v, got nil", *tc.expected)
			} else if *result != *tc.expected {
				t.Errorf("expected %v, got %v", *tc.expected, *result)
			}
		})
	}

	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	if d := ParseRetryAfter(future); d == nil || *d <= 0 || *d > time.Minute {
		t.Errorf("ParseRetryAfter(%q) = %v", future, d)
	}
}
