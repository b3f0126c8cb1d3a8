package llm

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestParseRetryDelay(t *testing.T) {
	tests := []struct {
		name   string
		header string
		body   string
		want   time.Duration
	}{
		{name: "header seconds", header: "7", want: 7 * time.Second},
		{name: "retryDelay field", body: `{"error":{"details":[{"retryDelay":"23s"}]}}`, want: 23 * time.Second},
		{name: "retry in text", body: "Quota exceeded. Please retry in 23.5s.", want: 23500 * time.Millisecond},
		{name: "retry in ms", body: "please retry in 800ms", want: 800 * time.Millisecond},
		{name: "nothing", body: "rate limited", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseRetryDelay(tt.header, tt.body); got != tt.want {
				t.Fatalf("parseRetryDelay = %v, want %v", got, tt.want)
			}
		})
	}
}

func recordingPolicy(waits *[]time.Duration) RetryPolicy {
	p := DefaultRetryPolicy()
	p.Jitter = 0
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	return p
}

func TestRetryPolicyUsesServerDelayOn429(t *testing.T) {
	var waits []time.Duration
	p := recordingPolicy(&waits)

	calls := 0
	err := p.Do(context.Background(), nil, func(ctx context.Context, attempt int) error {
		calls++
		if attempt == 1 {
			return &UpstreamError{Provider: "nano", StatusCode: http.StatusTooManyRequests, RetryAfter: 23 * time.Second}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if len(waits) != 1 || waits[0] != 23*time.Second {
		t.Fatalf("expected one 23s wait, got %v", waits)
	}
}

func TestRetryPolicyCapsServerDelay(t *testing.T) {
	p := DefaultRetryPolicy()
	err := &UpstreamError{StatusCode: http.StatusTooManyRequests, RetryAfter: 5 * time.Minute}
	if got := p.Delay(1, err); got != p.MaxServerDelay {
		t.Fatalf("expected capped delay %v, got %v", p.MaxServerDelay, got)
	}
	plain := &UpstreamError{StatusCode: http.StatusTooManyRequests}
	if got := p.Delay(1, plain); got != p.RateLimitDelay {
		t.Fatalf("expected default rate limit delay %v, got %v", p.RateLimitDelay, got)
	}
}

func TestRetryPolicyBackoffWithoutJitter(t *testing.T) {
	p := DefaultRetryPolicy()
	p.Jitter = 0
	err := &UpstreamError{StatusCode: http.StatusBadGateway}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 20 * time.Second}
	for i, w := range want {
		if got := p.Delay(i+1, err); got != w {
			t.Fatalf("attempt %d: got %v want %v", i+1, got, w)
		}
	}
}

func TestRetryPolicyStopsOnPermanentError(t *testing.T) {
	var waits []time.Duration
	p := recordingPolicy(&waits)

	calls := 0
	err := p.Do(context.Background(), nil, func(ctx context.Context, attempt int) error {
		calls++
		return ErrNoImage
	})
	if !errors.Is(err, ErrNoImage) {
		t.Fatalf("expected ErrNoImage, got %v", err)
	}
	if calls != 1 || len(waits) != 0 {
		t.Fatalf("expected a single call without waiting, got calls=%d waits=%v", calls, waits)
	}
}

func TestRetryPolicyGivesUpAfterMaxAttempts(t *testing.T) {
	var waits []time.Duration
	p := recordingPolicy(&waits)

	calls := 0
	err := p.Do(context.Background(), nil, func(ctx context.Context, attempt int) error {
		calls++
		return &UpstreamError{Provider: "dream", StatusCode: http.StatusServiceUnavailable}
	})
	var upErr *UpstreamError
	if !errors.As(err, &upErr) || upErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected last upstream error, got %v", err)
	}
	if calls != p.MaxAttempts {
		t.Fatalf("expected %d calls, got %d", p.MaxAttempts, calls)
	}
	if len(waits) != p.MaxAttempts-1 {
		t.Fatalf("expected %d waits, got %d", p.MaxAttempts-1, len(waits))
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrMissingCredential, false},
		{ErrNoImage, false},
		{&CapabilityError{Provider: "nano", Operation: OpUpscale}, false},
		{context.DeadlineExceeded, false},
		{&UpstreamError{StatusCode: http.StatusTooManyRequests}, true},
		{&UpstreamError{StatusCode: http.StatusBadRequest}, false},
		{&UpstreamError{StatusCode: http.StatusInternalServerError}, true},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
