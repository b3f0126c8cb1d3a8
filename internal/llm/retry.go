package llm

import (
	"context"
	"errors"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryPolicy drives the local retries of one adapter call. The zero value
// is not usable; start from DefaultRetryPolicy.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter adds up to Jitter*delay of random slack.
	Jitter float64
	// RateLimitDelay is used on 429 when the vendor suggests no wait.
	RateLimitDelay time.Duration
	// MaxServerDelay caps a vendor-suggested wait.
	MaxServerDelay time.Duration
	Retryable      func(error) bool
	Sleep          func(ctx context.Context, d time.Duration) error
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BaseDelay:      2 * time.Second,
		MaxDelay:       20 * time.Second,
		Jitter:         0.2,
		RateLimitDelay: 30 * time.Second,
		MaxServerDelay: 60 * time.Second,
		Retryable:      IsRetryable,
		Sleep:          sleepContext,
	}
}

// Do runs fn until it succeeds, fails permanently or runs out of attempts.
// The last error is returned unchanged.
func (p RetryPolicy) Do(ctx context.Context, log *logrus.Entry, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if attempt == attempts || !retryable(err) {
			return err
		}
		wait := p.Delay(attempt, err)
		if log != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"attempt": attempt,
				"wait":    wait.String(),
			}).Warn("provider_call_retry")
		}
		if sleepErr := sleep(ctx, wait); sleepErr != nil {
			return err
		}
	}
	return err
}

// Delay returns the wait before the attempt following a failed one.
func (p RetryPolicy) Delay(attempt int, err error) time.Duration {
	var upErr *UpstreamError
	if errors.As(err, &upErr) && upErr.RateLimited() {
		if upErr.RetryAfter > 0 {
			if p.MaxServerDelay > 0 && upErr.RetryAfter > p.MaxServerDelay {
				return p.MaxServerDelay
			}
			return upErr.RetryAfter
		}
		return p.RateLimitDelay
	}

	d := p.BaseDelay << (attempt - 1)
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		d = p.MaxDelay
	}
	if p.Jitter > 0 && d > 0 {
		d += time.Duration(rand.Float64() * p.Jitter * float64(d))
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var (
	retryDelayFieldPattern = regexp.MustCompile(`"retryDelay"\s*:\s*"([0-9]+(?:\.[0-9]+)?)s"`)
	retryInTextPattern     = regexp.MustCompile(`(?i)retry (?:in|after) ([0-9]+(?:\.[0-9]+)?)\s*(ms|s|seconds?)\b`)
)

// parseRetryDelay extracts a server-suggested wait from a Retry-After header
// or a Gemini style error body ("retryDelay": "23s", "Please retry in 23.5s").
func parseRetryDelay(header, body string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if m := retryDelayFieldPattern.FindStringSubmatch(body); m != nil {
		return secondsToDuration(m[1])
	}
	if m := retryInTextPattern.FindStringSubmatch(body); m != nil {
		if strings.EqualFold(m[2], "ms") {
			ms, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				return 0
			}
			return time.Duration(ms * float64(time.Millisecond))
		}
		return secondsToDuration(m[1])
	}
	return 0
}

func secondsToDuration(value string) time.Duration {
	secs, err := strconv.ParseFloat(value, 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
