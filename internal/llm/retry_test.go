package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// flakyProvider fails the first n Stream calls with err.
type flakyProvider struct {
	failures int32
	err      error
	calls    int32
	midway   bool // fail after emitting text instead of at start
}

func (p *flakyProvider) Name() string { return "flaky" }

func (p *flakyProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	n := atomic.AddInt32(&p.calls, 1)
	if n <= p.failures && !p.midway {
		return nil, p.err
	}
	fail := n <= p.failures
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		if err := send(ctx, events, Event{Type: EventTextDelta, Text: "ok"}); err != nil {
			return err
		}
		if fail {
			return p.err
		}
		return send(ctx, events, Event{Type: EventDone, MessageID: "m"})
	}), nil
}

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestRetryProviderRecovers(t *testing.T) {
	inner := &flakyProvider{failures: 2, err: errors.New("HTTP 429 rate limit")}
	p := WrapWithRetry(inner, fastRetry(5))
	if p.Name() != "flaky" {
		t.Fatalf("Name() = %q", p.Name())
	}

	stream, err := p.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events := collect(t, stream)

	var retries int
	for _, ev := range events {
		if ev.Type == EventRetry {
			retries++
			if ev.RetryMaxAttempts != 5 {
				t.Errorf("RetryMaxAttempts = %d", ev.RetryMaxAttempts)
			}
		}
		if ev.Type == EventError {
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
	}
	if retries != 2 {
		t.Errorf("retries = %d, want 2", retries)
	}
	if got := textOf(events, EventTextDelta); got != "ok" {
		t.Errorf("text = %q", got)
	}
}

func TestRetryProviderNonRetryable(t *testing.T) {
	inner := &flakyProvider{failures: 1, err: errors.New("invalid api key")}
	stream, _ := WrapWithRetry(inner, fastRetry(5)).Stream(context.Background(), Request{})
	events := collect(t, stream)
	last := events[len(events)-1]
	if last.Type != EventError || last.Err.Error() != "invalid api key" {
		t.Fatalf("last = %+v", last)
	}
	if inner.calls != 1 {
		t.Fatalf("calls = %d, want 1", inner.calls)
	}
}

func TestRetryProviderGivesUp(t *testing.T) {
	inner := &flakyProvider{failures: 10, err: errors.New("503 service unavailable")}
	stream, _ := WrapWithRetry(inner, fastRetry(3)).Stream(context.Background(), Request{})
	events := collect(t, stream)
	if last := events[len(events)-1]; last.Type != EventError {
		t.Fatalf("last = %+v, want error", last)
	}
	if inner.calls != 3 {
		t.Fatalf("calls = %d, want 3", inner.calls)
	}
}

func TestRetryProviderDoesNotReplayForwardedOutput(t *testing.T) {
	inner := &flakyProvider{failures: 1, err: errors.New("overloaded"), midway: true}
	stream, _ := WrapWithRetry(inner, fastRetry(3)).Stream(context.Background(), Request{})
	events := collect(t, stream)
	if got := textOf(events, EventTextDelta); got != "ok" {
		t.Fatalf("text = %q, want a single copy", got)
	}
	if last := events[len(events)-1]; last.Type != EventError {
		t.Fatalf("last = %+v, want error", last)
	}
	if inner.calls != 1 {
		t.Fatalf("calls = %d, want 1", inner.calls)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("429 Too Many Requests"), true},
		{errors.New("model overloaded"), true},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("bad request"), false},
		{context.Canceled, false},
		{&RateLimitError{Message: "slow down", RetryAfter: time.Second}, true},
		{&RateLimitError{Message: "come back tomorrow", RetryAfter: time.Hour}, false},
		{&forwardedError{errors.New("429")}, false},
	}
	for _, tt := range tests {
		if got := isRetryable(tt.err); got != tt.want {
			t.Errorf("isRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestCalculateBackoff(t *testing.T) {
	r := &RetryProvider{config: RetryConfig{MaxAttempts: 5, BaseBackoff: time.Second, MaxBackoff: 10 * time.Second}}

	if got := r.calculateBackoff(1, &RateLimitError{RetryAfter: 3 * time.Second}); got != 3*time.Second {
		t.Errorf("RetryAfter backoff = %v", got)
	}
	if got := r.calculateBackoff(1, errors.New("please retry-after: 4")); got != 4*time.Second {
		t.Errorf("parsed backoff = %v", got)
	}
	if got := r.calculateBackoff(1, errors.New("retry after 60")); got != 10*time.Second {
		t.Errorf("capped backoff = %v", got)
	}
	got := r.calculateBackoff(3, errors.New("503"))
	if got < 3*time.Second || got > 5*time.Second {
		t.Errorf("exponential backoff = %v, want 4s +/- 25%%", got)
	}
}
