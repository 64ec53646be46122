package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func openBreaker(cb *CircuitBreaker, failures int) {
	for i := 0; i < failures; i++ {
		cb.RecordResult(false)
	}
}

func TestCircuitBreaker_StateClosed(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1*time.Second)

	if cb.GetState() != StateClosed {
		t.Errorf("Expected initial state to be closed, got %s", cb.GetState())
	}

	if !cb.allowRequest() {
		t.Error("Expected to allow request in closed state")
	}
}

func TestCircuitBreaker_OpenAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1*time.Second)

	openBreaker(cb, 2)
	if cb.GetState() != StateClosed {
		t.Error("Expected state to still be closed after 2 failures")
	}

	cb.RecordResult(false)
	if cb.GetState() != StateOpen {
		t.Error("Expected state to be open after 3 failures")
	}

	if cb.allowRequest() {
		t.Error("Expected to not allow request in open state")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1*time.Second)

	openBreaker(cb, 2)
	cb.RecordResult(true)
	openBreaker(cb, 2)

	if cb.GetState() != StateClosed {
		t.Error("Expected non-consecutive failures to keep the circuit closed")
	}
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("test", 3, 100*time.Millisecond, WithClock(clock.Now))

	openBreaker(cb, 3)
	if cb.GetState() != StateOpen {
		t.Fatal("Expected circuit to be open")
	}

	clock.Advance(50 * time.Millisecond)
	if cb.allowRequest() {
		t.Error("Expected request rejected before reset timeout")
	}

	clock.Advance(100 * time.Millisecond)
	if !cb.allowRequest() {
		t.Error("Expected to allow request after timeout (half-open)")
	}

	state, _, _, _ := cb.GetStats()
	if state != StateHalfOpen {
		t.Errorf("Expected state to be half-open, got %s", state)
	}
}

func TestCircuitBreaker_HalfOpenLimitsProbes(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("test", 1, time.Second, WithClock(clock.Now), WithHalfOpenMax(2))

	openBreaker(cb, 1)
	clock.Advance(2 * time.Second)

	if !cb.allowRequest() || !cb.allowRequest() {
		t.Fatal("Expected two probes admitted in half-open")
	}
	if cb.allowRequest() {
		t.Error("Expected third probe rejected in half-open")
	}
}

func TestCircuitBreaker_CloseAfterSuccess(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("test", 3, 100*time.Millisecond, WithClock(clock.Now))

	openBreaker(cb, 3)
	clock.Advance(150 * time.Millisecond)

	for i := 0; i < 3; i++ {
		if err := cb.Call(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
			t.Fatalf("Probe %d failed: %v", i, err)
		}
	}

	if cb.GetState() != StateClosed {
		t.Errorf("Expected state to be closed after successes in half-open, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_OpenAfterFailureInHalfOpen(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("test", 3, 100*time.Millisecond, WithClock(clock.Now))

	openBreaker(cb, 3)
	clock.Advance(150 * time.Millisecond)

	err := cb.Call(context.Background(), func(ctx context.Context) error {
		return errors.New("still down")
	})
	if err == nil {
		t.Fatal("Expected probe error")
	}

	if cb.GetState() != StateOpen {
		t.Error("Expected state to be open after failure in half-open")
	}
}

func TestCircuitBreaker_Call(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1*time.Second)

	err := cb.Call(context.Background(), func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	err = cb.Call(context.Background(), func(ctx context.Context) error {
		return errors.New("test error")
	})
	if err == nil {
		t.Error("Expected error from failed call")
	}
}

func TestCircuitBreaker_CallOpen(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 1*time.Second)

	openBreaker(cb, 1)

	called := false
	err := cb.Call(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("Expected function not to run while open")
	}
}

func TestCircuitBreaker_CancellationNotCounted(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 1*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Call(ctx, func(ctx context.Context) error {
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Error("Expected caller cancellation to leave the circuit closed")
	}
}

func TestCircuitBreaker_StateChangeCallback(t *testing.T) {
	clock := newFakeClock()

	var transitions []string
	cb := NewCircuitBreaker("stt", 1, time.Second,
		WithClock(clock.Now),
		WithHalfOpenMax(1),
		WithStateChange(func(name string, from, to CircuitState) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		}),
	)

	cb.RecordResult(false)
	clock.Advance(2 * time.Second)
	_ = cb.Call(context.Background(), func(ctx context.Context) error { return nil })

	expected := []string{
		"stt:closed->open",
		"stt:open->half_open",
		"stt:half_open->closed",
	}
	if len(transitions) != len(expected) {
		t.Fatalf("Expected %d transitions, got %v", len(expected), transitions)
	}
	for i := range expected {
		if transitions[i] != expected[i] {
			t.Errorf("Transition %d: expected %s, got %s", i, expected[i], transitions[i])
		}
	}
}

func TestCircuitBreaker_GetStats(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1*time.Second)

	cb.RecordResult(true)
	cb.RecordResult(true)
	cb.RecordResult(false)

	state, requestCount, failureCount, failureRate := cb.GetStats()

	if state != StateClosed {
		t.Errorf("Expected state closed, got %s", state)
	}
	if requestCount != 3 {
		t.Errorf("Expected 3 requests, got %d", requestCount)
	}
	if failureCount != 1 {
		t.Errorf("Expected 1 failure, got %d", failureCount)
	}
	if failureRate < 33.0 || failureRate > 34.0 {
		t.Errorf("Expected failure rate around 33.33%%, got %.2f%%", failureRate)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1*time.Second)

	openBreaker(cb, 3)
	if cb.GetState() != StateOpen {
		t.Fatal("Expected circuit to be open")
	}

	cb.Reset()

	if cb.GetState() != StateClosed {
		t.Error("Expected state to be closed after reset")
	}

	state, requestCount, failureCount, _ := cb.GetStats()
	if state != StateClosed || requestCount != 0 || failureCount != 0 {
		t.Error("Expected stats to be reset")
	}
}
