package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/meetscribe/meetscribe/internal/apperr"
	"github.com/meetscribe/meetscribe/internal/containers"
)

var errLaunch = errors.New("daemon unreachable")

func failing(context.Context) error    { return errLaunch }
func succeeding(context.Context) error { return nil }

func TestCircuitBreakerDefaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test"})
	if cb.maxFailures != 5 {
		t.Errorf("maxFailures = %d, want 5", cb.maxFailures)
	}
	if cb.resetTimeout != 30*time.Second {
		t.Errorf("resetTimeout = %v, want 30s", cb.resetTimeout)
	}
	if cb.halfOpenMax != 3 {
		t.Errorf("halfOpenMax = %d, want 3", cb.halfOpenMax)
	}
}

func TestCircuitBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 3})
	ctx := context.Background()

	for range 3 {
		if err := cb.Execute(ctx, failing); !errors.Is(err, errLaunch) {
			t.Fatalf("Execute = %v, want underlying error", err)
		}
	}
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}

	err := cb.Execute(ctx, succeeding)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Execute while open = %v, want ErrCircuitOpen", err)
	}
	if !errors.Is(err, apperr.ErrStoreUnavailable) {
		t.Error("ErrCircuitOpen does not unwrap to ErrStoreUnavailable")
	}
}

func TestCircuitBreakerSuccessResetsCounter(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 2})
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	_ = cb.Execute(ctx, succeeding)
	_ = cb.Execute(ctx, failing)

	if got := cb.State(); got != StateClosed {
		t.Errorf("state = %v, want closed after interleaved success", got)
	}
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "test",
		MaxFailures:  1,
		ResetTimeout: time.Millisecond,
		HalfOpenMax:  2,
	})
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}

	time.Sleep(5 * time.Millisecond)
	if got := cb.State(); got != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after reset timeout", got)
	}

	for range 2 {
		if err := cb.Execute(ctx, succeeding); err != nil {
			t.Fatalf("probe call: %v", err)
		}
	}
	if got := cb.State(); got != StateClosed {
		t.Errorf("state = %v, want closed after successful probes", got)
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "test",
		MaxFailures:  1,
		ResetTimeout: time.Millisecond,
	})
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	time.Sleep(5 * time.Millisecond)

	_ = cb.Execute(ctx, failing)
	if err := cb.Execute(ctx, succeeding); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Execute after failed probe = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 1})
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	cb.Reset()
	if got := cb.State(); got != StateClosed {
		t.Errorf("state after Reset = %v, want closed", got)
	}
	if err := cb.Execute(ctx, succeeding); err != nil {
		t.Errorf("Execute after Reset: %v", err)
	}
}

type flakyRuntime struct {
	launchErr error
	launches  int
	stops     int
}

func (f *flakyRuntime) Launch(context.Context, containers.LaunchSpec) (string, error) {
	f.launches++
	if f.launchErr != nil {
		return "", f.launchErr
	}
	return "container-1", nil
}

func (f *flakyRuntime) Stop(context.Context, string) error {
	f.stops++
	return nil
}

func (f *flakyRuntime) Ping(context.Context) error { return nil }

func TestGuardedRuntimeShortCircuitsLaunches(t *testing.T) {
	inner := &flakyRuntime{launchErr: errLaunch}
	g := NewGuardedRuntime(inner, CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})
	ctx := context.Background()

	for range 2 {
		if _, err := g.Launch(ctx, containers.LaunchSpec{}); !errors.Is(err, errLaunch) {
			t.Fatalf("Launch = %v, want launch error", err)
		}
	}

	_, err := g.Launch(ctx, containers.LaunchSpec{})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Launch with open breaker = %v, want ErrCircuitOpen", err)
	}
	if inner.launches != 2 {
		t.Errorf("inner launches = %d, want 2 (third call must not reach the daemon)", inner.launches)
	}
}

func TestGuardedRuntimeStopBypassesBreaker(t *testing.T) {
	inner := &flakyRuntime{launchErr: errLaunch}
	g := NewGuardedRuntime(inner, CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	ctx := context.Background()

	_, _ = g.Launch(ctx, containers.LaunchSpec{})

	if err := g.Stop(ctx, "container-1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if inner.stops != 1 {
		t.Errorf("inner stops = %d, want 1", inner.stops)
	}
}

func TestGuardedRuntimeLaunchSucceeds(t *testing.T) {
	inner := &flakyRuntime{}
	g := NewGuardedRuntime(inner, CircuitBreakerConfig{})

	id, err := g.Launch(context.Background(), containers.LaunchSpec{})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if id != "container-1" {
		t.Errorf("id = %q, want container-1", id)
	}
}
