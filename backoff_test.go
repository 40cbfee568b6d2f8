package extask

import (
	"testing"
	"time"

	"github.com/petrijr/extask/pkg/worker"
)

// Ensure ExponentialBackoff wires fields correctly and the default multiplier is applied.
func TestExponentialBackoff_UsesDefaults(t *testing.T) {
	initial := 100 * time.Millisecond
	max := 2 * time.Second

	p := ExponentialBackoff(initial, 0, max).Policy()

	if p.Initial != initial {
		t.Fatalf("expected Initial=%v, got %v", initial, p.Initial)
	}
	if p.Max != max {
		t.Fatalf("expected Max=%v, got %v", max, p.Max)
	}
	if p.Multiplier != 2.0 {
		t.Fatalf("expected Multiplier=2.0 (default), got %v", p.Multiplier)
	}
	if p.Jitter != 0 {
		t.Fatalf("expected no jitter, got %v", p.Jitter)
	}
}

// Ensure ExponentialBackoff respects an explicit multiplier and grows delays up to the cap.
func TestExponentialBackoff_ExplicitMultiplier(t *testing.T) {
	p := ExponentialBackoff(50*time.Millisecond, 3.0, 500*time.Millisecond).Policy()

	want := []time.Duration{50 * time.Millisecond, 150 * time.Millisecond, 450 * time.Millisecond, 500 * time.Millisecond}
	for attempt, w := range want {
		if got := p.Delay(attempt); got != w {
			t.Fatalf("attempt %d: expected %v, got %v", attempt, w, got)
		}
	}
}

// Ensure ConstantBackoff sets a fixed delay and uses multiplier 1.0.
func TestConstantBackoff(t *testing.T) {
	delay := 250 * time.Millisecond
	p := ConstantBackoff(delay).Policy()

	if p.Multiplier != 1.0 {
		t.Fatalf("expected Multiplier=1.0, got %v", p.Multiplier)
	}
	for attempt := range 5 {
		if got := p.Delay(attempt); got != delay {
			t.Fatalf("attempt %d: expected %v, got %v", attempt, delay, got)
		}
	}
}

// Ensure ImmediateBackoff survives worker defaults and never sleeps.
func TestImmediateBackoff(t *testing.T) {
	p := ImmediateBackoff().Policy()
	if p == (worker.Backoff{}) {
		t.Fatalf("immediate backoff must not be the zero value, which selects the default policy")
	}
	if got := p.Delay(3); got != 0 {
		t.Fatalf("expected no delay, got %v", got)
	}

	w := worker.NewWithConfig(nil, worker.Config{Backoff: p})
	if w.Config().Backoff != p {
		t.Fatalf("expected backoff to be kept, got %+v", w.Config().Backoff)
	}
}

func TestBackoff_WithJitterClamps(t *testing.T) {
	if j := ExponentialBackoff(time.Second, 2, 0).WithJitter(1.5).Policy().Jitter; j != 1 {
		t.Fatalf("expected jitter clamped to 1, got %v", j)
	}
	if j := ExponentialBackoff(time.Second, 2, 0).WithJitter(-1).Policy().Jitter; j != 0 {
		t.Fatalf("expected jitter clamped to 0, got %v", j)
	}

	p := ExponentialBackoff(time.Second, 2, 0).WithJitter(0.5).Policy()
	for range 50 {
		d := p.Delay(0)
		if d < 500*time.Millisecond || d > 1500*time.Millisecond {
			t.Fatalf("jittered delay %v outside [0.5s, 1.5s]", d)
		}
	}
}
