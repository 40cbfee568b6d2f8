package extask

import (
	"time"

	"github.com/petrijr/extask/pkg/worker"
)

// BackoffBuilder provides a fluent way to construct the worker.Backoff
// used between failed fetches and report retries.
type BackoffBuilder struct {
	policy worker.Backoff
}

// ExponentialBackoff configures exponential backoff:
//
//   - initial is the delay after the first failure.
//   - multiplier > 1 grows the delay each attempt (default 2.0 if <= 0).
//   - max caps the delay; if <= 0, there is no cap.
//
// Example:
//
//	ExponentialBackoff(100*time.Millisecond, 2.0, 2*time.Second).WithJitter(0.2)
func ExponentialBackoff(initial time.Duration, multiplier float64, max time.Duration) BackoffBuilder {
	if multiplier <= 0 {
		multiplier = 2.0
	}
	if max < 0 {
		max = 0
	}
	return BackoffBuilder{policy: worker.Backoff{
		Initial:    initial,
		Max:        max,
		Multiplier: multiplier,
	}}
}

// ConstantBackoff waits delay between attempts.
//
// This is equivalent to an exponential backoff with multiplier 1.0 and
// no max cap.
func ConstantBackoff(delay time.Duration) BackoffBuilder {
	return BackoffBuilder{policy: worker.Backoff{Initial: delay, Multiplier: 1.0}}
}

// ImmediateBackoff disables any sleep between attempts.
func ImmediateBackoff() BackoffBuilder {
	return BackoffBuilder{policy: worker.Backoff{Multiplier: 1.0}}
}

// WithJitter randomizes each delay by up to fraction in either direction.
// Values are clamped to [0, 1].
func (b BackoffBuilder) WithJitter(fraction float64) BackoffBuilder {
	p := b.policy
	p.Jitter = min(max(fraction, 0), 1)
	return BackoffBuilder{policy: p}
}

// Policy returns the underlying worker.Backoff to be set as
// WorkerConfig.Backoff.
func (b BackoffBuilder) Policy() worker.Backoff {
	return b.policy
}
