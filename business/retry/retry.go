package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
)

// Policy describes how an operation is retried. A zero InitialDelay retries
// immediately. MaxAttempts counts the first call, so 3 means up to 2 retries.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Factor       float64
	MaxDelay     time.Duration
	MaxElapsed   time.Duration // measured from the first attempt, 0 disables

	// Retryable reports whether err may be retried. Nil retries every error.
	Retryable func(err error) bool
}

type Notify func(err error, next time.Duration)

type options struct {
	clock  clock.Clock
	timer  func() backoff.Timer
	notify Notify
}

type Option func(*options)

// WithClock drives elapsed time accounting and the wait between attempts from clk.
func WithClock(clk clock.Clock) Option {
	return func(o *options) {
		o.clock = clk
		o.timer = func() backoff.Timer { return &clockTimer{clock: clk} }
	}
}

// WithTimer overrides how the wait between attempts is performed.
func WithTimer(newTimer func() backoff.Timer) Option {
	return func(o *options) {
		o.timer = newTimer
	}
}

func WithNotify(fn Notify) Option {
	return func(o *options) {
		o.notify = fn
	}
}

// Do calls op until it succeeds, the policy is exhausted, op returns an error the policy
// does not consider retryable, or ctx is done. The last error is returned unwrapped,
// joined with the context error when ctx ended the loop.
func Do[T any](ctx context.Context, policy Policy, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	o := options{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}

	var result T
	operation := func() error {
		r, err := op(ctx)
		if err != nil {
			if ctx.Err() != nil || (policy.Retryable != nil && !policy.Retryable(err)) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = r
		return nil
	}

	var timer backoff.Timer
	if o.timer != nil {
		timer = o.timer()
	}
	err := backoff.RetryNotifyWithTimer(operation, policy.backOff(ctx, o.clock), backoff.Notify(o.notify), timer)
	if err != nil && ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
		err = fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return result, err
}

func (p Policy) backOff(ctx context.Context, clk clock.Clock) backoff.BackOff {
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if p.InitialDelay > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = p.InitialDelay
		exp.RandomizationFactor = 0
		exp.Multiplier = p.Factor
		if exp.Multiplier < 1 {
			exp.Multiplier = 2
		}
		exp.MaxInterval = p.MaxDelay
		if exp.MaxInterval <= 0 {
			exp.MaxInterval = time.Duration(math.MaxInt64)
		}
		exp.MaxElapsedTime = p.MaxElapsed
		exp.Clock = clk
		exp.Reset()
		b = exp
	}
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}

type clockTimer struct {
	clock clock.Clock
	timer *clock.Timer
}

func (t *clockTimer) Start(duration time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.Timer(duration)
		return
	}
	t.timer.Reset(duration)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.C
}
