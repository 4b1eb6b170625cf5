// Package retrytest runs retry schedules against a mock clock without waiting.
package retrytest

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/degenduel/duel-settlement/business/retry"
)

// Instant returns options under which every wait advances mock by the requested
// duration and fires immediately.
func Instant(mock *clock.Mock) []retry.Option {
	return []retry.Option{
		retry.WithClock(mock),
		retry.WithTimer(func() backoff.Timer { return &instantTimer{mock: mock} }),
	}
}

type instantTimer struct {
	mock *clock.Mock
	c    chan time.Time
}

func (t *instantTimer) Start(duration time.Duration) {
	t.mock.Add(duration)
	t.c = make(chan time.Time, 1)
	t.c <- t.mock.Now()
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time {
	return t.c
}
