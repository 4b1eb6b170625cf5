package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")
var errFatal = errors.New("fatal")

type recordingTimer struct {
	mock  *clock.Mock
	waits *[]time.Duration
	c     chan time.Time
}

func (t *recordingTimer) Start(d time.Duration) {
	*t.waits = append(*t.waits, d)
	t.mock.Add(d)
	t.c = make(chan time.Time, 1)
	t.c <- t.mock.Now()
}
func (t *recordingTimer) Stop()               {}
func (t *recordingTimer) C() <-chan time.Time { return t.c }

func instant(mock *clock.Mock, waits *[]time.Duration) []Option {
	return []Option{
		WithClock(mock),
		WithTimer(func() backoff.Timer { return &recordingTimer{mock: mock, waits: waits} }),
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	mock := clock.NewMock()
	var waits []time.Duration
	calls := 0

	got, err := Do(context.Background(), Policy{MaxAttempts: 4, InitialDelay: 2 * time.Second, Factor: 2},
		func(ctx context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, errTransient
			}
			return calls, nil
		}, instant(mock, &waits)...)

	require.NoError(t, err)
	assert.Equal(t, 3, got)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, waits)
}

func TestDo_StopsAfterMaxAttempts(t *testing.T) {
	mock := clock.NewMock()
	var waits []time.Duration
	calls := 0

	_, err := Do(context.Background(), Policy{MaxAttempts: 3},
		func(ctx context.Context) (struct{}, error) {
			calls++
			return struct{}{}, errTransient
		}, instant(mock, &waits)...)

	require.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{0, 0}, waits)
}

func TestDo_NonRetryableReturnsImmediately(t *testing.T) {
	mock := clock.NewMock()
	var waits []time.Duration
	calls := 0

	_, err := Do(context.Background(), Policy{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		Retryable:    func(err error) bool { return !errors.Is(err, errFatal) },
	}, func(ctx context.Context) (int, error) {
		calls++
		return 0, errFatal
	}, instant(mock, &waits)...)

	require.ErrorIs(t, err, errFatal)
	assert.Equal(t, 1, calls)
	assert.Empty(t, waits)
}

func TestDo_DelayIsCapped(t *testing.T) {
	mock := clock.NewMock()
	var waits []time.Duration

	_, _ = Do(context.Background(), Policy{MaxAttempts: 6, InitialDelay: 10 * time.Second, Factor: 2, MaxDelay: 30 * time.Second},
		func(ctx context.Context) (int, error) {
			return 0, errTransient
		}, instant(mock, &waits)...)

	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second}, waits)
}

func TestDo_StopsWhenElapsedBudgetIsSpent(t *testing.T) {
	mock := clock.NewMock()
	var waits []time.Duration
	start := mock.Now()
	var lastCall time.Duration

	_, err := Do(context.Background(), Policy{
		MaxAttempts:  100,
		InitialDelay: 10 * time.Second,
		Factor:       2,
		MaxDelay:     30 * time.Second,
		MaxElapsed:   2 * time.Minute,
	}, func(ctx context.Context) (int, error) {
		lastCall = mock.Now().Sub(start)
		return 0, errTransient
	}, instant(mock, &waits)...)

	require.ErrorIs(t, err, errTransient)
	// 10 + 20 + 30 + 30 = 90s, the next 30s wait would end exactly at the budget
	assert.LessOrEqual(t, lastCall, 2*time.Minute)
	assert.GreaterOrEqual(t, lastCall, 90*time.Second)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	_, err := Do(ctx, Policy{MaxAttempts: 10}, func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, ctx.Err()
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_NotifyIsCalledBeforeEachWait(t *testing.T) {
	mock := clock.NewMock()
	var waits []time.Duration
	var notified []time.Duration

	opts := append(instant(mock, &waits), WithNotify(func(err error, next time.Duration) {
		assert.ErrorIs(t, err, errTransient)
		notified = append(notified, next)
	}))
	_, _ = Do(context.Background(), Policy{MaxAttempts: 3, InitialDelay: time.Second, Factor: 3},
		func(ctx context.Context) (int, error) { return 0, errTransient }, opts...)

	assert.Equal(t, waits, notified)
	assert.Equal(t, []time.Duration{time.Second, 3 * time.Second}, notified)
}
