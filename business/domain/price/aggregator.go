package price

import (
	"context"
	"time"

	"github.com/degenduel/duel-settlement/business/retry"
	"github.com/degenduel/duel-settlement/entities"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Feed interface {
	GetCurrentPrice(ctx context.Context, feedID string) (entities.PriceQuote, error)
}

type Recorder interface {
	IncFeedFailure(feedID string)
	AddFetchedQuotes(count int)
}

func DefaultPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 4, InitialDelay: 500 * time.Millisecond, Factor: 2, Retryable: Retryable}
}

// Retryable rejects feed ids that no amount of retrying will make readable.
func Retryable(err error) bool {
	return !errors.Is(err, entities.ErrInvalidFeedID)
}

type Aggregator struct {
	feed         Feed
	policy       retry.Policy
	retryOptions []retry.Option
	fetchTimeout time.Duration
	metrics      Recorder
	logger       *zap.SugaredLogger
}

type Option func(*Aggregator)

func WithRetryOptions(opts ...retry.Option) Option {
	return func(a *Aggregator) {
		a.retryOptions = opts
	}
}

// WithFetchTimeout bounds every single read attempt.
func WithFetchTimeout(timeout time.Duration) Option {
	return func(a *Aggregator) {
		a.fetchTimeout = timeout
	}
}

func NewAggregator(feed Feed, policy retry.Policy, metrics Recorder, logger *zap.SugaredLogger, opts ...Option) *Aggregator {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	a := &Aggregator{
		feed:    feed,
		policy:  policy,
		metrics: metrics,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// result is one slot of the fan-out. Exactly one of the fields is set.
type result struct {
	quote entities.PriceQuote
	err   error
}

// GetPrices reads every feed concurrently and returns the quotes that could be read, in
// feed order. Failed feeds are logged and counted, never returned.
func (a *Aggregator) GetPrices(ctx context.Context, feedIDs []string) []entities.PriceQuote {
	quotes, _ := a.Prices(ctx, feedIDs)
	return quotes
}

// Prices is GetPrices that also reports how many feeds failed.
func (a *Aggregator) Prices(ctx context.Context, feedIDs []string) ([]entities.PriceQuote, int) {
	results := make([]result, len(feedIDs))

	var group errgroup.Group
	for i, feedID := range feedIDs {
		group.Go(func() error {
			quote, err := a.fetch(ctx, feedID)
			results[i] = result{quote: quote, err: err}
			return nil
		})
	}
	_ = group.Wait() // slots carry the errors

	quotes := make([]entities.PriceQuote, 0, len(feedIDs))
	failed := 0
	for i, r := range results {
		if r.err != nil {
			failed++
			a.metrics.IncFeedFailure(feedIDs[i])
			a.logger.Warnw("Skipping price feed", "feedId", feedIDs[i], "error", r.err)
			continue
		}
		quotes = append(quotes, r.quote)
	}
	a.metrics.AddFetchedQuotes(len(quotes))
	return quotes, failed
}

func (a *Aggregator) fetch(ctx context.Context, feedID string) (entities.PriceQuote, error) {
	quote, err := retry.Do(ctx, a.policy, func(ctx context.Context) (entities.PriceQuote, error) {
		if a.fetchTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, a.fetchTimeout)
			defer cancel()
		}
		return a.feed.GetCurrentPrice(ctx, feedID)
	}, a.retryOptions...)
	if err != nil {
		return entities.PriceQuote{}, &entities.FeedError{FeedID: feedID, Err: err}
	}
	return quote, nil
}

// Stream emits a snapshot right away and then on every interval until ctx is done.
// Snapshots are dropped while the consumer is busy.
func (a *Aggregator) Stream(ctx context.Context, feedIDs []string, interval time.Duration) <-chan []entities.PriceQuote {
	out := make(chan []entities.PriceQuote, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			quotes := a.GetPrices(ctx, feedIDs)
			if ctx.Err() != nil {
				return
			}
			select {
			case out <- quotes:
			default:
				a.logger.Debugw("Price consumer busy, dropping snapshot", "quotes", len(quotes))
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out
}

type nopRecorder struct{}

func (nopRecorder) IncFeedFailure(string) {}
func (nopRecorder) AddFetchedQuotes(int)  {}
