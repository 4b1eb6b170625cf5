package main

import (
	"context"
	"time"

	"github.com/degenduel/duel-settlement/entities"
	"go.uber.org/zap"
)

type Publisher interface {
	PublishEvents(ctx context.Context, events []entities.DuelEvent) error
	PublishPrices(ctx context.Context, quotes []entities.PriceQuote) error
}

type EventSource interface {
	Watch(ctx context.Context) (<-chan entities.DuelEvent, <-chan error)
}

type PriceStore interface {
	Store(feedIDs []string, quotes []entities.PriceQuote)
}

// logPublisher is used when kafka is disabled.
type logPublisher struct {
	logger *zap.SugaredLogger
}

func (p logPublisher) PublishEvents(_ context.Context, events []entities.DuelEvent) error {
	for _, event := range events {
		p.logger.Infow("Duel event", "type", event.Type, "duelId", event.DuelID, "block", event.BlockNumber)
	}
	return nil
}

func (p logPublisher) PublishPrices(_ context.Context, quotes []entities.PriceQuote) error {
	p.logger.Debugw("Price snapshot", "quotes", len(quotes))
	return nil
}

// relayEvents forwards watched events until ctx is done and restarts the watch after
// the stream ends.
func relayEvents(ctx context.Context, source EventSource, publisher Publisher, restartDelay time.Duration, logger *zap.SugaredLogger) {
	for {
		out, errs := source.Watch(ctx)
		for event := range out {
			if err := publisher.PublishEvents(ctx, []entities.DuelEvent{event}); err != nil {
				logger.Errorw("Error publishing duel event", "key", event.Key(), "error", err)
			}
		}
		for err := range errs {
			logger.Warnw("Event stream failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(restartDelay):
			logger.Infow("Restarting event stream")
		}
	}
}

func relayPrices(ctx context.Context, snapshots <-chan []entities.PriceQuote, feedIDs []string, store PriceStore, publisher Publisher, logger *zap.SugaredLogger) {
	for quotes := range snapshots {
		store.Store(feedIDs, quotes)
		if len(quotes) == 0 {
			continue
		}
		if err := publisher.PublishPrices(ctx, quotes); err != nil {
			logger.Errorw("Error publishing prices", "quotes", len(quotes), "error", err)
		}
	}
}
