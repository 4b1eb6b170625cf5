package events

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/degenduel/duel-settlement/entities"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
)

const (
	TransportPush = "websocket"
	TransportPoll = "polling"
)

// Subscription is an open push stream. Next returns io.EOF once the server ends it.
type Subscription interface {
	Next() (entities.DuelEvent, error)
	Close() error
}

// DialFunc opens the push transport. It must give up within its connect timeout.
type DialFunc func(ctx context.Context) (Subscription, error)

type Poller interface {
	Poll(ctx context.Context) ([]entities.DuelEvent, error)
}

type Recorder interface {
	IncEmittedEvent(transport string)
	IncEventError()
	SetActiveTransport(transport string, known ...string)
}

type Watcher struct {
	dial         DialFunc
	poller       Poller
	pollInterval time.Duration
	seen         *ttlcache.Cache[string, struct{}]
	metrics      Recorder
	logger       *zap.SugaredLogger
}

// NewWatcher creates a watcher whose dedup window spans all Watch calls. Stop releases it.
func NewWatcher(dial DialFunc, poller Poller, pollInterval, dedupTTL time.Duration, metrics Recorder, logger *zap.SugaredLogger) *Watcher {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	seen := ttlcache.New[string, struct{}](
		ttlcache.WithTTL[string, struct{}](dedupTTL),
		ttlcache.WithDisableTouchOnHit[string, struct{}](), // the window starts at first sight
	)
	go seen.Start()

	return &Watcher{
		dial:         dial,
		poller:       poller,
		pollInterval: pollInterval,
		seen:         seen,
		metrics:      metrics,
		logger:       logger,
	}
}

// Watch streams duel events until ctx is cancelled or the push stream ends. Both channels
// are closed when the stream ends; calling Watch again restarts it.
func (w *Watcher) Watch(ctx context.Context) (<-chan entities.DuelEvent, <-chan error) {
	out := make(chan entities.DuelEvent)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(out)

		sub, err := w.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warnw("Push transport unavailable, falling back to polling", "interval", w.pollInterval, "error", err)
			w.metrics.SetActiveTransport(TransportPoll, TransportPush, TransportPoll)
			w.poll(ctx, out)
			return
		}

		w.logger.Infow("Watching duel events over push transport")
		w.metrics.SetActiveTransport(TransportPush, TransportPush, TransportPoll)
		if err := w.stream(ctx, sub, out); err != nil {
			w.metrics.IncEventError()
			w.logger.Warnw("Push stream ended", "error", err)
			errs <- err
		}
	}()

	return out, errs
}

// Stop ends the dedup expiry loop.
func (w *Watcher) Stop() {
	w.seen.Stop()
}

func (w *Watcher) stream(ctx context.Context, sub Subscription, out chan<- entities.DuelEvent) error {
	var once sync.Once
	release := func() {
		once.Do(func() {
			if err := sub.Close(); err != nil {
				w.logger.Debugw("Closing push subscription", "error", err)
			}
		})
	}
	defer release()

	// closing unblocks the pending Next on cancellation
	stop := context.AfterFunc(ctx, release)
	defer stop()

	for {
		event, err := sub.Next()
		if err != nil {
			if ctx.Err() != nil || err == io.EOF {
				return nil
			}
			return &entities.EventError{Err: err}
		}
		if !w.emit(ctx, out, event, TransportPush) {
			return nil
		}
	}
}

func (w *Watcher) poll(ctx context.Context, out chan<- entities.DuelEvent) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		events, err := w.poller.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warnw("Polling duel events failed, retrying next tick", "error", err)
		}
		for _, event := range events {
			if !w.emit(ctx, out, event, TransportPoll) {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// emit forwards event unless its key was already seen. It returns false once ctx is done.
func (w *Watcher) emit(ctx context.Context, out chan<- entities.DuelEvent, event entities.DuelEvent, transport string) bool {
	if _, found := w.seen.GetOrSet(event.Key(), struct{}{}); found {
		return ctx.Err() == nil
	}
	select {
	case out <- event:
		w.metrics.IncEmittedEvent(transport)
		return true
	case <-ctx.Done():
		// not delivered, let a later read emit it
		w.seen.Delete(event.Key())
		return false
	}
}

type nopRecorder struct{}

func (nopRecorder) IncEmittedEvent(string)              {}
func (nopRecorder) IncEventError()                      {}
func (nopRecorder) SetActiveTransport(string, ...string) {}
