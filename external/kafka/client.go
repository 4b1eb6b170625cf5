package kafka

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/degenduel/duel-settlement/entities"
	"github.com/pkg/errors"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

type KafkaClient interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
}

type Client struct {
	kcl        KafkaClient
	eventTopic string
	priceTopic string
	logger     *zap.SugaredLogger
}

func NewClient(kafkaClient KafkaClient, eventTopic, priceTopic string, logger *zap.SugaredLogger) *Client {
	return &Client{
		kcl:        kafkaClient,
		eventTopic: eventTopic,
		priceTopic: priceTopic,
		logger:     logger,
	}
}

// PublishEvents produces one record per event keyed by type:duelId, so every event of a
// duel lands on the same partition.
func (kc *Client) PublishEvents(ctx context.Context, events []entities.DuelEvent) error {
	records := make([]*kgo.Record, 0, len(events))
	for _, event := range events {
		record, err := createRecord(kc.eventTopic, event.Key(), event)
		if err != nil {
			return errors.Wrapf(err, "creating record for event [%s]", event.Key())
		}
		records = append(records, record)
	}
	return kc.produce(ctx, records)
}

// PublishPrices produces one record per quote keyed by feed id.
func (kc *Client) PublishPrices(ctx context.Context, quotes []entities.PriceQuote) error {
	records := make([]*kgo.Record, 0, len(quotes))
	for _, quote := range quotes {
		record, err := createRecord(kc.priceTopic, quote.FeedID, quote)
		if err != nil {
			return errors.Wrapf(err, "creating record for feed [%s]", quote.FeedID)
		}
		records = append(records, record)
	}
	return kc.produce(ctx, records)
}

func (kc *Client) produce(ctx context.Context, records []*kgo.Record) error {
	wg := sync.WaitGroup{}
	errorChannel := make(chan error, len(records))

	for _, record := range records {
		wg.Add(1)
		kc.kcl.Produce(ctx, record, func(_ *kgo.Record, err error) {
			defer wg.Done()
			if err != nil {
				kc.logger.Warnw("Error producing record", "topic", record.Topic, "key", string(record.Key), "error", err)
			}
			errorChannel <- err
		})
	}

	wg.Wait()
	close(errorChannel)

	failed := 0
	for err := range errorChannel {
		if err != nil {
			failed++
		}
	}
	if failed > 0 {
		return errors.Errorf("encountered errors while producing [%d] of [%d] records", failed, len(records))
	}
	return nil
}

func createRecord(topic, key string, value any) (*kgo.Record, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, errors.Wrap(err, "marshalling record to json")
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
	}, nil
}
