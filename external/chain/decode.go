package chain

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/degenduel/duel-settlement/entities"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

var ErrUnknownEvent = errors.New("unknown event")

type eventPayload struct {
	Topics []common.Hash `json:"topics"`
	Data   hexutil.Bytes `json:"data"`
}

// DecodeLog turns a contract log into a duel event. Both transports go through here.
func DecodeLog(l types.Log, now time.Time) (entities.DuelEvent, error) {
	if len(l.Topics) < 2 {
		return entities.DuelEvent{}, errors.Errorf("log has [%d] topics, need at least 2", len(l.Topics))
	}
	eventType, ok := eventTypes[l.Topics[0]]
	if !ok {
		return entities.DuelEvent{}, errors.Wrapf(ErrUnknownEvent, "topic [%s]", l.Topics[0].Hex())
	}

	payload, err := json.Marshal(eventPayload{Topics: l.Topics[1:], Data: l.Data})
	if err != nil {
		return entities.DuelEvent{}, errors.Wrap(err, "marshalling event payload")
	}

	return entities.DuelEvent{
		Type:        eventType,
		DuelID:      new(big.Int).SetBytes(l.Topics[1].Bytes()).String(),
		Timestamp:   now,
		Payload:     payload,
		BlockNumber: l.BlockNumber,
		TxHash:      l.TxHash.Hex(),
		LogIndex:    l.Index,
	}, nil
}
