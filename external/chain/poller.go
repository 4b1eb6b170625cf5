package chain

import (
	"context"
	"time"

	"github.com/degenduel/duel-settlement/entities"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// LogPoller fetches duel logs of the latest block with eth_getLogs.
type LogPoller struct {
	caller  Caller
	address common.Address
}

func NewLogPoller(caller Caller, contractAddress string) *LogPoller {
	return &LogPoller{
		caller:  caller,
		address: common.HexToAddress(contractAddress),
	}
}

// Poll returns the duel events of the latest block. Logs that do not decode are skipped.
func (p *LogPoller) Poll(ctx context.Context) ([]entities.DuelEvent, error) {
	logs, err := p.FetchLogs(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	events := make([]entities.DuelEvent, 0, len(logs))
	for _, l := range logs {
		event, err := DecodeLog(l, now)
		if err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

func (p *LogPoller) FetchLogs(ctx context.Context) ([]types.Log, error) {
	filter := logFilter(p.address)
	filter["fromBlock"] = "latest"
	filter["toBlock"] = "latest"

	var logs []types.Log
	if err := p.caller.CallContext(ctx, &logs, "eth_getLogs", filter); err != nil {
		return nil, errors.Wrap(err, "eth_getLogs")
	}
	return logs, nil
}
