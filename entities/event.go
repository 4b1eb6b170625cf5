package entities

import (
	"encoding/json"
	"time"
)

type DuelEventType string

const (
	DuelCreated DuelEventType = "Created"
	DuelJoined  DuelEventType = "Joined"
	DuelSettled DuelEventType = "Settled"
)

type DuelEvent struct {
	Type        DuelEventType   `json:"type"`
	DuelID      string          `json:"duelId"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
	BlockNumber uint64          `json:"blockNumber"`
	TxHash      string          `json:"txHash"`
	LogIndex    uint            `json:"logIndex"`
}

// Key identifies an event across transports.
func (e DuelEvent) Key() string {
	return string(e.Type) + ":" + e.DuelID
}
