package chain

import (
	"github.com/degenduel/duel-settlement/entities"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Contract event signatures. The duel id is always the first indexed argument.
const (
	DuelCreatedSignature = "DuelCreated(uint256,address,uint256)"
	DuelJoinedSignature  = "DuelJoined(uint256,address)"
	DuelSettledSignature = "DuelSettled(uint256,address,uint256,int256,bool)"
)

var (
	DuelCreatedTopic = crypto.Keccak256Hash([]byte(DuelCreatedSignature))
	DuelJoinedTopic  = crypto.Keccak256Hash([]byte(DuelJoinedSignature))
	DuelSettledTopic = crypto.Keccak256Hash([]byte(DuelSettledSignature))
)

var eventTypes = map[common.Hash]entities.DuelEventType{
	DuelCreatedTopic: entities.DuelCreated,
	DuelJoinedTopic:  entities.DuelJoined,
	DuelSettledTopic: entities.DuelSettled,
}

// EventTopics is the topic0 filter matching every duel event.
func EventTopics() []common.Hash {
	return []common.Hash{DuelCreatedTopic, DuelJoinedTopic, DuelSettledTopic}
}

func logFilter(address common.Address) map[string]any {
	return map[string]any{
		"address": address,
		"topics":  [][]common.Hash{EventTopics()},
	}
}
