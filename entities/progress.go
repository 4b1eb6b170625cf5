package entities

import "time"

type DuelState string

const (
	StateIdle       DuelState = "idle"
	StatePreparing  DuelState = "preparing"
	StateSubmitting DuelState = "submitting"
	StateAwaiting   DuelState = "awaiting"
	StateProving    DuelState = "proving"
	StateSettling   DuelState = "settling"
	StateSettled    DuelState = "settled"
	StateFailed     DuelState = "failed"
)

func (s DuelState) IsTerminal() bool {
	return s == StateSettled || s == StateFailed
}

type DuelProgress struct {
	State     DuelState `json:"state"`
	DuelID    string    `json:"duelId"`
	Timestamp time.Time `json:"timestamp"`
	RoundID   *int64    `json:"roundId,omitempty"`
	Error     string    `json:"error,omitempty"`
}
