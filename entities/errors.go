package entities

import (
	"errors"
	"fmt"
)

var ErrProofNotReady = errors.New("proof not ready yet")
var ErrDuelNotFound = errors.New("duel not found")
var ErrDuelAlreadyTracked = errors.New("duel already tracked")

// ErrInvalidFeedID marks a feed id that can never be read, retrying it is pointless.
var ErrInvalidFeedID = errors.New("invalid feed id")

// Step names the pipeline step (or component) an error originated from.
type Step string

const (
	StepPrepare Step = "prepare"
	StepSubmit  Step = "submit"
	StepProof   Step = "proof"
	StepSettle  Step = "settle"
	StepFeed    Step = "feed"
	StepEvent   Step = "event"
)

type stepper interface {
	Step() Step
}

// StepOf returns the step of the first tagged error in the chain, or "" if none.
func StepOf(err error) Step {
	var s stepper
	if errors.As(err, &s) {
		return s.Step()
	}
	return ""
}

type PrepareError struct {
	Err error
}

func (e *PrepareError) Error() string { return fmt.Sprintf("fdc prepare failed: %v", e.Err) }
func (e *PrepareError) Unwrap() error { return e.Err }
func (e *PrepareError) Step() Step    { return StepPrepare }

type SubmitError struct {
	Err error
}

func (e *SubmitError) Error() string { return fmt.Sprintf("fdc submit failed: %v", e.Err) }
func (e *SubmitError) Unwrap() error { return e.Err }
func (e *SubmitError) Step() Step    { return StepSubmit }

type TimeoutError struct {
	RoundID int64
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("attestation timed out waiting for proof of round [%d]", e.RoundID)
}
func (e *TimeoutError) Unwrap() error { return e.Err }
func (e *TimeoutError) Step() Step    { return StepProof }

type ProofError struct {
	RoundID int64
	Err     error
}

func (e *ProofError) Error() string {
	return fmt.Sprintf("fdc polling failed for round [%d]: %v", e.RoundID, e.Err)
}
func (e *ProofError) Unwrap() error { return e.Err }
func (e *ProofError) Step() Step    { return StepProof }

type SettleError struct {
	DuelID string
	Err    error
}

func (e *SettleError) Error() string {
	return fmt.Sprintf("settling duel [%s] failed: %v", e.DuelID, e.Err)
}
func (e *SettleError) Unwrap() error { return e.Err }
func (e *SettleError) Step() Step    { return StepSettle }

type FeedError struct {
	FeedID string
	Err    error
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("failed to read price feed [%s]: %v", e.FeedID, e.Err)
}
func (e *FeedError) Unwrap() error { return e.Err }
func (e *FeedError) Step() Step    { return StepFeed }

type EventError struct {
	Err error
}

func (e *EventError) Error() string { return fmt.Sprintf("event stream: %v", e.Err) }
func (e *EventError) Unwrap() error { return e.Err }
func (e *EventError) Step() Step    { return StepEvent }
