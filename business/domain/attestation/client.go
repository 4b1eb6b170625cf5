package attestation

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/degenduel/duel-settlement/business/domain/round"
	"github.com/degenduel/duel-settlement/business/retry"
	"github.com/degenduel/duel-settlement/entities"
	"go.uber.org/zap"
)

type Preparer interface {
	PrepareRequest(ctx context.Context, params entities.AttestationParams) (string, error)
}

type Relay interface {
	Submit(ctx context.Context, encodedRequest string) (entities.Submission, error)
	Settle(ctx context.Context, duelID string, proof entities.ProofRecord) (string, error)
}

// ProofSource returns entities.ErrProofNotReady until the round is finalized.
type ProofSource interface {
	Poll(ctx context.Context, roundID int64, requestBytes string) (entities.ProofRecord, error)
}

// Observer is told about pipeline progress between the steps of FullAttestation.
type Observer interface {
	OnSubmitting()
	OnSubmitted(roundID int64)
	OnProving(roundID int64)
}

type Policies struct {
	Prepare      retry.Policy
	Submit       retry.Policy
	Proof        retry.Policy
	ProofTimeout time.Duration
}

func DefaultPolicies() Policies {
	return Policies{
		Prepare:      retry.Policy{MaxAttempts: 3},
		Submit:       retry.Policy{MaxAttempts: 4, InitialDelay: 2 * time.Second, Factor: 2},
		Proof:        retry.Policy{MaxAttempts: 30, InitialDelay: 10 * time.Second, Factor: 2, MaxDelay: 30 * time.Second, MaxElapsed: 10 * time.Minute},
		ProofTimeout: 10 * time.Minute,
	}
}

type Client struct {
	verifier  Preparer
	relay     Relay
	proofs    ProofSource
	rounds    round.Calculator
	policies  Policies
	clock     clock.Clock
	retryOpts []retry.Option
	logger    *zap.SugaredLogger
}

type Option func(*Client)

// WithClock replaces the wall clock used for the proof timeout and retry waits.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		c.clock = clk
	}
}

func WithRetryOptions(opts ...retry.Option) Option {
	return func(c *Client) {
		c.retryOpts = append(c.retryOpts, opts...)
	}
}

func NewClient(verifier Preparer, relay Relay, proofs ProofSource, rounds round.Calculator, policies Policies, logger *zap.SugaredLogger, opts ...Option) *Client {
	c := Client{
		verifier: verifier,
		relay:    relay,
		proofs:   proofs,
		rounds:   rounds,
		policies: policies,
		clock:    clock.New(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.retryOpts == nil {
		c.retryOpts = []retry.Option{retry.WithClock(c.clock)}
	}
	return &c
}

// PrepareRequest asks the verifier to encode params. A rejected request is not retried.
func (c *Client) PrepareRequest(ctx context.Context, params entities.AttestationParams) (string, error) {
	policy := c.policies.Prepare
	policy.Retryable = temporary

	encoded, err := retry.Do(ctx, policy, func(ctx context.Context) (string, error) {
		return c.verifier.PrepareRequest(ctx, params)
	}, c.options("prepare")...)
	if err != nil {
		return "", &entities.PrepareError{Err: err}
	}
	c.logger.Infow("Attestation request prepared", "url", params.URL)
	return encoded, nil
}

// SubmitRequest submits the encoded request on chain. The returned submission carries
// the epoch index derived from the block timestamp when one is known.
func (c *Client) SubmitRequest(ctx context.Context, encodedRequest string) (entities.Submission, error) {
	policy := c.policies.Submit
	policy.Retryable = temporary

	sub, err := retry.Do(ctx, policy, func(ctx context.Context) (entities.Submission, error) {
		return c.relay.Submit(ctx, encodedRequest)
	}, c.options("submit")...)
	if err != nil {
		return entities.Submission{}, &entities.SubmitError{Err: err}
	}

	if sub.Timestamp > 0 {
		computed := c.rounds.EpochIndex(sub.Timestamp)
		if computed != sub.RoundID {
			c.logger.Warnw("Reported round differs from computed epoch index, using computed",
				"reported", sub.RoundID, "computed", computed, "timestamp", sub.Timestamp)
			sub.RoundID = computed
		}
	}
	c.logger.Infow("Attestation request submitted", "roundId", sub.RoundID, "txHash", sub.TxHash)
	return sub, nil
}

var errProofDeadline = errors.New("proof deadline reached")

// AwaitFinalization polls until the proof for roundID is available. Only a not ready
// reply is retried; the whole wait is bounded by the proof timeout from the first poll.
func (c *Client) AwaitFinalization(ctx context.Context, roundID int64, requestBytes string) (entities.ProofRecord, error) {
	started := c.clock.Now()
	// bounds an in-flight poll in wall time, the schedule itself is checked against c.clock
	pollCtx, cancel := context.WithTimeout(ctx, c.policies.ProofTimeout)
	defer cancel()

	policy := c.policies.Proof
	policy.Retryable = func(err error) bool {
		return errors.Is(err, entities.ErrProofNotReady)
	}

	polls := 0
	proof, err := retry.Do(pollCtx, policy, func(ctx context.Context) (entities.ProofRecord, error) {
		if c.clock.Since(started) >= c.policies.ProofTimeout {
			return nil, errProofDeadline
		}
		polls++
		return c.proofs.Poll(ctx, roundID, requestBytes)
	}, c.options("proof")...)
	if err == nil {
		c.logger.Infow("Proof retrieved", "roundId", roundID, "polls", polls, "waited", c.clock.Since(started).String())
		return proof, nil
	}

	switch {
	case ctx.Err() != nil:
		return nil, &entities.ProofError{RoundID: roundID, Err: err}
	case errors.Is(err, entities.ErrProofNotReady),
		errors.Is(err, errProofDeadline),
		pollCtx.Err() != nil:
		c.logger.Warnw("Gave up waiting for proof", "roundId", roundID, "polls", polls)
		return nil, &entities.TimeoutError{RoundID: roundID, Err: err}
	default:
		return nil, &entities.ProofError{RoundID: roundID, Err: err}
	}
}

// Settle hands the proof to the contract. It is never retried.
func (c *Client) Settle(ctx context.Context, duelID string, proof entities.ProofRecord) (string, error) {
	txHash, err := c.relay.Settle(ctx, duelID, proof)
	if err != nil {
		return "", &entities.SettleError{DuelID: duelID, Err: err}
	}
	c.logger.Infow("Duel settled", "duelId", duelID, "txHash", txHash)
	return txHash, nil
}

// FullAttestation runs prepare, submit and proof polling strictly in sequence.
func (c *Client) FullAttestation(ctx context.Context, params entities.AttestationParams, observer Observer) (*entities.AttestationResult, error) {
	if observer == nil {
		observer = nopObserver{}
	}

	encoded, err := c.PrepareRequest(ctx, params)
	if err != nil {
		return nil, err
	}

	observer.OnSubmitting()
	sub, err := c.SubmitRequest(ctx, encoded)
	if err != nil {
		return nil, err
	}
	observer.OnSubmitted(sub.RoundID)

	observer.OnProving(sub.RoundID)
	proof, err := c.AwaitFinalization(ctx, sub.RoundID, sub.RequestBytes)
	if err != nil {
		return nil, err
	}

	return &entities.AttestationResult{
		EncodedRequest: encoded,
		EpochIndex:     sub.RoundID,
		RequestBytes:   sub.RequestBytes,
		Proof:          proof,
	}, nil
}

func (c *Client) options(step string) []retry.Option {
	notify := retry.WithNotify(func(err error, next time.Duration) {
		c.logger.Infow("Retrying attestation step", "step", step, "in", next.String(), "error", err)
	})
	return append(c.retryOpts[:len(c.retryOpts):len(c.retryOpts)], notify)
}

func temporary(err error) bool {
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}

type nopObserver struct{}

func (nopObserver) OnSubmitting()     {}
func (nopObserver) OnSubmitted(int64) {}
func (nopObserver) OnProving(int64)   {}
