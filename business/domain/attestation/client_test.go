package attestation

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/degenduel/duel-settlement/business/domain/round"
	"github.com/degenduel/duel-settlement/business/retry/retrytest"
	"github.com/degenduel/duel-settlement/entities"
	"github.com/degenduel/duel-settlement/external/fdc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var ErrMock = errors.New("mock error")

var testParams = entities.AttestationParams{
	URL:           "https://api.example.com/match/1",
	HTTPMethod:    "GET",
	PostProcessJq: ".winner",
	ABISignature:  `{"components":[{"name":"winner","type":"uint256"}],"type":"tuple"}`,
}

type FakeVerifier struct {
	errs    []error
	encoded string
	calls   int
}

func (f *FakeVerifier) PrepareRequest(_ context.Context, _ entities.AttestationParams) (string, error) {
	f.calls++
	if len(f.errs) >= f.calls && f.errs[f.calls-1] != nil {
		return "", f.errs[f.calls-1]
	}
	return f.encoded, nil
}

type FakeRelay struct {
	submitErrs  []error
	submission  entities.Submission
	submits     int
	settleErr   error
	settled     map[string]entities.ProofRecord
	settleCalls int
}

func (f *FakeRelay) Submit(_ context.Context, encoded string) (entities.Submission, error) {
	f.submits++
	if len(f.submitErrs) >= f.submits && f.submitErrs[f.submits-1] != nil {
		return entities.Submission{}, f.submitErrs[f.submits-1]
	}
	sub := f.submission
	sub.RequestBytes = encoded
	return sub, nil
}

func (f *FakeRelay) Settle(_ context.Context, duelID string, proof entities.ProofRecord) (string, error) {
	f.settleCalls++
	if f.settleErr != nil {
		return "", f.settleErr
	}
	if f.settled == nil {
		f.settled = map[string]entities.ProofRecord{}
	}
	f.settled[duelID] = proof
	return "0xsettled", nil
}

// FakeProofSource reports not ready until readyAt has elapsed on the mock clock.
type FakeProofSource struct {
	mock    *clock.Mock
	start   time.Time
	readyAt time.Duration // negative means never
	err     error
	mu      sync.Mutex
	polls   []time.Duration
	rounds  []int64
}

func (f *FakeProofSource) Poll(_ context.Context, roundID int64, _ string) (entities.ProofRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	elapsed := f.mock.Now().Sub(f.start)
	f.polls = append(f.polls, elapsed)
	f.rounds = append(f.rounds, roundID)
	if f.err != nil {
		return nil, f.err
	}
	if f.readyAt < 0 || elapsed < f.readyAt {
		return nil, entities.ErrProofNotReady
	}
	return entities.ProofRecord(`{"data":{"votingRound":1}}`), nil
}

func newTestClient(t *testing.T, mock *clock.Mock, verifier Preparer, relay Relay, proofs ProofSource) *Client {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	return NewClient(verifier, relay, proofs, round.NewCalculator(1658430000, 90), DefaultPolicies(), logger.Sugar(),
		WithClock(mock), WithRetryOptions(retrytest.Instant(mock)...))
}

func TestClient_PrepareRequest_RetriesTransientFailures(t *testing.T) {
	mock := clock.NewMock()
	verifier := &FakeVerifier{
		errs:    []error{&fdc.StatusError{Code: http.StatusBadGateway}, &fdc.TransportError{Err: ErrMock}},
		encoded: "0xencoded",
	}
	client := newTestClient(t, mock, verifier, nil, nil)

	encoded, err := client.PrepareRequest(t.Context(), testParams)
	require.NoError(t, err)
	assert.Equal(t, "0xencoded", encoded)
	assert.Equal(t, 3, verifier.calls)
}

func TestClient_PrepareRequest_RejectedIsNotRetried(t *testing.T) {
	mock := clock.NewMock()
	verifier := &FakeVerifier{errs: []error{fdc.ErrRequestRejected}}
	client := newTestClient(t, mock, verifier, nil, nil)

	_, err := client.PrepareRequest(t.Context(), testParams)
	var pe *entities.PrepareError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, fdc.ErrRequestRejected)
	assert.Equal(t, entities.StepPrepare, entities.StepOf(err))
	assert.Equal(t, 1, verifier.calls)
}

func TestClient_PrepareRequest_ExhaustsAttempts(t *testing.T) {
	mock := clock.NewMock()
	transient := &fdc.TransportError{Err: ErrMock}
	verifier := &FakeVerifier{errs: []error{transient, transient, transient, transient}}
	client := newTestClient(t, mock, verifier, nil, nil)

	_, err := client.PrepareRequest(t.Context(), testParams)
	var pe *entities.PrepareError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 3, verifier.calls)
}

func TestClient_PrepareRequest_SameInputSameOutput(t *testing.T) {
	mock := clock.NewMock()
	client := newTestClient(t, mock, &FakeVerifier{encoded: "0xencoded"}, nil, nil)

	first, err := client.PrepareRequest(t.Context(), testParams)
	require.NoError(t, err)
	second, err := client.PrepareRequest(t.Context(), testParams)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestClient_SubmitRequest_FailsTwiceThenSucceeds(t *testing.T) {
	mock := clock.NewMock()
	start := mock.Now()
	relay := &FakeRelay{
		submitErrs: []error{&fdc.StatusError{Code: http.StatusInternalServerError}, &fdc.TransportError{Err: ErrMock}},
		submission: entities.Submission{RoundID: 1042, TxHash: "0x01"},
	}
	client := newTestClient(t, mock, nil, relay, nil)

	sub, err := client.SubmitRequest(t.Context(), "0xencoded")
	require.NoError(t, err)
	assert.Equal(t, int64(1042), sub.RoundID)
	assert.Equal(t, "0xencoded", sub.RequestBytes)
	assert.Equal(t, 3, relay.submits)
	// 2s then 4s
	assert.Equal(t, 6*time.Second, mock.Now().Sub(start))
}

func TestClient_SubmitRequest_ClientErrorIsPermanent(t *testing.T) {
	mock := clock.NewMock()
	relay := &FakeRelay{submitErrs: []error{&fdc.StatusError{Code: http.StatusBadRequest, Body: "Missing abiEncodedRequest"}}}
	client := newTestClient(t, mock, nil, relay, nil)

	_, err := client.SubmitRequest(t.Context(), "")
	var se *entities.SubmitError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 1, relay.submits)
}

func TestClient_SubmitRequest_ExhaustsAfterFourAttempts(t *testing.T) {
	mock := clock.NewMock()
	transient := &fdc.StatusError{Code: http.StatusServiceUnavailable}
	relay := &FakeRelay{submitErrs: []error{transient, transient, transient, transient, transient}}
	client := newTestClient(t, mock, nil, relay, nil)

	_, err := client.SubmitRequest(t.Context(), "0xencoded")
	var se *entities.SubmitError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, entities.StepSubmit, entities.StepOf(err))
	assert.Equal(t, 4, relay.submits)
}

func TestClient_SubmitRequest_EpochIndexFromTimestamp(t *testing.T) {
	testData := []struct {
		name      string
		reported  int64
		timestamp int64
		expected  int64
	}{
		{name: "no timestamp keeps reported", reported: 77, expected: 77},
		{name: "matching", reported: 1, timestamp: 1658430090, expected: 1},
		{name: "computed wins", reported: 5, timestamp: 1658430270, expected: 3},
	}

	for _, tt := range testData {
		t.Run(tt.name, func(t *testing.T) {
			mock := clock.NewMock()
			relay := &FakeRelay{submission: entities.Submission{RoundID: tt.reported, Timestamp: tt.timestamp}}
			client := newTestClient(t, mock, nil, relay, nil)

			sub, err := client.SubmitRequest(t.Context(), "0xencoded")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, sub.RoundID)
		})
	}
}

func TestClient_AwaitFinalization_ReadyAfterNineAndAHalfMinutes(t *testing.T) {
	mock := clock.NewMock()
	proofs := &FakeProofSource{mock: mock, start: mock.Now(), readyAt: 9*time.Minute + 30*time.Second}
	client := newTestClient(t, mock, nil, nil, proofs)

	proof, err := client.AwaitFinalization(t.Context(), 42, "0xencoded")
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":{"votingRound":1}}`, string(proof))

	last := proofs.polls[len(proofs.polls)-1]
	assert.Equal(t, 9*time.Minute+30*time.Second, last)
	assert.Equal(t, []time.Duration{0, 10 * time.Second, 30 * time.Second, 60 * time.Second}, proofs.polls[:4])
	for _, r := range proofs.rounds {
		assert.Equal(t, int64(42), r)
	}
}

func TestClient_AwaitFinalization_TimesOutAfterTenMinutes(t *testing.T) {
	mock := clock.NewMock()
	proofs := &FakeProofSource{mock: mock, start: mock.Now(), readyAt: -1}
	client := newTestClient(t, mock, nil, nil, proofs)

	_, err := client.AwaitFinalization(t.Context(), 42, "0xencoded")
	var te *entities.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, int64(42), te.RoundID)
	assert.Equal(t, entities.StepProof, entities.StepOf(err))

	pollsAtTimeout := len(proofs.polls)
	for _, p := range proofs.polls {
		assert.Less(t, p, 10*time.Minute)
	}
	assert.LessOrEqual(t, pollsAtTimeout, 30)

	mock.Add(time.Minute)
	assert.Len(t, proofs.polls, pollsAtTimeout)
}

func TestClient_AwaitFinalization_OtherErrorsAreNotRetried(t *testing.T) {
	mock := clock.NewMock()
	proofs := &FakeProofSource{mock: mock, start: mock.Now(), err: &fdc.StatusError{Code: http.StatusInternalServerError, Body: "DA layer error"}}
	client := newTestClient(t, mock, nil, nil, proofs)

	_, err := client.AwaitFinalization(t.Context(), 42, "0xencoded")
	var pe *entities.ProofError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, int64(42), pe.RoundID)
	assert.Len(t, proofs.polls, 1)
}

func TestClient_AwaitFinalization_Cancelled(t *testing.T) {
	mock := clock.NewMock()
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	proofs := &FakeProofSource{mock: mock, start: mock.Now(), readyAt: -1}
	client := newTestClient(t, mock, nil, nil, proofs)

	_, err := client.AwaitFinalization(ctx, 42, "0xencoded")
	require.ErrorIs(t, err, context.Canceled)
	var te *entities.TimeoutError
	assert.False(t, errors.As(err, &te))
}

// CancellingProofSource cancels the caller's context during the given poll.
type CancellingProofSource struct {
	cancel   context.CancelFunc
	cancelAt int
	polls    int
}

func (f *CancellingProofSource) Poll(_ context.Context, _ int64, _ string) (entities.ProofRecord, error) {
	f.polls++
	if f.polls == f.cancelAt {
		f.cancel()
	}
	return nil, entities.ErrProofNotReady
}

func TestClient_AwaitFinalization_CancelledWhilePolling(t *testing.T) {
	mock := clock.NewMock()
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	proofs := &CancellingProofSource{cancel: cancel, cancelAt: 3}
	client := newTestClient(t, mock, nil, nil, proofs)

	_, err := client.AwaitFinalization(ctx, 42, "0xencoded")
	require.ErrorIs(t, err, context.Canceled)
	var pe *entities.ProofError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, int64(42), pe.RoundID)
	assert.Equal(t, 3, proofs.polls)
}

func TestClient_Settle(t *testing.T) {
	mock := clock.NewMock()
	relay := &FakeRelay{}
	client := newTestClient(t, mock, nil, relay, nil)

	hash, err := client.Settle(t.Context(), "12", entities.ProofRecord(`{"data":1}`))
	require.NoError(t, err)
	assert.Equal(t, "0xsettled", hash)
	assert.JSONEq(t, `{"data":1}`, string(relay.settled["12"]))

	relay.settleErr = &fdc.StatusError{Code: http.StatusInternalServerError}
	_, err = client.Settle(t.Context(), "13", nil)
	var se *entities.SettleError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "13", se.DuelID)
	assert.Equal(t, 2, relay.settleCalls)
}

type recordingObserver struct {
	calls []string
	round int64
}

func (o *recordingObserver) OnSubmitting() { o.calls = append(o.calls, "submitting") }
func (o *recordingObserver) OnSubmitted(roundID int64) {
	o.calls = append(o.calls, "submitted")
	o.round = roundID
}
func (o *recordingObserver) OnProving(int64) { o.calls = append(o.calls, "proving") }

func TestClient_FullAttestation(t *testing.T) {
	mock := clock.NewMock()
	verifier := &FakeVerifier{encoded: "0xencoded"}
	relay := &FakeRelay{submission: entities.Submission{RoundID: 3, Timestamp: 1658430270}}
	proofs := &FakeProofSource{mock: mock, start: mock.Now(), readyAt: 30 * time.Second}
	client := newTestClient(t, mock, verifier, relay, proofs)
	observer := &recordingObserver{}

	result, err := client.FullAttestation(t.Context(), testParams, observer)
	require.NoError(t, err)
	assert.Equal(t, "0xencoded", result.EncodedRequest)
	assert.Equal(t, int64(3), result.EpochIndex)
	assert.Equal(t, "0xencoded", result.RequestBytes)
	assert.JSONEq(t, `{"data":{"votingRound":1}}`, string(result.Proof))
	assert.Equal(t, []string{"submitting", "submitted", "proving"}, observer.calls)
	assert.Equal(t, int64(3), observer.round)
}

func TestClient_FullAttestation_StopsAtFirstFailure(t *testing.T) {
	mock := clock.NewMock()
	verifier := &FakeVerifier{errs: []error{fdc.ErrRequestRejected}}
	relay := &FakeRelay{}
	client := newTestClient(t, mock, verifier, relay, nil)

	_, err := client.FullAttestation(t.Context(), testParams, nil)
	var pe *entities.PrepareError
	require.ErrorAs(t, err, &pe)
	assert.Zero(t, relay.submits)
}
