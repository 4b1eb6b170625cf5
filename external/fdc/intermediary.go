package fdc

import (
	"context"
	"net/http"
	"time"

	"github.com/degenduel/duel-settlement/entities"
	"github.com/pkg/errors"
)

type submitRequest struct {
	Action            string `json:"action"`
	ABIEncodedRequest string `json:"abiEncodedRequest"`
}

type submitResponse struct {
	RoundID      *int64 `json:"roundId"`
	RequestBytes string `json:"requestBytes"`
	TxHash       string `json:"txHash"`
	Timestamp    int64  `json:"timestamp"`
}

type pollRequest struct {
	Action       string `json:"action"`
	RoundID      int64  `json:"roundId"`
	RequestBytes string `json:"requestBytes"`
}

type pollResponse struct {
	Ready bool                 `json:"ready"`
	Proof entities.ProofRecord `json:"proof"`
}

type settleRequest struct {
	Action string               `json:"action"`
	DuelID string               `json:"duelId"`
	Proof  entities.ProofRecord `json:"proof"`
}

type settleResponse struct {
	TxHash string `json:"txHash"`
}

// Intermediary talks to the relay that pays fees and sends transactions on our behalf.
type Intermediary struct {
	url    string
	client *http.Client
}

func NewIntermediary(url string, timeout time.Duration) *Intermediary {
	return &Intermediary{
		url:    url,
		client: newHTTPClient(timeout),
	}
}

func (c *Intermediary) Submit(ctx context.Context, encodedRequest string) (entities.Submission, error) {
	var res submitResponse
	err := postJSON(ctx, c.client, c.url, nil, submitRequest{Action: "submit", ABIEncodedRequest: encodedRequest}, &res)
	if err != nil {
		return entities.Submission{}, errors.Wrap(err, "submitting attestation request")
	}
	if res.RoundID == nil {
		return entities.Submission{}, errors.New("submit reply is missing roundId")
	}

	requestBytes := res.RequestBytes
	if requestBytes == "" {
		requestBytes = encodedRequest
	}
	return entities.Submission{
		RoundID:      *res.RoundID,
		RequestBytes: requestBytes,
		TxHash:       res.TxHash,
		Timestamp:    res.Timestamp,
	}, nil
}

// Poll returns entities.ErrProofNotReady while the round is not finalized.
func (c *Intermediary) Poll(ctx context.Context, roundID int64, requestBytes string) (entities.ProofRecord, error) {
	var res pollResponse
	err := postJSON(ctx, c.client, c.url, nil, pollRequest{Action: "poll", RoundID: roundID, RequestBytes: requestBytes}, &res)
	if err != nil {
		return nil, errors.Wrapf(err, "polling proof for round [%d]", roundID)
	}
	if !res.Ready {
		return nil, entities.ErrProofNotReady
	}
	if len(res.Proof) == 0 || string(res.Proof) == "null" {
		return nil, errors.Errorf("ready reply without proof for round [%d]", roundID)
	}
	return res.Proof, nil
}

func (c *Intermediary) Settle(ctx context.Context, duelID string, proof entities.ProofRecord) (string, error) {
	var res settleResponse
	err := postJSON(ctx, c.client, c.url, nil, settleRequest{Action: "settle", DuelID: duelID, Proof: proof}, &res)
	if err != nil {
		return "", errors.Wrapf(err, "settling duel [%s]", duelID)
	}
	return res.TxHash, nil
}
