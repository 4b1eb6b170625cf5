package fdc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/degenduel/duel-settlement/entities"
	"github.com/pkg/errors"
)

const proofByRequestRoundPath = "/api/v1/fdc/proof-by-request-round-raw"

type daProofRequest struct {
	RoundID      int64  `json:"roundId"`
	RequestBytes string `json:"requestBytes"`
}

// DALayer polls the data availability layer directly, bypassing the intermediary.
type DALayer struct {
	url    string
	client *http.Client
}

func NewDALayer(baseURL string, timeout time.Duration) *DALayer {
	return &DALayer{
		url:    strings.TrimRight(baseURL, "/") + proofByRequestRoundPath,
		client: newHTTPClient(timeout),
	}
}

func (d *DALayer) Poll(ctx context.Context, roundID int64, requestBytes string) (entities.ProofRecord, error) {
	var raw json.RawMessage
	err := postJSON(ctx, d.client, d.url, nil, daProofRequest{RoundID: roundID, RequestBytes: requestBytes}, &raw)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return nil, entities.ErrProofNotReady
		}
		return nil, errors.Wrapf(err, "fetching proof for round [%d]", roundID)
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, errors.Wrapf(err, "decoding proof for round [%d]", roundID)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil, entities.ErrProofNotReady
	}
	return entities.ProofRecord(raw), nil
}
