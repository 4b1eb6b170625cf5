package fdc

import (
	"context"
	"net/http"
	"time"

	"github.com/degenduel/duel-settlement/entities"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
)

const (
	attestationTypeWeb2Json = "Web2Json"
	sourceIDPublicWeb2      = "PublicWeb2"
	statusValid             = "VALID"
)

var ErrRequestRejected = errors.New("verifier rejected request")

type prepareRequest struct {
	AttestationType string             `json:"attestationType"`
	SourceID        string             `json:"sourceId"`
	RequestBody     prepareRequestBody `json:"requestBody"`
}

type prepareRequestBody struct {
	URL           string `json:"url"`
	HTTPMethod    string `json:"httpMethod"`
	Headers       string `json:"headers"`
	QueryParams   string `json:"queryParams"`
	Body          string `json:"body"`
	PostProcessJq string `json:"postProcessJq"`
	ABISignature  string `json:"abiSignature"`
}

type prepareResponse struct {
	Status            string `json:"status"`
	ABIEncodedRequest string `json:"abiEncodedRequest"`
}

// Verifier prepares Web2Json attestation requests.
type Verifier struct {
	url    string
	apiKey string
	client *http.Client
}

func NewVerifier(url, apiKey string, timeout time.Duration) *Verifier {
	return &Verifier{
		url:    url,
		apiKey: apiKey,
		client: newHTTPClient(timeout),
	}
}

func (v *Verifier) PrepareRequest(ctx context.Context, params entities.AttestationParams) (string, error) {
	req := prepareRequest{
		AttestationType: Bytes32(attestationTypeWeb2Json),
		SourceID:        Bytes32(sourceIDPublicWeb2),
		RequestBody: prepareRequestBody{
			URL:           params.URL,
			HTTPMethod:    params.HTTPMethod,
			Headers:       "{}",
			QueryParams:   "{}",
			Body:          "{}",
			PostProcessJq: params.PostProcessJq,
			ABISignature:  params.ABISignature,
		},
	}
	header := http.Header{}
	header.Set("X-API-KEY", v.apiKey)

	var res prepareResponse
	if err := postJSON(ctx, v.client, v.url, header, req, &res); err != nil {
		return "", errors.Wrap(err, "calling verifier")
	}
	if res.Status != statusValid {
		return "", errors.Wrapf(ErrRequestRejected, "verifier returned status [%s]", res.Status)
	}
	if res.ABIEncodedRequest == "" {
		return "", errors.Wrap(ErrRequestRejected, "verifier returned empty encoded request")
	}
	return res.ABIEncodedRequest, nil
}

// Bytes32 encodes an ascii identifier as a right zero padded 32 byte hex string.
func Bytes32(s string) string {
	return hexutil.Encode(common.RightPadBytes([]byte(s), 32))
}
