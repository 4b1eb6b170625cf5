package entities

import "encoding/json"

// AttestationParams describe the external data source and how the verifier should
// normalize it before attesting.
type AttestationParams struct {
	URL           string `json:"url"`
	HTTPMethod    string `json:"httpMethod"`
	PostProcessJq string `json:"postProcessJq"`
	ABISignature  string `json:"abiSignature"`
}

type Submission struct {
	RoundID      int64  `json:"roundId"`
	RequestBytes string `json:"requestBytes"`
	TxHash       string `json:"txHash"`
	Timestamp    int64  `json:"timestamp,omitempty"` // block timestamp, unix seconds
}

// ProofRecord is the opaque payload served by the data availability layer.
type ProofRecord = json.RawMessage

type AttestationResult struct {
	EncodedRequest string      `json:"abiEncodedRequest"`
	EpochIndex     int64       `json:"roundId"`
	RequestBytes   string      `json:"requestBytes"`
	Proof          ProofRecord `json:"proof"`
}
