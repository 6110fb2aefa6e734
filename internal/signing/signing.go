// Package signing delegates cryptographic operations to the remote signing
// service. The agent never holds the delegated key; it submits the payload,
// the serialized policy and transaction data, and a content-addressed script
// reference, and the service signs inside its own enforcement boundary.
package signing

import (
	"context"
	"errors"
	"regexp"
)

// Errors
var (
	ErrServiceUnavailable = errors.New("signing: service unavailable")
	ErrInvalidResponse    = errors.New("signing: invalid response")
	ErrPayloadTooLarge    = errors.New("signing: serialized payload too large")
	ErrInvalidScriptRef   = errors.New("signing: invalid script reference")
)

// Size ceilings on the wire. Serialized policy and transaction data are
// bounded before the request leaves, responses before they are parsed.
const (
	MaxSerializedSize = 5000
	MaxResponseSize   = 10 * 1024
)

// scriptCIDRegex matches a CIDv0 content address.
var scriptCIDRegex = regexp.MustCompile(`^Qm[1-9A-HJ-NP-Za-km-z]{44}$`)

// ValidScriptCID reports whether cid is a well-formed content address for a
// pre-approved signing script.
func ValidScriptCID(cid string) bool {
	return scriptCIDRegex.MatchString(cid)
}

// unsafeResponse matches injection patterns a compromised service could
// plant in an error or signature field.
var unsafeResponse = regexp.MustCompile(`(?i)<script|javascript:|data:|vbscript:`)

// Request is one delegated signing call.
type Request struct {
	Identity        string `json:"publicKey"`
	ToSign          string `json:"toSign"` // hex-encoded payload
	SigName         string `json:"sigName"`
	TransactionData string `json:"transactionData"` // serialized JSON, bounded
	Policy          string `json:"policy"`          // serialized JSON, bounded
	ScriptCID       string `json:"scriptCid"`       // content-addressed signing script
}

// Signature is the structured signature returned by the service.
type Signature struct {
	R         string `json:"r"`
	S         string `json:"s"`
	Recid     int    `json:"recid"`
	Signature string `json:"signature"` // full serialized form
}

// Valid reports whether the signature is structurally complete.
func (s *Signature) Valid() bool {
	return s != nil && s.R != "" && s.S != "" && s.Signature != ""
}

// Response is the validated signing result.
type Response struct {
	Signature  Signature `json:"signature"`
	PublicKey  string    `json:"publicKey"`
	DataSigned string    `json:"dataSigned"`
}

// Client submits signing requests to the signing service.
type Client interface {
	Sign(ctx context.Context, req Request) (*Response, error)
}
