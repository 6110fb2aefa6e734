package signing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jayasurya0007/prism-wallet/internal/circuitbreaker"
)

// breakerKey groups all signing calls under one circuit.
const breakerKey = "signing-service"

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)

// HTTPClient talks to the signing service over HTTP, behind a circuit
// breaker so a flapping service fails fast instead of hanging every
// pipeline run.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	breaker *circuitbreaker.Breaker
}

// NewHTTPClient creates a signing client for the given base URL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
}

// Sign submits the request and validates the response before returning it.
func (c *HTTPClient) Sign(ctx context.Context, req Request) (*Response, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	if !c.breaker.Allow(breakerKey) {
		return nil, fmt.Errorf("%w: circuit open", ErrServiceUnavailable)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("signing: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/sign", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("signing: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.breaker.RecordFailure(breakerKey)
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	// Bound the body before reading; oversized responses are rejected, not
	// truncated.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		c.breaker.RecordFailure(breakerKey)
		return nil, fmt.Errorf("%w: read body: %v", ErrServiceUnavailable, err)
	}

	if resp.StatusCode >= 500 {
		c.breaker.RecordFailure(breakerKey)
		return nil, fmt.Errorf("%w: status %d", ErrServiceUnavailable, resp.StatusCode)
	}
	c.breaker.RecordSuccess(breakerKey)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrInvalidResponse, resp.StatusCode)
	}

	return ParseResponse(raw, req)
}

// validateRequest enforces the outbound invariants: a content-addressed
// script reference and bounded serialized payloads. Inline script material
// is never accepted.
func validateRequest(req Request) error {
	if !ValidScriptCID(req.ScriptCID) {
		return ErrInvalidScriptRef
	}
	if len(req.TransactionData) > MaxSerializedSize || len(req.Policy) > MaxSerializedSize {
		return ErrPayloadTooLarge
	}
	if req.ToSign == "" {
		return fmt.Errorf("signing: empty payload")
	}
	return nil
}

// ParseResponse validates the raw service response and extracts the
// signature. The body is rejected when oversized, syntactically invalid,
// carrying injection patterns, unsuccessful, or structurally incomplete.
func ParseResponse(raw []byte, req Request) (*Response, error) {
	if len(raw) > MaxResponseSize {
		return nil, fmt.Errorf("%w: response too large", ErrInvalidResponse)
	}
	if unsafeResponse.Match(raw) {
		return nil, fmt.Errorf("%w: unsafe content", ErrInvalidResponse)
	}

	var body struct {
		Success   bool       `json:"success"`
		Error     string     `json:"error"`
		Signature *Signature `json:"signature"`
		PublicKey string     `json:"publicKey"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("%w: malformed JSON", ErrInvalidResponse)
	}

	if !body.Success {
		return nil, fmt.Errorf("signing: service error: %s", sanitizeError(body.Error))
	}
	if !body.Signature.Valid() {
		return nil, fmt.Errorf("%w: incomplete signature", ErrInvalidResponse)
	}

	return &Response{
		Signature:  *body.Signature,
		PublicKey:  body.PublicKey,
		DataSigned: bound(req.ToSign, 1000),
	}, nil
}

// sanitizeError strips markup characters from a service-supplied error and
// bounds its length before it reaches logs or API clients.
func sanitizeError(msg string) string {
	if msg == "" {
		return "unknown error"
	}
	var b strings.Builder
	for _, r := range msg {
		switch r {
		case '<', '>', '"', '\'', '&', '\\':
		default:
			b.WriteRune(r)
		}
	}
	return bound(b.String(), 200)
}

func bound(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
