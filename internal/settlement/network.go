package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/jayasurya0007/prism-wallet/internal/idgen"
	"github.com/jayasurya0007/prism-wallet/internal/retry"
)

// SimulationRequest describes the transfer to estimate.
type SimulationRequest struct {
	FromChain int64  `json:"fromChain"`
	ToChain   int64  `json:"toChain"`
	Token     string `json:"token"`
	Amount    string `json:"amount"`
	Recipient string `json:"recipient,omitempty"`
}

// Network is the settlement network boundary: estimate a transfer, submit
// it, and report how many confirmations a submitted transaction has.
type Network interface {
	Simulate(ctx context.Context, req SimulationRequest) (*Simulation, error)
	Execute(ctx context.Context, route []string) (string, error)
	Confirmations(ctx context.Context, txHash string) (int, error)
}

// HTTPNetwork talks to a settlement network over its JSON API.
type HTTPNetwork struct {
	baseURL     string
	client      *http.Client
	maxAttempts int
	baseDelay   time.Duration
}

func NewHTTPNetwork(baseURL string) *HTTPNetwork {
	return &HTTPNetwork{
		baseURL:     baseURL,
		client:      &http.Client{Timeout: 15 * time.Second},
		maxAttempts: 3,
		baseDelay:   200 * time.Millisecond,
	}
}

var _ Network = (*HTTPNetwork)(nil)

func (n *HTTPNetwork) Simulate(ctx context.Context, req SimulationRequest) (*Simulation, error) {
	var sim Simulation
	if err := n.postJSON(ctx, "/v1/simulate", req, &sim); err != nil {
		return nil, err
	}
	if sim.ID == "" || len(sim.Route) == 0 {
		return nil, fmt.Errorf("settlement: malformed simulation response")
	}
	return &sim, nil
}

func (n *HTTPNetwork) Execute(ctx context.Context, route []string) (string, error) {
	var out struct {
		TxHash string `json:"txHash"`
	}
	body := struct {
		Route []string `json:"route"`
	}{Route: route}
	if err := n.postJSON(ctx, "/v1/execute", body, &out); err != nil {
		return "", err
	}
	if out.TxHash == "" {
		return "", fmt.Errorf("settlement: execute returned no transaction hash")
	}
	return out.TxHash, nil
}

func (n *HTTPNetwork) Confirmations(ctx context.Context, txHash string) (int, error) {
	var out struct {
		Confirmations int   `json:"confirmations"`
		BlockNumber   int64 `json:"blockNumber"`
	}
	if err := n.getJSON(ctx, "/v1/confirmations/"+txHash, &out); err != nil {
		return 0, err
	}
	return out.Confirmations, nil
}

func (n *HTTPNetwork) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("settlement: encode request: %w", err)
	}
	return retry.Do(ctx, n.maxAttempts, n.baseDelay, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		return n.do(req, out)
	})
}

func (n *HTTPNetwork) getJSON(ctx context.Context, path string, out any) error {
	return retry.Do(ctx, n.maxAttempts, n.baseDelay, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+path, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		return n.do(req, out)
	})
}

func (n *HTTPNetwork) do(req *http.Request, out any) error {
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("settlement: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("settlement: %s returned %d", req.URL.Path, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return retry.Permanent(fmt.Errorf("settlement: %s returned %d", req.URL.Path, resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return retry.Permanent(fmt.Errorf("settlement: decode %s response: %w", req.URL.Path, err))
	}
	return nil
}

// localFeeRate is the estimation used when the network is unreachable.
const localFeeRate = 0.003

// supportedChains a simulation may route between.
var supportedChains = map[int64]bool{
	1:     true,
	10:    true,
	137:   true,
	42161: true,
	43114: true,
	8453:  true,
}

// estimateLocally produces a degraded-mode simulation so planning can
// continue while the settlement network is down.
func estimateLocally(req SimulationRequest) *Simulation {
	amount, _ := strconv.ParseFloat(req.Amount, 64)
	fee := amount * localFeeRate
	return &Simulation{
		ID:            idgen.WithPrefix("sim_"),
		FromChain:     req.FromChain,
		ToChain:       req.ToChain,
		Token:         req.Token,
		Amount:        req.Amount,
		EstimatedFees: strconv.FormatFloat(fee, 'f', -1, 64),
		EstimatedTime: estimateTime(req.FromChain, req.ToChain),
		Route:         optimalRoute(req.FromChain, req.ToChain),
	}
}

// estimateTime returns a transfer time estimate in seconds.
func estimateTime(fromChain, toChain int64) int64 {
	var estimate int64 = 300
	if fromChain == 1 || toChain == 1 {
		estimate += 180 // mainnet settlement is slower
	}
	if differentEcosystem(fromChain, toChain) {
		estimate += 300
	}
	return estimate
}

// optimalRoute is direct within an ecosystem, via Ethereum across them.
func optimalRoute(fromChain, toChain int64) []string {
	from := strconv.FormatInt(fromChain, 10)
	to := strconv.FormatInt(toChain, 10)
	if differentEcosystem(fromChain, toChain) && fromChain != 1 && toChain != 1 {
		return []string{from, "1", to}
	}
	return []string{from, to}
}

var chainEcosystems = map[int64]string{
	1:        "ethereum",
	10:       "ethereum",
	42161:    "ethereum",
	8453:     "ethereum",
	11155111: "ethereum",
	11155420: "ethereum",
	421614:   "ethereum",
	84532:    "ethereum",
	137:      "polygon",
	80002:    "polygon",
	43114:    "avalanche",
	56:       "bnb",
}

func differentEcosystem(chainA, chainB int64) bool {
	a, okA := chainEcosystems[chainA]
	b, okB := chainEcosystems[chainB]
	if !okA || !okB {
		return true
	}
	return a != b
}
