// Package signeroracle talks to the remote signing service that holds sponsor
// wallet key material. The facilitator never signs sponsor transactions
// itself: it hands the oracle calldata and gets back a transaction hash.
package signeroracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/gaslift/facilitator/internal/circuitbreaker"
	"github.com/gaslift/facilitator/internal/httputil"
	"github.com/gaslift/facilitator/internal/logger"
	"github.com/gaslift/facilitator/internal/metrics"
)

// Oracle submits a signed transaction on behalf of a sponsor wallet.
type Oracle interface {
	// Submit asks the oracle to sign and broadcast calldata to a contract
	// from the wallet behind handle. Returns the broadcast transaction hash.
	// The oracle performs no confirmation waiting; callers poll for receipts.
	Submit(ctx context.Context, req SubmitRequest) (string, error)
}

// SubmitRequest carries one transaction submission.
type SubmitRequest struct {
	Handle    string `json:"handle"`              // opaque signer handle from the sponsor registry
	UserShare string `json:"userShare,omitempty"` // optional second key share
	ChainID   int64  `json:"chainId"`
	To        string `json:"to"`   // contract address, 0x hex
	Data      string `json:"data"` // calldata, 0x hex
	Network   string `json:"-"`    // legacy network name, for metrics only
}

type submitResponse struct {
	TxHash string `json:"txHash"`
	Error  string `json:"error,omitempty"`
}

// Client is the HTTP implementation of Oracle.
type Client struct {
	baseURL    string
	credential string
	httpClient *http.Client
	breakers   *circuitbreaker.Manager
	metrics    *metrics.Metrics
}

// NewClient creates an oracle client.
func NewClient(baseURL, credential string, timeout time.Duration, breakers *circuitbreaker.Manager, m *metrics.Metrics) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		credential: credential,
		httpClient: httputil.NewClient(timeout),
		breakers:   breakers,
		metrics:    m,
	}
}

// Submit signs and broadcasts one transaction through the oracle.
// No internal retries: a timed-out submission may still have been broadcast,
// and blind resubmission would double-spend the authorization. The settlement
// engine reconciles against chain state instead.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	log := logger.FromContext(ctx)
	requestID := uuid.NewString()

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("signeroracle: marshal request: %w", err)
	}

	start := time.Now()
	result, err := c.breakers.Execute(circuitbreaker.ServiceSignerOracle, func() (interface{}, error) {
		return c.doSubmit(ctx, requestID, body)
	})
	if c.metrics != nil {
		c.metrics.ObserveOracleSubmission(req.Network, time.Since(start), err)
	}
	if err != nil {
		log.Error().
			Err(err).
			Str("oracle_request_id", requestID).
			Str("handle", req.Handle).
			Int64("chain_id", req.ChainID).
			Msg("oracle.submit_failed")
		return "", err
	}

	txHash := result.(string)
	log.Info().
		Str("oracle_request_id", requestID).
		Str("tx_hash", logger.TruncateAddress(txHash)).
		Int64("chain_id", req.ChainID).
		Msg("oracle.submitted")
	return txHash, nil
}

func (c *Client) doSubmit(ctx context.Context, requestID string, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transactions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("signeroracle: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)
	if c.credential != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.credential)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("signeroracle: submit: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("signeroracle: read response: %w", err)
	}

	var parsed submitResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", fmt.Errorf("signeroracle: parse response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		if parsed.Error != "" {
			return "", fmt.Errorf("signeroracle: status %d: %s", resp.StatusCode, parsed.Error)
		}
		return "", fmt.Errorf("signeroracle: status %d", resp.StatusCode)
	}
	if parsed.TxHash == "" {
		return "", fmt.Errorf("signeroracle: response missing txHash")
	}
	return parsed.TxHash, nil
}
