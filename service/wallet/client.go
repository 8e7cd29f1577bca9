package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/minersworld/tipledger/service/metrics"
	"github.com/shopspring/decimal"
)

// ErrRPCUnavailable wraps transport-level failures talking to the wallet
// daemon: connection refused, timeout, or a non-200 HTTP response. Callers
// use it to distinguish "the daemon is down" from a daemon-reported error.
var ErrRPCUnavailable = errors.New("wallet rpc unavailable")

// RPCError is an error reported by the wallet daemon itself.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("wallet rpc error %d: %s", e.Code, e.Message)
}

// Client talks JSON-RPC to a single wallet daemon over HTTP basic auth.
// Every call is bounded by the configured timeout so a hung daemon cannot
// stall a reconcile cycle indefinitely.
type Client struct {
	url     string
	user    string
	pass    string
	http    *http.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewClient creates a new wallet daemon client.
// If m is nil, no metrics will be recorded.
func NewClient(url, user, pass string, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		url:     url,
		user:    user,
		pass:    pass,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
		metrics: m,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
	ID     string          `json:"id"`
}

// call performs one JSON-RPC request and unmarshals the result into out.
// Pass a nil out to discard the result.
func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "1.0",
		ID:      "tipledger",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	duration := time.Since(start).Seconds()

	status := "success"
	defer func() {
		if c.metrics != nil {
			c.metrics.RecordRPCCall(method, status, duration)
		}
	}()

	if err != nil {
		status = "error"
		c.logger.ErrorContext(ctx, "wallet rpc transport failure",
			"method", method,
			"error", err,
		)
		return fmt.Errorf("%w: %s: %v", ErrRPCUnavailable, method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		status = "error"
		return fmt.Errorf("%w: %s: %v", ErrRPCUnavailable, method, err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		status = "error"
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%w: %s: http %d", ErrRPCUnavailable, method, resp.StatusCode)
		}
		return fmt.Errorf("failed to decode rpc response for %s: %w", method, err)
	}

	if rpcResp.Error != nil {
		status = "error"
		c.logger.WarnContext(ctx, "wallet rpc returned error",
			"method", method,
			"code", rpcResp.Error.Code,
			"message", rpcResp.Error.Message,
		)
		return rpcResp.Error
	}
	if resp.StatusCode != http.StatusOK {
		status = "error"
		return fmt.Errorf("%w: %s: http %d", ErrRPCUnavailable, method, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

// GetNewAddress mints a fresh receiving address under the given account
// label.
func (c *Client) GetNewAddress(ctx context.Context, account string) (string, error) {
	var address string
	if err := c.call(ctx, "getnewaddress", []any{account}, &address); err != nil {
		return "", err
	}
	return address, nil
}

// ListReceivedByAddress returns the cumulative received amount per address.
// minConf 0 includes unconfirmed receives; includeWatchOnly includes
// addresses the daemon watches but does not hold keys for.
func (c *Client) ListReceivedByAddress(ctx context.Context, minConf int, includeEmpty, includeWatchOnly bool) ([]Received, error) {
	var received []Received
	if err := c.call(ctx, "listreceivedbyaddress", []any{minConf, includeEmpty, includeWatchOnly}, &received); err != nil {
		return nil, err
	}
	return received, nil
}

// GetTransaction fetches full detail for one wallet transaction.
func (c *Client) GetTransaction(ctx context.Context, txid string) (*Transaction, error) {
	var tx Transaction
	if err := c.call(ctx, "gettransaction", []any{txid}, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// ValidateAddress asks the daemon whether an address is well-formed and
// whether the daemon owns it.
func (c *Client) ValidateAddress(ctx context.Context, address string) (*AddressInfo, error) {
	var info AddressInfo
	if err := c.call(ctx, "validateaddress", []any{address}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// SendToAddress broadcasts an on-chain send and returns its txid.
// Amounts cross the wire as JSON numbers with full 8-dp precision.
func (c *Client) SendToAddress(ctx context.Context, address string, amount decimal.Decimal) (string, error) {
	var txid string
	if err := c.call(ctx, "sendtoaddress", []any{address, json.RawMessage(amount.String())}, &txid); err != nil {
		return "", err
	}
	return txid, nil
}

// SetTxFee sets the daemon's per-transaction fee for subsequent sends.
func (c *Client) SetTxFee(ctx context.Context, amount decimal.Decimal) error {
	return c.call(ctx, "settxfee", []any{json.RawMessage(amount.String())}, nil)
}
