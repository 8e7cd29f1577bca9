package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// User represents a registered ledger user.
type User struct {
	UserID             int64
	Balance            decimal.Decimal
	BalanceUnconfirmed decimal.Decimal
	Address            string
	AllowSoak          bool
	CreatedAt          time.Time
}

// Balance holds a user's confirmed and unconfirmed balances.
type Balance struct {
	UserID             int64
	Confirmed          decimal.Decimal
	Unconfirmed        decimal.Decimal
	HasConfirmedPart   bool
	HasUnconfirmedPart bool
}

// Tip represents a completed transfer between two users.
type Tip struct {
	ID         int64
	FromUserID int64
	ToUserID   int64
	Amount     decimal.Decimal
	CreatedAt  time.Time
}

// Deposit represents an on-chain deposit credited to a user.
type Deposit struct {
	ID        int64
	UserID    int64
	Amount    decimal.Decimal
	TxID      string
	Status    string
	CreatedAt time.Time
}

// Withdrawal represents a completed send to an external address.
type Withdrawal struct {
	ID        int64
	UserID    int64
	Amount    decimal.Decimal
	Address   string
	TxID      string
	CreatedAt time.Time
}

// Airdrop represents a scheduled future payout.
type Airdrop struct {
	ID        int64
	CreatorID int64
	ChannelID int64
	RoleID    *int64
	Amount    decimal.Decimal
	Split     bool
	ExecuteAt time.Time
	Executed  bool
	CreatedAt time.Time
}

// MultiTipParams are the parameters for a multi-recipient tip.
type MultiTipParams struct {
	FromUserID int64
	Recipients []int64
	Amount     decimal.Decimal
	Split      bool
	Soak       bool
}

// CreateAirdropParams are the parameters for scheduling an airdrop.
type CreateAirdropParams struct {
	CreatorID int64
	ChannelID int64
	RoleID    *int64
	Amount    decimal.Decimal
	Split     bool
	ExecuteAt time.Time
}

// Client is the HTTP client for the tipledger service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new ledger service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// EnsureUser registers a user, minting a deposit address on first sight.
// Safe to call repeatedly; the existing user is returned.
func (c *Client) EnsureUser(ctx context.Context, userID int64) (*User, error) {
	var resp userResponse
	u := fmt.Sprintf("%s/api/v1/users/%d", c.baseURL, userID)
	if err := c.do(ctx, "POST", u, nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	c.logger.Debug("user ensured", "user_id", userID)
	return responseToUser(&resp)
}

// GetUser retrieves a registered user.
func (c *Client) GetUser(ctx context.Context, userID int64) (*User, error) {
	var resp userResponse
	u := fmt.Sprintf("%s/api/v1/users/%d", c.baseURL, userID)
	if err := c.do(ctx, "GET", u, nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return responseToUser(&resp)
}

// GetBalance retrieves a user's balances. which may be "confirmed",
// "unconfirmed", or "all".
func (c *Client) GetBalance(ctx context.Context, userID int64, which string) (*Balance, error) {
	var resp struct {
		UserID             int64   `json:"user_id"`
		Balance            *string `json:"balance,omitempty"`
		BalanceUnconfirmed *string `json:"balance_unconfirmed,omitempty"`
	}
	u := fmt.Sprintf("%s/api/v1/users/%d/balance?which=%s", c.baseURL, userID, which)
	if err := c.do(ctx, "GET", u, nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}

	bal := &Balance{UserID: resp.UserID}
	if resp.Balance != nil {
		confirmed, err := decimal.NewFromString(*resp.Balance)
		if err != nil {
			return nil, fmt.Errorf("failed to parse balance: %w", err)
		}
		bal.Confirmed = confirmed
		bal.HasConfirmedPart = true
	}
	if resp.BalanceUnconfirmed != nil {
		unconfirmed, err := decimal.NewFromString(*resp.BalanceUnconfirmed)
		if err != nil {
			return nil, fmt.Errorf("failed to parse unconfirmed balance: %w", err)
		}
		bal.Unconfirmed = unconfirmed
		bal.HasUnconfirmedPart = true
	}
	return bal, nil
}

// SetSoakOptIn toggles a user's participation in soak tips.
func (c *Client) SetSoakOptIn(ctx context.Context, userID int64, enabled bool) error {
	u := fmt.Sprintf("%s/api/v1/users/%d/soak-opt-in", c.baseURL, userID)
	body := map[string]interface{}{"enabled": enabled}
	return c.do(ctx, "POST", u, body, http.StatusOK, nil)
}

// Tip moves funds from one user to another.
func (c *Client) Tip(ctx context.Context, fromUserID, toUserID int64, amount decimal.Decimal) (*Tip, error) {
	body := map[string]interface{}{
		"from_user_id": fromUserID,
		"to_user_id":   toUserID,
		"amount":       amount.String(),
	}

	var resp tipResponse
	if err := c.do(ctx, "POST", c.baseURL+"/api/v1/tips", body, http.StatusCreated, &resp); err != nil {
		return nil, err
	}
	return responseToTip(&resp)
}

// MultiTip tips several users at once. With Soak set, recipients are
// filtered server-side to users who have opted in.
func (c *Client) MultiTip(ctx context.Context, params MultiTipParams) ([]*Tip, error) {
	body := map[string]interface{}{
		"from_user_id": params.FromUserID,
		"recipients":   params.Recipients,
		"amount":       params.Amount.String(),
		"split":        params.Split,
		"soak":         params.Soak,
	}

	var resp struct {
		Tips []tipResponse `json:"tips"`
	}
	if err := c.do(ctx, "POST", c.baseURL+"/api/v1/multi-tips", body, http.StatusCreated, &resp); err != nil {
		return nil, err
	}

	tips := make([]*Tip, len(resp.Tips))
	for i, tr := range resp.Tips {
		tip, err := responseToTip(&tr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse tip %d: %w", tr.ID, err)
		}
		tips[i] = tip
	}
	return tips, nil
}

// Withdraw sends funds from a user's balance to an external address.
func (c *Client) Withdraw(ctx context.Context, userID int64, address string, amount decimal.Decimal) (*Withdrawal, error) {
	body := map[string]interface{}{
		"user_id": userID,
		"address": address,
		"amount":  amount.String(),
	}

	var resp withdrawalResponse
	if err := c.do(ctx, "POST", c.baseURL+"/api/v1/withdrawals", body, http.StatusCreated, &resp); err != nil {
		return nil, err
	}
	return responseToWithdrawal(&resp)
}

// ListDeposits retrieves a user's deposit history.
func (c *Client) ListDeposits(ctx context.Context, userID int64, limit int) ([]*Deposit, error) {
	var resp struct {
		Deposits []depositResponse `json:"deposits"`
	}
	u := fmt.Sprintf("%s/api/v1/users/%d/deposits?limit=%d", c.baseURL, userID, limit)
	if err := c.do(ctx, "GET", u, nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}

	deposits := make([]*Deposit, len(resp.Deposits))
	for i, dr := range resp.Deposits {
		dep, err := responseToDeposit(&dr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse deposit %s: %w", dr.TxID, err)
		}
		deposits[i] = dep
	}
	return deposits, nil
}

// ListWithdrawals retrieves a user's withdrawal history.
func (c *Client) ListWithdrawals(ctx context.Context, userID int64, limit int) ([]*Withdrawal, error) {
	var resp struct {
		Withdrawals []withdrawalResponse `json:"withdrawals"`
	}
	u := fmt.Sprintf("%s/api/v1/users/%d/withdrawals?limit=%d", c.baseURL, userID, limit)
	if err := c.do(ctx, "GET", u, nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}

	withdrawals := make([]*Withdrawal, len(resp.Withdrawals))
	for i, wr := range resp.Withdrawals {
		wd, err := responseToWithdrawal(&wr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse withdrawal %s: %w", wr.TxID, err)
		}
		withdrawals[i] = wd
	}
	return withdrawals, nil
}

// CreateAirdrop schedules an airdrop for future execution.
func (c *Client) CreateAirdrop(ctx context.Context, params CreateAirdropParams) (*Airdrop, error) {
	body := map[string]interface{}{
		"creator_id": params.CreatorID,
		"channel_id": params.ChannelID,
		"amount":     params.Amount.String(),
		"split":      params.Split,
		"execute_at": params.ExecuteAt.Format(time.RFC3339),
	}
	if params.RoleID != nil {
		body["role_id"] = *params.RoleID
	}

	var resp airdropResponse
	if err := c.do(ctx, "POST", c.baseURL+"/api/v1/airdrops", body, http.StatusCreated, &resp); err != nil {
		return nil, err
	}
	return responseToAirdrop(&resp)
}

// ListAirdrops retrieves all airdrops created by a user.
func (c *Client) ListAirdrops(ctx context.Context, creatorID int64) ([]*Airdrop, error) {
	var resp struct {
		Airdrops []airdropResponse `json:"airdrops"`
	}
	u := fmt.Sprintf("%s/api/v1/airdrops?creator_id=%d", c.baseURL, creatorID)
	if err := c.do(ctx, "GET", u, nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}

	airdrops := make([]*Airdrop, len(resp.Airdrops))
	for i, ar := range resp.Airdrops {
		airdrop, err := responseToAirdrop(&ar)
		if err != nil {
			return nil, fmt.Errorf("failed to parse airdrop %d: %w", ar.ID, err)
		}
		airdrops[i] = airdrop
	}
	return airdrops, nil
}

// CancelAirdrop cancels a pending airdrop. Only the creator may cancel.
func (c *Client) CancelAirdrop(ctx context.Context, airdropID, requesterID int64) error {
	u := fmt.Sprintf("%s/api/v1/airdrops/%d?requester_id=%d", c.baseURL, airdropID, requesterID)
	return c.do(ctx, "DELETE", u, nil, http.StatusNoContent, nil)
}

// do performs one request against the API: marshals the optional body,
// checks the expected status, and decodes into out when non-nil.
func (c *Client) do(ctx context.Context, method, url string, body interface{}, wantStatus int, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		rdr = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return c.parseErrorResponse(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// parseErrorResponse extracts an error message from an API error response.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
