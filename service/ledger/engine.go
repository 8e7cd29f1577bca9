package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/minersworld/tipledger/service/db"
	"github.com/minersworld/tipledger/service/metrics"
	"github.com/minersworld/tipledger/service/wallet"
	"github.com/shopspring/decimal"
)

// Store is the subset of ledger store operations the engine needs.
type Store interface {
	CreateUser(ctx context.Context, snowflakeID int64, address string) (*db.User, error)
	GetUser(ctx context.Context, snowflakeID int64) (*db.User, error)
	SetSoakOptIn(ctx context.Context, snowflakeID int64, enabled bool) error
	FilterSoakRecipients(ctx context.Context, snowflakeIDs []int64) ([]int64, error)
	Tip(ctx context.Context, fromUserID, toUserID int64, amount decimal.Decimal) (*db.Tip, error)
	MultiTip(ctx context.Context, fromUserID int64, recipients []int64, amounts []decimal.Decimal) ([]*db.Tip, error)
	RecordWithdrawal(ctx context.Context, userID int64, amount decimal.Decimal, address, txid string) (*db.Withdrawal, error)
	CreateAirdrop(ctx context.Context, params db.CreateAirdropParams) (*db.Airdrop, error)
	GetAirdrop(ctx context.Context, id int64) (*db.Airdrop, error)
	ListAirdropsByCreator(ctx context.Context, creatorID int64) ([]*db.Airdrop, error)
	MarkAirdropExecuted(ctx context.Context, id int64) error
	ListDepositsByUser(ctx context.Context, userID int64, limit int32) ([]*db.Deposit, error)
	ListWithdrawalsByUser(ctx context.Context, userID int64, limit int32) ([]*db.Withdrawal, error)
}

// WalletClient is the subset of wallet daemon operations the engine needs.
type WalletClient interface {
	GetNewAddress(ctx context.Context, account string) (string, error)
	ValidateAddress(ctx context.Context, address string) (*wallet.AddressInfo, error)
	SendToAddress(ctx context.Context, address string, amount decimal.Decimal) (string, error)
	SetTxFee(ctx context.Context, amount decimal.Decimal) error
}

// Refresher runs a deposit reconcile pass on demand, so a withdrawal sees
// deposits that confirmed since the last scheduled cycle.
type Refresher interface {
	Cycle(ctx context.Context) error
}

// Config carries the engine's transfer policy knobs.
type Config struct {
	TxFee                decimal.Decimal
	AirdropMaxRecipients int
	SoakMaxRecipients    int
}

// Engine implements the balance transfer operations on top of the ledger
// store and the wallet daemon. Only confirmed balance is spendable;
// unconfirmed funds become spendable when the reconciler promotes them.
type Engine struct {
	store     Store
	wallet    WalletClient
	refresher Refresher
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewEngine creates a new Engine. refresher may be nil, in which case
// withdrawals skip the pre-flight reconcile pass. If m is nil, no metrics
// will be recorded.
func NewEngine(store Store, w WalletClient, refresher Refresher, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		store:     store,
		wallet:    w,
		refresher: refresher,
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
	}
}

// validateAmount rejects non-positive amounts and amounts finer than the
// chain's 8 decimal places.
func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: must be positive, got %s", ErrInvalidAmount, amount)
	}
	if amount.Exponent() < -8 {
		return fmt.Errorf("%w: more than 8 decimal places: %s", ErrInvalidAmount, amount)
	}
	return nil
}

// EnsureUser returns the user's account, creating it with a freshly minted
// deposit address on first contact. Re-ensuring an existing user never
// mints a second address.
func (e *Engine) EnsureUser(ctx context.Context, snowflakeID int64) (*db.User, error) {
	user, err := e.store.GetUser(ctx, snowflakeID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	address, err := e.wallet.GetNewAddress(ctx, strconv.FormatInt(snowflakeID, 10))
	if err != nil {
		return nil, fmt.Errorf("failed to mint deposit address: %w", err)
	}

	// CreateUser is race-safe: if another request won, we get their row
	// and this address is simply never used.
	user, err = e.store.CreateUser(ctx, snowflakeID, address)
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "created user account",
		"user_id", snowflakeID,
		"address", user.Address,
	)
	return user, nil
}

// GetUser returns a user's account and balances.
func (e *Engine) GetUser(ctx context.Context, snowflakeID int64) (*db.User, error) {
	return e.store.GetUser(ctx, snowflakeID)
}

// SetSoakOptIn toggles a user's participation in soak-style multi-tips.
func (e *Engine) SetSoakOptIn(ctx context.Context, snowflakeID int64, enabled bool) error {
	return e.store.SetSoakOptIn(ctx, snowflakeID, enabled)
}

// Tip moves amount from one user's confirmed balance to another's.
func (e *Engine) Tip(ctx context.Context, fromUserID, toUserID int64, amount decimal.Decimal) (*db.Tip, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if fromUserID == toUserID {
		return nil, ErrSelfTransfer
	}

	tip, err := e.store.Tip(ctx, fromUserID, toUserID, amount)
	e.recordTransfer("tip", err)
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "tip completed",
		"from", fromUserID,
		"to", toUserID,
		"amount", amount.String(),
	)
	return tip, nil
}

// MultiTip sends to several recipients at once. With split true, amount is
// divided evenly with the per-share value floored to 8 decimal places and
// any remainder staying with the sender; otherwise every recipient gets the
// full amount. The sender is removed from the recipient list and duplicates
// collapse to one share.
func (e *Engine) MultiTip(ctx context.Context, fromUserID int64, recipients []int64, amount decimal.Decimal, split bool) ([]*db.Tip, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	recipients = dedupeRecipients(recipients, fromUserID)
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}
	if len(recipients) > e.cfg.SoakMaxRecipients {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyRecipients, len(recipients), e.cfg.SoakMaxRecipients)
	}

	shares, err := buildShares(amount, len(recipients), split)
	if err != nil {
		return nil, err
	}

	tips, err := e.store.MultiTip(ctx, fromUserID, recipients, shares)
	e.recordTransfer("multi_tip", err)
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "multi-tip completed",
		"from", fromUserID,
		"recipients", len(recipients),
		"amount", amount.String(),
		"split", split,
	)
	return tips, nil
}

// Soak is a multi-tip that respects recipient opt-out: candidates who
// disabled soaking (or don't exist) are filtered before the shares are
// computed.
func (e *Engine) Soak(ctx context.Context, fromUserID int64, candidates []int64, amount decimal.Decimal, split bool) ([]*db.Tip, error) {
	eligible, err := e.store.FilterSoakRecipients(ctx, candidates)
	if err != nil {
		return nil, err
	}
	return e.MultiTip(ctx, fromUserID, eligible, amount, split)
}

// Withdraw sends amount to an external address. The fee comes out of the
// sent amount (the recipient receives amount minus fee) while the sender's
// balance is debited the full amount, matching the deposit-side accounting.
//
// Order matters: every check happens before the irreversible on-chain send,
// and the ledger debit happens after it. A debit failure after a successful
// send is a ledger inconsistency, reported loudly and left for an operator.
func (e *Engine) Withdraw(ctx context.Context, userID int64, address string, amount decimal.Decimal) (*db.Withdrawal, error) {
	if err := validateAmount(amount); err != nil {
		e.recordTransfer("withdrawal", err)
		return nil, err
	}
	if amount.LessThanOrEqual(e.cfg.TxFee) {
		err := fmt.Errorf("%w: %s does not clear the %s fee", ErrInvalidAmount, amount, e.cfg.TxFee)
		e.recordTransfer("withdrawal", err)
		return nil, err
	}

	info, err := e.wallet.ValidateAddress(ctx, address)
	if err != nil {
		e.recordTransfer("withdrawal", err)
		return nil, err
	}
	if !info.IsValid {
		e.recordTransfer("withdrawal", ErrInvalidAddress)
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, address)
	}
	if info.IsMine {
		e.recordTransfer("withdrawal", ErrInvalidAddress)
		return nil, fmt.Errorf("%w: %s is held by the wallet daemon", ErrInvalidAddress, address)
	}

	// Pick up deposits that confirmed since the last scheduled cycle so
	// the balance check sees them.
	if e.refresher != nil {
		if err := e.refresher.Cycle(ctx); err != nil {
			e.logger.WarnContext(ctx, "pre-withdrawal reconcile failed, using last known balances",
				"user_id", userID,
				"error", err,
			)
		}
	}

	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		e.recordTransfer("withdrawal", err)
		return nil, err
	}
	if user.Balance.LessThan(amount) {
		e.recordTransfer("withdrawal", db.ErrInsufficientFunds)
		return nil, db.ErrInsufficientFunds
	}

	if err := e.wallet.SetTxFee(ctx, e.cfg.TxFee); err != nil {
		e.recordTransfer("withdrawal", err)
		return nil, fmt.Errorf("failed to set tx fee: %w", err)
	}

	txid, err := e.wallet.SendToAddress(ctx, address, amount.Sub(e.cfg.TxFee))
	if err != nil {
		// Nothing was sent; no ledger mutation happened.
		e.recordTransfer("withdrawal", err)
		return nil, fmt.Errorf("failed to send to address: %w", err)
	}

	withdrawal, err := e.store.RecordWithdrawal(ctx, userID, amount, address, txid)
	if err != nil {
		// The coins are gone but the debit failed. Log everything an
		// operator needs and surface the inconsistency.
		e.logger.ErrorContext(ctx, "LEDGER INCONSISTENCY: on-chain send succeeded but debit failed",
			"user_id", userID,
			"address", address,
			"amount", amount.String(),
			"fee", e.cfg.TxFee.String(),
			"txid", txid,
			"error", err,
		)
		e.recordTransfer("withdrawal", ErrLedgerInconsistency)
		return nil, fmt.Errorf("%w: txid %s: %v", ErrLedgerInconsistency, txid, err)
	}

	e.recordTransfer("withdrawal", nil)
	e.logger.InfoContext(ctx, "withdrawal completed",
		"user_id", userID,
		"address", address,
		"amount", amount.String(),
		"txid", txid,
	)
	return withdrawal, nil
}

// CreateAirdrop schedules an airdrop. No funds are reserved; the creator's
// balance is checked when the airdrop executes.
func (e *Engine) CreateAirdrop(ctx context.Context, params db.CreateAirdropParams) (*db.Airdrop, error) {
	if err := validateAmount(params.Amount); err != nil {
		return nil, err
	}
	if _, err := e.store.GetUser(ctx, params.CreatorID); err != nil {
		return nil, err
	}

	airdrop, err := e.store.CreateAirdrop(ctx, params)
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "airdrop scheduled",
		"airdrop_id", airdrop.ID,
		"creator", airdrop.CreatorID,
		"amount", airdrop.Amount.String(),
		"execute_at", airdrop.ExecuteAt,
	)
	return airdrop, nil
}

// ListAirdropsByCreator returns all airdrops a user has created.
func (e *Engine) ListAirdropsByCreator(ctx context.Context, creatorID int64) ([]*db.Airdrop, error) {
	return e.store.ListAirdropsByCreator(ctx, creatorID)
}

// CancelAirdrop cancels a pending airdrop. Only the creator can cancel,
// and an executed airdrop stays executed.
func (e *Engine) CancelAirdrop(ctx context.Context, airdropID, requesterID int64) error {
	airdrop, err := e.store.GetAirdrop(ctx, airdropID)
	if err != nil {
		return err
	}
	if airdrop.CreatorID != requesterID {
		return ErrNotAirdropCreator
	}
	if err := e.store.MarkAirdropExecuted(ctx, airdropID); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "airdrop cancelled",
		"airdrop_id", airdropID,
		"creator", requesterID,
	)
	return nil
}

// ExecuteAirdrop pays out an airdrop to the recipients resolved by the
// command layer at execution time. Recipients beyond the configured cap are
// dropped, the creator never pays themselves, and an airdrop with no
// eligible recipients is marked executed without moving funds.
//
// An already-executed airdrop is a no-op, so a retried execution cannot pay
// twice.
func (e *Engine) ExecuteAirdrop(ctx context.Context, airdropID int64, recipients []int64) error {
	airdrop, err := e.store.GetAirdrop(ctx, airdropID)
	if err != nil {
		return err
	}
	if airdrop.Executed {
		return nil
	}

	recipients = dedupeRecipients(recipients, airdrop.CreatorID)
	if len(recipients) > e.cfg.AirdropMaxRecipients {
		e.logger.WarnContext(ctx, "airdrop recipients capped",
			"airdrop_id", airdropID,
			"resolved", len(recipients),
			"cap", e.cfg.AirdropMaxRecipients,
		)
		recipients = recipients[:e.cfg.AirdropMaxRecipients]
	}

	if len(recipients) == 0 {
		e.logger.InfoContext(ctx, "airdrop executed with no recipients", "airdrop_id", airdropID)
		return e.store.MarkAirdropExecuted(ctx, airdropID)
	}

	shares, err := buildShares(airdrop.Amount, len(recipients), airdrop.Split)
	if err != nil {
		// Unpayable split (e.g. amount too small for the recipient
		// count). Consume the airdrop rather than retrying forever.
		e.logger.WarnContext(ctx, "airdrop unpayable, marking executed",
			"airdrop_id", airdropID,
			"error", err,
		)
		return e.store.MarkAirdropExecuted(ctx, airdropID)
	}

	_, err = e.store.MultiTip(ctx, airdrop.CreatorID, recipients, shares)
	e.recordTransfer("airdrop", err)
	if err != nil {
		if errors.Is(err, db.ErrInsufficientFunds) {
			// The creator spent the funds between scheduling and
			// execution. The airdrop is consumed, not retried.
			e.logger.WarnContext(ctx, "airdrop creator has insufficient funds, marking executed",
				"airdrop_id", airdropID,
				"creator", airdrop.CreatorID,
			)
			if markErr := e.store.MarkAirdropExecuted(ctx, airdropID); markErr != nil {
				return markErr
			}
			return err
		}
		return err
	}

	if err := e.store.MarkAirdropExecuted(ctx, airdropID); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "airdrop executed",
		"airdrop_id", airdropID,
		"creator", airdrop.CreatorID,
		"recipients", len(recipients),
		"amount", airdrop.Amount.String(),
	)
	return nil
}

// ListDeposits returns a user's deposit history.
func (e *Engine) ListDeposits(ctx context.Context, userID int64, limit int32) ([]*db.Deposit, error) {
	return e.store.ListDepositsByUser(ctx, userID, limit)
}

// ListWithdrawals returns a user's withdrawal history.
func (e *Engine) ListWithdrawals(ctx context.Context, userID int64, limit int32) ([]*db.Withdrawal, error) {
	return e.store.ListWithdrawalsByUser(ctx, userID, limit)
}

// buildShares computes the per-recipient amounts. Split mode floors the
// share at 8 decimal places; 100 split three ways pays 33.33333333 each and
// the leftover 0.00000001 stays with the sender.
func buildShares(amount decimal.Decimal, n int, split bool) ([]decimal.Decimal, error) {
	share := amount
	if split {
		share = amount.Div(decimal.NewFromInt(int64(n))).RoundDown(8)
		if !share.IsPositive() {
			return nil, fmt.Errorf("%w: %s split %d ways rounds to zero", ErrInvalidAmount, amount, n)
		}
	}
	shares := make([]decimal.Decimal, n)
	for i := range shares {
		shares[i] = share
	}
	return shares, nil
}

// dedupeRecipients removes duplicates and the sender, preserving order.
func dedupeRecipients(recipients []int64, sender int64) []int64 {
	seen := make(map[int64]struct{}, len(recipients))
	out := make([]int64, 0, len(recipients))
	for _, id := range recipients {
		if id == sender {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (e *Engine) recordTransfer(kind string, err error) {
	if e.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	e.metrics.RecordTransfer(kind, status)
}
