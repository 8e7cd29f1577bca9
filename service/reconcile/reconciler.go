package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/minersworld/tipledger/service/db"
	"github.com/minersworld/tipledger/service/metrics"
	"github.com/minersworld/tipledger/service/nats"
	"github.com/minersworld/tipledger/service/wallet"
	"github.com/shopspring/decimal"
)

// Store is the subset of ledger operations the reconciler needs.
type Store interface {
	GetUserByAddress(ctx context.Context, address string) (*db.User, error)
	DepositStatus(ctx context.Context, txid string) (string, error)
	RecordDeposit(ctx context.Context, userID int64, amount decimal.Decimal, txid string, status string) (*db.Deposit, error)
	PromoteDeposit(ctx context.Context, txid string) (*db.Deposit, error)
}

// WalletClient is the subset of wallet daemon operations the reconciler
// needs.
type WalletClient interface {
	ListReceivedByAddress(ctx context.Context, minConf int, includeEmpty, includeWatchOnly bool) ([]wallet.Received, error)
	GetTransaction(ctx context.Context, txid string) (*wallet.Transaction, error)
}

// Reconciler drives the deposit state machine. Each txid moves
// MISSING -> UNCONFIRMED -> CONFIRMED, applying at most one transition per
// cycle, so repeated cycles over the same wallet state are no-ops.
type Reconciler struct {
	store            Store
	wallet           WalletClient
	publisher        nats.Publisher
	minConfirmations int64
	logger           *slog.Logger
	metrics          *metrics.Metrics
}

// NewReconciler creates a new Reconciler. If m is nil, no metrics will be
// recorded.
func NewReconciler(store Store, w WalletClient, publisher nats.Publisher, minConfirmations int, m *metrics.Metrics, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:            store,
		wallet:           w,
		publisher:        publisher,
		minConfirmations: int64(minConfirmations),
		logger:           logger,
		metrics:          m,
	}
}

// Cycle runs one full reconciliation pass.
//
// The bulk listing includes zero-confirmation receives and watch-only
// addresses so fresh deposits surface immediately. A failure of the bulk
// listing aborts the cycle; a failure fetching one transaction's detail
// skips only that txid, and the next cycle retries it.
func (r *Reconciler) Cycle(ctx context.Context) error {
	start := time.Now()

	received, err := r.wallet.ListReceivedByAddress(ctx, 0, false, true)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordReconcileCycle("error", time.Since(start).Seconds())
		}
		r.logger.ErrorContext(ctx, "reconcile cycle aborted: listing failed", "error", err)
		return fmt.Errorf("failed to list received by address: %w", err)
	}

	if r.metrics != nil {
		r.metrics.RecordAddressesSeen(float64(len(received)))
	}

	for _, entry := range received {
		if err := r.reconcileAddress(ctx, entry); err != nil {
			// Context cancellation is the only per-address error that
			// stops the cycle early.
			if r.metrics != nil {
				r.metrics.RecordReconcileCycle("error", time.Since(start).Seconds())
			}
			return err
		}
	}

	if r.metrics != nil {
		r.metrics.RecordReconcileCycle("success", time.Since(start).Seconds())
	}
	r.logger.DebugContext(ctx, "reconcile cycle complete",
		"addresses", len(received),
		"duration", time.Since(start),
	)
	return nil
}

func (r *Reconciler) reconcileAddress(ctx context.Context, entry wallet.Received) error {
	user, err := r.store.GetUserByAddress(ctx, entry.Address)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			// The daemon can hold addresses nobody registered (change,
			// operator funds). They are not deposits.
			r.recordSkip("unknown_address")
			return nil
		}
		return fmt.Errorf("failed to look up address %s: %w", entry.Address, err)
	}

	for _, txid := range entry.TxIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.reconcileTxid(ctx, user, txid); err != nil {
			return err
		}
	}
	return nil
}

// reconcileTxid applies at most one state transition for a single txid.
func (r *Reconciler) reconcileTxid(ctx context.Context, user *db.User, txid string) error {
	status, err := r.store.DepositStatus(ctx, txid)
	if err != nil {
		return fmt.Errorf("failed to read deposit status for %s: %w", txid, err)
	}
	if status == db.DepositStatusConfirmed {
		// Terminal. Nothing can move it.
		return nil
	}

	tx, err := r.wallet.GetTransaction(ctx, txid)
	if err != nil {
		// Skip just this txid; the next cycle retries it.
		r.logger.WarnContext(ctx, "skipping txid: detail fetch failed",
			"txid", txid,
			"error", err,
		)
		r.recordSkip("rpc_detail")
		return nil
	}

	amount := tx.ReceivedAmount(user.Address)
	if !amount.IsPositive() {
		r.recordSkip("no_receive_output")
		return nil
	}

	confirmed := tx.Confirmations >= r.minConfirmations

	switch status {
	case db.DepositStatusMissing:
		newStatus := db.DepositStatusUnconfirmed
		if confirmed {
			// Past the threshold on first sight: credit confirmed
			// directly, no intermediate unconfirmed step.
			newStatus = db.DepositStatusConfirmed
		}
		dep, err := r.store.RecordDeposit(ctx, user.SnowflakeID, amount, txid, newStatus)
		if err != nil {
			if errors.Is(err, db.ErrDuplicateTransaction) {
				// A concurrent cycle recorded it first.
				return nil
			}
			return fmt.Errorf("failed to record deposit %s: %w", txid, err)
		}
		if r.metrics != nil {
			r.metrics.RecordDepositRecorded(newStatus)
		}
		r.logger.InfoContext(ctx, "recorded deposit",
			"user_id", user.SnowflakeID,
			"txid", txid,
			"amount", amount.String(),
			"status", newStatus,
		)
		r.publish(ctx, dep, user.Address)

	case db.DepositStatusUnconfirmed:
		if !confirmed {
			return nil
		}
		dep, err := r.store.PromoteDeposit(ctx, txid)
		if err != nil {
			return fmt.Errorf("failed to promote deposit %s: %w", txid, err)
		}
		if r.metrics != nil {
			r.metrics.RecordDepositPromoted()
		}
		r.logger.InfoContext(ctx, "promoted deposit",
			"user_id", user.SnowflakeID,
			"txid", txid,
			"amount", dep.Amount.String(),
		)
		r.publish(ctx, dep, user.Address)
	}

	return nil
}

// publish sends a deposit event. Notification failures never roll back a
// ledger write; they are logged and the balance change stands.
func (r *Reconciler) publish(ctx context.Context, dep *db.Deposit, address string) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.PublishDeposit(ctx, nats.FromDeposit(dep, address)); err != nil {
		r.logger.ErrorContext(ctx, "failed to publish deposit event",
			"txid", dep.TxID,
			"error", err,
		)
	}
}

func (r *Reconciler) recordSkip(reason string) {
	if r.metrics != nil {
		r.metrics.RecordTxidSkipped(reason)
	}
}
