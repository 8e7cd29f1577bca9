package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Tip is the audit record of a completed internal transfer.
type Tip struct {
	ID         int64
	FromUserID int64
	ToUserID   int64
	Amount     decimal.Decimal
	CreatedAt  time.Time
}

const tipColumns = `id, from_user_id, to_user_id, amount::text, created_at`

func scanTip(row pgx.Row) (*Tip, error) {
	var t Tip
	var amount string
	err := row.Scan(&t.ID, &t.FromUserID, &t.ToUserID, &amount, &t.CreatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	if t.Amount, err = parseAmount(amount); err != nil {
		return nil, err
	}
	return &t, nil
}

// Tip atomically moves amount from one user's confirmed balance to
// another's and records the transfer. If the sender cannot cover the amount
// the transaction rolls back and neither balance changes.
func (s *Store) Tip(ctx context.Context, fromUserID, toUserID int64, amount decimal.Decimal) (*Tip, error) {
	var tip *Tip
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if err := debit(ctx, tx, fromUserID, amount, BalanceConfirmed); err != nil {
			return err
		}
		if err := credit(ctx, tx, toUserID, amount, BalanceConfirmed); err != nil {
			return err
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO tips (from_user_id, to_user_id, amount)
			VALUES ($1, $2, $3::numeric)
			RETURNING `+tipColumns,
			fromUserID, toUserID, amount.String())

		var err error
		tip, err = scanTip(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tip, nil
}

// MultiTip debits the sender once for the total and credits each recipient
// its share, recording one tip row per recipient, all in one transaction.
// amounts[i] is the share for recipients[i]; the slices must be the same
// length and the debit is guarded, so an underfunded sender changes nothing.
func (s *Store) MultiTip(ctx context.Context, fromUserID int64, recipients []int64, amounts []decimal.Decimal) ([]*Tip, error) {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}

	var tips []*Tip
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if err := debit(ctx, tx, fromUserID, total, BalanceConfirmed); err != nil {
			return err
		}
		for i, to := range recipients {
			if err := credit(ctx, tx, to, amounts[i], BalanceConfirmed); err != nil {
				return err
			}
			row := tx.QueryRow(ctx, `
				INSERT INTO tips (from_user_id, to_user_id, amount)
				VALUES ($1, $2, $3::numeric)
				RETURNING `+tipColumns,
				fromUserID, to, amounts[i].String())
			tip, err := scanTip(row)
			if err != nil {
				return err
			}
			tips = append(tips, tip)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tips, nil
}

// Withdrawal is the audit record of an on-chain send debited from a user.
type Withdrawal struct {
	ID        int64
	UserID    int64
	Amount    decimal.Decimal
	Address   string
	TxID      string
	CreatedAt time.Time
}

const withdrawalColumns = `id, user_id, amount::text, address, txid, created_at`

func scanWithdrawal(row pgx.Row) (*Withdrawal, error) {
	var w Withdrawal
	var amount string
	err := row.Scan(&w.ID, &w.UserID, &amount, &w.Address, &w.TxID, &w.CreatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	if w.Amount, err = parseAmount(amount); err != nil {
		return nil, err
	}
	return &w, nil
}

// RecordWithdrawal debits the user's confirmed balance by the full amount
// and inserts the audit row in one transaction. The wallet send has already
// happened by the time this runs; a failure here is surfaced to the caller
// as a ledger inconsistency, never silently retried.
func (s *Store) RecordWithdrawal(ctx context.Context, userID int64, amount decimal.Decimal, address, txid string) (*Withdrawal, error) {
	var withdrawal *Withdrawal
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if err := debit(ctx, tx, userID, amount, BalanceConfirmed); err != nil {
			return err
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO withdrawals (user_id, amount, address, txid)
			VALUES ($1, $2::numeric, $3, $4)
			RETURNING `+withdrawalColumns,
			userID, amount.String(), address, txid)

		var err error
		withdrawal, err = scanWithdrawal(row)
		if err != nil && isUniqueViolation(err) {
			return ErrDuplicateTransaction
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return withdrawal, nil
}

// ListWithdrawalsByUser retrieves a user's withdrawals, most recent first.
func (s *Store) ListWithdrawalsByUser(ctx context.Context, userID int64, limit int32) ([]*Withdrawal, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+withdrawalColumns+` FROM withdrawals
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var withdrawals []*Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		withdrawals = append(withdrawals, w)
	}
	return withdrawals, rows.Err()
}

// ListTipsByUser retrieves tips sent or received by a user, most recent first.
func (s *Store) ListTipsByUser(ctx context.Context, userID int64, limit int32) ([]*Tip, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+tipColumns+` FROM tips
		WHERE from_user_id = $1 OR to_user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tips []*Tip
	for rows.Next() {
		t, err := scanTip(rows)
		if err != nil {
			return nil, err
		}
		tips = append(tips, t)
	}
	return tips, rows.Err()
}
