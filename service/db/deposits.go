package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Deposit status values. A deposit is inserted as UNCONFIRMED or CONFIRMED
// and may move UNCONFIRMED -> CONFIRMED exactly once. CONFIRMED is terminal.
const (
	DepositStatusMissing     = "MISSING"
	DepositStatusUnconfirmed = "UNCONFIRMED"
	DepositStatusConfirmed   = "CONFIRMED"
)

// Deposit represents an on-chain receive credited to a user.
type Deposit struct {
	ID        int64
	UserID    int64
	Amount    decimal.Decimal
	TxID      string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

const depositColumns = `id, user_id, amount::text, txid, status, created_at, updated_at`

func scanDeposit(row pgx.Row) (*Deposit, error) {
	var d Deposit
	var amount string
	err := row.Scan(&d.ID, &d.UserID, &amount, &d.TxID, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	if d.Amount, err = parseAmount(amount); err != nil {
		return nil, err
	}
	return &d, nil
}

// RecordDeposit inserts a deposit row and credits the matching balance in
// one transaction. status must be UNCONFIRMED or CONFIRMED. A txid that has
// already been recorded returns ErrDuplicateTransaction with no balance
// change.
func (s *Store) RecordDeposit(ctx context.Context, userID int64, amount decimal.Decimal, txid string, status string) (*Deposit, error) {
	kind := BalanceUnconfirmed
	if status == DepositStatusConfirmed {
		kind = BalanceConfirmed
	}

	var deposit *Deposit
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO deposits (user_id, amount, txid, status)
			VALUES ($1, $2::numeric, $3, $4)
			RETURNING `+depositColumns,
			userID, amount.String(), txid, status)

		var err error
		deposit, err = scanDeposit(row)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateTransaction
			}
			return err
		}
		return credit(ctx, tx, userID, amount, kind)
	})
	if err != nil {
		return nil, err
	}
	return deposit, nil
}

// PromoteDeposit moves a deposit from UNCONFIRMED to CONFIRMED and shifts
// its amount from the user's unconfirmed balance to the confirmed balance,
// all in one transaction. Promoting an already-CONFIRMED deposit is a no-op
// returning the existing row, so repeated reconcile cycles cannot
// double-credit.
func (s *Store) PromoteDeposit(ctx context.Context, txid string) (*Deposit, error) {
	var deposit *Deposit
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT `+depositColumns+` FROM deposits WHERE txid = $1 FOR UPDATE`,
			txid)

		var err error
		deposit, err = scanDeposit(row)
		if err != nil {
			return err
		}
		if deposit.Status == DepositStatusConfirmed {
			return nil
		}

		row = tx.QueryRow(ctx, `
			UPDATE deposits SET status = $1, updated_at = now()
			WHERE txid = $2
			RETURNING `+depositColumns,
			DepositStatusConfirmed, txid)
		if deposit, err = scanDeposit(row); err != nil {
			return err
		}

		if err := debit(ctx, tx, deposit.UserID, deposit.Amount, BalanceUnconfirmed); err != nil {
			return err
		}
		return credit(ctx, tx, deposit.UserID, deposit.Amount, BalanceConfirmed)
	})
	if err != nil {
		return nil, err
	}
	return deposit, nil
}

// DepositStatus returns the recorded status for a txid, or
// DepositStatusMissing when the txid has never been seen.
func (s *Store) DepositStatus(ctx context.Context, txid string) (string, error) {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM deposits WHERE txid = $1`, txid).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return DepositStatusMissing, nil
	}
	if err != nil {
		return "", err
	}
	return status, nil
}

// ListDepositsByUser retrieves a user's deposits, most recent first.
func (s *Store) ListDepositsByUser(ctx context.Context, userID int64, limit int32) ([]*Deposit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+depositColumns+` FROM deposits
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deposits []*Deposit
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		deposits = append(deposits, d)
	}
	return deposits, rows.Err()
}
