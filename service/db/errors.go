package db

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientFunds is returned when a debit would take a balance
	// below zero. The guarded UPDATE never applies a partial debit.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateTransaction is returned when a deposit or withdrawal txid
	// has already been recorded.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrAirdropExecuted is returned when attempting to execute or cancel
	// an airdrop that has already been executed or cancelled.
	ErrAirdropExecuted = errors.New("airdrop already executed")
)

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// mapNoRows converts pgx.ErrNoRows to ErrNotFound, passing other errors through.
func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
