package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Store provides database operations for the ledger.
// All monetary updates use guarded conditional UPDATEs so a balance can
// never go negative, even under concurrent writers.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting the same
// query helpers run inside and outside transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// BalanceKind selects which of a user's two balances an operation targets.
type BalanceKind string

const (
	BalanceConfirmed   BalanceKind = "confirmed"
	BalanceUnconfirmed BalanceKind = "unconfirmed"
)

// balanceColumn maps a BalanceKind to its column name. The switch is the
// only place a kind reaches SQL text, so unknown kinds cannot inject.
func balanceColumn(kind BalanceKind) (string, error) {
	switch kind {
	case BalanceConfirmed:
		return "balance", nil
	case BalanceUnconfirmed:
		return "balance_unconfirmed", nil
	default:
		return "", fmt.Errorf("unknown balance kind %q", kind)
	}
}

// User represents a ledger account keyed by the command layer's snowflake ID.
type User struct {
	SnowflakeID        int64
	Balance            decimal.Decimal
	BalanceUnconfirmed decimal.Decimal
	Address            string
	AllowSoak          bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

const userColumns = `snowflake_id, balance::text, balance_unconfirmed::text, address, allow_soak, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var balance, unconfirmed string
	err := row.Scan(&u.SnowflakeID, &balance, &unconfirmed, &u.Address, &u.AllowSoak, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	if u.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("failed to parse balance: %w", err)
	}
	if u.BalanceUnconfirmed, err = decimal.NewFromString(unconfirmed); err != nil {
		return nil, fmt.Errorf("failed to parse unconfirmed balance: %w", err)
	}
	return &u, nil
}

// CreateUser inserts a new user with the given deposit address and zero
// balances. If the user already exists the existing row is returned
// unchanged, making concurrent creation race-safe.
func (s *Store) CreateUser(ctx context.Context, snowflakeID int64, address string) (*User, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (snowflake_id, address)
		VALUES ($1, $2)
		ON CONFLICT (snowflake_id) DO NOTHING
		RETURNING `+userColumns,
		snowflakeID, address)

	user, err := scanUser(row)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	// Conflict: another writer created the row first. Return theirs.
	return s.GetUser(ctx, snowflakeID)
}

// GetUser retrieves a user by snowflake ID.
func (s *Store) GetUser(ctx context.Context, snowflakeID int64) (*User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE snowflake_id = $1`, snowflakeID)
	return scanUser(row)
}

// GetUserByAddress retrieves the user owning the given deposit address.
func (s *Store) GetUserByAddress(ctx context.Context, address string) (*User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE address = $1`, address)
	return scanUser(row)
}

// UserExistsByAddress reports whether any user owns the given address.
func (s *Store) UserExistsByAddress(ctx context.Context, address string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE address = $1)`, address).Scan(&exists)
	return exists, err
}

// Credit adds amount to the selected balance of a user.
func (s *Store) Credit(ctx context.Context, snowflakeID int64, amount decimal.Decimal, kind BalanceKind) error {
	return credit(ctx, s.pool, snowflakeID, amount, kind)
}

// Debit subtracts amount from the selected balance of a user. The UPDATE
// is guarded on the current balance, so an overdraw applies nothing and
// returns ErrInsufficientFunds.
func (s *Store) Debit(ctx context.Context, snowflakeID int64, amount decimal.Decimal, kind BalanceKind) error {
	return debit(ctx, s.pool, snowflakeID, amount, kind)
}

func credit(ctx context.Context, q querier, snowflakeID int64, amount decimal.Decimal, kind BalanceKind) error {
	col, err := balanceColumn(kind)
	if err != nil {
		return err
	}
	tag, err := q.Exec(ctx, `
		UPDATE users SET `+col+` = `+col+` + $1::numeric, updated_at = now()
		WHERE snowflake_id = $2`,
		amount.String(), snowflakeID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func debit(ctx context.Context, q querier, snowflakeID int64, amount decimal.Decimal, kind BalanceKind) error {
	col, err := balanceColumn(kind)
	if err != nil {
		return err
	}
	tag, err := q.Exec(ctx, `
		UPDATE users SET `+col+` = `+col+` - $1::numeric, updated_at = now()
		WHERE snowflake_id = $2 AND `+col+` >= $1::numeric`,
		amount.String(), snowflakeID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		exists, err := userExists(ctx, q, snowflakeID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrInsufficientFunds
	}
	return nil
}

func userExists(ctx context.Context, q querier, snowflakeID int64) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE snowflake_id = $1)`, snowflakeID).Scan(&exists)
	return exists, err
}

// SetSoakOptIn enables or disables a user's participation in soak-style
// multi-tips.
func (s *Store) SetSoakOptIn(ctx context.Context, snowflakeID int64, enabled bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET allow_soak = $1, updated_at = now()
		WHERE snowflake_id = $2`,
		enabled, snowflakeID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FilterSoakRecipients returns the subset of the given user IDs that exist
// and have soak participation enabled.
func (s *Store) FilterSoakRecipients(ctx context.Context, snowflakeIDs []int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT snowflake_id FROM users
		WHERE snowflake_id = ANY($1) AND allow_soak`,
		snowflakeIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListUsers returns up to limit users, newest first.
func (s *Store) ListUsers(ctx context.Context, limit int32) ([]*User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+userColumns+` FROM users
		ORDER BY created_at DESC
		LIMIT $1`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ListSoakParticipants returns up to limit users with soak participation
// enabled, excluding the given user. Used to resolve airdrop recipients
// when no platform-side member list is available.
func (s *Store) ListSoakParticipants(ctx context.Context, excludeUserID int64, limit int32) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT snowflake_id FROM users
		WHERE allow_soak AND snowflake_id <> $1
		ORDER BY snowflake_id
		LIMIT $2`,
		excludeUserID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// withTx runs fn inside a transaction, committing on nil and rolling back
// on error.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse amount: %w", err)
	}
	return d, nil
}
