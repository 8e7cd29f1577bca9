package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Airdrop is a scheduled giveaway. No funds are reserved at creation; the
// creator's balance is checked when the airdrop executes.
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

// CreateAirdropParams contains the parameters for scheduling an airdrop.
type CreateAirdropParams struct {
	CreatorID int64
	ChannelID int64
	RoleID    *int64
	Amount    decimal.Decimal
	Split     bool
	ExecuteAt time.Time
}

const airdropColumns = `id, creator_id, channel_id, role_id, amount::text, split, execute_at, executed, created_at`

func scanAirdrop(row pgx.Row) (*Airdrop, error) {
	var a Airdrop
	var amount string
	err := row.Scan(&a.ID, &a.CreatorID, &a.ChannelID, &a.RoleID, &amount, &a.Split, &a.ExecuteAt, &a.Executed, &a.CreatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	if a.Amount, err = parseAmount(amount); err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAirdrop schedules a new airdrop.
func (s *Store) CreateAirdrop(ctx context.Context, params CreateAirdropParams) (*Airdrop, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO airdrops (creator_id, channel_id, role_id, amount, split, execute_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6)
		RETURNING `+airdropColumns,
		params.CreatorID, params.ChannelID, params.RoleID, params.Amount.String(), params.Split, params.ExecuteAt)
	return scanAirdrop(row)
}

// GetAirdrop retrieves an airdrop by ID.
func (s *Store) GetAirdrop(ctx context.Context, id int64) (*Airdrop, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+airdropColumns+` FROM airdrops WHERE id = $1`, id)
	return scanAirdrop(row)
}

// ListAirdropsByCreator retrieves all airdrops created by a user, most
// recent first.
func (s *Store) ListAirdropsByCreator(ctx context.Context, creatorID int64) ([]*Airdrop, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+airdropColumns+` FROM airdrops
		WHERE creator_id = $1
		ORDER BY created_at DESC`,
		creatorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var airdrops []*Airdrop
	for rows.Next() {
		a, err := scanAirdrop(rows)
		if err != nil {
			return nil, err
		}
		airdrops = append(airdrops, a)
	}
	return airdrops, rows.Err()
}

// ListPendingAirdrops retrieves unexecuted airdrops due at or before the
// given time, oldest first. Used for startup recovery of airdrops whose
// workflows were lost.
func (s *Store) ListPendingAirdrops(ctx context.Context, due time.Time) ([]*Airdrop, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+airdropColumns+` FROM airdrops
		WHERE NOT executed AND execute_at <= $1
		ORDER BY execute_at ASC`,
		due)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var airdrops []*Airdrop
	for rows.Next() {
		a, err := scanAirdrop(rows)
		if err != nil {
			return nil, err
		}
		airdrops = append(airdrops, a)
	}
	return airdrops, rows.Err()
}

// MarkAirdropExecuted flips an airdrop to executed exactly once. A second
// call (or a cancel racing an execution) returns ErrAirdropExecuted.
func (s *Store) MarkAirdropExecuted(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE airdrops SET executed = TRUE
		WHERE id = $1 AND NOT executed`,
		id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		exists, err := airdropExists(ctx, s.pool, id)
		if err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrAirdropExecuted
	}
	return nil
}

func airdropExists(ctx context.Context, q querier, id int64) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM airdrops WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}
