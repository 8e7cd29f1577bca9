package server

import (
	"time"

	"github.com/minersworld/tipledger/service/db"
)

// Amounts are serialized as strings so clients never round them through
// floating point.

type userResponse struct {
	UserID             int64     `json:"user_id"`
	Balance            string    `json:"balance"`
	BalanceUnconfirmed string    `json:"balance_unconfirmed"`
	Address            string    `json:"address"`
	AllowSoak          bool      `json:"allow_soak"`
	CreatedAt          time.Time `json:"created_at"`
}

func userToResponse(u *db.User) userResponse {
	return userResponse{
		UserID:             u.SnowflakeID,
		Balance:            u.Balance.String(),
		BalanceUnconfirmed: u.BalanceUnconfirmed.String(),
		Address:            u.Address,
		AllowSoak:          u.AllowSoak,
		CreatedAt:          u.CreatedAt,
	}
}

type tipResponse struct {
	ID         int64     `json:"id"`
	FromUserID int64     `json:"from_user_id"`
	ToUserID   int64     `json:"to_user_id"`
	Amount     string    `json:"amount"`
	CreatedAt  time.Time `json:"created_at"`
}

func tipToResponse(t *db.Tip) tipResponse {
	return tipResponse{
		ID:         t.ID,
		FromUserID: t.FromUserID,
		ToUserID:   t.ToUserID,
		Amount:     t.Amount.String(),
		CreatedAt:  t.CreatedAt,
	}
}

type depositResponse struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Amount    string    `json:"amount"`
	TxID      string    `json:"txid"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func depositToResponse(d *db.Deposit) depositResponse {
	return depositResponse{
		ID:        d.ID,
		UserID:    d.UserID,
		Amount:    d.Amount.String(),
		TxID:      d.TxID,
		Status:    d.Status,
		CreatedAt: d.CreatedAt,
	}
}

type withdrawalResponse struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Amount    string    `json:"amount"`
	Address   string    `json:"address"`
	TxID      string    `json:"txid"`
	CreatedAt time.Time `json:"created_at"`
}

func withdrawalToResponse(w *db.Withdrawal) withdrawalResponse {
	return withdrawalResponse{
		ID:        w.ID,
		UserID:    w.UserID,
		Amount:    w.Amount.String(),
		Address:   w.Address,
		TxID:      w.TxID,
		CreatedAt: w.CreatedAt,
	}
}

type airdropResponse struct {
	ID        int64     `json:"id"`
	CreatorID int64     `json:"creator_id"`
	ChannelID int64     `json:"channel_id"`
	RoleID    *int64    `json:"role_id,omitempty"`
	Amount    string    `json:"amount"`
	Split     bool      `json:"split"`
	ExecuteAt time.Time `json:"execute_at"`
	Executed  bool      `json:"executed"`
	CreatedAt time.Time `json:"created_at"`
}

func airdropToResponse(a *db.Airdrop) airdropResponse {
	return airdropResponse{
		ID:        a.ID,
		CreatorID: a.CreatorID,
		ChannelID: a.ChannelID,
		RoleID:    a.RoleID,
		Amount:    a.Amount.String(),
		Split:     a.Split,
		ExecuteAt: a.ExecuteAt,
		Executed:  a.Executed,
		CreatedAt: a.CreatedAt,
	}
}
