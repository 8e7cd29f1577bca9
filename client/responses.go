package client

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Wire formats mirror the server's responses: amounts travel as strings
// and are parsed into decimals here.

type userResponse struct {
	UserID             int64     `json:"user_id"`
	Balance            string    `json:"balance"`
	BalanceUnconfirmed string    `json:"balance_unconfirmed"`
	Address            string    `json:"address"`
	AllowSoak          bool      `json:"allow_soak"`
	CreatedAt          time.Time `json:"created_at"`
}

func responseToUser(r *userResponse) (*User, error) {
	balance, err := decimal.NewFromString(r.Balance)
	if err != nil {
		return nil, fmt.Errorf("failed to parse balance: %w", err)
	}
	unconfirmed, err := decimal.NewFromString(r.BalanceUnconfirmed)
	if err != nil {
		return nil, fmt.Errorf("failed to parse unconfirmed balance: %w", err)
	}
	return &User{
		UserID:             r.UserID,
		Balance:            balance,
		BalanceUnconfirmed: unconfirmed,
		Address:            r.Address,
		AllowSoak:          r.AllowSoak,
		CreatedAt:          r.CreatedAt,
	}, nil
}

type tipResponse struct {
	ID         int64     `json:"id"`
	FromUserID int64     `json:"from_user_id"`
	ToUserID   int64     `json:"to_user_id"`
	Amount     string    `json:"amount"`
	CreatedAt  time.Time `json:"created_at"`
}

func responseToTip(r *tipResponse) (*Tip, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount: %w", err)
	}
	return &Tip{
		ID:         r.ID,
		FromUserID: r.FromUserID,
		ToUserID:   r.ToUserID,
		Amount:     amount,
		CreatedAt:  r.CreatedAt,
	}, nil
}

type depositResponse struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Amount    string    `json:"amount"`
	TxID      string    `json:"txid"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func responseToDeposit(r *depositResponse) (*Deposit, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount: %w", err)
	}
	return &Deposit{
		ID:        r.ID,
		UserID:    r.UserID,
		Amount:    amount,
		TxID:      r.TxID,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
	}, nil
}

type withdrawalResponse struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Amount    string    `json:"amount"`
	Address   string    `json:"address"`
	TxID      string    `json:"txid"`
	CreatedAt time.Time `json:"created_at"`
}

func responseToWithdrawal(r *withdrawalResponse) (*Withdrawal, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount: %w", err)
	}
	return &Withdrawal{
		ID:        r.ID,
		UserID:    r.UserID,
		Amount:    amount,
		Address:   r.Address,
		TxID:      r.TxID,
		CreatedAt: r.CreatedAt,
	}, nil
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

func responseToAirdrop(r *airdropResponse) (*Airdrop, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount: %w", err)
	}
	return &Airdrop{
		ID:        r.ID,
		CreatorID: r.CreatorID,
		ChannelID: r.ChannelID,
		RoleID:    r.RoleID,
		Amount:    amount,
		Split:     r.Split,
		ExecuteAt: r.ExecuteAt,
		Executed:  r.Executed,
		CreatedAt: r.CreatedAt,
	}, nil
}
