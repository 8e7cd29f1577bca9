package nats

import (
	"time"

	"github.com/minersworld/tipledger/service/db"
	"github.com/shopspring/decimal"
)

// DepositEvent represents a deposit notification published to NATS.
// This is published to the subject "deposits.{user_id}" in JetStream.
// Confirmed is false when the deposit first lands unconfirmed, and a second
// event with Confirmed true follows once it reaches the confirmation
// threshold.
type DepositEvent struct {
	UserID    int64           `json:"user_id"`
	Address   string          `json:"address"`
	Amount    decimal.Decimal `json:"amount"`
	TxID      string          `json:"txid"`
	Confirmed bool            `json:"confirmed"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}

// FromDeposit converts a recorded deposit to a DepositEvent for publishing.
func FromDeposit(dep *db.Deposit, address string) *DepositEvent {
	return &DepositEvent{
		UserID:      dep.UserID,
		Address:     address,
		Amount:      dep.Amount,
		TxID:        dep.TxID,
		Confirmed:   dep.Status == db.DepositStatusConfirmed,
		PublishedAt: time.Now().UTC(),
	}
}
