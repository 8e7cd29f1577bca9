package wallet

import "github.com/shopspring/decimal"

// Received is one entry from listreceivedbyaddress: the total ever received
// by a single address, with the txids that contributed to it.
type Received struct {
	Address       string          `json:"address"`
	Amount        decimal.Decimal `json:"amount"`
	Confirmations int64           `json:"confirmations"`
	TxIDs         []string        `json:"txids"`
}

// TransactionDetail is one output-level entry of a gettransaction result.
type TransactionDetail struct {
	Address  string          `json:"address"`
	Category string          `json:"category"` // "receive" or "send"
	Amount   decimal.Decimal `json:"amount"`
}

// Transaction is the gettransaction result for a single txid.
type Transaction struct {
	TxID          string              `json:"txid"`
	Amount        decimal.Decimal     `json:"amount"`
	Confirmations int64               `json:"confirmations"`
	Details       []TransactionDetail `json:"details"`
	Time          int64               `json:"time"`
}

// ReceivedAmount sums the receive outputs of a transaction credited to the
// given address. A transaction can carry several outputs to one address;
// the deposit is their sum.
func (t *Transaction) ReceivedAmount(address string) decimal.Decimal {
	total := decimal.Zero
	for _, d := range t.Details {
		if d.Category == "receive" && d.Address == address {
			total = total.Add(d.Amount)
		}
	}
	return total
}

// AddressInfo is the validateaddress result.
type AddressInfo struct {
	IsValid bool   `json:"isvalid"`
	IsMine  bool   `json:"ismine"`
	Address string `json:"address"`
}
