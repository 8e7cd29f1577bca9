package ledger

import "errors"

var (
	// ErrInvalidAmount is returned for amounts that are not positive, carry
	// more than 8 decimal places, or do not clear the withdrawal fee.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidAddress is returned for withdrawal addresses the daemon
	// rejects, and for addresses the daemon itself owns. Sending custodial
	// funds to a custodial address would credit them right back.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrSelfTransfer is returned when a user tips themselves.
	ErrSelfTransfer = errors.New("cannot transfer to self")

	// ErrTooManyRecipients is returned when a multi-tip exceeds the
	// configured recipient cap.
	ErrTooManyRecipients = errors.New("too many recipients")

	// ErrNoRecipients is returned when a multi-tip resolves to zero
	// recipients after filtering.
	ErrNoRecipients = errors.New("no eligible recipients")

	// ErrNotAirdropCreator is returned when a user tries to cancel an
	// airdrop they did not create.
	ErrNotAirdropCreator = errors.New("not the airdrop creator")

	// ErrLedgerInconsistency is returned when an on-chain send succeeded
	// but the matching ledger debit failed. The coins have left the wallet;
	// the discrepancy is logged in full and must be resolved by an
	// operator, never auto-corrected.
	ErrLedgerInconsistency = errors.New("ledger inconsistency")
)
