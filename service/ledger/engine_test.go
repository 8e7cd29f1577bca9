package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/minersworld/tipledger/service/db"
	"github.com/minersworld/tipledger/service/wallet"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateUser(ctx context.Context, snowflakeID int64, address string) (*db.User, error) {
	args := m.Called(ctx, snowflakeID, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.User), args.Error(1)
}

func (m *mockStore) GetUser(ctx context.Context, snowflakeID int64) (*db.User, error) {
	args := m.Called(ctx, snowflakeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.User), args.Error(1)
}

func (m *mockStore) SetSoakOptIn(ctx context.Context, snowflakeID int64, enabled bool) error {
	return m.Called(ctx, snowflakeID, enabled).Error(0)
}

func (m *mockStore) FilterSoakRecipients(ctx context.Context, snowflakeIDs []int64) ([]int64, error) {
	args := m.Called(ctx, snowflakeIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

func (m *mockStore) Tip(ctx context.Context, fromUserID, toUserID int64, amount decimal.Decimal) (*db.Tip, error) {
	args := m.Called(ctx, fromUserID, toUserID, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.Tip), args.Error(1)
}

func (m *mockStore) MultiTip(ctx context.Context, fromUserID int64, recipients []int64, amounts []decimal.Decimal) ([]*db.Tip, error) {
	args := m.Called(ctx, fromUserID, recipients, amounts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*db.Tip), args.Error(1)
}

func (m *mockStore) RecordWithdrawal(ctx context.Context, userID int64, amount decimal.Decimal, address, txid string) (*db.Withdrawal, error) {
	args := m.Called(ctx, userID, amount, address, txid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.Withdrawal), args.Error(1)
}

func (m *mockStore) CreateAirdrop(ctx context.Context, params db.CreateAirdropParams) (*db.Airdrop, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.Airdrop), args.Error(1)
}

func (m *mockStore) GetAirdrop(ctx context.Context, id int64) (*db.Airdrop, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.Airdrop), args.Error(1)
}

func (m *mockStore) ListAirdropsByCreator(ctx context.Context, creatorID int64) ([]*db.Airdrop, error) {
	args := m.Called(ctx, creatorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*db.Airdrop), args.Error(1)
}

func (m *mockStore) MarkAirdropExecuted(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockStore) ListDepositsByUser(ctx context.Context, userID int64, limit int32) ([]*db.Deposit, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*db.Deposit), args.Error(1)
}

func (m *mockStore) ListWithdrawalsByUser(ctx context.Context, userID int64, limit int32) ([]*db.Withdrawal, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*db.Withdrawal), args.Error(1)
}

type mockWallet struct {
	mock.Mock
}

func (m *mockWallet) GetNewAddress(ctx context.Context, account string) (string, error) {
	args := m.Called(ctx, account)
	return args.String(0), args.Error(1)
}

func (m *mockWallet) ValidateAddress(ctx context.Context, address string) (*wallet.AddressInfo, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wallet.AddressInfo), args.Error(1)
}

func (m *mockWallet) SendToAddress(ctx context.Context, address string, amount decimal.Decimal) (string, error) {
	args := m.Called(ctx, address, amount)
	return args.String(0), args.Error(1)
}

func (m *mockWallet) SetTxFee(ctx context.Context, amount decimal.Decimal) error {
	return m.Called(ctx, amount).Error(0)
}

type mockRefresher struct {
	mock.Mock
}

func (m *mockRefresher) Cycle(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testConfig() Config {
	return Config{
		TxFee:                dec("0.0001"),
		AirdropMaxRecipients: 3,
		SoakMaxRecipients:    3,
	}
}

func newTestEngine(store *mockStore, w *mockWallet, r Refresher) *Engine {
	return NewEngine(store, w, r, testConfig(), nil, testLogger())
}

func decimalsEqual(expected ...string) any {
	return mock.MatchedBy(func(got []decimal.Decimal) bool {
		if len(got) != len(expected) {
			return false
		}
		for i, e := range expected {
			if !got[i].Equal(decimal.RequireFromString(e)) {
				return false
			}
		}
		return true
	})
}

func TestEnsureUser(t *testing.T) {
	t.Run("existing user mints no address", func(t *testing.T) {
		store := new(mockStore)
		w := new(mockWallet)
		store.On("GetUser", mock.Anything, int64(1)).
			Return(&db.User{SnowflakeID: 1, Address: "mwc1qexisting"}, nil)

		e := newTestEngine(store, w, nil)
		user, err := e.EnsureUser(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, "mwc1qexisting", user.Address)
		w.AssertNotCalled(t, "GetNewAddress", mock.Anything, mock.Anything)
	})

	t.Run("new user gets a minted address", func(t *testing.T) {
		store := new(mockStore)
		w := new(mockWallet)
		store.On("GetUser", mock.Anything, int64(2)).Return(nil, db.ErrNotFound)
		w.On("GetNewAddress", mock.Anything, "2").Return("mwc1qminted", nil)
		store.On("CreateUser", mock.Anything, int64(2), "mwc1qminted").
			Return(&db.User{SnowflakeID: 2, Address: "mwc1qminted"}, nil)

		e := newTestEngine(store, w, nil)
		user, err := e.EnsureUser(context.Background(), 2)
		require.NoError(t, err)
		assert.Equal(t, "mwc1qminted", user.Address)
		store.AssertExpectations(t)
	})

	t.Run("mint failure creates nothing", func(t *testing.T) {
		store := new(mockStore)
		w := new(mockWallet)
		store.On("GetUser", mock.Anything, int64(3)).Return(nil, db.ErrNotFound)
		w.On("GetNewAddress", mock.Anything, "3").Return("", wallet.ErrRPCUnavailable)

		e := newTestEngine(store, w, nil)
		_, err := e.EnsureUser(context.Background(), 3)
		assert.ErrorIs(t, err, wallet.ErrRPCUnavailable)
		store.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestTip(t *testing.T) {
	t.Run("rejects non-positive amounts", func(t *testing.T) {
		e := newTestEngine(new(mockStore), new(mockWallet), nil)
		_, err := e.Tip(context.Background(), 1, 2, dec("0"))
		assert.ErrorIs(t, err, ErrInvalidAmount)
		_, err = e.Tip(context.Background(), 1, 2, dec("-5"))
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("rejects more than 8 decimal places", func(t *testing.T) {
		e := newTestEngine(new(mockStore), new(mockWallet), nil)
		_, err := e.Tip(context.Background(), 1, 2, dec("0.123456789"))
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("rejects self tip", func(t *testing.T) {
		e := newTestEngine(new(mockStore), new(mockWallet), nil)
		_, err := e.Tip(context.Background(), 7, 7, dec("1"))
		assert.ErrorIs(t, err, ErrSelfTransfer)
	})

	t.Run("passes through insufficient funds", func(t *testing.T) {
		store := new(mockStore)
		store.On("Tip", mock.Anything, int64(1), int64(2), dec("5")).
			Return(nil, db.ErrInsufficientFunds)

		e := newTestEngine(store, new(mockWallet), nil)
		_, err := e.Tip(context.Background(), 1, 2, dec("5"))
		assert.ErrorIs(t, err, db.ErrInsufficientFunds)
	})

	t.Run("success", func(t *testing.T) {
		store := new(mockStore)
		store.On("Tip", mock.Anything, int64(1), int64(2), dec("5")).
			Return(&db.Tip{FromUserID: 1, ToUserID: 2, Amount: dec("5")}, nil)

		e := newTestEngine(store, new(mockWallet), nil)
		tip, err := e.Tip(context.Background(), 1, 2, dec("5"))
		require.NoError(t, err)
		assert.True(t, tip.Amount.Equal(dec("5")))
	})
}

func TestMultiTip(t *testing.T) {
	t.Run("split floors at 8 decimal places", func(t *testing.T) {
		store := new(mockStore)
		store.On("MultiTip", mock.Anything, int64(1), []int64{2, 3, 4},
			decimalsEqual("33.33333333", "33.33333333", "33.33333333")).
			Return([]*db.Tip{{}, {}, {}}, nil)

		e := newTestEngine(store, new(mockWallet), nil)
		tips, err := e.MultiTip(context.Background(), 1, []int64{2, 3, 4}, dec("100"), true)
		require.NoError(t, err)
		assert.Len(t, tips, 3)
		store.AssertExpectations(t)
	})

	t.Run("non-split pays everyone the full amount", func(t *testing.T) {
		store := new(mockStore)
		store.On("MultiTip", mock.Anything, int64(1), []int64{2, 3},
			decimalsEqual("2", "2")).
			Return([]*db.Tip{{}, {}}, nil)

		e := newTestEngine(store, new(mockWallet), nil)
		_, err := e.MultiTip(context.Background(), 1, []int64{2, 3}, dec("2"), false)
		require.NoError(t, err)
		store.AssertExpectations(t)
	})

	t.Run("sender and duplicates are dropped", func(t *testing.T) {
		store := new(mockStore)
		store.On("MultiTip", mock.Anything, int64(1), []int64{2, 3},
			decimalsEqual("1", "1")).
			Return([]*db.Tip{{}, {}}, nil)

		e := newTestEngine(store, new(mockWallet), nil)
		_, err := e.MultiTip(context.Background(), 1, []int64{2, 1, 3, 2}, dec("1"), false)
		require.NoError(t, err)
		store.AssertExpectations(t)
	})

	t.Run("recipient cap", func(t *testing.T) {
		e := newTestEngine(new(mockStore), new(mockWallet), nil)
		_, err := e.MultiTip(context.Background(), 1, []int64{2, 3, 4, 5}, dec("1"), false)
		assert.ErrorIs(t, err, ErrTooManyRecipients)
	})

	t.Run("no recipients after filtering", func(t *testing.T) {
		e := newTestEngine(new(mockStore), new(mockWallet), nil)
		_, err := e.MultiTip(context.Background(), 1, []int64{1, 1}, dec("1"), false)
		assert.ErrorIs(t, err, ErrNoRecipients)
	})

	t.Run("split rounding to zero is rejected", func(t *testing.T) {
		e := newTestEngine(new(mockStore), new(mockWallet), nil)
		_, err := e.MultiTip(context.Background(), 1, []int64{2, 3, 4}, dec("0.00000002"), true)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestSoak(t *testing.T) {
	store := new(mockStore)
	store.On("FilterSoakRecipients", mock.Anything, []int64{2, 3, 4}).
		Return([]int64{2, 4}, nil) // 3 opted out
	store.On("MultiTip", mock.Anything, int64(1), []int64{2, 4},
		decimalsEqual("0.5", "0.5")).
		Return([]*db.Tip{{}, {}}, nil)

	e := newTestEngine(store, new(mockWallet), nil)
	tips, err := e.Soak(context.Background(), 1, []int64{2, 3, 4}, dec("1"), true)
	require.NoError(t, err)
	assert.Len(t, tips, 2)
	store.AssertExpectations(t)
}

func validAddr() *wallet.AddressInfo {
	return &wallet.AddressInfo{IsValid: true, IsMine: false}
}

func TestWithdraw(t *testing.T) {
	t.Run("amount must clear the fee", func(t *testing.T) {
		e := newTestEngine(new(mockStore), new(mockWallet), nil)
		_, err := e.Withdraw(context.Background(), 1, "mwc1qdest", dec("0.0001"))
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("invalid address", func(t *testing.T) {
		w := new(mockWallet)
		w.On("ValidateAddress", mock.Anything, "bogus").
			Return(&wallet.AddressInfo{IsValid: false}, nil)

		e := newTestEngine(new(mockStore), w, nil)
		_, err := e.Withdraw(context.Background(), 1, "bogus", dec("1"))
		assert.ErrorIs(t, err, ErrInvalidAddress)
	})

	t.Run("daemon-owned address is rejected", func(t *testing.T) {
		store := new(mockStore)
		w := new(mockWallet)
		w.On("ValidateAddress", mock.Anything, "mwc1qbotowned").
			Return(&wallet.AddressInfo{IsValid: true, IsMine: true}, nil)

		e := newTestEngine(store, w, nil)
		_, err := e.Withdraw(context.Background(), 1, "mwc1qbotowned", dec("1"))
		assert.ErrorIs(t, err, ErrInvalidAddress)
		w.AssertNotCalled(t, "SendToAddress", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("insufficient confirmed balance", func(t *testing.T) {
		store := new(mockStore)
		w := new(mockWallet)
		w.On("ValidateAddress", mock.Anything, "mwc1qdest").Return(validAddr(), nil)
		store.On("GetUser", mock.Anything, int64(1)).
			Return(&db.User{SnowflakeID: 1, Balance: dec("0.5"), BalanceUnconfirmed: dec("100")}, nil)

		e := newTestEngine(store, w, nil)

		// The unconfirmed 100 is not spendable.
		_, err := e.Withdraw(context.Background(), 1, "mwc1qdest", dec("1"))
		assert.ErrorIs(t, err, db.ErrInsufficientFunds)
		w.AssertNotCalled(t, "SendToAddress", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("send failure mutates nothing", func(t *testing.T) {
		store := new(mockStore)
		w := new(mockWallet)
		w.On("ValidateAddress", mock.Anything, "mwc1qdest").Return(validAddr(), nil)
		store.On("GetUser", mock.Anything, int64(1)).
			Return(&db.User{SnowflakeID: 1, Balance: dec("10")}, nil)
		w.On("SetTxFee", mock.Anything, dec("0.0001")).Return(nil)
		w.On("SendToAddress", mock.Anything, "mwc1qdest", mock.Anything).
			Return("", wallet.ErrRPCUnavailable)

		e := newTestEngine(store, w, nil)
		_, err := e.Withdraw(context.Background(), 1, "mwc1qdest", dec("1"))
		assert.ErrorIs(t, err, wallet.ErrRPCUnavailable)
		store.AssertNotCalled(t, "RecordWithdrawal", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("success sends amount minus fee, debits full amount", func(t *testing.T) {
		store := new(mockStore)
		w := new(mockWallet)
		refresher := new(mockRefresher)

		refresher.On("Cycle", mock.Anything).Return(nil)
		w.On("ValidateAddress", mock.Anything, "mwc1qdest").Return(validAddr(), nil)
		store.On("GetUser", mock.Anything, int64(1)).
			Return(&db.User{SnowflakeID: 1, Balance: dec("10")}, nil)
		w.On("SetTxFee", mock.Anything, dec("0.0001")).Return(nil)
		w.On("SendToAddress", mock.Anything, "mwc1qdest",
			mock.MatchedBy(func(d decimal.Decimal) bool { return d.Equal(dec("0.9999")) })).
			Return("tx-out", nil)
		store.On("RecordWithdrawal", mock.Anything, int64(1), dec("1"), "mwc1qdest", "tx-out").
			Return(&db.Withdrawal{UserID: 1, Amount: dec("1"), TxID: "tx-out"}, nil)

		e := newTestEngine(store, w, refresher)
		withdrawal, err := e.Withdraw(context.Background(), 1, "mwc1qdest", dec("1"))
		require.NoError(t, err)
		assert.Equal(t, "tx-out", withdrawal.TxID)
		store.AssertExpectations(t)
		w.AssertExpectations(t)
		refresher.AssertExpectations(t)
	})

	t.Run("refresh failure does not block the withdrawal", func(t *testing.T) {
		store := new(mockStore)
		w := new(mockWallet)
		refresher := new(mockRefresher)

		refresher.On("Cycle", mock.Anything).Return(wallet.ErrRPCUnavailable)
		w.On("ValidateAddress", mock.Anything, "mwc1qdest").Return(validAddr(), nil)
		store.On("GetUser", mock.Anything, int64(1)).
			Return(&db.User{SnowflakeID: 1, Balance: dec("10")}, nil)
		w.On("SetTxFee", mock.Anything, mock.Anything).Return(nil)
		w.On("SendToAddress", mock.Anything, "mwc1qdest", mock.Anything).Return("tx-out", nil)
		store.On("RecordWithdrawal", mock.Anything, int64(1), dec("1"), "mwc1qdest", "tx-out").
			Return(&db.Withdrawal{TxID: "tx-out"}, nil)

		e := newTestEngine(store, w, refresher)
		_, err := e.Withdraw(context.Background(), 1, "mwc1qdest", dec("1"))
		require.NoError(t, err)
	})

	t.Run("debit failure after send is an inconsistency", func(t *testing.T) {
		store := new(mockStore)
		w := new(mockWallet)
		w.On("ValidateAddress", mock.Anything, "mwc1qdest").Return(validAddr(), nil)
		store.On("GetUser", mock.Anything, int64(1)).
			Return(&db.User{SnowflakeID: 1, Balance: dec("10")}, nil)
		w.On("SetTxFee", mock.Anything, mock.Anything).Return(nil)
		w.On("SendToAddress", mock.Anything, "mwc1qdest", mock.Anything).Return("tx-out", nil)
		store.On("RecordWithdrawal", mock.Anything, int64(1), dec("1"), "mwc1qdest", "tx-out").
			Return(nil, errors.New("connection lost"))

		e := newTestEngine(store, w, nil)
		_, err := e.Withdraw(context.Background(), 1, "mwc1qdest", dec("1"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrLedgerInconsistency)
		assert.Contains(t, err.Error(), "tx-out")
	})
}

func TestCreateAirdrop(t *testing.T) {
	store := new(mockStore)
	executeAt := time.Now().Add(time.Hour).UTC()
	params := db.CreateAirdropParams{
		CreatorID: 1,
		ChannelID: 42,
		Amount:    dec("10"),
		Split:     true,
		ExecuteAt: executeAt,
	}

	store.On("GetUser", mock.Anything, int64(1)).
		Return(&db.User{SnowflakeID: 1}, nil)
	store.On("CreateAirdrop", mock.Anything, params).
		Return(&db.Airdrop{ID: 5, CreatorID: 1, Amount: dec("10"), ExecuteAt: executeAt}, nil)

	e := newTestEngine(store, new(mockWallet), nil)
	airdrop, err := e.CreateAirdrop(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, int64(5), airdrop.ID)

	// No reservation: the creator's balance is untouched at creation.
	store.AssertNotCalled(t, "MultiTip", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCancelAirdrop(t *testing.T) {
	t.Run("only the creator can cancel", func(t *testing.T) {
		store := new(mockStore)
		store.On("GetAirdrop", mock.Anything, int64(5)).
			Return(&db.Airdrop{ID: 5, CreatorID: 1}, nil)

		e := newTestEngine(store, new(mockWallet), nil)
		err := e.CancelAirdrop(context.Background(), 5, 2)
		assert.ErrorIs(t, err, ErrNotAirdropCreator)
		store.AssertNotCalled(t, "MarkAirdropExecuted", mock.Anything, mock.Anything)
	})

	t.Run("executed airdrop cannot be cancelled", func(t *testing.T) {
		store := new(mockStore)
		store.On("GetAirdrop", mock.Anything, int64(5)).
			Return(&db.Airdrop{ID: 5, CreatorID: 1, Executed: true}, nil)
		store.On("MarkAirdropExecuted", mock.Anything, int64(5)).
			Return(db.ErrAirdropExecuted)

		e := newTestEngine(store, new(mockWallet), nil)
		err := e.CancelAirdrop(context.Background(), 5, 1)
		assert.ErrorIs(t, err, db.ErrAirdropExecuted)
	})

	t.Run("creator cancels pending airdrop", func(t *testing.T) {
		store := new(mockStore)
		store.On("GetAirdrop", mock.Anything, int64(5)).
			Return(&db.Airdrop{ID: 5, CreatorID: 1}, nil)
		store.On("MarkAirdropExecuted", mock.Anything, int64(5)).Return(nil)

		e := newTestEngine(store, new(mockWallet), nil)
		require.NoError(t, e.CancelAirdrop(context.Background(), 5, 1))
		store.AssertExpectations(t)
	})
}

func TestExecuteAirdrop(t *testing.T) {
	pendingAirdrop := func() *db.Airdrop {
		return &db.Airdrop{ID: 5, CreatorID: 1, Amount: dec("9"), Split: true}
	}

	t.Run("already executed is a no-op", func(t *testing.T) {
		store := new(mockStore)
		store.On("GetAirdrop", mock.Anything, int64(5)).
			Return(&db.Airdrop{ID: 5, CreatorID: 1, Executed: true}, nil)

		e := newTestEngine(store, new(mockWallet), nil)
		require.NoError(t, e.ExecuteAirdrop(context.Background(), 5, []int64{2, 3}))
		store.AssertNotCalled(t, "MultiTip", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		store.AssertNotCalled(t, "MarkAirdropExecuted", mock.Anything, mock.Anything)
	})

	t.Run("zero recipients marks executed without paying", func(t *testing.T) {
		store := new(mockStore)
		store.On("GetAirdrop", mock.Anything, int64(5)).Return(pendingAirdrop(), nil)
		store.On("MarkAirdropExecuted", mock.Anything, int64(5)).Return(nil)

		e := newTestEngine(store, new(mockWallet), nil)
		require.NoError(t, e.ExecuteAirdrop(context.Background(), 5, []int64{1})) // creator only
		store.AssertNotCalled(t, "MultiTip", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		store.AssertExpectations(t)
	})

	t.Run("split pays equal floored shares", func(t *testing.T) {
		store := new(mockStore)
		store.On("GetAirdrop", mock.Anything, int64(5)).Return(pendingAirdrop(), nil)
		store.On("MultiTip", mock.Anything, int64(1), []int64{2, 3, 4},
			decimalsEqual("3", "3", "3")).
			Return([]*db.Tip{{}, {}, {}}, nil)
		store.On("MarkAirdropExecuted", mock.Anything, int64(5)).Return(nil)

		e := newTestEngine(store, new(mockWallet), nil)
		require.NoError(t, e.ExecuteAirdrop(context.Background(), 5, []int64{2, 3, 4}))
		store.AssertExpectations(t)
	})

	t.Run("recipients beyond the cap are dropped", func(t *testing.T) {
		store := new(mockStore)
		store.On("GetAirdrop", mock.Anything, int64(5)).Return(pendingAirdrop(), nil)
		store.On("MultiTip", mock.Anything, int64(1), []int64{2, 3, 4},
			decimalsEqual("3", "3", "3")).
			Return([]*db.Tip{{}, {}, {}}, nil)
		store.On("MarkAirdropExecuted", mock.Anything, int64(5)).Return(nil)

		e := newTestEngine(store, new(mockWallet), nil)
		require.NoError(t, e.ExecuteAirdrop(context.Background(), 5, []int64{2, 3, 4, 6, 7}))
		store.AssertExpectations(t)
	})

	t.Run("insufficient funds consumes the airdrop", func(t *testing.T) {
		store := new(mockStore)
		store.On("GetAirdrop", mock.Anything, int64(5)).Return(pendingAirdrop(), nil)
		store.On("MultiTip", mock.Anything, int64(1), mock.Anything, mock.Anything).
			Return(nil, db.ErrInsufficientFunds)
		store.On("MarkAirdropExecuted", mock.Anything, int64(5)).Return(nil)

		e := newTestEngine(store, new(mockWallet), nil)
		err := e.ExecuteAirdrop(context.Background(), 5, []int64{2, 3})
		assert.ErrorIs(t, err, db.ErrInsufficientFunds)
		store.AssertExpectations(t)
	})

	t.Run("transient store failure leaves the airdrop pending", func(t *testing.T) {
		store := new(mockStore)
		store.On("GetAirdrop", mock.Anything, int64(5)).Return(pendingAirdrop(), nil)
		store.On("MultiTip", mock.Anything, int64(1), mock.Anything, mock.Anything).
			Return(nil, errors.New("connection lost"))

		e := newTestEngine(store, new(mockWallet), nil)
		err := e.ExecuteAirdrop(context.Background(), 5, []int64{2, 3})
		require.Error(t, err)
		store.AssertNotCalled(t, "MarkAirdropExecuted", mock.Anything, mock.Anything)
	})
}
