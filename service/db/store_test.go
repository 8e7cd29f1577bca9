package db

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	return decimal.RequireFromString(s)
}

// createTestUser inserts a user and seeds its balances directly.
func createTestUser(t *testing.T, ts *TestStore, id int64, address, confirmed, unconfirmed string) *User {
	t.Helper()

	user, err := ts.CreateUser(context.Background(), id, address)
	require.NoError(t, err)
	ts.MustExec(t, `UPDATE users SET balance = $1::numeric, balance_unconfirmed = $2::numeric WHERE snowflake_id = $3`,
		confirmed, unconfirmed, id)
	return user
}

func TestCreateUser(t *testing.T) {
	SkipIfNoTestDB(t)

	ts := NewTestStore(t)
	defer ts.Close()
	defer ts.Cleanup(t)

	ctx := context.Background()

	user, err := ts.CreateUser(ctx, 1001, "mwc1qfirstaddress")
	require.NoError(t, err)
	assert.Equal(t, int64(1001), user.SnowflakeID)
	assert.Equal(t, "mwc1qfirstaddress", user.Address)
	assert.True(t, user.Balance.IsZero())
	assert.True(t, user.BalanceUnconfirmed.IsZero())
	assert.True(t, user.AllowSoak)

	// Creating the same user again returns the existing row; the second
	// address is never minted into the database.
	again, err := ts.CreateUser(ctx, 1001, "mwc1qsecondaddress")
	require.NoError(t, err)
	assert.Equal(t, "mwc1qfirstaddress", again.Address)

	byAddr, err := ts.GetUserByAddress(ctx, "mwc1qfirstaddress")
	require.NoError(t, err)
	assert.Equal(t, int64(1001), byAddr.SnowflakeID)

	_, err = ts.GetUser(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreditDebit(t *testing.T) {
	SkipIfNoTestDB(t)

	ts := NewTestStore(t)
	defer ts.Close()
	defer ts.Cleanup(t)

	ctx := context.Background()
	createTestUser(t, ts, 2001, "mwc1qcreditdebit", "0", "0")

	require.NoError(t, ts.Credit(ctx, 2001, dec(t, "5.5"), BalanceConfirmed))
	require.NoError(t, ts.Credit(ctx, 2001, dec(t, "1.25"), BalanceUnconfirmed))

	user, err := ts.GetUser(ctx, 2001)
	require.NoError(t, err)
	assert.True(t, user.Balance.Equal(dec(t, "5.5")))
	assert.True(t, user.BalanceUnconfirmed.Equal(dec(t, "1.25")))

	require.NoError(t, ts.Debit(ctx, 2001, dec(t, "2"), BalanceConfirmed))

	user, err = ts.GetUser(ctx, 2001)
	require.NoError(t, err)
	assert.True(t, user.Balance.Equal(dec(t, "3.5")))

	// Overdraw applies nothing.
	err = ts.Debit(ctx, 2001, dec(t, "100"), BalanceConfirmed)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	user, err = ts.GetUser(ctx, 2001)
	require.NoError(t, err)
	assert.True(t, user.Balance.Equal(dec(t, "3.5")))

	// Unknown user is distinguishable from an overdraw.
	err = ts.Debit(ctx, 9999, dec(t, "1"), BalanceConfirmed)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTip(t *testing.T) {
	SkipIfNoTestDB(t)

	ts := NewTestStore(t)
	defer ts.Close()
	defer ts.Cleanup(t)

	ctx := context.Background()
	createTestUser(t, ts, 3001, "mwc1qtipsender", "10", "0")
	createTestUser(t, ts, 3002, "mwc1qtipreceiver", "0", "0")

	tip, err := ts.Tip(ctx, 3001, 3002, dec(t, "2.5"))
	require.NoError(t, err)
	assert.Equal(t, int64(3001), tip.FromUserID)
	assert.Equal(t, int64(3002), tip.ToUserID)
	assert.True(t, tip.Amount.Equal(dec(t, "2.5")))

	sender, err := ts.GetUser(ctx, 3001)
	require.NoError(t, err)
	receiver, err := ts.GetUser(ctx, 3002)
	require.NoError(t, err)
	assert.True(t, sender.Balance.Equal(dec(t, "7.5")))
	assert.True(t, receiver.Balance.Equal(dec(t, "2.5")))

	// Insufficient funds rolls back the whole transfer.
	_, err = ts.Tip(ctx, 3001, 3002, dec(t, "100"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	sender, err = ts.GetUser(ctx, 3001)
	require.NoError(t, err)
	receiver, err = ts.GetUser(ctx, 3002)
	require.NoError(t, err)
	assert.True(t, sender.Balance.Equal(dec(t, "7.5")))
	assert.True(t, receiver.Balance.Equal(dec(t, "2.5")))
}

func TestMultiTip(t *testing.T) {
	SkipIfNoTestDB(t)

	ts := NewTestStore(t)
	defer ts.Close()
	defer ts.Cleanup(t)

	ctx := context.Background()
	createTestUser(t, ts, 4001, "mwc1qsoaker", "100", "0")
	createTestUser(t, ts, 4002, "mwc1qsoaked1", "0", "0")
	createTestUser(t, ts, 4003, "mwc1qsoaked2", "0", "0")
	createTestUser(t, ts, 4004, "mwc1qsoaked3", "0", "0")

	share := dec(t, "33.33333333")
	tips, err := ts.MultiTip(ctx, 4001, []int64{4002, 4003, 4004},
		[]decimal.Decimal{share, share, share})
	require.NoError(t, err)
	require.Len(t, tips, 3)

	sender, err := ts.GetUser(ctx, 4001)
	require.NoError(t, err)
	assert.True(t, sender.Balance.Equal(dec(t, "0.00000001")), "got %s", sender.Balance)

	for _, id := range []int64{4002, 4003, 4004} {
		u, err := ts.GetUser(ctx, id)
		require.NoError(t, err)
		assert.True(t, u.Balance.Equal(share))
	}

	// Underfunded sender changes nothing for anyone.
	_, err = ts.MultiTip(ctx, 4001, []int64{4002, 4003},
		[]decimal.Decimal{dec(t, "1"), dec(t, "1")})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	u, err := ts.GetUser(ctx, 4002)
	require.NoError(t, err)
	assert.True(t, u.Balance.Equal(share))
}

func TestRecordDeposit(t *testing.T) {
	SkipIfNoTestDB(t)

	ts := NewTestStore(t)
	defer ts.Close()
	defer ts.Cleanup(t)

	ctx := context.Background()
	createTestUser(t, ts, 5001, "mwc1qdepositor", "0", "0")

	dep, err := ts.RecordDeposit(ctx, 5001, dec(t, "1.5"), "txid-unconf-1", DepositStatusUnconfirmed)
	require.NoError(t, err)
	assert.Equal(t, DepositStatusUnconfirmed, dep.Status)

	user, err := ts.GetUser(ctx, 5001)
	require.NoError(t, err)
	assert.True(t, user.Balance.IsZero())
	assert.True(t, user.BalanceUnconfirmed.Equal(dec(t, "1.5")))

	// A deposit past the confirmation threshold on first sight credits
	// the confirmed balance directly.
	_, err = ts.RecordDeposit(ctx, 5001, dec(t, "3"), "txid-conf-1", DepositStatusConfirmed)
	require.NoError(t, err)

	user, err = ts.GetUser(ctx, 5001)
	require.NoError(t, err)
	assert.True(t, user.Balance.Equal(dec(t, "3")))
	assert.True(t, user.BalanceUnconfirmed.Equal(dec(t, "1.5")))

	// Duplicate txid credits nothing.
	_, err = ts.RecordDeposit(ctx, 5001, dec(t, "1.5"), "txid-unconf-1", DepositStatusUnconfirmed)
	assert.ErrorIs(t, err, ErrDuplicateTransaction)

	user, err = ts.GetUser(ctx, 5001)
	require.NoError(t, err)
	assert.True(t, user.BalanceUnconfirmed.Equal(dec(t, "1.5")))
}

func TestPromoteDeposit(t *testing.T) {
	SkipIfNoTestDB(t)

	ts := NewTestStore(t)
	defer ts.Close()
	defer ts.Cleanup(t)

	ctx := context.Background()
	createTestUser(t, ts, 6001, "mwc1qpromote", "0", "0")

	_, err := ts.RecordDeposit(ctx, 6001, dec(t, "2"), "txid-promote-1", DepositStatusUnconfirmed)
	require.NoError(t, err)

	dep, err := ts.PromoteDeposit(ctx, "txid-promote-1")
	require.NoError(t, err)
	assert.Equal(t, DepositStatusConfirmed, dep.Status)

	user, err := ts.GetUser(ctx, 6001)
	require.NoError(t, err)
	assert.True(t, user.Balance.Equal(dec(t, "2")))
	assert.True(t, user.BalanceUnconfirmed.IsZero())

	// Promoting again is a no-op, not a double credit.
	dep, err = ts.PromoteDeposit(ctx, "txid-promote-1")
	require.NoError(t, err)
	assert.Equal(t, DepositStatusConfirmed, dep.Status)

	user, err = ts.GetUser(ctx, 6001)
	require.NoError(t, err)
	assert.True(t, user.Balance.Equal(dec(t, "2")))
	assert.True(t, user.BalanceUnconfirmed.IsZero())

	_, err = ts.PromoteDeposit(ctx, "txid-never-seen")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDepositStatus(t *testing.T) {
	SkipIfNoTestDB(t)

	ts := NewTestStore(t)
	defer ts.Close()
	defer ts.Cleanup(t)

	ctx := context.Background()
	createTestUser(t, ts, 7001, "mwc1qstatus", "0", "0")

	status, err := ts.DepositStatus(ctx, "txid-status-1")
	require.NoError(t, err)
	assert.Equal(t, DepositStatusMissing, status)

	_, err = ts.RecordDeposit(ctx, 7001, dec(t, "1"), "txid-status-1", DepositStatusUnconfirmed)
	require.NoError(t, err)

	status, err = ts.DepositStatus(ctx, "txid-status-1")
	require.NoError(t, err)
	assert.Equal(t, DepositStatusUnconfirmed, status)

	_, err = ts.PromoteDeposit(ctx, "txid-status-1")
	require.NoError(t, err)

	status, err = ts.DepositStatus(ctx, "txid-status-1")
	require.NoError(t, err)
	assert.Equal(t, DepositStatusConfirmed, status)
}

func TestRecordWithdrawal(t *testing.T) {
	SkipIfNoTestDB(t)

	ts := NewTestStore(t)
	defer ts.Close()
	defer ts.Cleanup(t)

	ctx := context.Background()
	createTestUser(t, ts, 8001, "mwc1qwithdrawer", "5", "0")

	w, err := ts.RecordWithdrawal(ctx, 8001, dec(t, "3"), "mwc1qexternal", "txid-wd-1")
	require.NoError(t, err)
	assert.True(t, w.Amount.Equal(dec(t, "3")))
	assert.Equal(t, "mwc1qexternal", w.Address)

	user, err := ts.GetUser(ctx, 8001)
	require.NoError(t, err)
	assert.True(t, user.Balance.Equal(dec(t, "2")))

	_, err = ts.RecordWithdrawal(ctx, 8001, dec(t, "10"), "mwc1qexternal", "txid-wd-2")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	user, err = ts.GetUser(ctx, 8001)
	require.NoError(t, err)
	assert.True(t, user.Balance.Equal(dec(t, "2")))
}

func TestAirdropLifecycle(t *testing.T) {
	SkipIfNoTestDB(t)

	ts := NewTestStore(t)
	defer ts.Close()
	defer ts.Cleanup(t)

	ctx := context.Background()
	createTestUser(t, ts, 9001, "mwc1qairdropper", "50", "0")

	executeAt := time.Now().Add(-time.Minute).UTC()
	a, err := ts.CreateAirdrop(ctx, CreateAirdropParams{
		CreatorID: 9001,
		ChannelID: 42,
		Amount:    dec(t, "10"),
		Split:     true,
		ExecuteAt: executeAt,
	})
	require.NoError(t, err)
	assert.False(t, a.Executed)
	assert.Nil(t, a.RoleID)

	got, err := ts.GetAirdrop(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(dec(t, "10")))

	list, err := ts.ListAirdropsByCreator(ctx, 9001)
	require.NoError(t, err)
	require.Len(t, list, 1)

	pending, err := ts.ListPendingAirdrops(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, ts.MarkAirdropExecuted(ctx, a.ID))

	// Exactly once: a second mark (execute racing cancel) fails.
	err = ts.MarkAirdropExecuted(ctx, a.ID)
	assert.ErrorIs(t, err, ErrAirdropExecuted)

	pending, err = ts.ListPendingAirdrops(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, pending)

	err = ts.MarkAirdropExecuted(ctx, 999999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSoakOptIn(t *testing.T) {
	SkipIfNoTestDB(t)

	ts := NewTestStore(t)
	defer ts.Close()
	defer ts.Cleanup(t)

	ctx := context.Background()
	createTestUser(t, ts, 10001, "mwc1qsoak1", "0", "0")
	createTestUser(t, ts, 10002, "mwc1qsoak2", "0", "0")

	require.NoError(t, ts.SetSoakOptIn(ctx, 10002, false))

	// 10003 does not exist; it must be filtered out, not error.
	got, err := ts.FilterSoakRecipients(ctx, []int64{10001, 10002, 10003})
	require.NoError(t, err)
	assert.Equal(t, []int64{10001}, got)

	require.NoError(t, ts.SetSoakOptIn(ctx, 10002, true))
	got, err = ts.FilterSoakRecipients(ctx, []int64{10001, 10002})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{10001, 10002}, got)

	err = ts.SetSoakOptIn(ctx, 99999, true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSoakParticipants(t *testing.T) {
	SkipIfNoTestDB(t)

	ts := NewTestStore(t)
	defer ts.Close()
	defer ts.Cleanup(t)

	ctx := context.Background()
	createTestUser(t, ts, 10101, "mwc1qpart1", "0", "0")
	createTestUser(t, ts, 10102, "mwc1qpart2", "0", "0")
	createTestUser(t, ts, 10103, "mwc1qpart3", "0", "0")
	require.NoError(t, ts.SetSoakOptIn(ctx, 10102, false))

	// The excluded user and opted-out users never appear.
	got, err := ts.ListSoakParticipants(ctx, 10101, 50)
	require.NoError(t, err)
	assert.Equal(t, []int64{10103}, got)

	got, err = ts.ListSoakParticipants(ctx, 0, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestHistories(t *testing.T) {
	SkipIfNoTestDB(t)

	ts := NewTestStore(t)
	defer ts.Close()
	defer ts.Cleanup(t)

	ctx := context.Background()
	createTestUser(t, ts, 11001, "mwc1qhistory", "100", "0")
	createTestUser(t, ts, 11002, "mwc1qhistory2", "0", "0")

	for i, txid := range []string{"txid-h1", "txid-h2", "txid-h3"} {
		_, err := ts.RecordDeposit(ctx, 11001, dec(t, "1").Add(decimal.NewFromInt(int64(i))), txid, DepositStatusConfirmed)
		require.NoError(t, err)
	}
	_, err := ts.RecordWithdrawal(ctx, 11001, dec(t, "2"), "mwc1qout", "txid-h-wd")
	require.NoError(t, err)
	_, err = ts.Tip(ctx, 11001, 11002, dec(t, "1"))
	require.NoError(t, err)

	deposits, err := ts.ListDepositsByUser(ctx, 11001, 2)
	require.NoError(t, err)
	assert.Len(t, deposits, 2)

	withdrawals, err := ts.ListWithdrawalsByUser(ctx, 11001, 10)
	require.NoError(t, err)
	require.Len(t, withdrawals, 1)
	assert.Equal(t, "txid-h-wd", withdrawals[0].TxID)

	tips, err := ts.ListTipsByUser(ctx, 11002, 10)
	require.NoError(t, err)
	require.Len(t, tips, 1)
	assert.Equal(t, int64(11001), tips[0].FromUserID)
}
