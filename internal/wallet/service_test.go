package wallet

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/walletledger/internal/ledger"
	"github.com/congo-pay/walletledger/internal/logging"
)

type fixture struct {
	svc   *Service
	store *ledger.MemoryStore
	mr    *miniredis.Miniredis
}

func newFixture(t *testing.T, withCache bool) *fixture {
	t.Helper()
	store := ledger.NewMemoryStore()
	engine := ledger.NewEngine(store, nil, logging.Discard())

	f := &fixture{store: store}
	var cache *BalanceCache
	if withCache {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		cache = NewBalanceCache(client, 30*time.Second)
		f.mr = mr
	}
	f.svc = NewService(engine, cache, "btc", logging.Discard())
	return f
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestServiceBalanceDefaultsCurrency(t *testing.T) {
	f := newFixture(t, false)
	ledger.SeedBalance(f.store, 1, "BTC", "2", "0.5")

	view, err := f.svc.Balance(context.Background(), 1, "")
	require.NoError(t, err)
	assert.Equal(t, "BTC", view.Currency)
	assert.True(t, view.Balance.Equal(amount("2")))
	assert.True(t, view.LockedBalance.Equal(amount("0.5")))
	assert.True(t, view.AvailableBalance.Equal(amount("1.5")))
}

func TestServiceBalanceServedFromCache(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	ledger.SeedBalance(f.store, 1, "BTC", "2", "0")

	first, err := f.svc.Balance(ctx, 1, "BTC")
	require.NoError(t, err)
	assert.True(t, first.Balance.Equal(amount("2")))
	assert.True(t, f.mr.Exists(balanceKey(1, "BTC")))

	// Written behind the service's back: the cached view wins until it expires.
	ledger.SeedBalance(f.store, 1, "BTC", "5", "0")
	cached, err := f.svc.Balance(ctx, 1, "BTC")
	require.NoError(t, err)
	assert.True(t, cached.Balance.Equal(amount("2")))

	f.mr.FastForward(31 * time.Second)
	fresh, err := f.svc.Balance(ctx, 1, "BTC")
	require.NoError(t, err)
	assert.True(t, fresh.Balance.Equal(amount("5")))
}

func TestServiceMutationsInvalidateCache(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.svc.Balance(ctx, 1, "BTC")
	require.NoError(t, err)
	require.True(t, f.mr.Exists(balanceKey(1, "BTC")))

	_, err = f.svc.Deposit(ctx, ledger.Operation{OwnerID: 1, Currency: "BTC", Amount: amount("1.25")})
	require.NoError(t, err)
	assert.False(t, f.mr.Exists(balanceKey(1, "BTC")))

	view, err := f.svc.Balance(ctx, 1, "BTC")
	require.NoError(t, err)
	assert.True(t, view.Balance.Equal(amount("1.25")))

	pending, err := f.svc.CreatePendingWithdraw(ctx, ledger.Operation{OwnerID: 1, Currency: "BTC", Amount: amount("0.25")})
	require.NoError(t, err)
	view, err = f.svc.Balance(ctx, 1, "BTC")
	require.NoError(t, err)
	assert.True(t, view.AvailableBalance.Equal(amount("1")))

	_, err = f.svc.ConfirmWithdraw(ctx, 1, pending.ID)
	require.NoError(t, err)
	view, err = f.svc.Balance(ctx, 1, "BTC")
	require.NoError(t, err)
	assert.True(t, view.Balance.Equal(amount("1")))
	assert.True(t, view.LockedBalance.IsZero())
}

func TestServiceSettleScopedToOwner(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	ledger.SeedBalance(f.store, 1, "BTC", "1", "0")

	pending, err := f.svc.CreatePendingWithdraw(ctx, ledger.Operation{OwnerID: 1, Currency: "BTC", Amount: amount("0.5")})
	require.NoError(t, err)

	_, err = f.svc.ConfirmWithdraw(ctx, 2, pending.ID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	_, err = f.svc.CancelWithdraw(ctx, 2, pending.ID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	cancelled, err := f.svc.CancelWithdraw(ctx, 1, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCancelled, cancelled.Status)
}

func TestServiceExternalIDNotReplayedAcrossOwners(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	first, err := f.svc.Deposit(ctx, ledger.Operation{OwnerID: 1, Currency: "BTC", Amount: amount("7.25"), ExternalID: "shared"})
	require.NoError(t, err)

	_, err = f.svc.Deposit(ctx, ledger.Operation{OwnerID: 2, Currency: "BTC", Amount: amount("1"), ExternalID: "shared"})
	require.ErrorIs(t, err, ledger.ErrIdempotencyConflict)
	assert.Equal(t, ledger.KindConflict, ledger.KindOf(err))

	ledger.SeedBalance(f.store, 2, "BTC", "5", "0")
	_, err = f.svc.Withdraw(ctx, ledger.Operation{OwnerID: 2, Currency: "BTC", Amount: amount("1"), ExternalID: "shared"})
	assert.ErrorIs(t, err, ledger.ErrIdempotencyConflict)
	_, err = f.svc.CreatePendingWithdraw(ctx, ledger.Operation{OwnerID: 2, Currency: "BTC", Amount: amount("1"), ExternalID: "shared"})
	assert.ErrorIs(t, err, ledger.ErrIdempotencyConflict)

	view, err := f.svc.Balance(ctx, 2, "BTC")
	require.NoError(t, err)
	assert.True(t, view.Balance.Equal(amount("5")))
	assert.True(t, view.LockedBalance.IsZero())

	replay, err := f.svc.Deposit(ctx, ledger.Operation{OwnerID: 1, Currency: "BTC", Amount: amount("7.25"), ExternalID: "shared"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, replay.ID)
}

func TestServiceCommissionRefundAndTransactions(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	ledger.SeedBalance(f.store, 1, "ETH", "1", "0")

	_, err := f.svc.ChargeCommission(ctx, ledger.Operation{OwnerID: 1, Currency: "ETH", Amount: amount("0.1")})
	require.NoError(t, err)
	_, err = f.svc.Refund(ctx, ledger.Operation{OwnerID: 1, Currency: "ETH", Amount: amount("0.05")})
	require.NoError(t, err)
	_, err = f.svc.Withdraw(ctx, ledger.Operation{OwnerID: 1, Currency: "ETH", Amount: amount("2")})
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	entries, err := f.svc.Transactions(ctx, ledger.EntryFilter{OwnerID: 1})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.TypeRefund, entries[0].Type)
	assert.Equal(t, ledger.TypeCommission, entries[1].Type)

	view, err := f.svc.Balance(ctx, 1, "eth")
	require.NoError(t, err)
	assert.True(t, view.Balance.Equal(amount("0.95")))
}

func TestNilBalanceCache(t *testing.T) {
	var cache *BalanceCache
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, 1, "BTC")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, cache.Set(ctx, 1, BalanceView{Currency: "BTC"}))
	assert.NoError(t, cache.Invalidate(ctx, 1, "BTC"))
	assert.Nil(t, NewBalanceCache(nil, time.Second))
}
