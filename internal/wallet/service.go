package wallet

import (
	"context"
	"log/slog"

	"github.com/congo-pay/walletledger/internal/ledger"
)

// Service exposes wallet operations backed by the ledger engine. Balance reads
// may be served from the cache; every mutation goes to the engine and drops the
// cached view for the affected wallet.
type Service struct {
	engine          *ledger.Engine
	cache           *BalanceCache
	defaultCurrency string
	logger          *slog.Logger
}

// NewService builds a wallet service instance. cache may be nil.
func NewService(engine *ledger.Engine, cache *BalanceCache, defaultCurrency string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		engine:          engine,
		cache:           cache,
		defaultCurrency: ledger.NormalizeCurrency(defaultCurrency),
		logger:          logger,
	}
}

// DefaultCurrency is used when a balance request names no currency.
func (s *Service) DefaultCurrency() string {
	return s.defaultCurrency
}

// Balance returns the owner's balances in currency.
func (s *Service) Balance(ctx context.Context, ownerID int64, currency string) (BalanceView, error) {
	currency = ledger.NormalizeCurrency(currency)
	if currency == "" {
		currency = s.defaultCurrency
	}

	view, ok, err := s.cache.Get(ctx, ownerID, currency)
	if err != nil {
		s.logger.WarnContext(ctx, "balance cache read failed", slog.Int64("owner_id", ownerID), slog.Any("error", err))
	}
	if ok {
		return view, nil
	}

	w, err := s.engine.Wallet(ctx, ownerID, currency)
	if err != nil {
		return BalanceView{}, err
	}
	view = viewOf(w)
	if err := s.cache.Set(ctx, ownerID, view); err != nil {
		s.logger.WarnContext(ctx, "balance cache write failed", slog.Int64("owner_id", ownerID), slog.Any("error", err))
	}
	return view, nil
}

func (s *Service) Deposit(ctx context.Context, op ledger.Operation) (ledger.Entry, error) {
	return s.mutate(ctx, op, s.engine.Deposit)
}

func (s *Service) Withdraw(ctx context.Context, op ledger.Operation) (ledger.Entry, error) {
	return s.mutate(ctx, op, s.engine.Withdraw)
}

func (s *Service) ChargeCommission(ctx context.Context, op ledger.Operation) (ledger.Entry, error) {
	return s.mutate(ctx, op, s.engine.ChargeCommission)
}

func (s *Service) Refund(ctx context.Context, op ledger.Operation) (ledger.Entry, error) {
	return s.mutate(ctx, op, s.engine.Refund)
}

func (s *Service) CreatePendingWithdraw(ctx context.Context, op ledger.Operation) (ledger.Entry, error) {
	return s.mutate(ctx, op, s.engine.CreatePendingWithdraw)
}

// ConfirmWithdraw settles one of the owner's pending withdrawals. Entries of
// other owners are reported as not found.
func (s *Service) ConfirmWithdraw(ctx context.Context, ownerID, entryID int64) (ledger.Entry, error) {
	return s.settle(ctx, ownerID, entryID, s.engine.ConfirmPendingWithdraw)
}

// CancelWithdraw releases one of the owner's pending withdrawals.
func (s *Service) CancelWithdraw(ctx context.Context, ownerID, entryID int64) (ledger.Entry, error) {
	return s.settle(ctx, ownerID, entryID, s.engine.CancelPendingWithdraw)
}

// Transactions lists the owner's entries, newest first.
func (s *Service) Transactions(ctx context.Context, filter ledger.EntryFilter) ([]ledger.Entry, error) {
	return s.engine.Entries(ctx, filter)
}

func (s *Service) mutate(ctx context.Context, op ledger.Operation, fn func(context.Context, ledger.Operation) (ledger.Entry, error)) (ledger.Entry, error) {
	entry, err := fn(ctx, op)
	if err != nil {
		return ledger.Entry{}, err
	}
	// External ids are global; a replay may only hand back the caller's own entry.
	if entry.OwnerID != op.OwnerID {
		s.logger.WarnContext(ctx, "external id held by another owner",
			slog.Int64("owner_id", op.OwnerID),
			slog.String("external_id", op.ExternalID),
		)
		return ledger.Entry{}, ledger.ErrIdempotencyConflict
	}
	s.invalidate(ctx, entry.OwnerID, entry.Currency)
	return entry, nil
}

func (s *Service) settle(ctx context.Context, ownerID, entryID int64, fn func(context.Context, int64) (ledger.Entry, error)) (ledger.Entry, error) {
	current, err := s.engine.Entry(ctx, entryID)
	if err != nil {
		return ledger.Entry{}, err
	}
	if current.OwnerID != ownerID {
		return ledger.Entry{}, ledger.ErrNotFound
	}
	entry, err := fn(ctx, entryID)
	if err != nil {
		return ledger.Entry{}, err
	}
	s.invalidate(ctx, entry.OwnerID, entry.Currency)
	return entry, nil
}

func (s *Service) invalidate(ctx context.Context, ownerID int64, currency string) {
	if err := s.cache.Invalidate(context.WithoutCancel(ctx), ownerID, currency); err != nil {
		s.logger.WarnContext(ctx, "balance cache invalidation failed",
			slog.Int64("owner_id", ownerID),
			slog.String("currency", currency),
			slog.Any("error", err),
		)
	}
}
