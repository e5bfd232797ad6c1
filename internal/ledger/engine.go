package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/walletledger/internal/notification"
)

// Engine applies every balance mutation. It holds no locks of its own: all
// serialization comes from the Store's transactions and row locks, so one
// Engine may be shared by any number of goroutines.
type Engine struct {
	store    Store
	notifier notification.Notifier
	logger   *slog.Logger
}

// NewEngine builds an engine on top of store. notifier may be nil.
func NewEngine(store Store, notifier notification.Notifier, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, notifier: notifier, logger: logger}
}

// Wallet returns the wallet for the pair, creating an empty one on first use.
func (e *Engine) Wallet(ctx context.Context, ownerID int64, currency string) (Wallet, error) {
	return e.store.EnsureWallet(ctx, ownerID, NormalizeCurrency(currency))
}

// Entry fetches a single entry by id.
func (e *Engine) Entry(ctx context.Context, id int64) (Entry, error) {
	return e.store.Entry(ctx, id)
}

// Entries lists an owner's entries, newest first.
func (e *Engine) Entries(ctx context.Context, filter EntryFilter) ([]Entry, error) {
	return e.store.Entries(ctx, filter.normalized())
}

// Deposit credits the wallet.
func (e *Engine) Deposit(ctx context.Context, op Operation) (Entry, error) {
	return e.apply(ctx, TypeDeposit, op, credit)
}

// Refund credits the wallet and records the entry as a refund.
func (e *Engine) Refund(ctx context.Context, op Operation) (Entry, error) {
	return e.apply(ctx, TypeRefund, op, credit)
}

// Withdraw debits the wallet's available balance.
func (e *Engine) Withdraw(ctx context.Context, op Operation) (Entry, error) {
	return e.apply(ctx, TypeWithdraw, op, debit)
}

// ChargeCommission debits the wallet and records the entry as a commission.
func (e *Engine) ChargeCommission(ctx context.Context, op Operation) (Entry, error) {
	return e.apply(ctx, TypeCommission, op, debit)
}

func credit(w *Wallet, amount decimal.Decimal) error {
	balance := add(w.Balance, amount)
	if balance.GreaterThan(MaxAmount) {
		return fmt.Errorf("%w: balance would exceed %s", ErrInvalidAmount, MaxAmount.StringFixed(Scale))
	}
	w.Balance = balance
	return nil
}

func debit(w *Wallet, amount decimal.Decimal) error {
	if !w.HasEnough(amount) {
		return ErrInsufficientFunds
	}
	w.Balance = sub(w.Balance, amount)
	return nil
}

// apply runs one completed credit or debit. Replays of an external id held by
// a non-failed entry return that entry without touching the wallet.
func (e *Engine) apply(ctx context.Context, typ EntryType, op Operation, mutate func(*Wallet, decimal.Decimal) error) (Entry, error) {
	amount, err := validAmount(op.Amount)
	if err != nil {
		return Entry{}, err
	}
	currency := NormalizeCurrency(op.Currency)

	if existing, ok, err := e.replayable(ctx, op.ExternalID, true); err != nil {
		return Entry{}, err
	} else if ok {
		e.logDuplicate(ctx, typ, op.ExternalID, existing)
		return existing, nil
	}

	var (
		result   Entry
		replayed bool
	)
	err = e.store.InTx(ctx, func(tx Tx) error {
		w, err := tx.WalletForUpdate(ctx, op.OwnerID, currency)
		if err != nil {
			return err
		}
		if existing, ok, err := replayableInTx(ctx, tx, op.ExternalID, true); err != nil || ok {
			result, replayed = existing, ok
			return err
		}

		before := w.Balance
		if err := mutate(&w, amount); err != nil {
			return err
		}
		if err := tx.UpdateWallet(ctx, w); err != nil {
			return err
		}

		result = Entry{
			OwnerID:       op.OwnerID,
			WalletID:      w.ID,
			Type:          typ,
			Currency:      currency,
			Amount:        amount,
			BalanceBefore: before,
			BalanceAfter:  w.Balance,
			TxHash:        op.TxHash,
			Status:        StatusCompleted,
			ExternalID:    op.ExternalID,
			Meta:          op.Meta,
		}
		return tx.InsertEntry(ctx, &result)
	})
	if errors.Is(err, ErrDuplicateExternalID) {
		return e.afterDuplicate(ctx, typ, op.ExternalID, true)
	}
	if err != nil {
		return Entry{}, err
	}
	if replayed {
		e.logDuplicate(ctx, typ, op.ExternalID, result)
		return result, nil
	}

	e.notify(ctx, completedKind(typ), result)
	return result, nil
}

// CreatePendingWithdraw reserves amount by raising the locked balance. The
// total balance is untouched until the reservation is confirmed. Any existing
// entry with the same external id is returned as-is, whatever its status.
func (e *Engine) CreatePendingWithdraw(ctx context.Context, op Operation) (Entry, error) {
	amount, err := validAmount(op.Amount)
	if err != nil {
		return Entry{}, err
	}
	currency := NormalizeCurrency(op.Currency)

	if existing, ok, err := e.replayable(ctx, op.ExternalID, false); err != nil {
		return Entry{}, err
	} else if ok {
		e.logDuplicate(ctx, TypeWithdraw, op.ExternalID, existing)
		return existing, nil
	}

	var (
		result   Entry
		replayed bool
	)
	err = e.store.InTx(ctx, func(tx Tx) error {
		w, err := tx.WalletForUpdate(ctx, op.OwnerID, currency)
		if err != nil {
			return err
		}
		if existing, ok, err := replayableInTx(ctx, tx, op.ExternalID, false); err != nil || ok {
			result, replayed = existing, ok
			return err
		}

		if !w.HasEnough(amount) {
			return ErrInsufficientFunds
		}
		w.LockedBalance = add(w.LockedBalance, amount)
		if err := tx.UpdateWallet(ctx, w); err != nil {
			return err
		}

		result = Entry{
			OwnerID:       op.OwnerID,
			WalletID:      w.ID,
			Type:          TypeWithdraw,
			Currency:      currency,
			Amount:        amount,
			BalanceBefore: w.Balance,
			BalanceAfter:  w.Balance,
			TxHash:        op.TxHash,
			Status:        StatusPending,
			ExternalID:    op.ExternalID,
			Meta:          op.Meta,
		}
		return tx.InsertEntry(ctx, &result)
	})
	if errors.Is(err, ErrDuplicateExternalID) {
		return e.afterDuplicate(ctx, TypeWithdraw, op.ExternalID, false)
	}
	if err != nil {
		return Entry{}, err
	}
	if replayed {
		e.logDuplicate(ctx, TypeWithdraw, op.ExternalID, result)
		return result, nil
	}

	e.notify(ctx, notification.KindWithdrawPending, result)
	return result, nil
}

// ConfirmPendingWithdraw settles a reservation: the amount leaves both the
// total and the locked balance.
func (e *Engine) ConfirmPendingWithdraw(ctx context.Context, entryID int64) (Entry, error) {
	return e.settle(ctx, entryID, true)
}

// CancelPendingWithdraw releases a reservation back to the available balance.
func (e *Engine) CancelPendingWithdraw(ctx context.Context, entryID int64) (Entry, error) {
	return e.settle(ctx, entryID, false)
}

func (e *Engine) settle(ctx context.Context, entryID int64, confirm bool) (Entry, error) {
	var result Entry
	err := e.store.InTx(ctx, func(tx Tx) error {
		entry, err := tx.EntryForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		if !entry.IsPending() {
			return ErrInvalidState
		}
		w, err := tx.WalletByIDForUpdate(ctx, entry.WalletID)
		if err != nil {
			return err
		}

		w.LockedBalance = sub(w.LockedBalance, entry.Amount)
		if confirm {
			w.Balance = sub(w.Balance, entry.Amount)
			entry.BalanceAfter = w.Balance
			entry.Status = StatusCompleted
		} else {
			entry.Status = StatusCancelled
		}

		if err := tx.UpdateWallet(ctx, w); err != nil {
			return err
		}
		if err := tx.UpdateEntry(ctx, entry); err != nil {
			return err
		}
		result = entry
		return nil
	})
	if err != nil {
		return Entry{}, err
	}

	kind := notification.KindWithdrawCancelled
	if confirm {
		kind = notification.KindWithdrawConfirmed
	}
	e.notify(ctx, kind, result)
	return result, nil
}

// replayable looks up a prior entry for externalID outside any transaction.
// With skipFailed, failed entries do not count as prior executions.
func (e *Engine) replayable(ctx context.Context, externalID string, skipFailed bool) (Entry, bool, error) {
	if externalID == "" {
		return Entry{}, false, nil
	}
	existing, err := e.store.EntryByExternalID(ctx, externalID)
	return replayDecision(existing, err, skipFailed)
}

func replayableInTx(ctx context.Context, tx Tx, externalID string, skipFailed bool) (Entry, bool, error) {
	if externalID == "" {
		return Entry{}, false, nil
	}
	existing, err := tx.EntryByExternalID(ctx, externalID)
	entry, ok, err := replayDecision(existing, err, skipFailed)
	if err == nil && !ok && existing.ID != 0 {
		// A failed entry still owns the key, so the insert could never succeed.
		return Entry{}, false, ErrIdempotencyConflict
	}
	return entry, ok, err
}

func replayDecision(existing Entry, err error, skipFailed bool) (Entry, bool, error) {
	switch {
	case errors.Is(err, ErrNotFound):
		return Entry{}, false, nil
	case err != nil:
		return Entry{}, false, err
	case skipFailed && existing.Status == StatusFailed:
		return Entry{}, false, nil
	}
	return existing, true, nil
}

// afterDuplicate resolves a lost race on the external id unique constraint by
// returning the winner's entry.
func (e *Engine) afterDuplicate(ctx context.Context, typ EntryType, externalID string, skipFailed bool) (Entry, error) {
	existing, ok, err := e.replayable(ctx, externalID, skipFailed)
	if err != nil {
		return Entry{}, err
	}
	if !ok {
		return Entry{}, ErrIdempotencyConflict
	}
	e.logDuplicate(ctx, typ, externalID, existing)
	return existing, nil
}

func (e *Engine) logDuplicate(ctx context.Context, typ EntryType, externalID string, existing Entry) {
	e.logger.WarnContext(ctx, "duplicate "+string(typ)+" attempt",
		slog.String("external_id", externalID),
		slog.Int64("existing_entry_id", existing.ID),
		slog.String("existing_status", string(existing.Status)),
	)
}

func (e *Engine) notify(ctx context.Context, kind string, entry Entry) {
	if e.notifier == nil {
		return
	}
	event := notification.Event{
		Kind:       kind,
		EntryID:    entry.ID,
		OwnerID:    entry.OwnerID,
		Type:       string(entry.Type),
		Amount:     FormatAmount(entry.Amount),
		Currency:   entry.Currency,
		Status:     string(entry.Status),
		OccurredAt: time.Now().UTC(),
	}
	if err := e.notifier.Notify(context.WithoutCancel(ctx), event); err != nil {
		e.logger.WarnContext(ctx, "ledger event delivery failed",
			slog.String("kind", kind),
			slog.Int64("entry_id", entry.ID),
			slog.Any("error", err),
		)
	}
}

func completedKind(typ EntryType) string {
	switch typ {
	case TypeWithdraw:
		return notification.KindWithdrawCompleted
	case TypeCommission:
		return notification.KindCommissionCompleted
	case TypeRefund:
		return notification.KindRefundCompleted
	default:
		return notification.KindDepositCompleted
	}
}
