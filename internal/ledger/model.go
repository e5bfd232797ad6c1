package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryType names the balance effect an entry records.
type EntryType string

const (
	TypeDeposit    EntryType = "deposit"
	TypeWithdraw   EntryType = "withdraw"
	TypePayment    EntryType = "payment"
	TypeCommission EntryType = "commission"
	TypeRefund     EntryType = "refund"
)

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool {
	switch t {
	case TypeDeposit, TypeWithdraw, TypePayment, TypeCommission, TypeRefund:
		return true
	}
	return false
}

// Status is the lifecycle state of an entry. Only pending entries transition.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Wallet holds the total and locked balance of one (owner, currency) pair.
// LockedBalance never exceeds Balance.
type Wallet struct {
	ID            int64
	OwnerID       int64
	Currency      string
	Balance       decimal.Decimal
	LockedBalance decimal.Decimal
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Available is the spendable part of the balance.
func (w Wallet) Available() decimal.Decimal {
	return sub(w.Balance, w.LockedBalance)
}

// HasEnough reports whether the available balance covers amount.
func (w Wallet) HasEnough(amount decimal.Decimal) bool {
	return compare(w.Available(), amount) >= 0
}

// Entry is the immutable record of one balance-affecting event.
type Entry struct {
	ID            int64
	OwnerID       int64
	WalletID      int64
	Type          EntryType
	Currency      string
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	TxHash        string
	Status        Status
	ExternalID    string
	Meta          map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsPending reports whether the entry may still be confirmed or cancelled.
func (e Entry) IsPending() bool {
	return e.Status == StatusPending
}

// Operation carries the input of a credit, debit or reservation.
type Operation struct {
	OwnerID    int64
	Currency   string
	Amount     decimal.Decimal
	ExternalID string
	TxHash     string
	Meta       map[string]any
}

const (
	DefaultEntryLimit = 50
	MaxEntryLimit     = 100
)

// EntryFilter selects an owner's entries, newest first.
type EntryFilter struct {
	OwnerID  int64
	Currency string
	Type     EntryType
	Status   Status
	Limit    int
}

func (f EntryFilter) normalized() EntryFilter {
	f.Currency = NormalizeCurrency(f.Currency)
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultEntryLimit
	case f.Limit > MaxEntryLimit:
		f.Limit = MaxEntryLimit
	}
	return f
}

func (f EntryFilter) matches(e Entry) bool {
	if e.OwnerID != f.OwnerID {
		return false
	}
	if f.Currency != "" && e.Currency != f.Currency {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	return true
}
