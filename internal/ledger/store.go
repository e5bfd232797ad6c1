package ledger

import "context"

// Store is the transactional datastore the engine runs on. Implementations
// must enforce uniqueness of (owner, currency) wallets and of entry external
// ids, and must give the row locks taken through Tx exclusive semantics until
// the transaction ends.
type Store interface {
	// InTx runs fn in one atomic transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	// EnsureWallet returns the wallet for the pair, creating it with zero
	// balances when missing.
	EnsureWallet(ctx context.Context, ownerID int64, currency string) (Wallet, error)
	Entry(ctx context.Context, id int64) (Entry, error)
	EntryByExternalID(ctx context.Context, externalID string) (Entry, error)
	Entries(ctx context.Context, filter EntryFilter) ([]Entry, error)
}

// Tx is a transaction-scoped view of the Store.
type Tx interface {
	// WalletForUpdate locks the wallet for the pair, creating it when missing.
	WalletForUpdate(ctx context.Context, ownerID int64, currency string) (Wallet, error)
	WalletByIDForUpdate(ctx context.Context, id int64) (Wallet, error)
	EntryForUpdate(ctx context.Context, id int64) (Entry, error)
	EntryByExternalID(ctx context.Context, externalID string) (Entry, error)
	UpdateWallet(ctx context.Context, w Wallet) error
	// InsertEntry assigns ID and timestamps. It returns ErrDuplicateExternalID
	// when the external id is already taken.
	InsertEntry(ctx context.Context, e *Entry) error
	// UpdateEntry persists the status and balance_after of an entry.
	UpdateEntry(ctx context.Context, e Entry) error
}
