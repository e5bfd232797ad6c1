package ledger

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"
)

type walletKey struct {
	ownerID  int64
	currency string
}

// MemoryStore is a concurrency-safe Store kept in process memory. Transactions
// are serialized behind a single lock and their writes become visible only on
// commit, which gives every row lock exclusive semantics.
type MemoryStore struct {
	mu          sync.RWMutex
	walletSeq   int64
	entrySeq    int64
	wallets     map[int64]Wallet
	walletKeys  map[walletKey]int64
	entries     map[int64]Entry
	externalIDs map[string]int64
}

// NewMemoryStore creates an empty in-memory store, useful for tests and local
// development.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets:     make(map[int64]Wallet),
		walletKeys:  make(map[walletKey]int64),
		entries:     make(map[int64]Entry),
		externalIDs: make(map[string]int64),
	}
}

// InTx runs fn against staged copies and applies them only when fn succeeds
// and ctx is still live.
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		store:       s,
		wallets:     make(map[int64]Wallet),
		walletKeys:  make(map[walletKey]int64),
		entries:     make(map[int64]Entry),
		externalIDs: make(map[string]int64),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *MemoryStore) EnsureWallet(ctx context.Context, ownerID int64, currency string) (Wallet, error) {
	var w Wallet
	err := s.InTx(ctx, func(tx Tx) error {
		var err error
		w, err = tx.WalletForUpdate(ctx, ownerID, currency)
		return err
	})
	return w, err
}

func (s *MemoryStore) Entry(_ context.Context, id int64) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return cloneEntry(e), nil
}

func (s *MemoryStore) EntryByExternalID(_ context.Context, externalID string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.externalIDs[externalID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return cloneEntry(s.entries[id]), nil
}

func (s *MemoryStore) Entries(_ context.Context, filter EntryFilter) ([]Entry, error) {
	filter = filter.normalized()

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0)
	for _, e := range s.entries {
		if filter.matches(e) {
			out = append(out, cloneEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// memoryTx stages writes; reads fall through to committed state.
type memoryTx struct {
	store       *MemoryStore
	wallets     map[int64]Wallet
	walletKeys  map[walletKey]int64
	entries     map[int64]Entry
	externalIDs map[string]int64
}

func (tx *memoryTx) wallet(id int64) (Wallet, bool) {
	if w, ok := tx.wallets[id]; ok {
		return w, true
	}
	w, ok := tx.store.wallets[id]
	return w, ok
}

func (tx *memoryTx) entry(id int64) (Entry, bool) {
	if e, ok := tx.entries[id]; ok {
		return e, true
	}
	e, ok := tx.store.entries[id]
	return e, ok
}

func (tx *memoryTx) WalletForUpdate(_ context.Context, ownerID int64, currency string) (Wallet, error) {
	key := walletKey{ownerID: ownerID, currency: currency}
	id, ok := tx.walletKeys[key]
	if !ok {
		id, ok = tx.store.walletKeys[key]
	}
	if ok {
		w, _ := tx.wallet(id)
		return w, nil
	}

	tx.store.walletSeq++
	now := time.Now().UTC()
	w := Wallet{
		ID:        tx.store.walletSeq,
		OwnerID:   ownerID,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx.wallets[w.ID] = w
	tx.walletKeys[key] = w.ID
	return w, nil
}

func (tx *memoryTx) WalletByIDForUpdate(_ context.Context, id int64) (Wallet, error) {
	w, ok := tx.wallet(id)
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return w, nil
}

func (tx *memoryTx) EntryForUpdate(_ context.Context, id int64) (Entry, error) {
	e, ok := tx.entry(id)
	if !ok {
		return Entry{}, ErrNotFound
	}
	return cloneEntry(e), nil
}

func (tx *memoryTx) EntryByExternalID(_ context.Context, externalID string) (Entry, error) {
	id, ok := tx.externalIDs[externalID]
	if !ok {
		id, ok = tx.store.externalIDs[externalID]
	}
	if !ok {
		return Entry{}, ErrNotFound
	}
	e, _ := tx.entry(id)
	return cloneEntry(e), nil
}

func (tx *memoryTx) UpdateWallet(_ context.Context, w Wallet) error {
	if _, ok := tx.wallet(w.ID); !ok {
		return ErrNotFound
	}
	w.UpdatedAt = time.Now().UTC()
	tx.wallets[w.ID] = w
	return nil
}

func (tx *memoryTx) InsertEntry(_ context.Context, e *Entry) error {
	if e.ExternalID != "" {
		if _, taken := tx.externalIDs[e.ExternalID]; taken {
			return ErrDuplicateExternalID
		}
		if _, taken := tx.store.externalIDs[e.ExternalID]; taken {
			return ErrDuplicateExternalID
		}
	}

	tx.store.entrySeq++
	now := time.Now().UTC()
	e.ID = tx.store.entrySeq
	e.CreatedAt = now
	e.UpdatedAt = now

	tx.entries[e.ID] = cloneEntry(*e)
	if e.ExternalID != "" {
		tx.externalIDs[e.ExternalID] = e.ID
	}
	return nil
}

func (tx *memoryTx) UpdateEntry(_ context.Context, e Entry) error {
	current, ok := tx.entry(e.ID)
	if !ok {
		return ErrNotFound
	}
	current.Status = e.Status
	current.BalanceAfter = e.BalanceAfter
	current.UpdatedAt = time.Now().UTC()
	tx.entries[e.ID] = current
	return nil
}

func (tx *memoryTx) commit() {
	s := tx.store
	maps.Copy(s.wallets, tx.wallets)
	maps.Copy(s.walletKeys, tx.walletKeys)
	maps.Copy(s.entries, tx.entries)
	maps.Copy(s.externalIDs, tx.externalIDs)
}

func cloneEntry(e Entry) Entry {
	e.Meta = maps.Clone(e.Meta)
	return e
}
