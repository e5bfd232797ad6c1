package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	walletColumns = `id, owner_id, currency, balance::text, locked_balance::text, created_at, updated_at`
	entryColumns  = `id, owner_id, wallet_id, type, currency, amount::text, balance_before::text,
        balance_after::text, tx_hash, status, external_id, meta, created_at, updated_at`
)

// PostgresStore persists wallets and entries in PostgreSQL. It relies on the
// unique constraints on ledger_wallets(owner_id, currency) and
// ledger_entries(external_id).
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// InTx runs fn inside a read-committed transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classify(fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// EnsureWallet inserts the wallet if needed and returns the stored row.
func (s *PostgresStore) EnsureWallet(ctx context.Context, ownerID int64, currency string) (Wallet, error) {
	if _, err := s.db.Exec(ctx, `INSERT INTO ledger_wallets (owner_id, currency, balance, locked_balance)
        VALUES ($1, $2, 0, 0)
        ON CONFLICT (owner_id, currency) DO NOTHING`, ownerID, currency); err != nil {
		return Wallet{}, classify(fmt.Errorf("ensure wallet: %w", err))
	}
	row := s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM ledger_wallets
        WHERE owner_id = $1 AND currency = $2`, ownerID, currency)
	return scanWallet(row)
}

func (s *PostgresStore) Entry(ctx context.Context, id int64) (Entry, error) {
	row := s.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, id)
	return scanEntry(row)
}

func (s *PostgresStore) EntryByExternalID(ctx context.Context, externalID string) (Entry, error) {
	row := s.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE external_id = $1`, externalID)
	return scanEntry(row)
}

// Entries lists entries matching filter, newest first.
func (s *PostgresStore) Entries(ctx context.Context, filter EntryFilter) ([]Entry, error) {
	filter = filter.normalized()

	var (
		where strings.Builder
		args  = []any{filter.OwnerID}
	)
	where.WriteString("owner_id = $1")
	if filter.Currency != "" {
		args = append(args, filter.Currency)
		fmt.Fprintf(&where, " AND currency = $%d", len(args))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		fmt.Fprintf(&where, " AND type = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		fmt.Fprintf(&where, " AND status = $%d", len(args))
	}
	args = append(args, filter.Limit)
	query := fmt.Sprintf(`SELECT %s FROM ledger_entries WHERE %s
        ORDER BY created_at DESC, id DESC LIMIT $%d`, entryColumns, where.String(), len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("list entries: %w", err))
	}
	defer rows.Close()

	out := make([]Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("list entries: %w", err))
	}
	return out, nil
}

type pgTx struct {
	tx pgx.Tx
}

// WalletForUpdate locks the wallet row, inserting it first when missing.
// Concurrent first access converges on one row through ON CONFLICT.
func (t *pgTx) WalletForUpdate(ctx context.Context, ownerID int64, currency string) (Wallet, error) {
	w, err := t.walletForUpdate(ctx, ownerID, currency)
	if !errors.Is(err, ErrNotFound) {
		return w, err
	}

	if _, err := t.tx.Exec(ctx, `INSERT INTO ledger_wallets (owner_id, currency, balance, locked_balance)
        VALUES ($1, $2, 0, 0)
        ON CONFLICT (owner_id, currency) DO NOTHING`, ownerID, currency); err != nil {
		return Wallet{}, classify(fmt.Errorf("create wallet: %w", err))
	}
	return t.walletForUpdate(ctx, ownerID, currency)
}

func (t *pgTx) walletForUpdate(ctx context.Context, ownerID int64, currency string) (Wallet, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM ledger_wallets
        WHERE owner_id = $1 AND currency = $2 FOR UPDATE`, ownerID, currency)
	return scanWallet(row)
}

func (t *pgTx) WalletByIDForUpdate(ctx context.Context, id int64) (Wallet, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM ledger_wallets WHERE id = $1 FOR UPDATE`, id)
	return scanWallet(row)
}

func (t *pgTx) EntryForUpdate(ctx context.Context, id int64) (Entry, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1 FOR UPDATE`, id)
	return scanEntry(row)
}

func (t *pgTx) EntryByExternalID(ctx context.Context, externalID string) (Entry, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE external_id = $1`, externalID)
	return scanEntry(row)
}

func (t *pgTx) UpdateWallet(ctx context.Context, w Wallet) error {
	cmd, err := t.tx.Exec(ctx, `UPDATE ledger_wallets
        SET balance = $1, locked_balance = $2, updated_at = now()
        WHERE id = $3`, w.Balance.String(), w.LockedBalance.String(), w.ID)
	if err != nil {
		return classify(fmt.Errorf("update wallet: %w", err))
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) InsertEntry(ctx context.Context, e *Entry) error {
	var meta []byte
	if len(e.Meta) > 0 {
		var err error
		if meta, err = json.Marshal(e.Meta); err != nil {
			return fmt.Errorf("marshal entry meta: %w", err)
		}
	}

	err := t.tx.QueryRow(ctx, `INSERT INTO ledger_entries
        (owner_id, wallet_id, type, currency, amount, balance_before, balance_after,
         tx_hash, status, external_id, meta)
        VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, NULLIF($10, ''), $11)
        RETURNING id, created_at, updated_at`,
		e.OwnerID, e.WalletID, string(e.Type), e.Currency, e.Amount.String(),
		e.BalanceBefore.String(), e.BalanceAfter.String(), e.TxHash, string(e.Status),
		e.ExternalID, meta,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateExternalID
		}
		return classify(fmt.Errorf("insert entry: %w", err))
	}
	return nil
}

func (t *pgTx) UpdateEntry(ctx context.Context, e Entry) error {
	cmd, err := t.tx.Exec(ctx, `UPDATE ledger_entries
        SET status = $1, balance_after = $2, updated_at = now()
        WHERE id = $3`, string(e.Status), e.BalanceAfter.String(), e.ID)
	if err != nil {
		return classify(fmt.Errorf("update entry: %w", err))
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var (
		w               Wallet
		balance, locked string
	)
	if err := row.Scan(&w.ID, &w.OwnerID, &w.Currency, &balance, &locked, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, classify(fmt.Errorf("scan wallet: %w", err))
	}
	var err error
	if w.Balance, err = decimal.NewFromString(balance); err != nil {
		return Wallet{}, fmt.Errorf("parse balance: %w", err)
	}
	if w.LockedBalance, err = decimal.NewFromString(locked); err != nil {
		return Wallet{}, fmt.Errorf("parse locked balance: %w", err)
	}
	return w, nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e                     Entry
		typ, status           string
		amount, before, after string
		txHash, externalID    *string
		meta                  []byte
	)
	err := row.Scan(&e.ID, &e.OwnerID, &e.WalletID, &typ, &e.Currency, &amount, &before, &after,
		&txHash, &status, &externalID, &meta, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, classify(fmt.Errorf("scan entry: %w", err))
	}

	e.Type = EntryType(typ)
	e.Status = Status(status)
	if txHash != nil {
		e.TxHash = *txHash
	}
	if externalID != nil {
		e.ExternalID = *externalID
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Meta); err != nil {
			return Entry{}, fmt.Errorf("parse entry meta: %w", err)
		}
	}
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{{&e.Amount, amount}, {&e.BalanceBefore, before}, {&e.BalanceAfter, after}} {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return Entry{}, fmt.Errorf("parse entry amount: %w", err)
		}
		*f.dst = d
	}
	return e, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// classify wraps retry-safe failures with ErrTransient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001", // serialization_failure
			pgErr.Code == "40P01", // deadlock_detected
			pgErr.Code == "55P03", // lock_not_available
			strings.HasPrefix(pgErr.Code, "08"):
			return fmt.Errorf("%w: %w", ErrTransient, err)
		case pgErr.Code == "22003": // numeric_value_out_of_range
			return fmt.Errorf("%w: %w", ErrInvalidAmount, err)
		}
		return err
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}
