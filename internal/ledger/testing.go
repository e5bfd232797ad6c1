package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// SeedBalance is a test helper that sets the balances of a wallet held in a
// MemoryStore, creating the wallet when needed.
func SeedBalance(s *MemoryStore, ownerID int64, currency, balance, locked string) Wallet {
	var w Wallet
	err := s.InTx(context.Background(), func(tx Tx) error {
		var err error
		w, err = tx.WalletForUpdate(context.Background(), ownerID, NormalizeCurrency(currency))
		if err != nil {
			return err
		}
		w.Balance = Quantize(decimal.RequireFromString(balance))
		w.LockedBalance = Quantize(decimal.RequireFromString(locked))
		return tx.UpdateWallet(context.Background(), w)
	})
	if err != nil {
		panic(err)
	}
	return w
}
