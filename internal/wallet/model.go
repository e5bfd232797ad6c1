package wallet

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/walletledger/internal/ledger"
)

// BalanceView is the display form of a wallet's balances.
type BalanceView struct {
	Currency         string          `json:"currency"`
	Balance          decimal.Decimal `json:"balance"`
	LockedBalance    decimal.Decimal `json:"locked_balance"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	AsOf             time.Time       `json:"as_of"`
}

func viewOf(w ledger.Wallet) BalanceView {
	return BalanceView{
		Currency:         w.Currency,
		Balance:          w.Balance,
		LockedBalance:    w.LockedBalance,
		AvailableBalance: w.Available(),
		AsOf:             time.Now().UTC(),
	}
}
