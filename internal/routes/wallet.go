package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletledger/internal/wallet"
)

// RegisterWalletRoutes wires the crypto wallet endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	crypto := r.Group("/crypto")
	crypto.Get("/balance", h.Balance)
	crypto.Post("/deposit", h.Deposit)
	crypto.Post("/withdraw", h.Withdraw)
	crypto.Post("/withdraw/pending", h.CreatePendingWithdraw)
	crypto.Post("/withdraw/confirm", h.ConfirmWithdraw)
	crypto.Post("/withdraw/cancel", h.CancelWithdraw)
	crypto.Get("/transactions", h.Transactions)
}
