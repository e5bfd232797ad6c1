package wallet

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/walletledger/internal/ledger"
	"github.com/congo-pay/walletledger/internal/middleware"
)

// Handler exposes wallet HTTP endpoints for the authenticated owner.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

type operationRequest struct {
	Currency   string          `json:"currency"`
	Amount     decimal.Decimal `json:"amount"`
	ExternalID string          `json:"external_id"`
	TxHash     string          `json:"tx_hash"`
}

type settleRequest struct {
	TransactionID int64 `json:"transaction_id"`
}

type transactionResponse struct {
	ID            int64  `json:"id"`
	Type          string `json:"type,omitempty"`
	Amount        string `json:"amount,omitempty"`
	Currency      string `json:"currency,omitempty"`
	Status        string `json:"status"`
	BalanceBefore string `json:"balance_before,omitempty"`
	BalanceAfter  string `json:"balance_after,omitempty"`
}

type transactionItem struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Amount    string    `json:"amount"`
	Currency  string    `json:"currency"`
	Status    string    `json:"status"`
	TxHash    string    `json:"tx_hash,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Balance returns the owner's balances for ?currency= (default currency when
// omitted).
func (h *Handler) Balance(c *fiber.Ctx) error {
	ownerID, err := owner(c)
	if err != nil {
		return err
	}
	currency := ledger.NormalizeCurrency(c.Query("currency"))
	if currency != "" && !validCurrency(currency) {
		return fiber.NewError(http.StatusBadRequest, "currency must be a 3-letter code")
	}

	view, err := h.service.Balance(c.UserContext(), ownerID, currency)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"currency":          view.Currency,
		"balance":           ledger.FormatAmount(view.Balance),
		"locked_balance":    ledger.FormatAmount(view.LockedBalance),
		"available_balance": ledger.FormatAmount(view.AvailableBalance),
	})
}

// Deposit credits the owner's wallet.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	op, err := h.operation(c)
	if err != nil {
		return err
	}
	entry, err := h.service.Deposit(c.UserContext(), op)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"success": true, "transaction": fullTransaction(entry)})
}

// Withdraw debits the owner's available balance immediately.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	op, err := h.operation(c)
	if err != nil {
		return err
	}
	entry, err := h.service.Withdraw(c.UserContext(), op)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"success": true, "transaction": fullTransaction(entry)})
}

// CreatePendingWithdraw reserves funds for a withdrawal settled later.
func (h *Handler) CreatePendingWithdraw(c *fiber.Ctx) error {
	op, err := h.operation(c)
	if err != nil {
		return err
	}
	entry, err := h.service.CreatePendingWithdraw(c.UserContext(), op)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"success": true, "transaction": transactionResponse{
		ID:       entry.ID,
		Type:     string(entry.Type),
		Amount:   ledger.FormatAmount(entry.Amount),
		Currency: entry.Currency,
		Status:   string(entry.Status),
	}})
}

// ConfirmWithdraw settles a pending withdrawal.
func (h *Handler) ConfirmWithdraw(c *fiber.Ctx) error {
	ownerID, id, err := h.settleTarget(c)
	if err != nil {
		return err
	}
	entry, err := h.service.ConfirmWithdraw(c.UserContext(), ownerID, id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"success": true, "transaction": transactionResponse{
		ID:           entry.ID,
		Status:       string(entry.Status),
		BalanceAfter: ledger.FormatAmount(entry.BalanceAfter),
	}})
}

// CancelWithdraw releases a pending withdrawal.
func (h *Handler) CancelWithdraw(c *fiber.Ctx) error {
	ownerID, id, err := h.settleTarget(c)
	if err != nil {
		return err
	}
	entry, err := h.service.CancelWithdraw(c.UserContext(), ownerID, id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"success": true, "transaction": transactionResponse{
		ID:     entry.ID,
		Status: string(entry.Status),
	}})
}

// Transactions lists the owner's entries filtered by currency, type and status.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	ownerID, err := owner(c)
	if err != nil {
		return err
	}
	filter := ledger.EntryFilter{
		OwnerID:  ownerID,
		Currency: ledger.NormalizeCurrency(c.Query("currency")),
		Type:     ledger.EntryType(c.Query("type")),
		Status:   ledger.Status(c.Query("status")),
		Limit:    c.QueryInt("limit", ledger.DefaultEntryLimit),
	}
	if filter.Currency != "" && !validCurrency(filter.Currency) {
		return fiber.NewError(http.StatusBadRequest, "currency must be a 3-letter code")
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return fiber.NewError(http.StatusBadRequest, "unknown transaction type")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return fiber.NewError(http.StatusBadRequest, "unknown transaction status")
	}

	entries, err := h.service.Transactions(c.UserContext(), filter)
	if err != nil {
		return h.fail(c, err)
	}
	items := make([]transactionItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, transactionItem{
			ID:        e.ID,
			Type:      string(e.Type),
			Amount:    ledger.FormatAmount(e.Amount),
			Currency:  e.Currency,
			Status:    string(e.Status),
			TxHash:    e.TxHash,
			CreatedAt: e.CreatedAt,
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"transactions": items})
}

func (h *Handler) operation(c *fiber.Ctx) (ledger.Operation, error) {
	ownerID, err := owner(c)
	if err != nil {
		return ledger.Operation{}, err
	}
	var req operationRequest
	if err := c.BodyParser(&req); err != nil {
		return ledger.Operation{}, fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	currency := ledger.NormalizeCurrency(req.Currency)
	if !validCurrency(currency) {
		return ledger.Operation{}, fiber.NewError(http.StatusBadRequest, "currency must be a 3-letter code")
	}
	if req.Amount.LessThan(ledger.Epsilon) {
		return ledger.Operation{}, fiber.NewError(http.StatusBadRequest, "amount must be at least "+ledger.FormatAmount(ledger.Epsilon))
	}
	return ledger.Operation{
		OwnerID:    ownerID,
		Currency:   currency,
		Amount:     req.Amount,
		ExternalID: req.ExternalID,
		TxHash:     req.TxHash,
	}, nil
}

func (h *Handler) settleTarget(c *fiber.Ctx) (int64, int64, error) {
	ownerID, err := owner(c)
	if err != nil {
		return 0, 0, err
	}
	var req settleRequest
	if err := c.BodyParser(&req); err != nil {
		return 0, 0, fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if req.TransactionID <= 0 {
		return 0, 0, fiber.NewError(http.StatusBadRequest, "transaction_id is required")
	}
	return ownerID, req.TransactionID, nil
}

// fail maps ledger error kinds onto HTTP errors.
func (h *Handler) fail(c *fiber.Ctx, err error) error {
	switch ledger.KindOf(err) {
	case ledger.KindInvalidAmount, ledger.KindInvalidState:
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case ledger.KindInsufficientFunds:
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case ledger.KindNotFound:
		return fiber.NewError(http.StatusNotFound, err.Error())
	case ledger.KindConflict:
		return fiber.NewError(http.StatusConflict, err.Error())
	case ledger.KindTransient:
		h.logger.WarnContext(c.UserContext(), "transient ledger failure", slog.Any("error", err))
		return fiber.NewError(http.StatusServiceUnavailable, "temporarily unavailable, retry")
	default:
		h.logger.ErrorContext(c.UserContext(), "ledger operation failed", slog.Any("error", err))
		return fiber.NewError(http.StatusInternalServerError, "internal server error")
	}
}

func owner(c *fiber.Ctx) (int64, error) {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		return 0, fiber.NewError(http.StatusUnauthorized, "unauthenticated")
	}
	return ownerID, nil
}

func fullTransaction(e ledger.Entry) transactionResponse {
	return transactionResponse{
		ID:            e.ID,
		Type:          string(e.Type),
		Amount:        ledger.FormatAmount(e.Amount),
		Currency:      e.Currency,
		Status:        string(e.Status),
		BalanceBefore: ledger.FormatAmount(e.BalanceBefore),
		BalanceAfter:  ledger.FormatAmount(e.BalanceAfter),
	}
}

func validCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
