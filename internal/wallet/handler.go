package wallet

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/p2p_market/internal/ledger"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type balanceResponse struct {
	Currency  string `json:"currency"`
	Amount    string `json:"amount"`
	USDValue  string `json:"usd_value"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type transactionResponse struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Reference string `json:"reference,omitempty"`
	Details   string `json:"details,omitempty"`
	CreatedAt string `json:"created_at"`
}

// Balances lists the caller's balances.
func (h *Handler) Balances(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	views, err := h.service.Balances(c.UserContext(), uid)
	if err != nil {
		return err
	}
	out := make([]balanceResponse, 0, len(views))
	for _, v := range views {
		resp := balanceResponse{Currency: v.Currency, Amount: v.Amount.String(), USDValue: v.USDValue.StringFixed(2)}
		if !v.UpdatedAt.IsZero() {
			resp.UpdatedAt = v.UpdatedAt.Format(timeFormat)
		}
		out = append(out, resp)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"balances":  out,
		"total_usd": TotalUSD(views).StringFixed(2),
	})
}

// Transactions lists the caller's ledger history.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	txs, err := h.service.Transactions(c.UserContext(), uid, c.QueryInt("limit", defaultTransactionLimit))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"transactions": transactionResponses(txs)})
}

// Reconcile reports ledger drift for a user (admin).
func (h *Handler) Reconcile(c *fiber.Ctx) error {
	diffs, err := h.service.Reconcile(c.UserContext(), c.Params("userId"))
	if err != nil {
		return err
	}
	out := make([]fiber.Map, 0, len(diffs))
	for _, d := range diffs {
		out = append(out, fiber.Map{
			"currency":     d.Currency,
			"balance":      d.Balance.String(),
			"transactions": d.Transactions.String(),
		})
	}
	return c.JSON(fiber.Map{"user_id": c.Params("userId"), "consistent": len(out) == 0, "discrepancies": out})
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// transactionResponses renders ledger rows for the API.
func transactionResponses(txs []ledger.Transaction) []transactionResponse {
	out := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, transactionResponse{
			ID:        tx.ID,
			Type:      string(tx.Type),
			Amount:    tx.Amount.String(),
			Currency:  tx.Currency,
			Reference: tx.Reference,
			Details:   tx.Details,
			CreatedAt: tx.CreatedAt.Format(timeFormat),
		})
	}
	return out
}
