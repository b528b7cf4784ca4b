package funding

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// Handler exposes HTTP endpoints for deposits and withdrawals.
type Handler struct {
	service *Service
}

// NewHandler constructs a funding handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type depositRequest struct {
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

type withdrawRequest struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
	Address  string          `json:"address"`
}

type fundingResponse struct {
	TransactionID    string `json:"transaction_id"`
	Currency         string `json:"currency"`
	Balance          string `json:"balance"`
	GatewayReference string `json:"gateway_reference"`
}

// Deposit credits the caller's balance.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	var req depositRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)
	result, err := h.service.Deposit(c.UserContext(), DepositInput{
		UserID: uid, Currency: req.Currency, Amount: req.Amount, Reference: req.Reference,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toResponse(result))
}

// Withdraw debits the caller's balance.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	var req withdrawRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)
	result, err := h.service.Withdraw(c.UserContext(), WithdrawInput{
		UserID: uid, Currency: req.Currency, Amount: req.Amount, Address: req.Address,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toResponse(result))
}

func toResponse(result Result) fundingResponse {
	return fundingResponse{
		TransactionID:    result.TransactionID,
		Currency:         result.Currency,
		Balance:          result.Balance.String(),
		GatewayReference: result.GatewayReference,
	}
}
