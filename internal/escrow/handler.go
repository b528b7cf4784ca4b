package escrow

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/p2p_market/internal/middleware"
	"github.com/congo-pay/p2p_market/internal/trade"
)

// Handler exposes the trade lifecycle over HTTP.
type Handler struct {
	engine *Engine
}

// NewHandler constructs a trade handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

type createTradeRequest struct {
	Type          string          `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	Price         decimal.Decimal `json:"price"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"payment_method"`
}

type statusRequest struct {
	Status string `json:"status"`
}

// TradeResponse is the API shape of a trade.
type TradeResponse struct {
	ID             string     `json:"id"`
	Type           string     `json:"type"`
	Amount         string     `json:"amount"`
	Price          string     `json:"price"`
	Currency       string     `json:"currency"`
	PaymentMethod  string     `json:"payment_method,omitempty"`
	Status         string     `json:"status"`
	UserID         string     `json:"user_id"`
	CounterpartyID string     `json:"counterparty_id,omitempty"`
	EscrowFunderID string     `json:"escrow_funder_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
}

// ToResponse renders t for the API.
func ToResponse(t trade.Trade) TradeResponse {
	return TradeResponse{
		ID:             t.ID,
		Type:           string(t.Type),
		Amount:         t.Amount.String(),
		Price:          t.Price.String(),
		Currency:       t.Currency,
		PaymentMethod:  t.PaymentMethod,
		Status:         string(t.Status),
		UserID:         t.UserID,
		CounterpartyID: t.CounterpartyID,
		EscrowFunderID: t.EscrowFunderID,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
		CompletedAt:    t.CompletedAt,
		CancelledAt:    t.CancelledAt,
	}
}

// Create lists a new trade for the caller.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createTradeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	t, err := h.engine.Create(c.UserContext(), trade.CreateInput{
		Type:          trade.Type(req.Type),
		Amount:        req.Amount,
		Price:         req.Price,
		Currency:      req.Currency,
		PaymentMethod: req.PaymentMethod,
		UserID:        middleware.ActorFrom(c).UserID,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(ToResponse(t))
}

// List filters trades by the userId, status, currency and type query params.
func (h *Handler) List(c *fiber.Ctx) error {
	f := trade.Filter{
		UserID:   c.Query("userId"),
		Currency: c.Query("currency"),
		Limit:    c.QueryInt("limit", 0),
	}
	if s := c.Query("status"); s != "" {
		st, err := trade.ParseStatus(s)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		f.Status = st
	}
	if s := c.Query("type"); s != "" {
		typ, err := trade.ParseType(s)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		f.Type = typ
	}
	trades, err := h.engine.List(c.UserContext(), f, middleware.ActorFrom(c))
	if err != nil {
		return err
	}
	out := make([]TradeResponse, 0, len(trades))
	for _, t := range trades {
		out = append(out, ToResponse(t))
	}
	return c.JSON(fiber.Map{"trades": out})
}

// Get returns one trade.
func (h *Handler) Get(c *fiber.Ctx) error {
	t, err := h.engine.Get(c.UserContext(), c.Params("id"), middleware.ActorFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(ToResponse(t))
}

// Join attaches the caller as counterparty.
func (h *Handler) Join(c *fiber.Ctx) error {
	t, err := h.engine.Join(c.UserContext(), c.Params("id"), middleware.ActorFrom(c).UserID)
	if err != nil {
		return err
	}
	return c.JSON(ToResponse(t))
}

// FundEscrow locks the trade amount from the caller's balance.
func (h *Handler) FundEscrow(c *fiber.Ctx) error {
	t, err := h.engine.FundEscrow(c.UserContext(), c.Params("id"), middleware.ActorFrom(c).UserID)
	if err != nil {
		return err
	}
	return c.JSON(ToResponse(t))
}

// UpdateStatus completes or cancels a trade.
func (h *Handler) UpdateStatus(c *fiber.Ctx) error {
	var req statusRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	next, err := trade.ParseStatus(req.Status)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	t, err := h.engine.UpdateStatus(c.UserContext(), c.Params("id"), next, middleware.ActorFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(ToResponse(t))
}
