package resolver

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/p2p_market/internal/dispute"
	"github.com/congo-pay/p2p_market/internal/escrow"
	"github.com/congo-pay/p2p_market/internal/middleware"
)

// Handler exposes dispute endpoints.
type Handler struct {
	resolver *Resolver
}

func NewHandler(r *Resolver) *Handler {
	return &Handler{resolver: r}
}

type openRequest struct {
	Reason      string `json:"reason"`
	Description string `json:"description"`
}

type noteRequest struct {
	Content string `json:"content"`
}

type resolveRequest struct {
	Resolution   string `json:"resolution"`
	WinnerUserID string `json:"winnerUserId"`
}

type disputeResponse struct {
	ID          string         `json:"id"`
	TradeID     string         `json:"trade_id"`
	UserID      string         `json:"user_id"`
	Reason      string         `json:"reason"`
	Description string         `json:"description,omitempty"`
	Status      string         `json:"status"`
	Resolution  string         `json:"resolution,omitempty"`
	WinnerID    string         `json:"winner_id,omitempty"`
	ResolvedBy  string         `json:"resolved_by,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
	Notes       []noteResponse `json:"notes,omitempty"`
}

type noteResponse struct {
	ID        string    `json:"id"`
	AdminID   string    `json:"admin_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func toDisputeResponse(d dispute.Dispute, notes []dispute.AdminNote) disputeResponse {
	out := disputeResponse{
		ID:          d.ID,
		TradeID:     d.TradeID,
		UserID:      d.UserID,
		Reason:      d.Reason,
		Description: d.Description,
		Status:      string(d.Status),
		Resolution:  string(d.Resolution),
		WinnerID:    d.WinnerID,
		ResolvedBy:  d.ResolvedBy,
		CreatedAt:   d.CreatedAt,
		ResolvedAt:  d.ResolvedAt,
	}
	for _, n := range notes {
		out.Notes = append(out.Notes, toNoteResponse(n))
	}
	return out
}

func toNoteResponse(n dispute.AdminNote) noteResponse {
	return noteResponse{ID: n.ID, AdminID: n.AdminID, Content: n.Content, CreatedAt: n.CreatedAt}
}

// Open raises a dispute on the trade in the path.
func (h *Handler) Open(c *fiber.Ctx) error {
	var req openRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	d, err := h.resolver.Open(c.UserContext(), OpenInput{
		TradeID:     c.Params("id"),
		UserID:      middleware.ActorFrom(c).UserID,
		Reason:      req.Reason,
		Description: req.Description,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toDisputeResponse(d, nil))
}

// ForTrade returns the dispute attached to the trade in the path.
func (h *Handler) ForTrade(c *fiber.Ctx) error {
	detail, err := h.resolver.GetByTrade(c.UserContext(), c.Params("id"), middleware.ActorFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(toDisputeResponse(detail.Dispute, detail.Notes))
}

// Get returns a dispute with its notes.
func (h *Handler) Get(c *fiber.Ctx) error {
	detail, err := h.resolver.Get(c.UserContext(), c.Params("id"), middleware.ActorFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(toDisputeResponse(detail.Dispute, detail.Notes))
}

// List returns disputes, optionally filtered by ?status=.
func (h *Handler) List(c *fiber.Ctx) error {
	var status dispute.Status
	if s := c.Query("status"); s != "" {
		st, err := dispute.ParseStatus(s)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		status = st
	}
	list, err := h.resolver.List(c.UserContext(), status)
	if err != nil {
		return err
	}
	out := make([]disputeResponse, 0, len(list))
	for _, d := range list {
		out = append(out, toDisputeResponse(d, nil))
	}
	return c.JSON(fiber.Map{"disputes": out})
}

// AddNote appends an admin note.
func (h *Handler) AddNote(c *fiber.Ctx) error {
	var req noteRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	note, err := h.resolver.AddNote(c.UserContext(), c.Params("id"), middleware.ActorFrom(c), req.Content)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toNoteResponse(note))
}

// Resolve settles the dispute in favour of winnerUserId.
func (h *Handler) Resolve(c *fiber.Ctx) error {
	var req resolveRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	out, err := h.resolver.Resolve(c.UserContext(), middleware.ActorFrom(c), ResolveInput{
		DisputeID:  c.Params("id"),
		Resolution: req.Resolution,
		WinnerID:   req.WinnerUserID,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"dispute": toDisputeResponse(out.Dispute, []dispute.AdminNote{out.Note}),
		"trade":   escrow.ToResponse(out.Trade),
	})
}
