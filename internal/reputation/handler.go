package reputation

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/p2p_market/internal/middleware"
	"github.com/congo-pay/p2p_market/internal/rating"
)

// Handler exposes rating endpoints.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type submitRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

type ratingResponse struct {
	ID        string    `json:"id"`
	TradeID   string    `json:"trade_id"`
	RaterID   string    `json:"rater_id"`
	RatedID   string    `json:"rated_id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toResponse(r rating.Rating) ratingResponse {
	return ratingResponse{
		ID:        r.ID,
		TradeID:   r.TradeID,
		RaterID:   r.RaterID,
		RatedID:   r.RatedID,
		Rating:    r.Score,
		Comment:   r.Comment,
		CreatedAt: r.CreatedAt,
	}
}

// Submit rates the other party of a completed trade.
func (h *Handler) Submit(c *fiber.Ctx) error {
	var req submitRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	r, err := h.service.Submit(c.UserContext(), SubmitInput{
		TradeID: c.Params("id"),
		RaterID: middleware.ActorFrom(c).UserID,
		Score:   req.Rating,
		Comment: req.Comment,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toResponse(r))
}

// Received lists the ratings a user has been given.
func (h *Handler) Received(c *fiber.Ctx) error {
	list, err := h.service.Ratings(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	out := make([]ratingResponse, 0, len(list))
	for _, r := range list {
		out = append(out, toResponse(r))
	}
	summary := rating.Summarize(list)
	return c.JSON(fiber.Map{
		"ratings": out,
		"average": summary.Average.StringFixed(2),
		"count":   summary.Count,
	})
}
