package auth

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/p2p_market/internal/identity"
)

// Handler exposes register, login, refresh, logout and profile endpoints.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	UserID  string `json:"user_id"`
	IsAdmin bool   `json:"is_admin"`
	TokenPair
}

// Register creates an account.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req credentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	user, err := h.svc.Register(c.UserContext(), RegisterInput{Username: req.Username, Password: req.Password})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(profileResponse(user))
}

// Login validates credentials and returns a token pair.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req credentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	user, pair, err := h.svc.Login(c.UserContext(), req.Username, req.Password)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(loginResponse{UserID: user.ID, IsAdmin: user.IsAdmin, TokenPair: pair})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh issues a new token pair from a refresh token.
func (h *Handler) Refresh(c *fiber.Ctx) error {
	var req refreshRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	pair, err := h.svc.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(pair)
}

// Logout invalidates the caller's existing tokens.
func (h *Handler) Logout(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if err := h.svc.Logout(c.UserContext(), uid); err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "logged_out"})
}

// Me returns the caller's profile and reputation.
func (h *Handler) Me(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	user, err := h.svc.Profile(c.UserContext(), uid)
	if err != nil {
		return err
	}
	return c.JSON(profileResponse(user))
}

func profileResponse(u identity.User) fiber.Map {
	return fiber.Map{
		"user_id":          u.ID,
		"username":         u.Username,
		"is_admin":         u.IsAdmin,
		"completed_trades": u.CompletedTrades,
		"disputes_lost":    u.DisputesLost,
		"success_rate":     u.SuccessRate.StringFixed(2),
		"rating":           u.Rating.StringFixed(2),
		"rating_count":     u.RatingCount,
		"created_at":       u.CreatedAt,
	}
}

// Profile returns another user's public reputation.
func (h *Handler) Profile(c *fiber.Ctx) error {
	user, err := h.svc.Profile(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	out := profileResponse(user)
	delete(out, "is_admin")
	return c.JSON(out)
}
