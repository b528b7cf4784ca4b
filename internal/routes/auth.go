package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/p2p_market/internal/auth"
)

// RegisterAuthRoutes wires the public identity endpoints.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler, limiter fiber.Handler) {
	r.Post("/identity/register", limiter, h.Register)
	group := r.Group("/auth")
	group.Post("/login", limiter, h.Login)
	group.Post("/refresh", limiter, h.Refresh)
}

// RegisterProfileRoutes wires the authenticated identity endpoints.
func RegisterProfileRoutes(r fiber.Router, h *auth.Handler) {
	r.Post("/auth/logout", h.Logout)
	r.Get("/me", h.Me)
	r.Get("/users/:id", h.Profile)
}
