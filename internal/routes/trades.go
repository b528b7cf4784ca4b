package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/p2p_market/internal/escrow"
	"github.com/congo-pay/p2p_market/internal/reputation"
	"github.com/congo-pay/p2p_market/internal/resolver"
)

// RegisterTradeRoutes wires the trade lifecycle, trade disputes and ratings.
func RegisterTradeRoutes(r fiber.Router, t *escrow.Handler, d *resolver.Handler, rep *reputation.Handler, limiter fiber.Handler) {
	group := r.Group("/trades")
	group.Get("/", t.List)
	group.Post("/", limiter, t.Create)
	group.Get("/:id", t.Get)
	group.Post("/:id/join", limiter, t.Join)
	group.Post("/:id/fund-escrow", limiter, t.FundEscrow)
	group.Post("/:id/status", limiter, t.UpdateStatus)
	group.Post("/:id/disputes", limiter, d.Open)
	group.Get("/:id/dispute", d.ForTrade)
	group.Post("/:id/ratings", limiter, rep.Submit)

	r.Get("/users/:id/ratings", rep.Received)
	r.Get("/disputes/:id", d.Get)
}

// RegisterAdminRoutes wires dispute moderation and ledger reconciliation.
func RegisterAdminRoutes(r fiber.Router, adminOnly fiber.Handler, d *resolver.Handler, reconcile fiber.Handler) {
	r.Get("/disputes", adminOnly, d.List)
	r.Post("/disputes/:id/notes", adminOnly, d.AddNote)
	r.Post("/disputes/:id/resolve", adminOnly, d.Resolve)
	r.Get("/admin/ledger/:userId/reconcile", adminOnly, reconcile)
}
