package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/p2p_market/internal/funding"
	"github.com/congo-pay/p2p_market/internal/wallet"
)

// RegisterWalletRoutes wires balance, history, deposit and withdrawal endpoints.
func RegisterWalletRoutes(r fiber.Router, w *wallet.Handler, f *funding.Handler, limiter fiber.Handler) {
	group := r.Group("/wallet")
	group.Get("/balances", w.Balances)
	group.Get("/transactions", w.Transactions)
	group.Post("/deposit", limiter, f.Deposit)
	group.Post("/withdraw", limiter, f.Withdraw)
}
