package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/p2p_market/internal/metrics"
)

// Metrics records request counts and latency labelled by route pattern. It
// must wrap Audit so errors have already been rendered.
func Metrics(m *metrics.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		m.ObserveRequest(c.Method(), c.Route().Path, strconv.Itoa(c.Response().StatusCode()), time.Since(start))
		return err
	}
}
