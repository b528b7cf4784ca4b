package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/p2p_market/internal/apperr"
	"github.com/congo-pay/p2p_market/internal/logging"
	"github.com/congo-pay/p2p_market/internal/trade"
)

func TestErrorHandlerStatusAndRetryAfter(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logging.Discard())})
	app.Get("/busy", func(c *fiber.Ctx) error {
		return fmt.Errorf("begin tx: %w", apperr.ErrStorageUnavailable)
	})
	app.Get("/down", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusServiceUnavailable, "maintenance")
	})
	app.Get("/conflict", func(c *fiber.Ctx) error {
		return fmt.Errorf("%w: trade has no counterparty", trade.ErrInvalidTradeState)
	})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("unexpected")
	})

	cases := []struct {
		path       string
		status     int
		code       string
		retryAfter string
	}{
		{"/busy", fiber.StatusServiceUnavailable, "storage_unavailable", "1"},
		{"/down", fiber.StatusServiceUnavailable, "service_unavailable", ""},
		{"/conflict", fiber.StatusConflict, "invalid_trade_state", ""},
		{"/boom", fiber.StatusInternalServerError, "internal", ""},
	}
	for _, tc := range cases {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, tc.path, nil))
		if err != nil {
			t.Fatalf("%s: %v", tc.path, err)
		}
		var body struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("%s: decode: %v", tc.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.status || body.Error.Code != tc.code {
			t.Fatalf("%s: got %d %q, want %d %q", tc.path, resp.StatusCode, body.Error.Code, tc.status, tc.code)
		}
		if got := resp.Header.Get(fiber.HeaderRetryAfter); got != tc.retryAfter {
			t.Fatalf("%s: Retry-After = %q, want %q", tc.path, got, tc.retryAfter)
		}
	}
}
