package routes

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/p2p_market/internal/apperr"
	"github.com/congo-pay/p2p_market/internal/auth"
	"github.com/congo-pay/p2p_market/internal/dispute"
	"github.com/congo-pay/p2p_market/internal/funding"
	"github.com/congo-pay/p2p_market/internal/identity"
	"github.com/congo-pay/p2p_market/internal/ledger"
	"github.com/congo-pay/p2p_market/internal/rating"
	"github.com/congo-pay/p2p_market/internal/trade"
)

type errorKind struct {
	err    error
	status int
	code   string
}

// errorKinds is checked in order; specific kinds precede the generic
// apperr kinds they may wrap.
var errorKinds = []errorKind{
	{ledger.ErrInsufficientFunds, http.StatusUnprocessableEntity, "insufficient_funds"},
	{trade.ErrStaleState, http.StatusConflict, "stale_state"},
	{trade.ErrTerminalState, http.StatusConflict, "terminal_state"},
	{trade.ErrNotJoinable, http.StatusConflict, "not_joinable"},
	{trade.ErrInvalidTradeState, http.StatusConflict, "invalid_trade_state"},
	{dispute.ErrDuplicateDispute, http.StatusConflict, "duplicate_dispute"},
	{dispute.ErrAlreadyResolved, http.StatusConflict, "already_resolved"},
	{dispute.ErrInvalidWinner, http.StatusBadRequest, "invalid_winner"},
	{rating.ErrNotRatable, http.StatusConflict, "not_ratable"},
	{rating.ErrAlreadyRated, http.StatusConflict, "already_rated"},
	{identity.ErrUsernameTaken, http.StatusConflict, "username_taken"},
	{auth.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{auth.ErrInvalidToken, http.StatusUnauthorized, "invalid_token"},
	{funding.ErrDeclined, http.StatusUnprocessableEntity, "payment_declined"},
	{apperr.ErrForbidden, http.StatusForbidden, "forbidden"},
	{apperr.ErrNotFound, http.StatusNotFound, "not_found"},
	{apperr.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{apperr.ErrStorageUnavailable, http.StatusServiceUnavailable, "storage_unavailable"},
}

// ErrorHandler renders every error as {"error": {"code", "message"}}.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status, code, message := classify(err)
		retryable := apperr.Retryable(err)
		if status >= http.StatusInternalServerError && !retryable {
			logger.Error("unhandled error", slog.String("path", c.Path()), slog.Any("error", err))
		}
		if retryable {
			c.Set(fiber.HeaderRetryAfter, "1")
		}
		return c.Status(status).JSON(fiber.Map{
			"error": fiber.Map{"code": code, "message": message},
		})
	}
}

func classify(err error) (int, string, string) {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code, statusCode(fe.Code), fe.Message
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.status, k.code, err.Error()
		}
	}
	return http.StatusInternalServerError, "internal", "internal server error"
}

func statusCode(status int) string {
	return strings.ReplaceAll(strings.ToLower(http.StatusText(status)), " ", "_")
}
