package infra

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/congo-pay/p2p_market/internal/apperr"
)

func TestClassifyTransientErrors(t *testing.T) {
	cases := []error{
		context.DeadlineExceeded,
		fmt.Errorf("query: %w", context.DeadlineExceeded),
		&pgconn.PgError{Code: pgSerializationFailure},
		&pgconn.PgError{Code: pgDeadlockDetected},
	}
	for _, err := range cases {
		if got := Classify(err); !errors.Is(got, apperr.ErrStorageUnavailable) {
			t.Fatalf("expected %v to be classified as unavailable, got %v", err, got)
		}
	}
}

func TestClassifyLeavesDomainErrors(t *testing.T) {
	domain := errors.New("insufficient funds")
	if got := Classify(domain); got != domain {
		t.Fatalf("expected domain error unchanged, got %v", got)
	}
	unique := &pgconn.PgError{Code: pgUniqueViolation}
	if got := Classify(unique); errors.Is(got, apperr.ErrStorageUnavailable) {
		t.Fatal("unique violation must not be retryable")
	}
	if !IsUniqueViolation(fmt.Errorf("insert: %w", unique)) {
		t.Fatal("expected wrapped unique violation to be detected")
	}
	if Classify(nil) != nil {
		t.Fatal("nil must stay nil")
	}
}

func TestParseID(t *testing.T) {
	if _, err := ParseID("trade_id", "not-a-uuid"); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := ParseID("trade_id", "6f1c2a4e-3c1b-4f7a-9d2e-1a2b3c4d5e6f"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewRedisClientRejectsBadURL(t *testing.T) {
	if _, err := NewRedisClient(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty url")
	}
	if _, err := NewRedisClient(context.Background(), "not-a-url"); err == nil {
		t.Fatalf("expected error for malformed url")
	}
}
