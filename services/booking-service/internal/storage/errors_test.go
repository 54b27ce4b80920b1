package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/conflict"
)

func TestMapTxError(t *testing.T) {
	for _, code := range []string{"23P01", "40001", "40P01"} {
		err := mapTxError(fmt.Errorf("exec: %w", &pgconn.PgError{Code: code}))
		if !errors.Is(err, booking.ErrTxAborted) {
			t.Fatalf("code %s: expected ErrTxAborted, got %v", code, err)
		}
	}

	other := &pgconn.PgError{Code: "23505"}
	if err := mapTxError(other); errors.Is(err, booking.ErrTxAborted) {
		t.Fatalf("unique violation must not be retried: %v", err)
	}
	if mapTxError(nil) != nil {
		t.Fatal("expected nil")
	}
}

func TestNotFound(t *testing.T) {
	if err := notFound("staff", "s1", pgx.ErrNoRows); !errors.Is(err, conflict.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	boom := errors.New("boom")
	if err := notFound("staff", "s1", boom); err != boom {
		t.Fatalf("expected passthrough, got %v", err)
	}
	if notFound("staff", "s1", nil) != nil {
		t.Fatal("expected nil")
	}
}

func TestAlreadyExists(t *testing.T) {
	dup := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	if err := alreadyExists("staff", "s1", dup); !errors.Is(err, conflict.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	boom := &pgconn.PgError{Code: "23503"}
	if err := alreadyExists("staff", "s1", boom); errors.Is(err, conflict.ErrAlreadyExists) {
		t.Fatalf("foreign key violation is not a duplicate: %v", err)
	}
}

func TestClockRoundTrip(t *testing.T) {
	for _, c := range []availability.ClockTime{0, availability.Clock(9, 30), availability.Clock(24, 0)} {
		if got := clockFromPG(clockToPG(c)); got != c {
			t.Fatalf("round trip %v -> %v", c, got)
		}
	}
}
