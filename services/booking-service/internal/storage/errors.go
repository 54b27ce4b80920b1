package storage

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/conflict"
)

const (
	codeUniqueViolation      = "23505"
	codeExclusionViolation   = "23P01"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// IsConflict reports an appointments_no_overlap violation.
func IsConflict(err error) bool {
	return pgCode(err) == codeExclusionViolation
}

// IsUniqueViolation reports a duplicate primary or unique key.
func IsUniqueViolation(err error) bool {
	return pgCode(err) == codeUniqueViolation
}

func IsSerializationFailure(err error) bool {
	code := pgCode(err)
	return code == codeSerializationFailure || code == codeDeadlockDetected
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// mapTxError turns lost races into booking.ErrTxAborted so the service retries them.
func mapTxError(err error) error {
	if err == nil {
		return nil
	}
	if IsConflict(err) || IsSerializationFailure(err) {
		return fmt.Errorf("%w: %v", booking.ErrTxAborted, err)
	}
	return err
}

func alreadyExists(what, id string, err error) error {
	if IsUniqueViolation(err) {
		return fmt.Errorf("%s %s: %w", what, id, conflict.ErrAlreadyExists)
	}
	return err
}

func notFound(what, id string, err error) error {
	if IsNotFound(err) {
		return fmt.Errorf("%s %s: %w", what, id, conflict.ErrNotFound)
	}
	return err
}
