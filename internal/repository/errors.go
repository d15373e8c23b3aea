package repository

import (
	"errors"
	"fmt"

	"github.com/noah-isme/sma-admission-api/pkg/database"
)

var (
	// ErrUniqueViolation marks an insert rejected by a unique constraint.
	ErrUniqueViolation = errors.New("unique constraint violation")
	// ErrLockTimeout marks a lock wait that exceeded lock_timeout, a deadlock or a serialization failure.
	ErrLockTimeout = errors.New("row lock not acquired")
)

// translate wraps err with op and tags the PostgreSQL failures callers branch on.
func translate(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case database.IsUniqueViolation(err):
		return fmt.Errorf("%s: %w: %w", op, ErrUniqueViolation, err)
	case database.IsLockFailure(err):
		return fmt.Errorf("%s: %w: %w", op, ErrLockTimeout, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
