package domain

import (
	"errors"
	"fmt"
)

// ErrEmailTaken is returned when a user is created or renamed onto an email
// that another account already uses. Emails compare case-insensitively.
var ErrEmailTaken = errors.New("email already registered")

// ErrNotFound reports a missing record.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

// IsNotFound reports whether err wraps an ErrNotFound.
func IsNotFound(err error) bool {
	var target ErrNotFound
	return errors.As(err, &target)
}
