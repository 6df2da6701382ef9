package datasource

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is matched (via errors.Is) by every per-key and
	// whole-call miss this package produces.
	ErrNotFound = errors.New("record not found")

	// ErrNotInitialized is returned by every data method called before
	// Initialize. No I/O is attempted.
	ErrNotInitialized = errors.New("datasource is not initialized")
)

// NotFoundError reports that a specific identifier had no live record in
// the store. In batch results it appears positionally, so one missing key
// never fails the keys around it.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("record not found for key %q", e.Key)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// IsNotFound reports whether err is a per-key or whole-call miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
