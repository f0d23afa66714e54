package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = fmt.Errorf("not found")
	ErrInvalidInput   = fmt.Errorf("invalid input")
	ErrConflict       = fmt.Errorf("conflict")
	ErrForbidden      = fmt.Errorf("forbidden")
	ErrUnknownTable   = fmt.Errorf("%w: unknown table", ErrInvalidInput)
	ErrOffline        = fmt.Errorf("offline")
	ErrNotSignedIn    = fmt.Errorf("not signed in")
	ErrSyncInProgress = fmt.Errorf("sync already in progress")
)

// IsPermanent reports whether retrying the call that produced err cannot succeed.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrForbidden)
}
