package magentosync

import (
	"errors"
	"fmt"
)

// Error taxonomy. Configuration and validation problems are fatal for the
// invocation; RPC faults carry the remote fault code so callers can tell the
// recoverable session-expiry fault from everything else.
var (
	ErrConfiguration  = errors.New("configuration error")
	ErrValidation     = errors.New("validation error")
	ErrAuth           = errors.New("login failed")
	ErrLockTimeout    = errors.New("cannot lock order importing")
	ErrTransform      = errors.New("order transform error")
	ErrClassification = errors.New("no shipping method could be determined")
)

// RPCError is a remote fault from either platform.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("(%d) %s", e.Code, e.Message)
}

const (
	// errSessionExpired is the commerce platform's well-known fault code for
	// an expired API session.
	errSessionExpired = 5

	// errProductNotFound is the fulfillment platform's fault code for a
	// product.search that matches nothing.
	errProductNotFound = 101
)

// SessionExpired reports whether the fault is the recoverable session-expiry
// code.
func (e *RPCError) SessionExpired() bool {
	return e.Code == errSessionExpired
}

// PermanentError marks a failure that must not be retried automatically.
// Order-creation failures are data errors: retrying them risks duplicate
// submissions.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as not eligible for automatic retry.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err (or anything it wraps) was marked
// non-retryable.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
