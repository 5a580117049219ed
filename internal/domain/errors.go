package domain

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")

	// ErrCredentialsMissing means the tenant has no provider credential configured.
	ErrCredentialsMissing = errors.New("credentials missing")
	// ErrDecryptionFailure is a configuration-level failure: the master key or key
	// version does not match the stored payload, or the payload is corrupted.
	ErrDecryptionFailure = errors.New("decryption failure")

	ErrTransmissionFailure = errors.New("transmission failure")
	// ErrTimeout is a TransmissionFailure subtype; errors wrapping it also match ErrTransmissionFailure.
	ErrTimeout = errors.New("timeout")

	ErrMalformedCallback = errors.New("malformed callback")
	ErrUnknownMessage    = errors.New("unknown message")
	ErrStaleEvent        = errors.New("stale or duplicate event")
)

// TimeoutError carries both the timeout and transmission-failure classifications.
type TimeoutError struct {
	Cause error
}

func (e *TimeoutError) Error() string {
	if e == nil || e.Cause == nil {
		return "timeout"
	}
	return "timeout: " + e.Cause.Error()
}

func (e *TimeoutError) Unwrap() []error {
	if e == nil {
		return nil
	}
	errs := []error{ErrTimeout, ErrTransmissionFailure}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}
