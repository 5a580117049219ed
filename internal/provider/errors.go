package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/kursadbilgin/sms-dispatch/internal/domain"
)

// ErrCircuitOpen is returned without calling the provider while a tenant's breaker is open.
var ErrCircuitOpen = errors.New("provider circuit open")

// ProviderError classifies provider call failures as transient/permanent.
type ProviderError struct {
	StatusCode int
	// Code is the provider's own error code when the response carried one.
	Code      string
	Message   string
	Transient bool
	Cause     error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 5)
	parts = append(parts, "provider error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if code := strings.TrimSpace(e.Code); code != "" {
		parts = append(parts, "code="+code)
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ProviderError) Unwrap() []error {
	if e == nil {
		return nil
	}
	errs := []error{domain.ErrTransmissionFailure}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// IsTransient reports whether an error is likely to succeed on a later attempt.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// IsTimeout reports whether err came from the send deadline expiring.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ErrorCode maps a send failure onto the code recorded on the message.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCircuitOpen):
		return domain.ErrorCodeCircuitOpen
	case IsTimeout(err):
		return domain.ErrorCodeTimeout
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		if code := strings.TrimSpace(providerErr.Code); code != "" {
			return code
		}
		if providerErr.StatusCode > 0 {
			return fmt.Sprintf("HTTP_%d", providerErr.StatusCode)
		}
	}
	return domain.ErrorCodeTransmissionFailure
}
