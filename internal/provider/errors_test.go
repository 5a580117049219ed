package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kursadbilgin/sms-dispatch/internal/domain"
)

func TestErrorCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "deadline", err: fmt.Errorf("send: %w", context.DeadlineExceeded), want: domain.ErrorCodeTimeout},
		{name: "domain timeout", err: &domain.TimeoutError{}, want: domain.ErrorCodeTimeout},
		{name: "circuit open", err: fmt.Errorf("%w: open", ErrCircuitOpen), want: domain.ErrorCodeCircuitOpen},
		{name: "provider code", err: &ProviderError{StatusCode: 400, Code: "30007"}, want: "30007"},
		{name: "provider status", err: &ProviderError{StatusCode: 503}, want: "HTTP_503"},
		{name: "network", err: &ProviderError{Cause: errors.New("connection refused")}, want: domain.ErrorCodeTransmissionFailure},
		{name: "other", err: errors.New("boom"), want: domain.ErrorCodeTransmissionFailure},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := ErrorCode(tt.err); got != tt.want {
				t.Fatalf("ErrorCode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	if IsTransient(nil) {
		t.Fatal("nil should not be transient")
	}
	if !IsTransient(context.DeadlineExceeded) {
		t.Fatal("deadline should be transient")
	}
	if IsTransient(fmt.Errorf("wrapped: %w", context.Canceled)) {
		t.Fatal("cancellation should not be transient")
	}
	if IsTransient(&ProviderError{StatusCode: 400}) {
		t.Fatal("400 should be permanent")
	}
}

func TestProviderErrorString(t *testing.T) {
	t.Parallel()

	err := &ProviderError{StatusCode: 400, Code: "21211", Message: "invalid to", Cause: errors.New("x")}
	want := "provider error: status=400: code=21211: invalid to: x"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}
