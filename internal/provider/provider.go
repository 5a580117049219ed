package provider

import (
	"context"

	"github.com/kursadbilgin/sms-dispatch/internal/domain"
)

// Client is the send capability bound to one tenant's credentials and endpoint.
// Instances are immutable; a credential rotation produces a new Client.
type Client interface {
	Send(ctx context.Context, msg domain.OutboundMessage) (*SendResult, error)
	BaseURL() string
}

// SendResult stores provider call metadata for audit and persistence.
type SendResult struct {
	StatusCode int
	Body       string
	MessageID  string
}
