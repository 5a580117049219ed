package domain

import (
	"fmt"
	"strings"
	"time"
)

// TenantID identifies an organization whose messages and credentials are isolated from other tenants.
type TenantID string

func (t TenantID) String() string { return string(t) }

func (t TenantID) Validate() error {
	trimmed := strings.TrimSpace(string(t))
	if trimmed == "" {
		return fmt.Errorf("%w: tenant id is required", ErrValidation)
	}
	if strings.Contains(trimmed, ":") {
		return fmt.Errorf("%w: tenant id must not contain ':'", ErrValidation)
	}
	return nil
}

func ParseTenantID(s string) (TenantID, error) {
	id := TenantID(strings.TrimSpace(s))
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}

// TenantConfig is the per-tenant provider configuration used to build a send client.
type TenantConfig struct {
	TenantID          TenantID
	ProviderBaseURL   *string
	ProfileID         string
	SendingLocationID string
	UpdatedAt         time.Time
}

// EndpointOr returns the tenant's endpoint override or fallback when none is set.
func (c TenantConfig) EndpointOr(fallback string) string {
	if c.ProviderBaseURL != nil {
		if trimmed := strings.TrimSpace(*c.ProviderBaseURL); trimmed != "" {
			return trimmed
		}
	}
	return strings.TrimSpace(fallback)
}
