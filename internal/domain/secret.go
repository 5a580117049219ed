package domain

import (
	"fmt"
	"strings"
	"time"
)

// PurposeSMSAPIKey is the secret purpose holding a tenant's provider API key.
const PurposeSMSAPIKey = "sms-api-key"

// SecretRef addresses a tenant secret as "{tenantId}:{purpose}".
type SecretRef string

func NewSecretRef(tenantID TenantID, purpose string) (SecretRef, error) {
	if err := tenantID.Validate(); err != nil {
		return "", err
	}
	purpose = strings.TrimSpace(purpose)
	if purpose == "" {
		return "", fmt.Errorf("%w: secret purpose is required", ErrValidation)
	}
	return SecretRef(strings.TrimSpace(tenantID.String()) + ":" + purpose), nil
}

func (r SecretRef) String() string { return string(r) }

func (r SecretRef) Validate() error {
	tenant, purpose, ok := strings.Cut(string(r), ":")
	if !ok || strings.TrimSpace(tenant) == "" || strings.TrimSpace(purpose) == "" {
		return fmt.Errorf("%w: secret ref must be {tenantId}:{purpose}", ErrValidation)
	}
	return nil
}

// TenantSecret is the encrypted row persisted for a SecretRef.
type TenantSecret struct {
	Ref              SecretRef
	EncryptedPayload []byte
	Revision         int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SecretInfo describes a stored secret without its payload.
type SecretInfo struct {
	Ref       SecretRef
	Revision  int64
	UpdatedAt time.Time
}

// VersionToken changes every time the secret is rewritten.
func (i SecretInfo) VersionToken() string {
	return fmt.Sprintf("%d.%d", i.UpdatedAt.UTC().UnixNano(), i.Revision)
}

const redacted = "[REDACTED]"

// SecretValue is a decrypted credential. Every formatting path prints a placeholder;
// Reveal is the only way to read it.
type SecretValue struct {
	value string
}

func NewSecretValue(v string) SecretValue { return SecretValue{value: v} }

func (s SecretValue) Reveal() string { return s.value }

func (s SecretValue) IsEmpty() bool { return s.value == "" }

func (s SecretValue) String() string { return redacted }

func (s SecretValue) GoString() string { return redacted }

func (s SecretValue) MarshalText() ([]byte, error) { return []byte(redacted), nil }
