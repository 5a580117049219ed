package repository

import (
	"time"

	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"github.com/lib/pq"
)

// OutboundMessageModel is the persistence model for the outbound_messages table.
type OutboundMessageModel struct {
	ID                string            `gorm:"type:uuid;primaryKey"`
	TenantID          string            `gorm:"type:varchar(128);not null;index:idx_outbound_messages_tenant_created,priority:1"`
	ToNumber          string            `gorm:"type:varchar(20);not null"`
	FromNumber        string            `gorm:"type:varchar(20);not null"`
	Body              string            `gorm:"type:text;not null"`
	ProviderMessageID *string           `gorm:"type:varchar(255);index:idx_outbound_messages_provider_message_id"`
	Status            domain.Status     `gorm:"type:varchar(20);not null"`
	ErrorCodes        pq.StringArray    `gorm:"type:text[];not null;default:'{}'"`
	LastEventAt       *time.Time        `gorm:"type:timestamptz"`
	LastEventType     *domain.EventType `gorm:"type:varchar(20)"`
	Version           int64             `gorm:"not null;default:0"`
	CreatedAt         time.Time         `gorm:"index:idx_outbound_messages_tenant_created,priority:2"`
	UpdatedAt         time.Time
}

func (OutboundMessageModel) TableName() string {
	return "outbound_messages"
}

// TenantSecretModel is the persistence model for tenant_secrets. The payload is
// always ciphertext.
type TenantSecretModel struct {
	Ref              string `gorm:"type:varchar(255);primaryKey"`
	EncryptedPayload []byte `gorm:"type:bytea;not null"`
	Revision         int64  `gorm:"not null;default:1"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (TenantSecretModel) TableName() string {
	return "tenant_secrets"
}

// TenantSettingsModel is the persistence model for tenant_settings.
type TenantSettingsModel struct {
	TenantID          string  `gorm:"type:varchar(128);primaryKey"`
	ProviderBaseURL   *string `gorm:"type:varchar(512)"`
	ProfileID         string  `gorm:"type:varchar(128);not null;default:''"`
	SendingLocationID string  `gorm:"type:varchar(128);not null;default:''"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (TenantSettingsModel) TableName() string {
	return "tenant_settings"
}

func messageModelFromDomain(m *domain.OutboundMessage) *OutboundMessageModel {
	if m == nil {
		return nil
	}

	codes := pq.StringArray(m.ErrorCodes)
	if codes == nil {
		codes = pq.StringArray{}
	}

	return &OutboundMessageModel{
		ID:                m.ID,
		TenantID:          m.TenantID.String(),
		ToNumber:          m.ToNumber,
		FromNumber:        m.FromNumber,
		Body:              m.Body,
		ProviderMessageID: m.ProviderMessageID,
		Status:            m.Status,
		ErrorCodes:        codes,
		LastEventAt:       m.LastEventAt,
		LastEventType:     m.LastEventType,
		Version:           m.Version,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func messageModelToDomain(m *OutboundMessageModel) *domain.OutboundMessage {
	if m == nil {
		return nil
	}

	return &domain.OutboundMessage{
		ID:                m.ID,
		TenantID:          domain.TenantID(m.TenantID),
		ToNumber:          m.ToNumber,
		FromNumber:        m.FromNumber,
		Body:              m.Body,
		ProviderMessageID: m.ProviderMessageID,
		Status:            m.Status,
		ErrorCodes:        append([]string(nil), m.ErrorCodes...),
		LastEventAt:       m.LastEventAt,
		LastEventType:     m.LastEventType,
		Version:           m.Version,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func secretModelToDomain(m *TenantSecretModel) *domain.TenantSecret {
	if m == nil {
		return nil
	}

	return &domain.TenantSecret{
		Ref:              domain.SecretRef(m.Ref),
		EncryptedPayload: m.EncryptedPayload,
		Revision:         m.Revision,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func settingsModelToDomain(m *TenantSettingsModel) *domain.TenantConfig {
	if m == nil {
		return nil
	}

	return &domain.TenantConfig{
		TenantID:          domain.TenantID(m.TenantID),
		ProviderBaseURL:   m.ProviderBaseURL,
		ProfileID:         m.ProfileID,
		SendingLocationID: m.SendingLocationID,
		UpdatedAt:         m.UpdatedAt,
	}
}

func settingsModelFromDomain(c *domain.TenantConfig) *TenantSettingsModel {
	if c == nil {
		return nil
	}

	return &TenantSettingsModel{
		TenantID:          c.TenantID.String(),
		ProviderBaseURL:   c.ProviderBaseURL,
		ProfileID:         c.ProfileID,
		SendingLocationID: c.SendingLocationID,
		UpdatedAt:         c.UpdatedAt,
	}
}
