package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/sms-dispatch/internal/domain"
)

// SyncJobMessage is the broker payload read by the external sync worker.
type SyncJobMessage struct {
	JobID            string          `json:"jobId"`
	TenantID         string          `json:"tenantId"`
	ExternalSystemID string          `json:"externalSystemId"`
	Kind             domain.SyncKind `json:"kind"`
	CorrelationID    string          `json:"correlationId,omitempty"`
	EnqueuedAt       time.Time       `json:"enqueuedAt"`
}

func NewSyncJobMessage(job domain.SyncJob, correlationID string) SyncJobMessage {
	return SyncJobMessage{
		JobID:            job.ID,
		TenantID:         job.TenantID.String(),
		ExternalSystemID: job.ExternalSystemID,
		Kind:             job.Kind,
		CorrelationID:    correlationID,
		EnqueuedAt:       job.EnqueuedAt.UTC(),
	}
}

func (m SyncJobMessage) Validate() error {
	if strings.TrimSpace(m.JobID) == "" {
		return fmt.Errorf("jobId is required")
	}
	if strings.TrimSpace(m.TenantID) == "" {
		return fmt.Errorf("tenantId is required")
	}
	if strings.TrimSpace(m.ExternalSystemID) == "" {
		return fmt.Errorf("externalSystemId is required")
	}
	if !m.Kind.IsValid() {
		return fmt.Errorf("invalid sync kind %q", m.Kind)
	}
	return nil
}

// Queue is where the message is routed.
func (m SyncJobMessage) Queue() string {
	return QueueName(m.Kind)
}
