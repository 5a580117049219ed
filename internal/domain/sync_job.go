package domain

import (
	"fmt"
	"strings"
	"time"
)

// SyncKind names a background refresh against an external system.
type SyncKind string

const (
	SyncRefreshLists           SyncKind = "REFRESH_LISTS"
	SyncRefreshSurveyQuestions SyncKind = "REFRESH_SURVEY_QUESTIONS"
)

func (k SyncKind) String() string { return string(k) }

func (k SyncKind) IsValid() bool {
	switch k {
	case SyncRefreshLists, SyncRefreshSurveyQuestions:
		return true
	}
	return false
}

// SyncKinds lists every job a refresh enqueues, in publish order.
func SyncKinds() []SyncKind {
	return []SyncKind{SyncRefreshLists, SyncRefreshSurveyQuestions}
}

// SyncJob is enqueued for an external worker; this service never consumes it.
type SyncJob struct {
	ID               string
	TenantID         TenantID
	ExternalSystemID string
	Kind             SyncKind
	EnqueuedAt       time.Time
}

func (j SyncJob) Validate() error {
	if strings.TrimSpace(j.ID) == "" {
		return fmt.Errorf("%w: sync job id is required", ErrValidation)
	}
	if err := j.TenantID.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(j.ExternalSystemID) == "" {
		return fmt.Errorf("%w: external system id is required", ErrValidation)
	}
	if !j.Kind.IsValid() {
		return fmt.Errorf("%w: invalid sync kind %q", ErrValidation, j.Kind)
	}
	return nil
}

// SyncJobHandle is returned to the caller once a job is durably enqueued.
type SyncJobHandle struct {
	JobID string
	Kind  SyncKind
	Queue string
}
