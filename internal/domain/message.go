package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Status represents the lifecycle state of an outbound message.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusFailed    Status = "FAILED"
	// StatusUnknown follows a provider report whose final outcome is indeterminate.
	StatusUnknown Status = "UNKNOWN"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusSent, StatusDelivered, StatusFailed, StatusUnknown:
		return true
	}
	return false
}

// IsTerminal reports whether no further legitimate transition is expected.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusFailed, StatusUnknown:
		return true
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Error codes recorded on messages that failed before or during transmission.
const (
	ErrorCodeTimeout             = "Timeout"
	ErrorCodeTransmissionFailure = "TransmissionFailure"
	ErrorCodeCircuitOpen         = "CircuitOpen"
	ErrorCodeRateLimited         = "RateLimited"
)

const (
	MaxBodyLength   = 1600
	MaxNumberLength = 20
)

// OutboundDraft is the caller-supplied part of a message before it is persisted.
type OutboundDraft struct {
	ToNumber   string
	FromNumber string
	Body       string
}

func (d *OutboundDraft) Normalize() {
	d.ToNumber = strings.TrimSpace(d.ToNumber)
	d.FromNumber = strings.TrimSpace(d.FromNumber)
	d.Body = strings.TrimSpace(d.Body)
}

func (d OutboundDraft) Validate() error {
	if d.ToNumber == "" {
		return fmt.Errorf("%w: toNumber is required", ErrValidation)
	}
	if d.FromNumber == "" {
		return fmt.Errorf("%w: fromNumber is required", ErrValidation)
	}
	if d.Body == "" {
		return fmt.Errorf("%w: body is required", ErrValidation)
	}
	if len(d.ToNumber) > MaxNumberLength || len(d.FromNumber) > MaxNumberLength {
		return fmt.Errorf("%w: phone numbers must be at most %d characters", ErrValidation, MaxNumberLength)
	}

	bodyLen := len([]rune(d.Body))
	if bodyLen > MaxBodyLength {
		return fmt.Errorf("%w: body exceeds %d characters (got %d)", ErrValidation, MaxBodyLength, bodyLen)
	}
	return nil
}

// OutboundMessage is a message handed to a tenant's provider and the state reconciled from its callbacks.
type OutboundMessage struct {
	ID                string
	TenantID          TenantID
	ToNumber          string
	FromNumber        string
	Body              string
	ProviderMessageID *string
	Status            Status
	ErrorCodes        []string
	LastEventAt       *time.Time
	LastEventType     *EventType
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (m *OutboundMessage) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("%w: message id is required", ErrValidation)
	}
	if err := m.TenantID.Validate(); err != nil {
		return err
	}
	if !m.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, m.Status)
	}
	return OutboundDraft{ToNumber: m.ToNumber, FromNumber: m.FromNumber, Body: m.Body}.Validate()
}

// MergeErrorCodes returns the sorted set union of current and incoming.
func MergeErrorCodes(current []string, incoming []string) []string {
	merged := make([]string, 0, len(current)+len(incoming))
	seen := make(map[string]struct{}, len(current)+len(incoming))
	for _, list := range [][]string{current, incoming} {
		for _, code := range list {
			code = strings.TrimSpace(code)
			if code == "" {
				continue
			}
			if _, ok := seen[code]; ok {
				continue
			}
			seen[code] = struct{}{}
			merged = append(merged, code)
		}
	}
	sort.Strings(merged)
	return merged
}
