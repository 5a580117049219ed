package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// EventType is the provider-reported delivery state carried by a callback.
type EventType string

const (
	EventSent        EventType = "sent"
	EventDelivered   EventType = "delivered"
	EventFailed      EventType = "failed"
	EventUndelivered EventType = "undelivered"
	// EventUnknown is a final report whose outcome the provider could not determine.
	EventUnknown EventType = "unknown"
)

func (e EventType) String() string { return string(e) }

func (e EventType) IsValid() bool {
	switch e {
	case EventSent, EventDelivered, EventFailed, EventUndelivered, EventUnknown:
		return true
	}
	return false
}

func (e EventType) IsTerminal() bool {
	switch e {
	case EventDelivered, EventFailed, EventUndelivered, EventUnknown:
		return true
	}
	return false
}

// Status maps the event onto the message status it produces.
func (e EventType) Status() Status {
	switch e {
	case EventSent:
		return StatusSent
	case EventDelivered:
		return StatusDelivered
	case EventFailed, EventUndelivered:
		return StatusFailed
	case EventUnknown:
		return StatusUnknown
	default:
		return ""
	}
}

// rank breaks ties between events generated at the same instant.
func (e EventType) rank() int {
	switch e {
	case EventSent:
		return 0
	case EventUnknown:
		return 1
	case EventDelivered:
		return 2
	case EventUndelivered:
		return 3
	case EventFailed:
		return 4
	default:
		return -1
	}
}

func ParseEventTypeFromString(s string) (EventType, error) {
	et := EventType(strings.ToLower(strings.TrimSpace(s)))
	if !et.IsValid() {
		return "", fmt.Errorf("%w: invalid event type %q", ErrValidation, s)
	}
	return et, nil
}

// DeliveryExtra holds provider metadata that does not affect reconciliation.
type DeliveryExtra struct {
	SegmentCount int
	MediaCount   int
}

// DeliveryEvent is a normalized provider callback. It is never persisted on its own.
type DeliveryEvent struct {
	MessageID         string
	EventType         EventType
	ErrorCodes        []string
	GeneratedAt       time.Time
	ProfileID         string
	SendingLocationID string
	Extra             DeliveryExtra
}

func (e DeliveryEvent) Validate() error {
	if strings.TrimSpace(e.MessageID) == "" {
		return fmt.Errorf("%w: messageId is required", ErrValidation)
	}
	if !e.EventType.IsValid() {
		return fmt.Errorf("%w: invalid event type %q", ErrValidation, e.EventType)
	}
	if e.GeneratedAt.IsZero() {
		return fmt.Errorf("%w: generatedAt is required", ErrValidation)
	}
	return nil
}

// OrderingPolicy decides how out-of-order events for one message are resolved.
type OrderingPolicy string

const (
	// OrderingTerminalPrecedence accepts a terminal event over a non-terminal one even
	// when its generatedAt is older, which absorbs provider clock skew.
	OrderingTerminalPrecedence OrderingPolicy = "terminal_precedence"
	// OrderingTimestamp applies events strictly by generatedAt.
	OrderingTimestamp OrderingPolicy = "timestamp"
)

func (p OrderingPolicy) IsValid() bool {
	return p == OrderingTerminalPrecedence || p == OrderingTimestamp
}

func ParseOrderingPolicy(s string) (OrderingPolicy, error) {
	trimmed := strings.ToLower(strings.TrimSpace(s))
	if trimmed == "" {
		return OrderingTerminalPrecedence, nil
	}
	p := OrderingPolicy(trimmed)
	if !p.IsValid() {
		return "", fmt.Errorf("%w: invalid ordering policy %q", ErrValidation, s)
	}
	return p, nil
}

type eventKey struct {
	terminal bool
	at       time.Time
	rank     int
}

func keyOf(eventType EventType, at time.Time) eventKey {
	return eventKey{terminal: eventType.IsTerminal(), at: at, rank: eventType.rank()}
}

// after reports whether k sorts strictly after other by (generatedAt, rank).
func (k eventKey) after(other eventKey) bool {
	if !k.at.Equal(other.at) {
		return k.at.After(other.at)
	}
	return k.rank > other.rank
}

// Reconcile applies ev to msg under policy. It returns the next message state and
// whether anything changed; an event that changes nothing leaves msg untouched.
//
// Status and lastEvent* follow the greatest event seen so far. errorCodes are the
// union over every event, including ones that lose the ordering, so the final state
// is the same whatever the arrival order.
func Reconcile(msg OutboundMessage, ev DeliveryEvent, policy OrderingPolicy) (OutboundMessage, bool) {
	if !ev.EventType.IsValid() {
		return msg, false
	}
	if supersedes(msg, ev, policy) {
		return accept(msg, ev), true
	}
	return mergeCodes(msg, ev.ErrorCodes)
}

// supersedes reports whether ev moves the message's status and lastEvent*.
func supersedes(msg OutboundMessage, ev DeliveryEvent, policy OrderingPolicy) bool {
	incoming := keyOf(ev.EventType, ev.GeneratedAt)

	if msg.LastEventType == nil || msg.LastEventAt == nil {
		// Terminal by dispatch (e.g. transmission failure) never moves back to Sent.
		return !msg.Status.IsTerminal() || incoming.terminal
	}

	current := keyOf(*msg.LastEventType, *msg.LastEventAt)
	if current.terminal && !incoming.terminal {
		return false
	}
	if policy != OrderingTimestamp && incoming.terminal && !current.terminal {
		return true
	}
	return incoming.after(current)
}

func mergeCodes(msg OutboundMessage, codes []string) (OutboundMessage, bool) {
	merged := MergeErrorCodes(msg.ErrorCodes, codes)
	if slices.Equal(merged, MergeErrorCodes(msg.ErrorCodes, nil)) {
		return msg, false
	}
	next := msg
	next.ErrorCodes = merged
	return next, true
}

func accept(msg OutboundMessage, ev DeliveryEvent) OutboundMessage {
	next := msg
	next.Status = ev.EventType.Status()
	next.ErrorCodes = MergeErrorCodes(msg.ErrorCodes, ev.ErrorCodes)
	at := ev.GeneratedAt.UTC()
	next.LastEventAt = &at
	eventType := ev.EventType
	next.LastEventType = &eventType
	return next
}
