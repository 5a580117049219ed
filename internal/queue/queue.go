package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/sms-dispatch/internal/domain"
)

// Publisher enqueues sync jobs. PublishBatch is all-or-nothing: either every
// message is routed or none is.
type Publisher interface {
	PublishBatch(ctx context.Context, msgs []SyncJobMessage) error
	Close() error
}

const queuePrefix = "sync"

// QueueName returns the work queue for a sync kind, e.g. sync.lists.
func QueueName(kind domain.SyncKind) string {
	return fmt.Sprintf("%s.%s", queuePrefix, routingKey(kind))
}

// DLQName returns the dead-letter queue for a sync kind, e.g. dlq.sync.lists.
func DLQName(kind domain.SyncKind) string {
	return fmt.Sprintf("dlq.%s", QueueName(kind))
}

// WorkQueueNames returns one queue per sync kind.
func WorkQueueNames() []string {
	kinds := domain.SyncKinds()
	queues := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		queues = append(queues, QueueName(kind))
	}
	return queues
}

func DLQNames() []string {
	kinds := domain.SyncKinds()
	queues := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		queues = append(queues, DLQName(kind))
	}
	return queues
}

func routingKey(kind domain.SyncKind) string {
	return strings.ToLower(strings.TrimPrefix(kind.String(), "REFRESH_"))
}
