package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type RabbitMQPublisher struct {
	client *RabbitMQ
	now    func() time.Time
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client, now: time.Now}
}

// PublishBatch publishes msgs inside one channel transaction.
func (p *RabbitMQPublisher) PublishBatch(ctx context.Context, msgs []SyncJobMessage) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if len(msgs) == 0 {
		return nil
	}

	publishings := make([]amqp.Publishing, 0, len(msgs))
	for _, msg := range msgs {
		publishing, err := p.publishing(msg)
		if err != nil {
			return err
		}
		publishings = append(publishings, publishing)
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Tx(); err != nil {
		return fmt.Errorf("failed to start channel transaction: %w", err)
	}

	for i, msg := range msgs {
		if err := ch.PublishWithContext(ctx, "", msg.Queue(), true, false, publishings[i]); err != nil {
			return rollback(ch, fmt.Errorf("failed to publish job %s to queue %q: %w", msg.JobID, msg.Queue(), err))
		}
	}

	if err := ch.TxCommit(); err != nil {
		return fmt.Errorf("failed to commit channel transaction: %w", err)
	}
	return nil
}

func (p *RabbitMQPublisher) publishing(msg SyncJobMessage) (amqp.Publishing, error) {
	if err := msg.Validate(); err != nil {
		return amqp.Publishing{}, fmt.Errorf("invalid sync job message: %w", err)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal sync job message: %w", err)
	}

	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     p.now().UTC(),
		MessageId:     msg.JobID,
		CorrelationId: msg.CorrelationID,
		Type:          msg.Kind.String(),
		Headers:       amqp.Table{"tenantId": msg.TenantID},
		Body:          payload,
	}, nil
}

func rollback(ch *amqp.Channel, cause error) error {
	if err := ch.TxRollback(); err != nil {
		return errors.Join(cause, fmt.Errorf("failed to roll back channel transaction: %w", err))
	}
	return cause
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
