package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/registry"
)

const (
	outcomePublished  = "published"
	outcomeRetry      = "retry"
	outcomeDeadLetter = "dead_letter"
)

// dispatch publishes one claimed row and records the result on it. The
// returned error is reserved for bookkeeping failures, which abort the batch.
func (r *Relay) dispatch(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) error {
	resolved, err := r.registry.Resolve(row)
	if err != nil {
		return r.deadLetter(ctx, tx, row, nil, enums.OutboxDLQReasonNonRetryable, err)
	}

	logCtx := r.logg.WithFields(ctx, rowFields(row, resolved))
	sendErr := r.send(ctx, row, resolved)
	if sendErr == nil {
		if err := r.events.MarkPublishedTx(tx, row.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", row.ID, err)
		}
		r.observe(row, outcomePublished)
		r.logg.Info(logCtx, "outbox event published")
		return nil
	}

	var permanent registry.NonRetryableError
	if errors.As(sendErr, &permanent) {
		return r.deadLetter(ctx, tx, row, resolved, enums.OutboxDLQReasonNonRetryable, sendErr)
	}
	if row.AttemptCount+1 >= r.maxAttempts {
		exhausted := fmt.Errorf("gave up after %d attempts: %w", row.AttemptCount+1, sendErr)
		return r.deadLetter(ctx, tx, row, resolved, enums.OutboxDLQReasonMaxAttempts, exhausted)
	}

	r.logg.Warn(r.logg.WithFields(logCtx, map[string]any{
		"attempt_count": row.AttemptCount + 1,
		"error":         sendErr.Error(),
	}), "outbox publish failed, will retry")
	if err := r.events.MarkFailedTx(tx, row.ID, sendErr); err != nil {
		return fmt.Errorf("mark failed %s: %w", row.ID, err)
	}
	r.observe(row, outcomeRetry)
	return nil
}

// deadLetter copies the row into the DLQ and retires it from the outbox.
func (r *Relay) deadLetter(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, resolved *registry.ResolvedEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	fields := rowFields(row, resolved)
	fields["error_reason"] = reason
	fields["error"] = cause.Error()
	r.logg.Warn(r.logg.WithFields(ctx, fields), "outbox event dead-lettered")

	msg := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  row.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
	if err := r.deadLetters.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", row.ID, err)
	}
	if err := r.events.MarkTerminalTx(tx, row.ID, cause, r.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", row.ID, err)
	}
	r.observe(row, outcomeDeadLetter)
	return nil
}

func (r *Relay) send(ctx context.Context, row models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	s := r.senderFor(topic)
	if s == nil {
		return registry.NewNonRetryableError(fmt.Errorf("no publisher for topic %s", topic))
	}

	sendCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	result := s.Publish(sendCtx, messageFor(row, resolved))
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher for topic %s returned no result", topic))
	}
	_, err := result.Get(sendCtx)
	return err
}

// messageFor builds the Pub/Sub message. The order id is the ordering key so
// subscribers see created, payable, paid and cancelled in emission order.
func messageFor(row models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	orderID := row.AggregateID.String()
	return &gcppubsub.Message{
		Data:        row.Payload,
		OrderingKey: orderID,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(row.EventType),
			"aggregate_type": string(row.AggregateType),
			"aggregate_id":   orderID,
			"schema_version": strconv.Itoa(resolved.Envelope.Version),
			"created_at":     row.CreatedAt.Format(time.RFC3339Nano),
		},
	}
}

func rowFields(row models.OutboxEvent, resolved *registry.ResolvedEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":     row.ID.String(),
		"event_type":    row.EventType,
		"order_id":      row.AggregateID.String(),
		"attempt_count": row.AttemptCount,
	}
	if row.LastError != nil {
		fields["last_error"] = *row.LastError
	}
	if resolved != nil {
		fields["topic"] = resolved.Descriptor.Topic
		if resolved.Envelope.EventID != "" {
			fields["event_id"] = resolved.Envelope.EventID
			fields["occurred_at"] = resolved.Envelope.OccurredAt.Format(time.RFC3339Nano)
		}
	}
	return fields
}
