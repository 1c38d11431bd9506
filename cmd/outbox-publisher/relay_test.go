package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/registry"
)

func TestDrainOnceRetriesFailedRowAndPublishesTheRest(t *testing.T) {
	first, second := orderRow(t, enums.EventOrderCreated, 0), orderRow(t, enums.EventOrderPayable, 0)
	store := &memStore{rows: []models.OutboxEvent{first, second}}
	out := &scriptedSender{errs: []error{errors.New("unavailable")}}
	rec := &countingRecorder{}
	relay := newTestRelay(t, store, out, staticResolver{topic: "orders"}, &memDLQ{}, config.OutboxConfig{})
	relay.metrics = rec

	busy, err := relay.drainOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, busy)
	assert.Equal(t, []uuid.UUID{first.ID}, store.failed)
	assert.Equal(t, []uuid.UUID{second.ID}, store.published)
	assert.Equal(t, []string{"order_created:retry", "order_payable:published"}, rec.seen)
}

func TestDrainOnceKeysMessagesByOrder(t *testing.T) {
	row := orderRow(t, enums.EventOrderPaid, 0)
	out := &scriptedSender{}
	relay := newTestRelay(t, &memStore{rows: []models.OutboxEvent{row}}, out, staticResolver{topic: "orders"}, &memDLQ{}, config.OutboxConfig{})

	_, err := relay.drainOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, out.sent, 1)
	msg := out.sent[0]
	assert.Equal(t, row.AggregateID.String(), msg.OrderingKey)
	assert.Equal(t, "order_paid", msg.Attributes["event_type"])
	assert.Equal(t, "1", msg.Attributes["schema_version"])
	assert.Equal(t, row.ID.String(), msg.Attributes["event_id"])
	assert.JSONEq(t, string(row.Payload), string(msg.Data))
}

func TestDrainOnceReportsIdleOnEmptyOutbox(t *testing.T) {
	relay := newTestRelay(t, &memStore{}, &scriptedSender{}, staticResolver{}, &memDLQ{}, config.OutboxConfig{})

	busy, err := relay.drainOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, busy)
}

func TestDrainOnceDeadLettersUnresolvableRows(t *testing.T) {
	row := orderRow(t, enums.EventOrderCancelled, 0)
	store := &memStore{rows: []models.OutboxEvent{row}}
	dlq := &memDLQ{}
	resolver := staticResolver{err: registry.NewNonRetryableError(errors.New("unknown event"))}
	relay := newTestRelay(t, store, &scriptedSender{}, resolver, dlq, config.OutboxConfig{})

	_, err := relay.drainOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, dlq.entries, 1)
	entry := dlq.entries[0]
	assert.Equal(t, row.ID, entry.EventID)
	assert.Equal(t, []byte(row.Payload), []byte(entry.Payload))
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, entry.ErrorReason)
	assert.Equal(t, []uuid.UUID{row.ID}, store.terminal)
	assert.Empty(t, store.failed)
}

func TestDrainOnceDeadLettersAfterMaxAttempts(t *testing.T) {
	row := orderRow(t, enums.EventOrderExpired, 1)
	store := &memStore{rows: []models.OutboxEvent{row}}
	dlq := &memDLQ{}
	out := &scriptedSender{errs: []error{errors.New("deadline exceeded")}}
	relay := newTestRelay(t, store, out, staticResolver{topic: "orders"}, dlq, config.OutboxConfig{MaxAttempts: 2})

	_, err := relay.drainOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, dlq.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, dlq.entries[0].ErrorReason)
	require.NotNil(t, dlq.entries[0].ErrorMessage)
	assert.Contains(t, *dlq.entries[0].ErrorMessage, "deadline exceeded")
	assert.Equal(t, []uuid.UUID{row.ID}, store.terminal)
}

func TestDrainOnceDeadLettersWhenTopicHasNoPublisher(t *testing.T) {
	row := orderRow(t, enums.EventOrderCreated, 0)
	store := &memStore{rows: []models.OutboxEvent{row}}
	dlq := &memDLQ{}
	relay := newTestRelay(t, store, nil, staticResolver{topic: "orders"}, dlq, config.OutboxConfig{})

	_, err := relay.drainOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, dlq.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, dlq.entries[0].ErrorReason)
}

func TestDrainOnceAbortsOnBookkeepingFailure(t *testing.T) {
	row := orderRow(t, enums.EventOrderCreated, 0)
	store := &memStore{rows: []models.OutboxEvent{row}, markErr: errors.New("db gone")}
	relay := newTestRelay(t, store, &scriptedSender{}, staticResolver{topic: "orders"}, &memDLQ{}, config.OutboxConfig{})

	_, err := relay.drainOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mark published")
}

func TestNewRelayRequiresDependencies(t *testing.T) {
	_, err := NewRelay(RelayParams{Logger: logger.New(logger.Options{Output: io.Discard})})
	require.Error(t, err)
}

func TestNewRelayAppliesFallbacks(t *testing.T) {
	relay := newTestRelay(t, &memStore{}, &scriptedSender{}, staticResolver{}, &memDLQ{}, config.OutboxConfig{})
	assert.Equal(t, fallbackBatchSize, relay.batchSize)
	assert.Equal(t, fallbackMaxAttempts, relay.maxAttempts)
	assert.Equal(t, fallbackPoll, relay.poll)
}

func TestTopicSendersSkipsMissingTopics(t *testing.T) {
	senders := newTopicSenders(nilTopics{})
	assert.Nil(t, senders.get("orders"))
}

func newTestRelay(t *testing.T, store eventStore, out *scriptedSender, resolver eventResolver, dlq deadLetterStore, cfg config.OutboxConfig) *Relay {
	t.Helper()
	relay, err := NewRelay(RelayParams{
		Outbox:      cfg,
		Logger:      logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard}),
		DB:          inlineTx{},
		PubSub:      nilTopics{},
		Events:      store,
		Registry:    resolver,
		DeadLetters: dlq,
		SenderFor: func(string) sender {
			if out == nil {
				return nil
			}
			return out
		},
	})
	require.NoError(t, err)
	return relay
}

func orderRow(t *testing.T, eventType enums.OutboxEventType, attempts int) models.OutboxEvent {
	t.Helper()
	id := uuid.New()
	payload, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    id.String(),
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(`{"order_id":"x"}`),
	})
	require.NoError(t, err)
	return models.OutboxEvent{
		ID:            id,
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       payload,
		AttemptCount:  attempts,
		CreatedAt:     time.Now().UTC(),
	}
}

type memStore struct {
	rows      []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
	markErr   error
}

func (m *memStore) FetchUnpublishedForPublish(*gorm.DB, int, int) ([]models.OutboxEvent, error) {
	return m.rows, nil
}

func (m *memStore) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	if m.markErr != nil {
		return m.markErr
	}
	m.published = append(m.published, id)
	return nil
}

func (m *memStore) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	m.failed = append(m.failed, id)
	return nil
}

func (m *memStore) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, _ int) error {
	m.terminal = append(m.terminal, id)
	return nil
}

type memDLQ struct {
	entries []models.OutboxDLQ
}

func (m *memDLQ) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	m.entries = append(m.entries, entry)
	return nil
}

type inlineTx struct{}

func (inlineTx) Ping(context.Context) error { return nil }

func (inlineTx) WithTx(_ context.Context, fn func(*gorm.DB) error) error { return fn(nil) }

type nilTopics struct{}

func (nilTopics) Ping(context.Context) error { return nil }

func (nilTopics) Publisher(string) *gcppubsub.Publisher { return nil }

// staticResolver resolves every row onto one topic, echoing the row's id as
// the envelope event id.
type staticResolver struct {
	topic string
	err   error
}

func (s staticResolver) Resolve(row models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			EventType:     row.EventType,
			AggregateType: row.AggregateType,
			Topic:         s.topic,
		},
		Envelope: outbox.PayloadEnvelope{Version: 1, EventID: row.ID.String(), OccurredAt: row.CreatedAt},
	}, nil
}

// scriptedSender fails publishes with errs in order, then succeeds.
type scriptedSender struct {
	errs []error
	sent []*gcppubsub.Message
}

func (s *scriptedSender) Publish(_ context.Context, msg *gcppubsub.Message) sendResult {
	s.sent = append(s.sent, msg)
	var err error
	if len(s.errs) > 0 {
		err, s.errs = s.errs[0], s.errs[1:]
	}
	return settled{err: err}
}

type settled struct{ err error }

func (s settled) Get(context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "server-id", nil
}

type countingRecorder struct {
	seen []string
}

func (c *countingRecorder) Observe(eventType, outcome string) {
	c.seen = append(c.seen, eventType+":"+outcome)
}
