package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/registry"
)

const (
	fallbackBatchSize   = 50
	fallbackPoll        = 500 * time.Millisecond
	fallbackMaxAttempts = 10
	publishTimeout      = 15 * time.Second
	errorBackoffCeiling = 10 * time.Second
)

type txRunner interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type topicSource interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type eventStore interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetterStore interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type eventResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type outcomeRecorder interface {
	Observe(eventType, outcome string)
}

type sender interface {
	Publish(context.Context, *gcppubsub.Message) sendResult
}

type sendResult interface {
	Get(context.Context) (string, error)
}

// RelayParams wires the outbox relay.
type RelayParams struct {
	Outbox      config.OutboxConfig
	Logger      *logger.Logger
	DB          txRunner
	PubSub      topicSource
	Events      eventStore
	Registry    eventResolver
	DeadLetters deadLetterStore
	Metrics     outcomeRecorder

	// SenderFor overrides the Pub/Sub publisher lookup. Tests only.
	SenderFor func(topic string) sender
}

// Relay moves committed order events from the outbox table onto Pub/Sub.
// Each row is claimed, published, and marked inside one transaction so a
// crash between publish and mark only ever causes a redelivery.
type Relay struct {
	logg        *logger.Logger
	db          txRunner
	pubsub      topicSource
	events      eventStore
	registry    eventResolver
	deadLetters deadLetterStore
	metrics     outcomeRecorder
	senderFor   func(topic string) sender

	batchSize   int
	maxAttempts int
	poll        time.Duration
}

func NewRelay(p RelayParams) (*Relay, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	case p.DB == nil:
		return nil, errors.New("database client is required")
	case p.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case p.Events == nil:
		return nil, errors.New("outbox repository is required")
	case p.Registry == nil:
		return nil, errors.New("event registry is required")
	case p.DeadLetters == nil:
		return nil, errors.New("dlq repository is required")
	}

	r := &Relay{
		logg:        p.Logger,
		db:          p.DB,
		pubsub:      p.PubSub,
		events:      p.Events,
		registry:    p.Registry,
		deadLetters: p.DeadLetters,
		metrics:     p.Metrics,
		senderFor:   p.SenderFor,
		batchSize:   positiveOr(p.Outbox.BatchSize, fallbackBatchSize),
		maxAttempts: positiveOr(p.Outbox.MaxAttempts, fallbackMaxAttempts),
		poll:        fallbackPoll,
	}
	if p.Outbox.PollIntervalMS > 0 {
		r.poll = time.Duration(p.Outbox.PollIntervalMS) * time.Millisecond
	}
	if r.senderFor == nil {
		r.senderFor = newTopicSenders(p.PubSub).get
	}
	return r, nil
}

// Run drains the outbox until ctx is cancelled. A full batch is followed
// immediately by the next one; an empty batch waits one poll interval.
func (r *Relay) Run(ctx context.Context) error {
	deps := []struct {
		name string
		ping func(context.Context) error
	}{
		{"database", r.db.Ping},
		{"pubsub", r.pubsub.Ping},
	}
	for _, dep := range deps {
		if err := dep.ping(ctx); err != nil {
			r.logg.Error(ctx, dep.name+" ping failed", err)
			return fmt.Errorf("%s ping failed: %w", dep.name, err)
		}
	}

	pace := newPacer(r.poll, errorBackoffCeiling)
	for {
		if err := ctx.Err(); err != nil {
			r.logg.Info(ctx, "outbox relay stopping")
			return err
		}

		busy, err := r.drainOnce(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox batch failed", err)
			wait = pace.failure()
		case busy:
			pace.success()
			continue
		default:
			wait = pace.idle()
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

// drainOnce handles one claimed batch and reports whether any row was found.
func (r *Relay) drainOnce(ctx context.Context) (bool, error) {
	found := false
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := r.events.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return err
		}
		found = len(rows) > 0
		for _, row := range rows {
			if err := r.dispatch(ctx, tx, row); err != nil {
				return err
			}
		}
		return nil
	})
	return found, err
}

func (r *Relay) observe(row models.OutboxEvent, outcome string) {
	if r.metrics != nil {
		r.metrics.Observe(string(row.EventType), outcome)
	}
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
