package eventing

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

const slowPublish = 50 * time.Millisecond

// OutboxWriter appends envelopes to the outbox.
type OutboxWriter interface {
	Insert(ctx context.Context, env Envelope) (string, error)
}

// Publisher turns domain events into outbox rows. With an inline dispatcher
// the row is delivered before Publish returns; otherwise a background
// Dispatcher.Run picks it up.
type Publisher struct {
	outbox OutboxWriter
	inline *Dispatcher
	logger logrus.FieldLogger
}

func NewPublisher(outbox OutboxWriter, inline *Dispatcher, logger logrus.FieldLogger) *Publisher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Publisher{outbox: outbox, inline: inline, logger: logger}
}

func (p *Publisher) Publish(ctx context.Context, event any) error {
	if p == nil || p.outbox == nil {
		return nil
	}
	began := time.Now()
	env, err := BuildEnvelope(event, MetaFromContext(ctx))
	if err != nil {
		return err
	}
	if _, err := p.outbox.Insert(ctx, env); err != nil {
		return fmt.Errorf("publish %s: %w", env.EventType, err)
	}
	if took := time.Since(began); took > slowPublish {
		p.logger.WithField("event_type", env.EventType).
			WithField("duration_ms", took.Milliseconds()).
			Warn("slow outbox publish")
	}
	if p.inline == nil {
		return nil
	}
	// Delivery problems stay in the outbox for the next run.
	if _, err := p.inline.Dispatch(ctx, defaultDispatchBatch); err != nil {
		p.logger.WithError(err).WithField("event_id", env.EventID).Warn("inline outbox dispatch failed")
	}
	return nil
}
