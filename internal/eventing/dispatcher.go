package eventing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"terminal-billing/internal/observability/metrics"
)

const (
	defaultDispatchBatch    = 50
	defaultDispatchInterval = 5 * time.Second
)

// OutboxStore is the claim side of the outbox.
type OutboxStore interface {
	ListPending(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// DLQStore keeps a copy of every envelope whose delivery failed.
type DLQStore interface {
	RecordFailure(ctx context.Context, env Envelope, err error) error
}

type OutboxRecord struct {
	ID       string
	Envelope Envelope
}

// DispatchResult counts what one Dispatch call did.
type DispatchResult struct {
	Claimed int
	Sent    int
	Failed  int
	DLQ     int
}

// Dispatcher drains the outbox into the bus.
type Dispatcher struct {
	bus      EventBus
	outbox   OutboxStore
	registry *Registry
	dlq      DLQStore
	logger   logrus.FieldLogger
}

// NewDispatcher wires a dispatcher. dlq may be nil.
func NewDispatcher(bus EventBus, outbox OutboxStore, registry *Registry, dlq DLQStore, logger logrus.FieldLogger) *Dispatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Dispatcher{
		bus:      bus,
		outbox:   outbox,
		registry: registry,
		dlq:      dlq,
		logger:   logger.WithField("component", "outbox_dispatcher"),
	}
}

// Dispatch claims up to limit records and publishes each one. Handler
// failures are counted and dead-lettered; only store errors are returned.
func (d *Dispatcher) Dispatch(ctx context.Context, limit int) (DispatchResult, error) {
	var res DispatchResult
	if d == nil || d.outbox == nil || d.bus == nil || d.registry == nil {
		return res, nil
	}
	if limit <= 0 {
		limit = defaultDispatchBatch
	}
	records, err := d.outbox.ListPending(ctx, limit)
	if err != nil {
		metrics.IncOutboxDispatch(metrics.ResultError)
		return res, fmt.Errorf("outbox claim: %w", err)
	}
	res.Claimed = len(records)

	var storeErrs []error
	for _, rec := range records {
		if cause := d.deliver(ctx, rec.Envelope); cause != nil {
			res.Failed++
			metrics.IncOutboxDispatch(metrics.ResultError)
			storeErrs = append(storeErrs, d.giveBack(ctx, rec, cause, &res))
			continue
		}
		if err := d.outbox.MarkSent(ctx, rec.ID); err != nil {
			res.Failed++
			metrics.IncOutboxDispatch(metrics.ResultError)
			storeErrs = append(storeErrs, fmt.Errorf("outbox mark sent %s: %w", rec.ID, err))
			continue
		}
		res.Sent++
		metrics.IncOutboxDispatch(metrics.ResultSuccess)
	}
	return res, errors.Join(storeErrs...)
}

func (d *Dispatcher) deliver(ctx context.Context, env Envelope) error {
	payload, err := d.registry.DecodePayload(env)
	if err != nil {
		return err
	}
	return d.bus.Publish(WithEnvelope(ctx, env), payload)
}

// giveBack returns the record to the outbox for retry and parks a copy in
// the DLQ.
func (d *Dispatcher) giveBack(ctx context.Context, rec OutboxRecord, cause error, res *DispatchResult) error {
	d.logger.WithFields(logrus.Fields{
		"event_id":   rec.Envelope.EventID,
		"event_type": rec.Envelope.EventType,
		"company_id": rec.Envelope.CompanyID,
	}).WithError(cause).Warn("outbox delivery failed")

	var storeErr error
	if err := d.outbox.MarkFailed(ctx, rec.ID); err != nil {
		storeErr = fmt.Errorf("outbox mark failed %s: %w", rec.ID, err)
	}
	if d.dlq == nil {
		return storeErr
	}
	if err := d.dlq.RecordFailure(ctx, rec.Envelope, cause); err != nil {
		d.logger.WithError(err).WithField("event_id", rec.Envelope.EventID).Error("dead letter write failed")
		return storeErr
	}
	res.DLQ++
	return storeErr
}

// Run drains the outbox on start and then every interval until ctx ends.
// A full batch is followed immediately by another claim.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration, limit int) {
	if d == nil {
		return
	}
	if interval <= 0 {
		interval = defaultDispatchInterval
	}
	if limit <= 0 {
		limit = defaultDispatchBatch
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		d.drain(ctx, limit)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context, limit int) {
	for ctx.Err() == nil {
		res, err := d.Dispatch(ctx, limit)
		if err != nil {
			d.logger.WithError(err).Warn("outbox dispatch run failed")
			return
		}
		if res.Claimed > 0 {
			d.logger.WithFields(logrus.Fields{
				"claimed": res.Claimed,
				"sent":    res.Sent,
				"failed":  res.Failed,
			}).Debug("outbox batch dispatched")
		}
		// A failed record stays claimable, so stop rather than spin on it.
		if res.Claimed < limit || res.Failed > 0 {
			return
		}
	}
}
