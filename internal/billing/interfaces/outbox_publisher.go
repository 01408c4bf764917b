package interfaces

import (
	"context"

	"terminal-billing/internal/billing/application"
	"terminal-billing/internal/eventing"
)

// OutboxPublisher adapts the statement service's event hooks to the
// transactional outbox. The company id is attached to the envelope so
// consumers and the DLQ can filter by tenant.
type OutboxPublisher struct {
	publisher *eventing.Publisher
}

func NewOutboxPublisher(publisher *eventing.Publisher) *OutboxPublisher {
	return &OutboxPublisher{publisher: publisher}
}

func (p *OutboxPublisher) PublishStatementGenerated(ctx context.Context, event application.StatementGenerated) error {
	return p.publish(ctx, event.CompanyID, event)
}

func (p *OutboxPublisher) PublishStatementFinalized(ctx context.Context, event application.StatementFinalized) error {
	return p.publish(ctx, event.CompanyID, event)
}

func (p *OutboxPublisher) publish(ctx context.Context, companyID string, event any) error {
	if p == nil || p.publisher == nil {
		return nil
	}
	return p.publisher.Publish(eventing.WithCompanyID(ctx, companyID), event)
}
