package eventing

import "context"

type envelopeKey struct{}

type metaKey struct{}

// WithEnvelope marks ctx as the delivery of env.
func WithEnvelope(ctx context.Context, env Envelope) context.Context {
	return context.WithValue(ctx, envelopeKey{}, env)
}

// EnvelopeFromContext returns the envelope being delivered, if any.
func EnvelopeFromContext(ctx context.Context) (Envelope, bool) {
	env, ok := ctx.Value(envelopeKey{}).(Envelope)
	return env, ok
}

// MetaFromContext returns the envelope overrides set on ctx.
func MetaFromContext(ctx context.Context) Meta {
	meta, _ := ctx.Value(metaKey{}).(Meta)
	return meta
}

func withMeta(ctx context.Context, set func(*Meta)) context.Context {
	meta := MetaFromContext(ctx)
	set(&meta)
	return context.WithValue(ctx, metaKey{}, meta)
}

// WithCompanyID sets the company the next published event concerns.
func WithCompanyID(ctx context.Context, companyID string) context.Context {
	return withMeta(ctx, func(m *Meta) { m.CompanyID = companyID })
}

// WithCorrelationID links the next published event to an earlier one.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return withMeta(ctx, func(m *Meta) { m.CorrelationID = correlationID })
}

// WithEventID fixes the event id, making a republish a duplicate.
func WithEventID(ctx context.Context, eventID string) context.Context {
	return withMeta(ctx, func(m *Meta) { m.EventID = eventID })
}
