package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"terminal-billing/internal/billing/application"
	billing "terminal-billing/internal/billing/domain"
	"terminal-billing/internal/eventing"
	"terminal-billing/internal/observability/metrics"
)

const (
	EventGenerated = "generated"
	EventFinalized = "finalized"

	consumerName = "statement-notifier"
)

// Notifier turns statement lifecycle events into chat notifications.
type Notifier struct {
	companies    billing.CompanyRepository
	channel      Channel
	template     *Template
	logger       logrus.FieldLogger
	clock        func() time.Time
	dedupeWindow time.Duration
	notifyDrafts bool

	mu   sync.Mutex
	sent map[string]time.Time
}

// Option configures the notifier.
type Option func(*Notifier)

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// WithDrafts enables notifications for generated drafts. Only finalized
// statements are announced by default.
func WithDrafts(enabled bool) Option {
	return func(n *Notifier) {
		n.notifyDrafts = enabled
	}
}

// WithCompanies resolves company names for the message.
func WithCompanies(companies billing.CompanyRepository) Option {
	return func(n *Notifier) {
		n.companies = companies
	}
}

// WithLogger overrides the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// NewNotifier constructs a notifier.
func NewNotifier(channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("statement notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		channel:      channel,
		template:     template,
		logger:       logrus.StandardLogger(),
		clock:        func() time.Time { return time.Now().UTC() },
		dedupeWindow: 10 * time.Minute,
		sent:         make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Register subscribes the notifier to statement events. Delivery is
// idempotent per event id through store.
func (n *Notifier) Register(bus eventing.EventBus, store eventing.ProcessedStore) {
	eventing.Subscribe(bus, eventing.EventTypeOf[application.StatementGenerated](), consumerName, n.handle, store)
	eventing.Subscribe(bus, eventing.EventTypeOf[application.StatementFinalized](), consumerName, n.handle, store)
}

func (n *Notifier) handle(ctx context.Context, event any) error {
	switch e := event.(type) {
	case application.StatementGenerated:
		if !n.notifyDrafts {
			return nil
		}
		return n.send(ctx, EventGenerated, TemplateData{
			StatementID: e.StatementID,
			CompanyID:   e.CompanyID,
			Period:      period(e.Year, e.Month),
			Containers:  e.TotalContainers,
			TotalUSD:    e.TotalUSD.StringFixed(billing.MoneyPlaces),
			TotalUZS:    e.TotalUZS.StringFixed(billing.MoneyPlaces),
		})
	case application.StatementFinalized:
		return n.send(ctx, EventFinalized, TemplateData{
			StatementID: e.StatementID,
			CompanyID:   e.CompanyID,
			Period:      period(e.Year, e.Month),
			Containers:  e.TotalContainers,
			TotalUSD:    e.TotalUSD.StringFixed(billing.MoneyPlaces),
			TotalUZS:    e.TotalUZS.StringFixed(billing.MoneyPlaces),
			FinalizedBy: e.FinalizedBy,
		})
	default:
		return fmt.Errorf("statement notifier: unexpected event %T", event)
	}
}

func (n *Notifier) send(ctx context.Context, eventType string, data TemplateData) error {
	data.Event = eventType
	data.EventLabel = eventLabel(eventType)
	data.Company = n.companyName(ctx, data.CompanyID)
	content, err := n.template.Render(data)
	if err != nil {
		metrics.IncNotification(eventType, metrics.ResultError)
		return err
	}
	key := data.StatementID + "|" + eventType + "|" + digest(content)
	if !n.shouldSend(key) {
		return nil
	}
	msg := Message{
		Event:       eventType,
		StatementID: data.StatementID,
		CompanyID:   data.CompanyID,
		Period:      data.Period,
		Text:        content,
	}
	if err := n.channel.Send(ctx, msg); err != nil {
		metrics.IncNotification(eventType, metrics.ResultError)
		n.logger.WithFields(logrus.Fields{
			"statement_id": data.StatementID,
			"event":        eventType,
		}).WithError(err).Warn("statement notification failed")
		return err
	}
	n.markSent(key)
	metrics.IncNotification(eventType, metrics.ResultSuccess)
	return nil
}

func (n *Notifier) companyName(ctx context.Context, companyID string) string {
	if n.companies == nil {
		return companyID
	}
	company, err := n.companies.Get(ctx, companyID)
	if err != nil || company == nil || company.Name == "" {
		return companyID
	}
	return fmt.Sprintf("%s (%s)", company.Name, companyID)
}

func (n *Notifier) shouldSend(key string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	last, ok := n.sent[key]
	return !ok || n.clock().Sub(last) >= n.dedupeWindow
}

func (n *Notifier) markSent(key string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.clock()
	n.sent[key] = now
	for k, at := range n.sent {
		if now.Sub(at) >= n.dedupeWindow {
			delete(n.sent, k)
		}
	}
}

func eventLabel(eventType string) string {
	switch eventType {
	case EventGenerated:
		return "Draft Generated"
	case EventFinalized:
		return "Finalized"
	default:
		return eventType
	}
}

func period(year int, month time.Month) string {
	return fmt.Sprintf("%04d-%02d", year, int(month))
}

func digest(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}
