package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"

	"terminal-billing/internal/billing/application"
	billing "terminal-billing/internal/billing/domain"
	"terminal-billing/internal/billing/infrastructure/memory"
	"terminal-billing/internal/eventing"
)

type recordingChannel struct {
	mu       sync.Mutex
	messages []Message
	err      error
}

func (c *recordingChannel) Send(_ context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.messages = append(c.messages, msg)
	return nil
}

func finalizedEvent() application.StatementFinalized {
	return application.StatementFinalized{
		StatementID:     "stmt-1",
		CompanyID:       "acme",
		Year:            2026,
		Month:           time.January,
		TotalContainers: 3,
		TotalUSD:        decimal.RequireFromString("58"),
		TotalUZS:        decimal.RequireFromString("725000"),
		FinalizedBy:     "admin-1",
	}
}

func TestWebhookChannelPayload(t *testing.T) {
	type received struct {
		msg       Message
		signature string
		valid     bool
	}
	got := make(chan received, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var msg Message
		if err := json.Unmarshal(body, &msg); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		sig := r.Header.Get(SignatureHeader)
		got <- received{msg: msg, signature: sig, valid: sig == Sign([]byte("s3cret"), body)}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL, WithSigningSecret("s3cret"))
	if err != nil {
		t.Fatalf("new webhook channel: %v", err)
	}
	companies := memory.NewCompanyRepository()
	companies.Put(billing.Company{ID: "acme", Name: "Acme Shipping"})
	notifier, err := NewNotifier(channel, nil, WithCompanies(companies))
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	if err := notifier.handle(context.Background(), finalizedEvent()); err != nil {
		t.Fatalf("handle: %v", err)
	}

	select {
	case r := <-got:
		if !r.valid {
			t.Fatalf("bad signature %q", r.signature)
		}
		if r.msg.Event != EventFinalized || r.msg.StatementID != "stmt-1" || r.msg.CompanyID != "acme" || r.msg.Period != "2026-01" {
			t.Fatalf("unexpected message fields: %+v", r.msg)
		}
		for _, want := range []string{"[Statement Finalized]", "Acme Shipping (acme)", "58.00", "725000.00", "admin-1"} {
			if !strings.Contains(r.msg.Text, want) {
				t.Fatalf("text missing %q:\n%s", want, r.msg.Text)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("webhook not called")
	}
}

func TestWebhookChannelNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(SignatureHeader) != "" {
			t.Errorf("unsigned channel sent a signature")
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()
	channel, err := NewWebhookChannel(server.URL)
	if err != nil {
		t.Fatalf("new webhook channel: %v", err)
	}
	if err := channel.Send(context.Background(), Message{Text: "x"}); err == nil {
		t.Fatalf("expected error on 502")
	}
	if _, err := NewWebhookChannel(""); err == nil {
		t.Fatalf("empty url must be rejected")
	}
}

func TestMultiChannel_DeliversToAllAndJoinsErrors(t *testing.T) {
	ok := &recordingChannel{}
	down := &recordingChannel{err: errors.New("down")}
	logger, hook := test.NewNullLogger()
	multi := MultiChannel{down, nil, ok, NewLogChannel(logger)}

	err := multi.Send(context.Background(), Message{Event: EventFinalized, StatementID: "stmt-1", Text: "hello"})
	if err == nil || !strings.Contains(err.Error(), "down") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(ok.messages) != 1 {
		t.Fatalf("healthy channel skipped after failure")
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Message != "hello" || entry.Data["statement_id"] != "stmt-1" {
		t.Fatalf("unexpected log entry: %+v", entry)
	}
}

func TestNotifier_DraftsOptInAndDedupe(t *testing.T) {
	channel := &recordingChannel{}
	notifier, err := NewNotifier(channel, nil)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	generated := application.StatementGenerated{StatementID: "stmt-1", CompanyID: "acme", Year: 2026, Month: time.January}
	if err := notifier.handle(context.Background(), generated); err != nil {
		t.Fatalf("handle generated: %v", err)
	}
	if len(channel.messages) != 0 {
		t.Fatalf("drafts must not notify by default")
	}

	if err := notifier.handle(context.Background(), finalizedEvent()); err != nil {
		t.Fatalf("handle finalized: %v", err)
	}
	if err := notifier.handle(context.Background(), finalizedEvent()); err != nil {
		t.Fatalf("handle finalized again: %v", err)
	}
	if len(channel.messages) != 1 {
		t.Fatalf("expected 1 message inside dedupe window, got %d", len(channel.messages))
	}

	drafts, err := NewNotifier(channel, nil, WithDrafts(true))
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	if err := drafts.handle(context.Background(), generated); err != nil {
		t.Fatalf("handle generated: %v", err)
	}
	if len(channel.messages) != 2 || !strings.Contains(channel.messages[1].Text, "Draft Generated") {
		t.Fatalf("unexpected messages: %v", channel.messages)
	}
}

func TestNotifier_RegisteredOnBus(t *testing.T) {
	logger, _ := test.NewNullLogger()
	channel := &recordingChannel{}
	notifier, err := NewNotifier(channel, nil, WithLogger(logger))
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	bus := eventing.NewInMemoryBus()
	notifier.Register(bus, eventing.NewMemoryProcessedStore())

	ctx := eventing.WithEnvelope(context.Background(), eventing.Envelope{EventID: "evt-1"})
	if err := bus.Publish(ctx, finalizedEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := bus.Publish(ctx, finalizedEvent()); err != nil {
		t.Fatalf("publish duplicate: %v", err)
	}
	if len(channel.messages) != 1 {
		t.Fatalf("expected one delivery, got %d", len(channel.messages))
	}

	failing := &recordingChannel{err: errors.New("down")}
	broken, err := NewNotifier(failing, nil, WithLogger(logger))
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	if err := broken.handle(context.Background(), finalizedEvent()); err == nil {
		t.Fatalf("channel failure must surface for redelivery")
	}
}

func TestTemplate_CustomAndInvalid(t *testing.T) {
	tpl, err := NewTemplate("{{.CompanyID}} {{.Period}} owes {{.TotalUSD}} USD")
	if err != nil {
		t.Fatalf("parse custom template: %v", err)
	}
	text, err := tpl.Render(TemplateData{CompanyID: "acme", Period: "2026-01", TotalUSD: "58.00"})
	if err != nil || text != "acme 2026-01 owes 58.00 USD" {
		t.Fatalf("render: %q %v", text, err)
	}
	if _, err := NewTemplate("{{.Invoice}}"); err == nil {
		t.Fatalf("unknown field must be rejected at parse time")
	}
	if _, err := NewTemplate("{{.Period"); err == nil {
		t.Fatalf("malformed template must be rejected")
	}
	def, err := NewTemplate("  ")
	if err != nil {
		t.Fatalf("blank falls back to default: %v", err)
	}
	if text, _ := def.Render(TemplateData{EventLabel: "Finalized", StatementID: "stmt-9"}); !strings.Contains(text, "stmt-9") {
		t.Fatalf("default template output: %q", text)
	}
}
