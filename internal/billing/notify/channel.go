package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body when the
// webhook has a signing secret.
const SignatureHeader = "X-Billing-Signature"

// Message is one rendered statement notification.
type Message struct {
	Event       string `json:"event"`
	StatementID string `json:"statement_id"`
	CompanyID   string `json:"company_id"`
	Period      string `json:"period"`
	Text        string `json:"text"`
}

// Channel delivers messages.
type Channel interface {
	Send(ctx context.Context, msg Message) error
}

// WebhookChannel posts messages as JSON to an HTTP endpoint.
type WebhookChannel struct {
	url    string
	secret []byte
	client *http.Client
}

// WebhookOption configures a WebhookChannel.
type WebhookOption func(*WebhookChannel)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(ch *WebhookChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// WithSigningSecret signs every body with HMAC-SHA256.
func WithSigningSecret(secret string) WebhookOption {
	return func(ch *WebhookChannel) {
		if secret != "" {
			ch.secret = []byte(secret)
		}
	}
}

func NewWebhookChannel(url string, opts ...WebhookOption) (*WebhookChannel, error) {
	if url == "" {
		return nil, errors.New("webhook channel: url is required")
	}
	ch := &WebhookChannel{url: url, client: &http.Client{Timeout: 10 * time.Second}}
	for _, opt := range opts {
		opt(ch)
	}
	return ch, nil
}

func (w *WebhookChannel) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("webhook channel: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook channel: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if len(w.secret) > 0 {
		req.Header.Set(SignatureHeader, Sign(w.secret, body))
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook channel: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook channel: %s returned %d", w.url, resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// LogChannel writes messages to the log.
type LogChannel struct {
	logger logrus.FieldLogger
}

func NewLogChannel(logger logrus.FieldLogger) *LogChannel {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogChannel{logger: logger}
}

func (c *LogChannel) Send(_ context.Context, msg Message) error {
	c.logger.WithFields(logrus.Fields{
		"event":        msg.Event,
		"statement_id": msg.StatementID,
		"company_id":   msg.CompanyID,
		"period":       msg.Period,
	}).Info(msg.Text)
	return nil
}

// MultiChannel fans a message out to every channel and joins their errors.
type MultiChannel []Channel

func (m MultiChannel) Send(ctx context.Context, msg Message) error {
	var errs []error
	for _, ch := range m {
		if ch == nil {
			continue
		}
		if err := ch.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
