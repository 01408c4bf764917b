package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Entry is one audited API action.
type Entry struct {
	ID            string          `json:"id"`
	CompanyID     string          `json:"company_id,omitempty"`
	Actor         string          `json:"actor"`
	Role          string          `json:"role"`
	Action        string          `json:"action"`
	ResourceType  string          `json:"resource_type"`
	ResourceID    string          `json:"resource_id"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	PayloadDigest string          `json:"payload_digest,omitempty"`
	IP            string          `json:"ip,omitempty"`
	UserAgent     string          `json:"user_agent,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Logger records audit entries.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// Reader returns the audit trail of a resource, oldest first.
type Reader interface {
	ListByResource(ctx context.Context, resourceType, resourceID string) ([]Entry, error)
}

// NewID generates an audit id.
func NewID() string {
	return "audit-" + uuid.NewString()
}

// DigestJSON is the sha256 hex digest of a metadata payload.
func DigestJSON(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (e *Entry) fillDefaults() {
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.PayloadDigest == "" {
		e.PayloadDigest = DigestJSON(e.Metadata)
	}
}

// MemoryLog keeps entries in memory and mirrors them to a structured log.
// It backs the audit trail when no database is configured.
type MemoryLog struct {
	logger logrus.FieldLogger

	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryLog constructs an in-memory audit log.
func NewMemoryLog(logger logrus.FieldLogger) *MemoryLog {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &MemoryLog{logger: logger}
}

// Log stores the entry and emits it at info level.
func (l *MemoryLog) Log(ctx context.Context, entry Entry) error {
	_ = ctx
	entry.fillDefaults()
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()

	l.logger.WithFields(logrus.Fields{
		"audit_action":  entry.Action,
		"resource_type": entry.ResourceType,
		"resource_id":   entry.ResourceID,
		"company_id":    entry.CompanyID,
		"actor":         entry.Actor,
		"role":          entry.Role,
		"ip":            entry.IP,
	}).Info("audit")
	return nil
}

// ListByResource returns the entries of one resource.
func (l *MemoryLog) ListByResource(ctx context.Context, resourceType, resourceID string) ([]Entry, error) {
	_ = ctx
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Entry
	for _, entry := range l.entries {
		if entry.ResourceType == resourceType && entry.ResourceID == resourceID {
			out = append(out, entry)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
