package eventing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxAttempts bounds redelivery of failed outbox records.
const DefaultMaxAttempts = 5

type memoryRecord struct {
	record    OutboxRecord
	status    string
	attempts  int
	createdAt time.Time
	seq       int
}

// MemoryOutbox is an in-process outbox used in demo mode and tests.
type MemoryOutbox struct {
	mu          sync.Mutex
	records     map[string]*memoryRecord
	seq         int
	maxAttempts int
}

// NewMemoryOutbox constructs an empty outbox.
func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{records: make(map[string]*memoryRecord), maxAttempts: DefaultMaxAttempts}
}

// Insert stores an envelope as pending.
func (o *MemoryOutbox) Insert(ctx context.Context, env Envelope) (string, error) {
	_ = ctx
	o.mu.Lock()
	defer o.mu.Unlock()
	id := uuid.NewString()
	o.seq++
	o.records[id] = &memoryRecord{
		record:    OutboxRecord{ID: id, Envelope: env},
		status:    "pending",
		createdAt: time.Now().UTC(),
		seq:       o.seq,
	}
	return id, nil
}

// ListPending returns pending and retryable failed records in insertion order.
func (o *MemoryOutbox) ListPending(ctx context.Context, limit int) ([]OutboxRecord, error) {
	_ = ctx
	o.mu.Lock()
	defer o.mu.Unlock()
	var due []*memoryRecord
	for _, rec := range o.records {
		if rec.status == "pending" || (rec.status == "failed" && rec.attempts < o.maxAttempts) {
			due = append(due, rec)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].seq < due[j].seq })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	result := make([]OutboxRecord, 0, len(due))
	for _, rec := range due {
		result = append(result, rec.record)
	}
	return result, nil
}

// MarkSent marks a record delivered.
func (o *MemoryOutbox) MarkSent(ctx context.Context, id string) error {
	_ = ctx
	o.mu.Lock()
	defer o.mu.Unlock()
	if rec, ok := o.records[id]; ok {
		rec.status = "sent"
	}
	return nil
}

// MarkFailed marks a record failed and counts the attempt.
func (o *MemoryOutbox) MarkFailed(ctx context.Context, id string) error {
	_ = ctx
	o.mu.Lock()
	defer o.mu.Unlock()
	if rec, ok := o.records[id]; ok {
		rec.status = "failed"
		rec.attempts++
	}
	return nil
}

// Pending counts records not yet delivered.
func (o *MemoryOutbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, rec := range o.records {
		if rec.status != "sent" {
			n++
		}
	}
	return n
}

// MemoryProcessedStore records processed (event, consumer) pairs in memory.
type MemoryProcessedStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryProcessedStore constructs a store.
func NewMemoryProcessedStore() *MemoryProcessedStore {
	return &MemoryProcessedStore{seen: make(map[string]struct{})}
}

// HasProcessed checks if event was already processed by consumerName.
func (s *MemoryProcessedStore) HasProcessed(ctx context.Context, eventID, consumerName string) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[eventID+"|"+consumerName]
	return ok, nil
}

// MarkProcessed records an event as processed.
func (s *MemoryProcessedStore) MarkProcessed(ctx context.Context, eventID, consumerName string) error {
	_ = ctx
	s.mu.Lock()
	s.seen[eventID+"|"+consumerName] = struct{}{}
	s.mu.Unlock()
	return nil
}
