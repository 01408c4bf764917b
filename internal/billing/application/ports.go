package application

import (
	"context"
	"fmt"
	"time"

	billing "terminal-billing/internal/billing/domain"
)

// Locker serializes statement generation for one key across goroutines or replicas.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Archiver stores rendered copies of finalized statements.
type Archiver interface {
	Archive(ctx context.Context, stmt *billing.MonthlyStatement, items []billing.StatementLineItem) error
}

// StatementLockKey names the generation lock of one company month.
func StatementLockKey(companyID string, year int, month time.Month) string {
	return fmt.Sprintf("statement:%s:%04d-%02d", companyID, year, int(month))
}
