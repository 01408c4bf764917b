package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	billing "terminal-billing/internal/billing/domain"
	"terminal-billing/internal/observability/metrics"
)

const defaultBatchConcurrency = 4

// StatementService generates, finalizes and reads monthly statements.
type StatementService struct {
	statements billing.StatementRepository
	tariffs    billing.TariffRepository
	dwells     billing.DwellRepository
	companies  billing.CompanyRepository

	locker        Locker
	publisher     EventPublisher
	archiver      Archiver
	logger        logrus.FieldLogger
	clock         Clock
	defaultMethod billing.BillingMethod
	concurrency   int
	background    sync.WaitGroup
}

// StatementOption configures the statement service.
type StatementOption func(*StatementService)

// WithLocker serializes generation of the same company month.
func WithLocker(locker Locker) StatementOption {
	return func(s *StatementService) {
		if locker != nil {
			s.locker = locker
		}
	}
}

// WithPublisher sets the lifecycle event publisher.
func WithPublisher(publisher EventPublisher) StatementOption {
	return func(s *StatementService) {
		s.publisher = publisher
	}
}

// WithArchiver stores exports of finalized statements.
func WithArchiver(archiver Archiver) StatementOption {
	return func(s *StatementService) {
		s.archiver = archiver
	}
}

// WithLogger overrides the logger.
func WithLogger(logger logrus.FieldLogger) StatementOption {
	return func(s *StatementService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the clock used for as-of dates and timestamps.
func WithClock(clock Clock) StatementOption {
	return func(s *StatementService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithDefaultBillingMethod sets the method used for companies without one.
func WithDefaultBillingMethod(method billing.BillingMethod) StatementOption {
	return func(s *StatementService) {
		if method != "" {
			s.defaultMethod = method
		}
	}
}

// WithBatchConcurrency bounds parallel company generation in batch runs.
func WithBatchConcurrency(n int) StatementOption {
	return func(s *StatementService) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewStatementService constructs a service.
func NewStatementService(
	statements billing.StatementRepository,
	tariffs billing.TariffRepository,
	dwells billing.DwellRepository,
	companies billing.CompanyRepository,
	opts ...StatementOption,
) (*StatementService, error) {
	if statements == nil {
		return nil, errors.New("statement service: nil statement repo")
	}
	if tariffs == nil {
		return nil, errors.New("statement service: nil tariff repo")
	}
	if dwells == nil {
		return nil, errors.New("statement service: nil dwell repo")
	}
	if companies == nil {
		return nil, errors.New("statement service: nil company repo")
	}
	s := &StatementService{
		statements:    statements,
		tariffs:       tariffs,
		dwells:        dwells,
		companies:     companies,
		locker:        NewKeyedMutex(),
		logger:        logrus.StandardLogger(),
		clock:         systemClock{},
		defaultMethod: billing.BillingMethodSplit,
		concurrency:   defaultBatchConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// GenerateDraft computes the statement of companyID for the month and stores it
// as a draft, replacing the items of an existing draft. A zero asOf bills active
// containers up to today.
func (s *StatementService) GenerateDraft(ctx context.Context, companyID string, year int, month time.Month, asOf time.Time) (*billing.MonthlyStatement, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveStatementGenerate(result, time.Since(start))
	}()

	stmt, err := s.generateDraft(ctx, companyID, year, month, asOf)
	if err != nil {
		result = generateResult(err)
		return nil, err
	}
	return stmt, nil
}

func (s *StatementService) generateDraft(ctx context.Context, companyID string, year int, month time.Month, asOf time.Time) (*billing.MonthlyStatement, error) {
	if companyID == "" {
		return nil, billing.ErrEmptyCompanyID
	}
	if err := billing.ValidatePeriod(year, month); err != nil {
		return nil, err
	}
	if asOf.IsZero() {
		asOf = s.clock.Now()
	}
	asOf = billing.DateOf(asOf)
	logger := s.logger.WithFields(logrus.Fields{
		"company_id": companyID,
		"year":       year,
		"month":      int(month),
	})

	unlock, err := s.locker.Lock(ctx, StatementLockKey(companyID, year, month))
	if err != nil {
		return nil, fmt.Errorf("statement service: lock: %w", err)
	}
	defer unlock()

	existing, err := s.statements.FindByPeriod(ctx, companyID, year, month)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Finalized() {
		return nil, billing.ErrStatementFinalized
	}

	method, err := s.billingMethod(ctx, companyID)
	if err != nil {
		return nil, err
	}
	tariffs, err := s.tariffs.ListForCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	book := billing.NewTariffBook(companyID, tariffs)

	from, to := billing.MonthBounds(year, month)
	dwells, err := s.dwells.ListOverlapping(ctx, companyID, from, to)
	if err != nil {
		return nil, err
	}
	billings := make([]*billing.ContainerBilling, 0, len(dwells))
	for _, dwell := range dwells {
		if method == billing.BillingMethodExitMonth && !dwell.ExitedIn(from, to) {
			continue
		}
		cb, err := billing.ComputeContainerBilling(book, dwell, asOf, method == billing.BillingMethodSplit)
		if err != nil {
			return nil, fmt.Errorf("container %s: %w", dwell.ContainerNumber, err)
		}
		billings = append(billings, cb)
	}

	items := billing.StatementLines(method, from, to, billings)
	now := s.clock.Now().UTC()
	stmt := &billing.MonthlyStatement{
		ID:            uuid.NewString(),
		CompanyID:     companyID,
		Year:          year,
		Month:         month,
		BillingMethod: method,
		Status:        billing.StatementStatusDraft,
		AsOf:          asOf,
		GeneratedAt:   now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if existing != nil {
		stmt.ID = existing.ID
		stmt.CreatedAt = existing.CreatedAt
	}
	for i := range items {
		items[i].ID = uuid.NewString()
		items[i].StatementID = stmt.ID
	}
	if err := stmt.ApplyTotals(items); err != nil {
		return nil, err
	}

	saved, err := s.statements.SaveDraft(ctx, stmt, items)
	if err != nil {
		return nil, err
	}
	unchanged := existing != nil && existing.ContentHash == saved.ContentHash
	logger.WithFields(logrus.Fields{
		"statement_id": saved.ID,
		"containers":   saved.TotalContainers,
		"lines":        len(items),
		"unchanged":    unchanged,
	}).Info("statement draft generated")

	s.publishAsync(func(ctx context.Context) error {
		return s.publisher.PublishStatementGenerated(ctx, StatementGenerated{
			StatementID:     saved.ID,
			CompanyID:       saved.CompanyID,
			Year:            saved.Year,
			Month:           saved.Month,
			BillingMethod:   string(saved.BillingMethod),
			TotalContainers: saved.TotalContainers,
			TotalUSD:        saved.TotalUSD,
			TotalUZS:        saved.TotalUZS,
			ContentHash:     saved.ContentHash,
			OccurredAt:      now,
		})
	}, logger.WithField("statement_id", saved.ID))
	return saved, nil
}

// BatchFailure reports one company that could not be billed.
type BatchFailure struct {
	CompanyID string
	Err       error
}

// BatchResult summarizes a monthly batch run.
type BatchResult struct {
	Year      int
	Month     time.Month
	Generated []*billing.MonthlyStatement
	// Skipped holds companies whose statement is already finalized.
	Skipped  []string
	Failures []BatchFailure
}

// Failed reports whether any company failed.
func (r *BatchResult) Failed() bool { return r != nil && len(r.Failures) > 0 }

// GenerateAllDrafts generates drafts for every company with dwell activity in
// the month. Companies are processed independently; a failing company is
// recorded and the batch continues.
func (s *StatementService) GenerateAllDrafts(ctx context.Context, year int, month time.Month, asOf time.Time) (*BatchResult, error) {
	if err := billing.ValidatePeriod(year, month); err != nil {
		return nil, err
	}
	start := time.Now()
	from, to := billing.MonthBounds(year, month)
	companies, err := s.dwells.CompaniesWithActivity(ctx, from, to)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{Year: year, Month: month}
	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.concurrency)
	for _, companyID := range companies {
		companyID := companyID
		group.Go(func() error {
			stmt, err := s.GenerateDraft(groupCtx, companyID, year, month, asOf)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				result.Generated = append(result.Generated, stmt)
			case errors.Is(err, billing.ErrStatementFinalized):
				result.Skipped = append(result.Skipped, companyID)
			default:
				s.logger.WithFields(logrus.Fields{
					"company_id": companyID,
					"year":       year,
					"month":      int(month),
				}).WithError(err).Warn("statement generation failed")
				result.Failures = append(result.Failures, BatchFailure{CompanyID: companyID, Err: err})
			}
			return nil
		})
	}
	_ = group.Wait()

	sort.Slice(result.Generated, func(i, j int) bool { return result.Generated[i].CompanyID < result.Generated[j].CompanyID })
	sort.Strings(result.Skipped)
	sort.Slice(result.Failures, func(i, j int) bool { return result.Failures[i].CompanyID < result.Failures[j].CompanyID })

	metrics.ObserveBatch(len(result.Generated), len(result.Skipped), len(result.Failures), time.Since(start))
	s.logger.WithFields(logrus.Fields{
		"year":      year,
		"month":     int(month),
		"companies": len(companies),
		"generated": len(result.Generated),
		"skipped":   len(result.Skipped),
		"failed":    len(result.Failures),
	}).Info("statement batch finished")
	return result, nil
}

// Finalize locks a draft statement. Finalizing a finalized statement is a no-op.
func (s *StatementService) Finalize(ctx context.Context, id, actor string) (*billing.MonthlyStatement, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveStatementFinalize(result, time.Since(start))
	}()

	stmt, err := s.statements.GetByID(ctx, id)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	if stmt == nil {
		result = metrics.ResultError
		return nil, billing.ErrStatementNotFound
	}
	if stmt.Finalized() {
		return stmt, nil
	}

	unlock, err := s.locker.Lock(ctx, StatementLockKey(stmt.CompanyID, stmt.Year, stmt.Month))
	if err != nil {
		result = metrics.ResultError
		return nil, fmt.Errorf("statement service: lock: %w", err)
	}
	defer unlock()

	// Re-read under the lock; a concurrent regeneration may have replaced the items.
	stmt, err = s.statements.GetByID(ctx, id)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	if stmt == nil {
		result = metrics.ResultError
		return nil, billing.ErrStatementNotFound
	}
	if stmt.Finalized() {
		return stmt, nil
	}
	items, err := s.statements.ListItems(ctx, id)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	hash, err := billing.SnapshotHash(stmt, items)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	now := s.clock.Now().UTC()
	if err := s.statements.MarkFinalized(ctx, id, hash, actor, now); err != nil {
		result = metrics.ResultError
		return nil, err
	}
	stmt.Status = billing.StatementStatusFinalized
	stmt.SnapshotHash = hash
	stmt.FinalizedAt = now
	stmt.FinalizedBy = actor
	stmt.UpdatedAt = now

	logger := s.logger.WithFields(logrus.Fields{
		"statement_id": stmt.ID,
		"company_id":   stmt.CompanyID,
		"year":         stmt.Year,
		"month":        int(stmt.Month),
	})
	logger.WithField("actor", actor).Info("statement finalized")

	finalized := *stmt
	s.publishAsync(func(ctx context.Context) error {
		return s.publisher.PublishStatementFinalized(ctx, StatementFinalized{
			StatementID:     finalized.ID,
			CompanyID:       finalized.CompanyID,
			Year:            finalized.Year,
			Month:           finalized.Month,
			TotalContainers: finalized.TotalContainers,
			TotalUSD:        finalized.TotalUSD,
			TotalUZS:        finalized.TotalUZS,
			SnapshotHash:    finalized.SnapshotHash,
			FinalizedBy:     finalized.FinalizedBy,
			OccurredAt:      now,
		})
	}, logger)
	if s.archiver != nil {
		s.runBackground(func(ctx context.Context) {
			if err := s.archiver.Archive(ctx, &finalized, items); err != nil {
				metrics.IncArchive(metrics.ResultError)
				logger.WithError(err).Warn("statement archive failed")
				return
			}
			metrics.IncArchive(metrics.ResultSuccess)
		})
	}
	return stmt, nil
}

// Get returns a statement with its ordered line items.
func (s *StatementService) Get(ctx context.Context, id string) (*billing.MonthlyStatement, []billing.StatementLineItem, error) {
	stmt, err := s.statements.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if stmt == nil {
		return nil, nil, billing.ErrStatementNotFound
	}
	items, err := s.statements.ListItems(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return stmt, items, nil
}

// FindByPeriod returns the statement of a company month with its items.
func (s *StatementService) FindByPeriod(ctx context.Context, companyID string, year int, month time.Month) (*billing.MonthlyStatement, []billing.StatementLineItem, error) {
	if companyID == "" {
		return nil, nil, billing.ErrEmptyCompanyID
	}
	if err := billing.ValidatePeriod(year, month); err != nil {
		return nil, nil, err
	}
	stmt, err := s.statements.FindByPeriod(ctx, companyID, year, month)
	if err != nil {
		return nil, nil, err
	}
	if stmt == nil {
		return nil, nil, billing.ErrStatementNotFound
	}
	items, err := s.statements.ListItems(ctx, stmt.ID)
	if err != nil {
		return nil, nil, err
	}
	return stmt, items, nil
}

// List returns statements matching filter.
func (s *StatementService) List(ctx context.Context, filter billing.StatementFilter) ([]billing.MonthlyStatement, error) {
	if filter.Month != 0 || filter.Year != 0 {
		if filter.Year == 0 || filter.Month == 0 {
			return nil, billing.ErrInvalidPeriod
		}
		if err := billing.ValidatePeriod(filter.Year, filter.Month); err != nil {
			return nil, err
		}
	}
	return s.statements.List(ctx, filter)
}

// Wait blocks until background publishing and archiving finish.
func (s *StatementService) Wait() {
	s.background.Wait()
}

func (s *StatementService) billingMethod(ctx context.Context, companyID string) (billing.BillingMethod, error) {
	company, err := s.companies.Get(ctx, companyID)
	if err != nil {
		return "", err
	}
	if company == nil || company.BillingMethod == "" {
		return s.defaultMethod, nil
	}
	return company.BillingMethod, nil
}

func (s *StatementService) publishAsync(publish func(ctx context.Context) error, logger logrus.FieldLogger) {
	if s.publisher == nil {
		return
	}
	s.runBackground(func(ctx context.Context) {
		if err := publish(ctx); err != nil {
			logger.WithError(err).Warn("statement event publish failed")
		}
	})
}

func (s *StatementService) runBackground(fn func(ctx context.Context)) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		fn(ctx)
	}()
}

func generateResult(err error) string {
	var notFound *billing.TariffNotFoundError
	var badSize *billing.InvalidContainerSizeError
	switch {
	case errors.As(err, &notFound):
		metrics.IncConfigurationError("tariff_not_found")
		return metrics.ResultConfig
	case errors.As(err, &badSize):
		metrics.IncConfigurationError("invalid_container_size")
		return metrics.ResultConfig
	case errors.Is(err, billing.ErrStatementFinalized):
		return metrics.ResultFinalized
	default:
		return metrics.ResultError
	}
}
