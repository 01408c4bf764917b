package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"

	"terminal-billing/internal/billing/application"
	billing "terminal-billing/internal/billing/domain"
	billingrepo "terminal-billing/internal/billing/infrastructure/postgres"
	"terminal-billing/internal/billing/interfaces"
	"terminal-billing/internal/eventing"
	eventingrepo "terminal-billing/internal/eventing/infrastructure/postgres"
)

type config struct {
	dbURL       string
	month       string
	companyID   string
	asOf        string
	method      string
	concurrency int
}

func main() {
	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	year, month, err := parseMonth(cfg.month)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	var asOf time.Time
	if cfg.asOf != "" {
		asOf, err = time.Parse("2006-01-02", cfg.asOf)
		if err != nil {
			fmt.Fprintln(os.Stderr, "invalid -as-of (YYYY-MM-DD):", err)
			os.Exit(2)
		}
	}
	method, err := billing.ParseBillingMethod(cfg.method)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	db, err := sql.Open("pgx", cfg.dbURL)
	if err != nil {
		logger.Fatalf("db open: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		logger.Fatalf("db ping: %v", err)
	}

	// Events land in the outbox; the API process dispatches them.
	publisher := eventing.NewPublisher(eventingrepo.NewOutboxStore(db), nil, logger)
	service, err := application.NewStatementService(
		billingrepo.NewStatementRepository(db),
		billingrepo.NewTariffRepository(db),
		billingrepo.NewDwellRepository(db),
		billingrepo.NewCompanyRepository(db),
		application.WithPublisher(interfaces.NewOutboxPublisher(publisher)),
		application.WithLogger(logger),
		application.WithDefaultBillingMethod(method),
		application.WithBatchConcurrency(cfg.concurrency),
	)
	if err != nil {
		logger.Fatalf("statement service: %v", err)
	}

	failed, err := run(ctx, service, cfg.companyID, year, month, asOf, logger)
	service.Wait()
	if err != nil {
		logger.Fatalf("generate statements: %v", err)
	}
	if failed {
		os.Exit(1)
	}
}

type generator interface {
	GenerateDraft(ctx context.Context, companyID string, year int, month time.Month, asOf time.Time) (*billing.MonthlyStatement, error)
	GenerateAllDrafts(ctx context.Context, year int, month time.Month, asOf time.Time) (*application.BatchResult, error)
}

// run generates one company's draft or the whole batch and reports whether
// any company failed.
func run(ctx context.Context, service generator, companyID string, year int, month time.Month, asOf time.Time, logger logrus.FieldLogger) (bool, error) {
	if companyID != "" {
		stmt, err := service.GenerateDraft(ctx, companyID, year, month, asOf)
		if err != nil {
			logger.WithError(err).WithField("company_id", companyID).Error("statement generation failed")
			return true, nil
		}
		logger.WithFields(logrus.Fields{
			"statement_id": stmt.ID,
			"company_id":   stmt.CompanyID,
			"containers":   stmt.TotalContainers,
			"total_usd":    stmt.TotalUSD.StringFixed(2),
			"total_uzs":    stmt.TotalUZS.StringFixed(2),
		}).Info("statement generated")
		return false, nil
	}

	result, err := service.GenerateAllDrafts(ctx, year, month, asOf)
	if err != nil {
		return true, err
	}
	for _, failure := range result.Failures {
		logger.WithError(failure.Err).WithField("company_id", failure.CompanyID).Error("statement generation failed")
	}
	logger.WithFields(logrus.Fields{
		"period":    fmt.Sprintf("%04d-%02d", year, int(month)),
		"generated": len(result.Generated),
		"skipped":   len(result.Skipped),
		"failed":    len(result.Failures),
	}).Info("statement batch finished")
	return result.Failed(), nil
}

func parseFlags(fs *flag.FlagSet, args []string) (config, error) {
	var cfg config
	fs.StringVar(&cfg.dbURL, "db", getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")), "Postgres DSN")
	fs.StringVar(&cfg.month, "month", "", "billing month in YYYY-MM")
	fs.StringVar(&cfg.companyID, "company", "", "generate only this company (optional)")
	fs.StringVar(&cfg.asOf, "as-of", "", "bill active containers up to YYYY-MM-DD (default today)")
	fs.StringVar(&cfg.method, "method", getenvDefault("DEFAULT_BILLING_METHOD", string(billing.BillingMethodSplit)), "default billing method (split|exit_month)")
	fs.IntVar(&cfg.concurrency, "concurrency", 4, "companies generated in parallel")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if cfg.dbURL == "" {
		return cfg, errors.New("missing --db or DATABASE_URL/PG_DSN")
	}
	if cfg.month == "" {
		return cfg, errors.New("missing --month (YYYY-MM)")
	}
	return cfg, nil
}

func parseMonth(value string) (int, time.Month, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(value))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid month %q (YYYY-MM)", value)
	}
	return t.Year(), t.Month(), nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}
