package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"terminal-billing/internal/audit"
	"terminal-billing/internal/auth"
	"terminal-billing/internal/billing/application"
	billing "terminal-billing/internal/billing/domain"
	"terminal-billing/internal/billing/infrastructure/archive"
	"terminal-billing/internal/billing/infrastructure/lock"
	"terminal-billing/internal/billing/infrastructure/memory"
	billingrepo "terminal-billing/internal/billing/infrastructure/postgres"
	"terminal-billing/internal/billing/interfaces"
	"terminal-billing/internal/billing/notify"
	"terminal-billing/internal/config"
	"terminal-billing/internal/eventing"
	eventingrepo "terminal-billing/internal/eventing/infrastructure/postgres"
	"terminal-billing/internal/observability/logging"
	"terminal-billing/internal/observability/metrics"
)

type repositories struct {
	statements billing.StatementRepository
	tariffs    billing.TariffRepository
	dwells     billing.DwellRepository
	companies  billing.CompanyRepository
}

type outboxStore interface {
	eventing.OutboxStore
	eventing.OutboxWriter
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config error: %v", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		logrus.Fatalf("logger error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("db open error: %v", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.Fatalf("db ping error: %v", err)
		}
	} else {
		logger.Warn("no database configured, running demo mode on in-memory repositories")
	}

	metrics.Init(db, logger)

	var (
		repos          repositories
		auditLogger    audit.Logger
		outbox         outboxStore
		processedStore eventing.ProcessedStore
		dlqStore       eventing.DLQStore
	)
	if db != nil {
		repos = repositories{
			statements: billingrepo.NewStatementRepository(db),
			tariffs:    billingrepo.NewTariffRepository(db),
			dwells:     billingrepo.NewDwellRepository(db),
			companies:  billingrepo.NewCompanyRepository(db),
		}
		auditLogger = audit.NewRepository(db)
		outbox = eventingrepo.NewOutboxStore(db, eventingrepo.WithMaxAttempts(cfg.Outbox.MaxAttempts))
		processedStore = eventingrepo.NewProcessedStore(db)
		dlqStore = eventingrepo.NewDLQStore(db)
	} else {
		repos = seedDemo(logger)
		auditLogger = audit.NewMemoryLog(logger)
		outbox = eventing.NewMemoryOutbox()
		processedStore = eventing.NewMemoryProcessedStore()
	}

	bus := eventing.NewInMemoryBus()
	registry := eventing.NewRegistry(application.StatementGenerated{}, application.StatementFinalized{})
	dispatcher := eventing.NewDispatcher(bus, outbox, registry, dlqStore, logger)
	publisher := eventing.NewPublisher(outbox, nil, logger)

	var channel notify.Channel = notify.NewLogChannel(logger)
	if cfg.Notify.WebhookURL != "" {
		webhook, err := notify.NewWebhookChannel(cfg.Notify.WebhookURL, notify.WithSigningSecret(cfg.Notify.WebhookSecret))
		if err != nil {
			logger.Fatalf("notify webhook error: %v", err)
		}
		channel = notify.MultiChannel{channel, webhook}
	}
	tpl, err := notify.NewTemplate(cfg.Notify.Template)
	if err != nil {
		logger.Fatalf("notify template error: %v", err)
	}
	notifier, err := notify.NewNotifier(channel, tpl,
		notify.WithDrafts(cfg.Notify.Drafts),
		notify.WithCompanies(repos.companies),
		notify.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("notifier error: %v", err)
	}
	notifier.Register(bus, processedStore)

	opts := []application.StatementOption{
		application.WithPublisher(interfaces.NewOutboxPublisher(publisher)),
		application.WithLogger(logger),
		application.WithDefaultBillingMethod(cfg.BillingMethod()),
		application.WithBatchConcurrency(cfg.Billing.BatchConcurrency),
	}
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatalf("redis ping error: %v", err)
		}
		locker, err := lock.NewRedisLocker(client, lock.WithTTL(cfg.Redis.LockTTL), lock.WithLogger(logger))
		if err != nil {
			logger.Fatalf("redis locker error: %v", err)
		}
		opts = append(opts, application.WithLocker(locker))
	}
	if cfg.Archive.Endpoint != "" {
		client, err := archive.NewMinioClient(ctx, archive.Config{
			Endpoint:  cfg.Archive.Endpoint,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Bucket:    cfg.Archive.Bucket,
			UseSSL:    cfg.Archive.UseSSL,
		})
		if err != nil {
			logger.Fatalf("archive client error: %v", err)
		}
		archiver, err := archive.NewMinioArchiver(client, cfg.Archive.Bucket, logger)
		if err != nil {
			logger.Fatalf("archiver error: %v", err)
		}
		opts = append(opts, application.WithArchiver(archiver))
	}

	statementService, err := application.NewStatementService(repos.statements, repos.tariffs, repos.dwells, repos.companies, opts...)
	if err != nil {
		logger.Fatalf("statement service error: %v", err)
	}
	tariffService, err := application.NewTariffService(repos.tariffs, logger)
	if err != nil {
		logger.Fatalf("tariff service error: %v", err)
	}
	statusService, err := application.NewBillingStatusService(repos.dwells, repos.tariffs)
	if err != nil {
		logger.Fatalf("billing status service error: %v", err)
	}

	statementHandler, err := interfaces.NewStatementHandler(statementService, auditLogger, logger)
	if err != nil {
		logger.Fatalf("statement handler error: %v", err)
	}
	tariffHandler, err := interfaces.NewTariffHandler(tariffService, auditLogger, logger)
	if err != nil {
		logger.Fatalf("tariff handler error: %v", err)
	}
	containerHandler, err := interfaces.NewContainerHandler(statusService, logger)
	if err != nil {
		logger.Fatalf("container handler error: %v", err)
	}

	go dispatcher.Run(ctx, cfg.Outbox.DispatchInterval, cfg.Outbox.BatchSize)

	if cfg.Schedule.Enabled {
		scheduler, err := application.NewScheduler(statementService, cfg.Schedule.DayOfMonth, cfg.Schedule.At, logger)
		if err != nil {
			logger.Fatalf("scheduler error: %v", err)
		}
		go scheduler.Start(ctx)
	}

	policy := auth.NewPolicy(auth.BillingRules, "/healthz", "/metrics")
	authMiddleware := auth.NewMiddleware([]byte(cfg.Auth.JWTSecret), policy, logger)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/statements", statementHandler)
	mux.Handle("/api/v1/statements/", statementHandler)
	mux.Handle("/api/v1/tariffs", tariffHandler)
	mux.Handle("/api/v1/tariffs/", tariffHandler)
	mux.Handle("/api/v1/containers/", containerHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				http.Error(w, "db unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(authMiddleware.Wrap(mux), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown")
	}
	statementService.Wait()
	if _, err := dispatcher.Dispatch(shutdownCtx, cfg.Outbox.BatchSize); err != nil {
		logger.WithError(err).Warn("final outbox dispatch")
	}
}

func loggingMiddleware(next http.Handler, logger logrus.FieldLogger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   resp.status,
			"duration": time.Since(start),
		}).Info("http request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// seedDemo fills in-memory repositories with a general tariff and a few
// dwells so the API is usable without a database.
func seedDemo(logger logrus.FieldLogger) repositories {
	statements := memory.NewStatementRepository()
	tariffs := memory.NewTariffRepository(statements)
	dwells := memory.NewDwellRepository()
	companies := memory.NewCompanyRepository()

	from := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	general := billing.Tariff{ID: "tariff-general", Name: "General storage", EffectiveFrom: from, CreatedAt: from}
	sizes := []billing.ContainerSize{billing.Size20ft, billing.Size40ft, billing.Size45ft}
	usd := []string{"3.00", "5.00", "6.00"}
	uzs := []string{"37500", "62500", "75000"}
	for i, size := range sizes {
		for _, status := range []billing.ContainerStatus{billing.StatusLaden, billing.StatusEmpty} {
			rate := billing.TariffRate{
				ID:           "rate-" + string(size) + "-" + string(status),
				TariffID:     general.ID,
				Size:         size,
				Status:       status,
				DailyRateUSD: decimal.RequireFromString(usd[i]),
				DailyRateUZS: decimal.RequireFromString(uzs[i]),
				FreeDays:     5,
			}
			if status == billing.StatusEmpty {
				rate.FreeDays = 7
			}
			general.Rates = append(general.Rates, rate)
		}
	}
	tariffs.Put(general)

	companies.Put(billing.Company{ID: "acme", Name: "Acme Shipping", BillingMethod: billing.BillingMethodSplit})
	companies.Put(billing.Company{ID: "blue-line", Name: "Blue Line Logistics", BillingMethod: billing.BillingMethodExitMonth})

	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	dwells.Put(billing.Dwell{
		ContainerID: "ctr-1", ContainerNumber: "MSCU1234565", CompanyID: "acme", ISOType: "45G1",
		Status: billing.StatusLaden, EntryTime: monthStart.AddDate(0, -1, 3), ExitTime: monthStart.AddDate(0, 0, -10),
	})
	dwells.Put(billing.Dwell{
		ContainerID: "ctr-2", ContainerNumber: "TGHU7654321", CompanyID: "acme", ISOType: "22G1",
		Status: billing.StatusEmpty, EntryTime: monthStart.AddDate(0, -1, 20),
	})
	dwells.Put(billing.Dwell{
		ContainerID: "ctr-3", ContainerNumber: "CMAU1111112", CompanyID: "blue-line", ISOType: "L5G1",
		Status: billing.StatusLaden, EntryTime: monthStart.AddDate(0, -2, 25), ExitTime: monthStart.AddDate(0, -1, 4),
	})

	logger.WithField("companies", 2).Info("demo data seeded")
	return repositories{statements: statements, tariffs: tariffs, dwells: dwells, companies: companies}
}
