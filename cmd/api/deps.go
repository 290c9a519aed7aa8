package main

import (
	"context"
	"fmt"
	"log"

	"finsync/internal/domain/account"
	"finsync/internal/domain/financial"
	"finsync/internal/domain/fiscal"
	"finsync/internal/domain/link"
	"finsync/internal/domain/openfinance"
	"finsync/internal/domain/transaction"
	"finsync/internal/infrastructure/archive"
	"finsync/internal/infrastructure/events"
	ofclient "finsync/internal/infrastructure/openfinance"
	"finsync/internal/infrastructure/postgres"
	"finsync/internal/infrastructure/queue"
	"finsync/internal/infrastructure/secrets"
	httphandlers "finsync/internal/interfaces/http"
	"finsync/internal/interfaces/scheduler"
	"finsync/internal/shared/config"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	DB        *postgres.DB
	Publisher events.Publisher

	// Background processing
	FiscalQueue  *queue.Queue
	Orchestrator *openfinance.Orchestrator
	Scheduler    *scheduler.Scheduler

	// Handlers
	LinkHandler        *httphandlers.LinkHandler
	SyncHandler        *httphandlers.SyncHandler
	AccountHandler     *httphandlers.AccountHandler
	TransactionHandler *httphandlers.TransactionHandler
	FiscalHandler      *httphandlers.FiscalHandler
}

// NewDependencies initializes all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}
	log.Println("Connected to database")

	deps := &Dependencies{DB: db}
	if err := deps.build(ctx, cfg); err != nil {
		deps.Close()
		return nil, err
	}
	return deps, nil
}

func (d *Dependencies) build(ctx context.Context, cfg *config.Config) error {
	if cfg.Database.RunMigrations {
		if err := d.DB.Migrate(ctx); err != nil {
			return err
		}
		log.Println("Database migrations applied")
	}

	// Repositories
	linkRepo := postgres.NewLinkRepository(d.DB)
	accountRepo := postgres.NewAccountRepository(d.DB)
	transactionRepo := postgres.NewTransactionRepository(d.DB)
	fiscalRepo := postgres.NewFiscalRepository(d.DB)

	// Provider client
	creds, err := providerCredentials(ctx, cfg)
	if err != nil {
		return err
	}
	provider := ofclient.NewClient(cfg.Provider.BaseURL, creds, cfg.Provider.Timeout)

	validator, err := ofclient.NewPayloadValidator()
	if err != nil {
		return fmt.Errorf("failed to load payload schemas: %w", err)
	}

	// Events
	if len(cfg.Kafka.Brokers) > 0 {
		d.Publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		log.Printf("Publishing events to %s on %v", cfg.Kafka.Topic, cfg.Kafka.Brokers)
	} else {
		d.Publisher = events.NopPublisher{}
		log.Println("Event publishing disabled (no KAFKA_BROKERS)")
	}

	// Raw payload archive
	var archiver openfinance.Archiver
	if cfg.Archive.Bucket != "" {
		s3Archive, err := archive.New(ctx, archive.Config{
			Bucket:    cfg.Archive.Bucket,
			Prefix:    cfg.Archive.Prefix,
			Region:    cfg.Archive.Region,
			Endpoint:  cfg.Archive.Endpoint,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
		})
		if err != nil {
			return err
		}
		archiver = s3Archive
		log.Printf("Archiving raw fiscal payloads to s3://%s/%s", cfg.Archive.Bucket, cfg.Archive.Prefix)
	}

	// Fiscal job queue
	d.FiscalQueue = queue.New(openfinance.FiscalQueueName, postgres.NewJobStore(d.DB, openfinance.FiscalQueueName), queue.Options{
		MaxAttempts:      cfg.Queue.MaxAttempts,
		BackoffBase:      cfg.Queue.BackoffBase,
		RemoveOnComplete: cfg.Queue.RemoveOnComplete,
		PollInterval:     cfg.Queue.PollInterval,
		JobTimeout:       cfg.Queue.JobTimeout,
	})

	upserter := openfinance.NewUpserter(accountRepo, transactionRepo, fiscalRepo)
	openfinance.NewFiscalJobHandler(upserter, validator, archiver).Register(d.FiscalQueue, cfg.Queue.Concurrency)

	publisher := d.Publisher
	d.FiscalQueue.OnFailed(func(job *queue.Job, err error) {
		events.PublishBestEffort(context.Background(), publisher, events.Event{
			Type:       events.JobFailed,
			CustomerID: job.CustomerID,
			LinkID:     job.LinkID,
			Data:       map[string]any{"jobId": job.ID, "type": job.Type, "attempts": job.Attempt, "error": err.Error()},
		})
	})

	// Sync engine
	transactionSync := openfinance.NewTransactionSyncService(provider, upserter, openfinance.TransactionSyncOptions{
		AccountConcurrency: cfg.Sync.AccountConcurrency,
		Window:             cfg.Sync.TransactionWindow,
	})
	fiscalSync := openfinance.NewFiscalSyncService(provider, d.FiscalQueue, openfinance.FiscalSyncOptions{
		InvoiceWindow:      cfg.Sync.InvoiceWindow,
		TaxReturnYears:     cfg.Sync.TaxReturnYears,
		EnqueueConcurrency: cfg.Sync.EnqueueConcurrency,
	})
	d.Orchestrator = openfinance.NewOrchestrator(transactionSync, fiscalSync, d.Publisher, cfg.Sync.Timeout)

	// Domain services
	linkService := link.NewService(linkRepo, provider, d.Orchestrator, accountRepo, d.Publisher, link.Options{
		AcceptUnowned:  cfg.Link.AcceptUnowned,
		FiscalTags:     cfg.Link.FiscalTags,
		FiscalSuffixes: cfg.Link.FiscalSuffixes,
		FiscalPrefixes: cfg.Link.FiscalPrefixes,
	})
	financialService := financial.NewService(
		linkService,
		d.Orchestrator,
		openfinance.NewStatusService(d.FiscalQueue),
		account.NewService(accountRepo),
		transaction.NewService(transactionRepo),
		fiscal.NewService(fiscalRepo),
	)

	// Scheduled re-sync
	if cfg.Scheduler.Enabled {
		d.Scheduler, err = scheduler.NewScheduler(scheduler.SchedulerConfig{
			Times: map[openfinance.SyncPath][]string{
				openfinance.PathTransactional: cfg.Scheduler.ScheduleTimes,
				openfinance.PathFiscal:        cfg.Scheduler.FiscalTimes,
			},
			WorkerCount:  cfg.Scheduler.WorkerCount,
			JobDelay:     cfg.Scheduler.JobDelay,
			QueueSize:    cfg.Scheduler.QueueSize,
			RunOnStartup: cfg.Scheduler.RunOnStartup,
			JobTimeout:   cfg.Sync.Timeout,
			JobProvider:  scheduler.ActiveLinkJobs(d.Orchestrator, linkService),
		})
		if err != nil {
			return err
		}
	}

	// Handlers
	d.LinkHandler = httphandlers.NewLinkHandler(financialService)
	d.SyncHandler = httphandlers.NewSyncHandler(financialService)
	d.AccountHandler = httphandlers.NewAccountHandler(financialService)
	d.TransactionHandler = httphandlers.NewTransactionHandler(financialService)
	d.FiscalHandler = httphandlers.NewFiscalHandler(financialService)

	return nil
}

// providerCredentials reads the provider credentials from Secrets Manager
// when a secret is configured, and from the environment otherwise.
func providerCredentials(ctx context.Context, cfg *config.Config) (ofclient.Credentials, error) {
	if cfg.Secrets.SecretName == "" {
		return ofclient.Credentials{
			SecretID:       cfg.Provider.SecretID,
			SecretPassword: cfg.Provider.SecretPassword,
		}, nil
	}

	loader, err := secrets.NewLoader(ctx, cfg.Secrets.SecretName, cfg.Secrets.Region, cfg.Secrets.Endpoint)
	if err != nil {
		return ofclient.Credentials{}, err
	}
	creds, err := loader.ProviderCredentials(ctx)
	if err != nil {
		return ofclient.Credentials{}, fmt.Errorf("failed to load provider credentials: %w", err)
	}
	log.Printf("Loaded provider credentials from secret %s", cfg.Secrets.SecretName)
	return creds, nil
}

// Start launches the background workers.
func (d *Dependencies) Start(ctx context.Context) error {
	if err := d.FiscalQueue.Start(ctx); err != nil {
		return err
	}

	if d.Scheduler != nil {
		d.Scheduler.Start()
		log.Println("Scheduler started")
	} else {
		log.Println("Scheduler is disabled")
	}
	return nil
}

// Close releases all resources held by dependencies.
func (d *Dependencies) Close() {
	if p, ok := d.Publisher.(*events.KafkaPublisher); ok {
		if err := p.Close(); err != nil {
			log.Printf("Error closing event publisher: %v", err)
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
}
