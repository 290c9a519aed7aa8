package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Scheduler SchedulerConfig
	TLS       TLSConfig
	Telemetry TelemetryConfig
	Provider  ProviderConfig
	Queue     QueueConfig
	Sync      SyncConfig
	Link      LinkConfig
	Kafka     KafkaConfig
	Archive   ArchiveConfig
	Secrets   SecretsConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	AllowedHosts []string
}

type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	DBName        string
	SSLMode       string
	RunMigrations bool
}

type SchedulerConfig struct {
	Enabled bool
	// ScheduleTimes drive transactional links; FiscalTimes drive fiscal
	// links, which only enqueue downloads and need fewer passes.
	ScheduleTimes []string
	FiscalTimes   []string
	WorkerCount   int
	JobDelay      time.Duration
	QueueSize     int
	RunOnStartup  bool
}

type TLSConfig struct {
	Enabled      bool
	CertPath     string
	KeyPath      string
	RedirectHTTP bool
}

// TelemetryConfig controls metrics and tracing. Traces are exported only
// when OTLPEndpoint is set.
type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	Environment  string
	OTLPEndpoint string
	MetricsPort  string
}

// ProviderConfig locates the financial data provider. Credentials come from
// the environment or, when SecretName is set, from Secrets Manager.
type ProviderConfig struct {
	BaseURL        string
	SecretID       string
	SecretPassword string
	Timeout        time.Duration
}

type QueueConfig struct {
	MaxAttempts      int
	BackoffBase      time.Duration
	Concurrency      int
	PollInterval     time.Duration
	RemoveOnComplete bool
	JobTimeout       time.Duration
	ShutdownTimeout  time.Duration
}

type SyncConfig struct {
	Timeout            time.Duration
	AccountConcurrency int
	TransactionWindow  time.Duration
	InvoiceWindow      time.Duration
	TaxReturnYears     int
	EnqueueConcurrency int
}

type LinkConfig struct {
	AcceptUnowned  bool
	FiscalTags     []string
	FiscalSuffixes []string
	FiscalPrefixes []string
}

// KafkaConfig enables event publishing when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// ArchiveConfig enables raw payload archiving when Bucket is set.
type ArchiveConfig struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

type SecretsConfig struct {
	SecretName string
	Region     string
	Endpoint   string
}

func Load() (*Config, error) {
	dbPort, err := getIntEnv("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}

	// Parse scheduler configuration
	schedulerWorkers, err := getIntEnv("SCHEDULER_WORKERS", 5)
	if err != nil {
		return nil, err
	}
	schedulerJobDelay, err := getDurationEnv("SCHEDULER_JOB_DELAY", time.Second)
	if err != nil {
		return nil, err
	}
	schedulerQueueSize, err := getIntEnv("SCHEDULER_QUEUE_SIZE", 100)
	if err != nil {
		return nil, err
	}

	providerTimeout, err := getDurationEnv("PROVIDER_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	// Parse queue configuration
	queueAttempts, err := getIntEnv("QUEUE_MAX_ATTEMPTS", 3)
	if err != nil {
		return nil, err
	}
	queueBackoff, err := getDurationEnv("QUEUE_BACKOFF_BASE", time.Second)
	if err != nil {
		return nil, err
	}
	queueConcurrency, err := getIntEnv("QUEUE_CONCURRENCY", 10)
	if err != nil {
		return nil, err
	}
	queuePoll, err := getDurationEnv("QUEUE_POLL_INTERVAL", time.Second)
	if err != nil {
		return nil, err
	}
	queueJobTimeout, err := getDurationEnv("QUEUE_JOB_TIMEOUT", 2*time.Minute)
	if err != nil {
		return nil, err
	}
	queueShutdown, err := getDurationEnv("QUEUE_SHUTDOWN_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	// Parse sync configuration
	syncTimeout, err := getDurationEnv("SYNC_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, err
	}
	accountConcurrency, err := getIntEnv("SYNC_ACCOUNT_CONCURRENCY", 5)
	if err != nil {
		return nil, err
	}
	transactionDays, err := getIntEnv("SYNC_TRANSACTION_WINDOW_DAYS", 90)
	if err != nil {
		return nil, err
	}
	invoiceDays, err := getIntEnv("SYNC_INVOICE_WINDOW_DAYS", 365)
	if err != nil {
		return nil, err
	}
	taxReturnYears, err := getIntEnv("SYNC_TAX_RETURN_YEARS", 4)
	if err != nil {
		return nil, err
	}
	enqueueConcurrency, err := getIntEnv("SYNC_ENQUEUE_CONCURRENCY", 10)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Host:         getEnv("HOST", "0.0.0.0"),
			AllowedHosts: getListEnv("ALLOWED_HOSTS", ""),
		},
		Database: DatabaseConfig{
			Host:          getEnv("DB_HOST", "localhost"),
			Port:          dbPort,
			User:          getEnv("DB_USER", "finsync"),
			Password:      getEnv("DB_PASSWORD", ""),
			DBName:        getEnv("DB_NAME", "finsync"),
			SSLMode:       getEnv("DB_SSLMODE", "disable"),
			RunMigrations: getBoolEnv("DB_RUN_MIGRATIONS", true),
		},
		Scheduler: SchedulerConfig{
			Enabled:       getBoolEnv("SCHEDULER_ENABLED", true),
			ScheduleTimes: getListEnv("SCHEDULER_TIMES", "05:00,10:00,14:00,20:00"),
			FiscalTimes:   getListEnv("SCHEDULER_FISCAL_TIMES", "05:00"),
			WorkerCount:   schedulerWorkers,
			JobDelay:      schedulerJobDelay,
			QueueSize:     schedulerQueueSize,
			RunOnStartup:  getBoolEnv("SCHEDULER_RUN_ON_STARTUP", false),
		},
		TLS: TLSConfig{
			Enabled:      getBoolEnv("TLS_ENABLED", false),
			CertPath:     getEnv("TLS_CERT_PATH", ""),
			KeyPath:      getEnv("TLS_KEY_PATH", ""),
			RedirectHTTP: getBoolEnv("TLS_REDIRECT_HTTP", false),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBoolEnv("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "finsync-api"),
			Environment:  getEnv("APP_ENV", "development"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", ""),
			MetricsPort:  getEnv("METRICS_PORT", "9090"),
		},
		Provider: ProviderConfig{
			BaseURL:        getEnv("PROVIDER_BASE_URL", ""),
			SecretID:       getEnv("PROVIDER_SECRET_ID", ""),
			SecretPassword: getEnv("PROVIDER_SECRET_PASSWORD", ""),
			Timeout:        providerTimeout,
		},
		Queue: QueueConfig{
			MaxAttempts:      queueAttempts,
			BackoffBase:      queueBackoff,
			Concurrency:      queueConcurrency,
			PollInterval:     queuePoll,
			RemoveOnComplete: getBoolEnv("QUEUE_REMOVE_ON_COMPLETE", true),
			JobTimeout:       queueJobTimeout,
			ShutdownTimeout:  queueShutdown,
		},
		Sync: SyncConfig{
			Timeout:            syncTimeout,
			AccountConcurrency: accountConcurrency,
			TransactionWindow:  time.Duration(transactionDays) * 24 * time.Hour,
			InvoiceWindow:      time.Duration(invoiceDays) * 24 * time.Hour,
			TaxReturnYears:     taxReturnYears,
			EnqueueConcurrency: enqueueConcurrency,
		},
		Link: LinkConfig{
			AcceptUnowned:  getBoolEnv("LINK_ACCEPT_UNOWNED", true),
			FiscalTags:     getListEnv("LINK_FISCAL_TAGS", ""),
			FiscalSuffixes: getListEnv("LINK_FISCAL_SUFFIXES", "_fiscal"),
			FiscalPrefixes: getListEnv("LINK_FISCAL_PREFIXES", "sat_"),
		},
		Kafka: KafkaConfig{
			Brokers: getListEnv("KAFKA_BROKERS", ""),
			Topic:   getEnv("KAFKA_TOPIC", "finsync.events"),
		},
		Archive: ArchiveConfig{
			Bucket:    getEnv("ARCHIVE_BUCKET", ""),
			Prefix:    getEnv("ARCHIVE_PREFIX", "raw"),
			Region:    getEnv("ARCHIVE_REGION", getEnv("AWS_REGION", "us-east-1")),
			Endpoint:  getEnv("ARCHIVE_ENDPOINT", ""),
			AccessKey: getEnv("ARCHIVE_ACCESS_KEY", ""),
			SecretKey: getEnv("ARCHIVE_SECRET_KEY", ""),
		},
		Secrets: SecretsConfig{
			SecretName: getEnv("PROVIDER_CREDENTIALS_SECRET", ""),
			Region:     getEnv("SECRETS_REGION", getEnv("AWS_REGION", "us-east-1")),
			Endpoint:   getEnv("SECRETS_ENDPOINT", ""),
		},
	}

	// Validate required fields
	if cfg.Secrets.SecretName == "" && (cfg.Provider.SecretID == "" || cfg.Provider.SecretPassword == "") {
		return nil, fmt.Errorf("PROVIDER_SECRET_ID and PROVIDER_SECRET_PASSWORD are required unless PROVIDER_CREDENTIALS_SECRET is set")
	}
	if cfg.Queue.MaxAttempts < 1 {
		return nil, fmt.Errorf("QUEUE_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.Queue.Concurrency < 1 {
		return nil, fmt.Errorf("QUEUE_CONCURRENCY must be at least 1")
	}

	// Validate TLS configuration
	if cfg.TLS.Enabled {
		if cfg.TLS.CertPath == "" {
			return nil, fmt.Errorf("TLS_CERT_PATH is required when TLS_ENABLED=true")
		}
		if cfg.TLS.KeyPath == "" {
			return nil, fmt.Errorf("TLS_KEY_PATH is required when TLS_ENABLED=true")
		}
	}

	return cfg, nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Accept: true, false, 1, 0, yes, no (case-insensitive)
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}

func getIntEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// getListEnv splits a comma-separated value, dropping blanks.
func getListEnv(key, defaultValue string) []string {
	var items []string
	for _, item := range strings.Split(getEnv(key, defaultValue), ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
