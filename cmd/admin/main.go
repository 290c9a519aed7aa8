package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"finsync/internal/domain/openfinance"
	"finsync/internal/infrastructure/postgres"
	"finsync/internal/infrastructure/queue"
	"finsync/internal/shared/config"
)

const usage = `finsync admin - maintenance commands for the sync engine

Usage:
  admin <command> [options]

Commands:
  migrate        Apply pending database migrations
  jobs           List fiscal sync jobs in a given state
  job            Show one fiscal sync job in detail
  sync-status    Count a customer's fiscal sync jobs by state
  retry-failed   Move failed fiscal sync jobs back to waiting

Examples:
  admin migrate
  admin jobs --state=failed
  admin jobs --state=waiting --customer-id=C1 --limit=20
  admin job --id=3f2b...
  admin sync-status --customer-id=C1
  admin retry-failed --customer-id=C1
  admin retry-failed --all
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage + "\n")
		os.Exit(1)
	}

	_ = godotenv.Load(".env")

	command := os.Args[1]

	switch command {
	case "migrate":
		runMigrate(os.Args[2:])
	case "jobs":
		runJobs(os.Args[2:])
	case "job":
		runJob(os.Args[2:])
	case "sync-status":
		runSyncStatus(os.Args[2:])
	case "retry-failed":
		runRetryFailed(os.Args[2:])
	case "help", "-h", "--help":
		fmt.Print(usage + "\n")
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		fmt.Print(usage + "\n")
		os.Exit(1)
	}
}

// connect loads configuration and opens the database.
func connect() *postgres.DB {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Println("Connected to database")
	return db
}

func runMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	timeout := fs.Duration("timeout", 5*time.Minute, "Timeout for the operation")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	db := connect()
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("Migrations applied")
}

func runJobs(args []string) {
	fs := flag.NewFlagSet("jobs", flag.ExitOnError)
	state := fs.String("state", string(queue.StateFailed), "Job state: waiting, active, completed or failed")
	customerID := fs.String("customer-id", "", "Only show jobs of this customer")
	limit := fs.Int("limit", 50, "Maximum number of jobs to print")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	st, err := parseState(*state)
	if err != nil {
		log.Fatal(err)
	}

	db := connect()
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	jobs, err := postgres.NewJobStore(db, openfinance.FiscalQueueName).ListByState(ctx, st)
	if err != nil {
		log.Fatalf("Failed to list jobs: %v", err)
	}

	filtered := filterJobs(jobs, *customerID, *limit)
	printJobs(filtered)
	fmt.Printf("\n%d of %d %s job(s) shown\n", len(filtered), len(jobs), st)
}

func runJob(args []string) {
	fs := flag.NewFlagSet("job", flag.ExitOnError)
	id := fs.String("id", "", "Job id (required)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *id == "" {
		fmt.Println("Error: must specify --id")
		fs.Usage()
		os.Exit(1)
	}

	db := connect()
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	job, err := postgres.NewJobStore(db, openfinance.FiscalQueueName).Get(ctx, *id)
	if errors.Is(err, queue.ErrJobNotFound) {
		log.Fatalf("Job %s not found", *id)
	}
	if err != nil {
		log.Fatalf("Failed to get job: %v", err)
	}
	printJob(os.Stdout, job)
}

func runSyncStatus(args []string) {
	fs := flag.NewFlagSet("sync-status", flag.ExitOnError)
	customerID := fs.String("customer-id", "", "Customer to report on (required)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *customerID == "" {
		fmt.Println("Error: must specify --customer-id")
		fs.Usage()
		os.Exit(1)
	}

	db := connect()
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	status, err := openfinance.NewStatusService(postgres.NewJobStore(db, openfinance.FiscalQueueName)).Status(ctx, *customerID)
	if err != nil {
		log.Fatalf("Failed to get sync status: %v", err)
	}

	fmt.Printf("\n=== Customer %s ===\n", status.CustomerID)
	fmt.Printf("  Waiting:   %d\n", status.Waiting)
	fmt.Printf("  Active:    %d\n", status.Active)
	fmt.Printf("  Completed: %d\n", status.Completed)
	fmt.Printf("  Failed:    %d\n", status.Failed)
	fmt.Printf("  Total:     %d\n", status.Total)
}

func runRetryFailed(args []string) {
	fs := flag.NewFlagSet("retry-failed", flag.ExitOnError)
	customerID := fs.String("customer-id", "", "Retry only this customer's failed jobs")
	all := fs.Bool("all", false, "Retry every failed job")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *customerID == "" && !*all {
		fmt.Println("Error: must specify --customer-id or --all")
		fs.Usage()
		os.Exit(1)
	}

	db := connect()
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := postgres.NewJobStore(db, openfinance.FiscalQueueName).RetryFailed(ctx, *customerID, time.Now())
	if err != nil {
		log.Fatalf("Failed to retry jobs: %v", err)
	}
	log.Printf("Moved %d failed job(s) back to waiting; a running API instance picks them up on its next poll", n)
}

func parseState(s string) (queue.State, error) {
	st := queue.State(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case queue.StateWaiting, queue.StateActive, queue.StateCompleted, queue.StateFailed:
		return st, nil
	}
	return "", fmt.Errorf("invalid state %q", s)
}

func filterJobs(jobs []*queue.Job, customerID string, limit int) []*queue.Job {
	out := make([]*queue.Job, 0, len(jobs))
	for _, j := range jobs {
		if customerID != "" && j.CustomerID != customerID {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, j)
	}
	return out
}

func printJobs(jobs []*queue.Job) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tCUSTOMER\tATTEMPT\tENQUEUED\tLAST ERROR")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			j.ID, j.Type, j.CustomerID, j.Attempt, j.MaxAttempts,
			j.EnqueuedAt.Format(time.RFC3339), truncate(j.LastError, 60))
	}
	w.Flush()
}

func printJob(out io.Writer, j *queue.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", j.ID)
	fmt.Fprintf(w, "Type:\t%s\n", j.Type)
	fmt.Fprintf(w, "Customer:\t%s\n", j.CustomerID)
	fmt.Fprintf(w, "Link:\t%s\n", j.LinkID)
	fmt.Fprintf(w, "State:\t%s\n", j.State)
	fmt.Fprintf(w, "Attempt:\t%d/%d\n", j.Attempt, j.MaxAttempts)
	fmt.Fprintf(w, "Enqueued:\t%s\n", j.EnqueuedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Run at:\t%s\n", j.RunAt.Format(time.RFC3339))
	if j.FinishedAt != nil {
		fmt.Fprintf(w, "Finished:\t%s\n", j.FinishedAt.Format(time.RFC3339))
	}
	if j.LastError != "" {
		fmt.Fprintf(w, "Last error:\t%s\n", j.LastError)
	}
	fmt.Fprintf(w, "Payload:\t%d bytes\n", len(j.Payload))
	w.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
