package scheduler

import (
	"context"
	"fmt"
	"log"

	"finsync/internal/domain/link"
	"finsync/internal/domain/openfinance"
)

// SyncRunner runs one sync path inline.
type SyncRunner interface {
	Run(ctx context.Context, customerID, linkID string, path openfinance.SyncPath) openfinance.SyncOutcome
}

// LinkManager lists links and folds sync outcomes back into them.
type LinkManager interface {
	ListActive(ctx context.Context) ([]*link.Link, error)
	Classify(tag string) openfinance.SyncPath
	ApplyOutcome(l *link.Link, outcome openfinance.SyncOutcome)
}

// LinkSyncJob re-syncs one active link along its classified path.
type LinkSyncJob struct {
	link   *link.Link
	path   openfinance.SyncPath
	runner SyncRunner
	links  LinkManager
}

// NewLinkSyncJob creates a re-sync job for a link
func NewLinkSyncJob(l *link.Link, runner SyncRunner, links LinkManager) *LinkSyncJob {
	return &LinkSyncJob{
		link:   l,
		path:   links.Classify(l.InstitutionTag),
		runner: runner,
		links:  links,
	}
}

// Execute runs the sync and records its outcome on the link
func (j *LinkSyncJob) Execute(ctx context.Context) error {
	outcome := j.runner.Run(ctx, j.link.CustomerID, j.link.LinkID, j.path)
	j.links.ApplyOutcome(j.link, outcome)

	if outcome.Err != nil {
		return fmt.Errorf("%s sync failed: %w", j.path, outcome.Err)
	}

	switch {
	case outcome.Transactional != nil && len(outcome.Transactional.Errors) > 0:
		log.Printf("Customer %s: scheduled sync completed with %d errors", j.link.CustomerID, len(outcome.Transactional.Errors))
	case outcome.Fiscal != nil:
		log.Printf("Customer %s: scheduled fiscal sync queued %d invoices, %d tax returns",
			j.link.CustomerID, outcome.Fiscal.InvoicesQueued, outcome.Fiscal.TaxReturnsQueued)
	}
	return nil
}

func (j *LinkSyncJob) CustomerID() string {
	return j.link.CustomerID
}

func (j *LinkSyncJob) Description() string {
	return fmt.Sprintf("%s sync of link %s", j.path, j.link.LinkID)
}

// ActiveLinkJobs returns a job provider yielding one re-sync job per active
// link whose classified path is among the due paths.
func ActiveLinkJobs(runner SyncRunner, links LinkManager) JobProvider {
	return func(ctx context.Context, paths []openfinance.SyncPath) ([]Job, error) {
		active, err := links.ListActive(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list active links: %w", err)
		}

		jobs := make([]Job, 0, len(active))
		for _, l := range active {
			job := NewLinkSyncJob(l, runner, links)
			if !containsPath(paths, job.path) {
				continue
			}
			jobs = append(jobs, job)
		}
		return jobs, nil
	}
}
