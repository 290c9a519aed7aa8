package link

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"finsync/internal/domain/openfinance"
	"finsync/internal/infrastructure/events"
	ofclient "finsync/internal/infrastructure/openfinance"
)

// Provider is the part of the gateway the link lifecycle needs.
type Provider interface {
	ResolveLink(ctx context.Context, linkID string) (*ofclient.Link, error)
	ResolveLinkByExternalID(ctx context.Context, externalID string) (*ofclient.Link, error)
	RevokeLink(ctx context.Context, linkID string) error
}

// Syncer starts a sync without waiting for it.
type Syncer interface {
	Submit(ctx context.Context, customerID, linkID string, path openfinance.SyncPath) <-chan openfinance.SyncOutcome
}

// AccountUnlinker marks a link's mirrored accounts as unlinked.
type AccountUnlinker interface {
	MarkUnlinked(ctx context.Context, linkID string, at time.Time) (int64, error)
}

// Options tunes resolution and classification.
type Options struct {
	// AcceptUnowned accepts a provider link with no owner tag as belonging
	// to the first customer that claims it.
	AcceptUnowned bool
	// FiscalTags are institution tags always routed to the fiscal path.
	FiscalTags []string
	// FiscalSuffixes and FiscalPrefixes match fiscal institution tags.
	FiscalSuffixes []string
	FiscalPrefixes []string
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		AcceptUnowned:  true,
		FiscalSuffixes: []string{"_fiscal"},
		FiscalPrefixes: []string{"sat_"},
	}
}

// Service owns the link state machine:
// unlinked -> pending -> active, active -> error -> unlinked, active -> unlinked.
type Service struct {
	repo      Repository
	provider  Provider
	syncer    Syncer
	accounts  AccountUnlinker
	publisher events.Publisher
	opts      Options
	locks     *customerLocks
	now       func() time.Time
}

// NewService creates a new link service
func NewService(repo Repository, provider Provider, syncer Syncer, accounts AccountUnlinker, publisher events.Publisher, opts Options) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{
		repo:      repo,
		provider:  provider,
		syncer:    syncer,
		accounts:  accounts,
		publisher: publisher,
		opts:      opts,
		locks:     newCustomerLocks(),
		now:       time.Now,
	}
}

// Activate claims candidateLinkID for the customer, resolves it at the
// provider and starts the initial sync in the background.
func (s *Service) Activate(ctx context.Context, customerID, candidateLinkID string) (*Result, error) {
	if customerID == "" || candidateLinkID == "" {
		return nil, ErrInvalidInput
	}

	unlock := s.locks.lock(customerID)
	defer unlock()

	current, err := s.repo.GetCurrent(ctx, customerID)
	switch {
	case errors.Is(err, ErrNoLink):
	case err != nil:
		return nil, fmt.Errorf("failed to load current link: %w", err)
	case current.Status == StatusPending || current.Status == StatusActive:
		return nil, ErrAlreadyLinked
	default:
		// A link in error is replaced.
		if err := s.repo.SoftDelete(ctx, current.ID, s.now()); err != nil {
			return nil, fmt.Errorf("failed to clear errored link: %w", err)
		}
		log.Printf("Customer %s: cleared errored link %s before relinking", customerID, current.LinkID)
	}

	pending, err := s.repo.CreatePending(ctx, customerID, candidateLinkID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim link: %w", err)
	}

	resolved, err := s.resolve(ctx, customerID, candidateLinkID)
	if err == nil {
		err = s.checkNotClaimed(ctx, customerID, resolved.ID)
	}
	if err != nil {
		s.abandon(customerID, pending)
		return nil, err
	}

	active, err := s.repo.Activate(ctx, pending.ID, ActivateParams{
		LinkID:         resolved.ID,
		Institution:    resolved.Institution,
		InstitutionTag: resolved.Institution,
		LinkedAt:       s.now(),
	})
	if err != nil {
		s.abandon(customerID, pending)
		return nil, fmt.Errorf("failed to activate link: %w", err)
	}

	path := s.Classify(active.InstitutionTag)
	log.Printf("Customer %s: link %s active (%s), starting %s sync", customerID, active.LinkID, active.InstitutionTag, path)

	events.PublishBestEffort(ctx, s.publisher, events.Event{
		Type:       events.LinkActivated,
		CustomerID: customerID,
		LinkID:     active.LinkID,
		Data:       map[string]any{"institution": active.Institution, "path": string(path)},
	})

	return &Result{
		Link: active,
		Path: path,
		Sync: s.watch(active, s.syncer.Submit(ctx, customerID, active.LinkID, path)),
	}, nil
}

// resolve maps the candidate id to a provider link owned by the customer,
// falling back to a search by the customer's external id when the direct
// lookup fails or is owned by someone else.
func (s *Service) resolve(ctx context.Context, customerID, candidateLinkID string) (*ofclient.Link, error) {
	direct, err := s.provider.ResolveLink(ctx, candidateLinkID)
	if err != nil {
		log.Printf("Customer %s: direct resolve of link %s failed, searching by external id: %v", customerID, candidateLinkID, err)
		found, serr := s.findByExternalID(ctx, customerID)
		if serr != nil || found == nil {
			if serr != nil {
				log.Printf("Customer %s: external id search failed: %v", customerID, serr)
			}
			return nil, fmt.Errorf("%w: %v", ErrLinkNotFound, err)
		}
		return found, nil
	}

	switch {
	case direct.ExternalID == customerID:
		return direct, nil
	case direct.ExternalID == "" && s.opts.AcceptUnowned:
		log.Printf("Warning: customer %s claimed link %s with no owner tag", customerID, direct.ID)
		return direct, nil
	}

	found, err := s.findByExternalID(ctx, customerID)
	if err != nil {
		log.Printf("Customer %s: external id search failed: %v", customerID, err)
	}
	if found == nil {
		return nil, ErrLinkMismatch
	}
	return found, nil
}

func (s *Service) findByExternalID(ctx context.Context, customerID string) (*ofclient.Link, error) {
	found, err := s.provider.ResolveLinkByExternalID(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if found != nil && found.ExternalID != "" && found.ExternalID != customerID {
		return nil, nil
	}
	return found, nil
}

// checkNotClaimed rejects a provider link that is already active for a
// different customer.
func (s *Service) checkNotClaimed(ctx context.Context, customerID, linkID string) error {
	other, err := s.repo.FindActiveByLinkID(ctx, linkID)
	switch {
	case errors.Is(err, ErrNoLink):
		return nil
	case err != nil:
		return fmt.Errorf("failed to check link ownership: %w", err)
	case other.CustomerID != customerID:
		return ErrLinkInUse
	}
	return nil
}

// abandon soft-deletes a pending link after a failed activation.
func (s *Service) abandon(customerID string, pending *Link) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.repo.SoftDelete(ctx, pending.ID, s.now()); err != nil {
		log.Printf("Customer %s: failed to release pending link %s: %v", customerID, pending.ID, err)
	}
}

// watch applies the sync outcome to the link and forwards it.
func (s *Service) watch(l *Link, in <-chan openfinance.SyncOutcome) <-chan openfinance.SyncOutcome {
	out := make(chan openfinance.SyncOutcome, 1)
	go func() {
		defer close(out)
		outcome, ok := <-in
		if !ok {
			return
		}
		s.ApplyOutcome(l, outcome)
		out <- outcome
	}()
	return out
}

// ApplyOutcome moves the link to error when the sync found the provider no
// longer accepts it. Other failures leave the link active.
func (s *Service) ApplyOutcome(l *Link, outcome openfinance.SyncOutcome) {
	if outcome.Unrecoverable {
		s.markErrored(l, outcome.Err)
	}
}

func (s *Service) markErrored(l *Link, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.repo.SetStatus(ctx, l.ID, StatusError); err != nil {
		log.Printf("Customer %s: failed to mark link %s errored: %v", l.CustomerID, l.LinkID, err)
		return
	}
	log.Printf("Customer %s: link %s moved to error: %v", l.CustomerID, l.LinkID, cause)

	data := map[string]any{}
	if cause != nil {
		data["error"] = cause.Error()
	}
	events.PublishBestEffort(ctx, s.publisher, events.Event{
		Type:       events.LinkErrored,
		CustomerID: l.CustomerID,
		LinkID:     l.LinkID,
		Data:       data,
	})
}

// Deactivate revokes the link at the provider when possible and always
// unlinks it locally.
func (s *Service) Deactivate(ctx context.Context, customerID string) error {
	unlock := s.locks.lock(customerID)
	defer unlock()

	current, err := s.repo.GetCurrent(ctx, customerID)
	if errors.Is(err, ErrNoLink) {
		return ErrNoActiveLink
	}
	if err != nil {
		return fmt.Errorf("failed to load current link: %w", err)
	}

	if err := s.provider.RevokeLink(ctx, current.LinkID); err != nil {
		log.Printf("Warning: failed to revoke link %s at provider, continuing: %v", current.LinkID, err)
	}

	now := s.now()
	if err := s.repo.SoftDelete(ctx, current.ID, now); err != nil {
		return fmt.Errorf("failed to unlink: %w", err)
	}

	if s.accounts != nil {
		n, err := s.accounts.MarkUnlinked(ctx, current.LinkID, now)
		if err != nil {
			log.Printf("Customer %s: failed to mark accounts of link %s unlinked: %v", customerID, current.LinkID, err)
		} else {
			log.Printf("Customer %s: unlinked link %s (%d accounts)", customerID, current.LinkID, n)
		}
	}

	events.PublishBestEffort(ctx, s.publisher, events.Event{
		Type:       events.LinkDeactivated,
		CustomerID: customerID,
		LinkID:     current.LinkID,
	})
	return nil
}

// Status reports the customer's link, re-checking an active one at the
// provider. A link the provider no longer knows moves to error. The check
// runs under the customer's lock so it never races Activate or Deactivate.
func (s *Service) Status(ctx context.Context, customerID string) (*LinkStatus, error) {
	unlock := s.locks.lock(customerID)
	defer unlock()

	current, err := s.repo.GetCurrent(ctx, customerID)
	if errors.Is(err, ErrNoLink) {
		return &LinkStatus{CustomerID: customerID, Status: StatusUnlinked, Message: "No bank account linked"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load current link: %w", err)
	}

	status := &LinkStatus{
		CustomerID:  customerID,
		IsLinked:    current.Status == StatusActive,
		Status:      current.Status,
		LinkID:      current.LinkID,
		LinkedAt:    current.LinkedAt,
		Institution: current.Institution,
	}
	if current.Status != StatusActive {
		return status, nil
	}

	remote, err := s.provider.ResolveLink(ctx, current.LinkID)
	switch {
	case ofclient.IsNotFound(err) || ofclient.IsUnauthorized(err):
		s.markErrored(current, err)
		status.IsLinked = false
		status.Status = StatusError
		status.Message = "Link no longer valid"
	case err != nil:
		log.Printf("Customer %s: provider status check for link %s failed: %v", customerID, current.LinkID, err)
		status.Message = "Provider status unavailable"
	default:
		status.ProviderStatus = remote.Status
		status.AccessMode = remote.AccessMode
	}
	return status, nil
}

// Current returns the customer's active link.
func (s *Service) Current(ctx context.Context, customerID string) (*Link, error) {
	current, err := s.repo.GetCurrent(ctx, customerID)
	if errors.Is(err, ErrNoLink) {
		return nil, ErrNoActiveLink
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load current link: %w", err)
	}
	if current.Status != StatusActive {
		return nil, ErrNoActiveLink
	}
	return current, nil
}

// ListActive returns every active link.
func (s *Service) ListActive(ctx context.Context) ([]*Link, error) {
	return s.repo.ListActive(ctx)
}

// Classify picks the sync path for an institution tag.
func (s *Service) Classify(tag string) openfinance.SyncPath {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for _, t := range s.opts.FiscalTags {
		if tag == strings.ToLower(t) {
			return openfinance.PathFiscal
		}
	}
	for _, suffix := range s.opts.FiscalSuffixes {
		if suffix != "" && strings.HasSuffix(tag, strings.ToLower(suffix)) {
			return openfinance.PathFiscal
		}
	}
	for _, prefix := range s.opts.FiscalPrefixes {
		if prefix != "" && strings.HasPrefix(tag, strings.ToLower(prefix)) {
			return openfinance.PathFiscal
		}
	}
	return openfinance.PathTransactional
}

// customerLocks serializes link mutations per customer.
type customerLocks struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newCustomerLocks() *customerLocks {
	return &customerLocks{locks: make(map[string]*refMutex)}
}

func (c *customerLocks) lock(customerID string) (unlock func()) {
	c.mu.Lock()
	m, ok := c.locks[customerID]
	if !ok {
		m = &refMutex{}
		c.locks[customerID] = m
	}
	m.refs++
	c.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		c.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(c.locks, customerID)
		}
		c.mu.Unlock()
	}
}
