package openfinance

import (
	"context"
	"errors"
	"fmt"
	"log"

	ofclient "finsync/internal/infrastructure/openfinance"
	"finsync/internal/infrastructure/queue"
	"finsync/internal/shared/errs"
)

// PayloadValidator checks a raw document against the schema for its kind.
type PayloadValidator interface {
	Validate(kind string, raw []byte) error
}

// Archiver stores raw provider payloads for audit and replay.
type Archiver interface {
	Put(ctx context.Context, key string, body []byte) error
}

// FiscalJobHandler processes the fiscal queue's jobs: one provider document
// per job, validated, decoded and upserted.
type FiscalJobHandler struct {
	upserter  *Upserter
	validator PayloadValidator
	archive   Archiver
}

// NewFiscalJobHandler creates the handler. archive may be nil.
func NewFiscalJobHandler(upserter *Upserter, validator PayloadValidator, archive Archiver) *FiscalJobHandler {
	return &FiscalJobHandler{upserter: upserter, validator: validator, archive: archive}
}

// Register installs both fiscal handlers on q.
func (h *FiscalJobHandler) Register(q *queue.Queue, concurrency int) {
	q.Register(JobTypeInvoice, h.HandleInvoice, concurrency)
	q.Register(JobTypeTaxReturn, h.HandleTaxReturn, concurrency)
}

// HandleInvoice upserts the invoice carried by job.
func (h *FiscalJobHandler) HandleInvoice(ctx context.Context, job *queue.Job) error {
	if err := h.validate(ofclient.SchemaInvoice, job); err != nil {
		return err
	}
	var inv ofclient.Invoice
	if err := job.Decode(&inv); err != nil {
		return queue.Permanent(errs.New(errs.ErrValidation, fmt.Sprintf("failed to decode invoice: %v", err)))
	}

	res, err := h.upserter.UpsertInvoice(ctx, job.CustomerID, job.LinkID, &inv)
	if err != nil {
		return classify(err)
	}
	log.Printf("Customer %s: invoice %s %s", job.CustomerID, inv.ID, res.Outcome)

	h.store(ctx, fmt.Sprintf("%s/invoices/%s.json", job.CustomerID, inv.ID), job.Payload)
	return nil
}

// HandleTaxReturn upserts the tax return carried by job.
func (h *FiscalJobHandler) HandleTaxReturn(ctx context.Context, job *queue.Job) error {
	if err := h.validate(ofclient.SchemaTaxReturn, job); err != nil {
		return err
	}
	var tr ofclient.TaxReturn
	if err := job.Decode(&tr); err != nil {
		return queue.Permanent(errs.New(errs.ErrValidation, fmt.Sprintf("failed to decode tax return: %v", err)))
	}

	res, err := h.upserter.UpsertTaxReturn(ctx, job.CustomerID, job.LinkID, &tr)
	if err != nil {
		return classify(err)
	}
	log.Printf("Customer %s: tax return %s %s", job.CustomerID, tr.ID, res.Outcome)

	h.store(ctx, fmt.Sprintf("%s/tax-returns/%s.json", job.CustomerID, tr.ID), job.Payload)
	return nil
}

func (h *FiscalJobHandler) validate(kind string, job *queue.Job) error {
	if len(job.Payload) == 0 {
		return queue.Permanent(errs.New(errs.ErrValidation, fmt.Sprintf("%s job %s has no payload", kind, job.ID)))
	}
	if h.validator == nil {
		return nil
	}
	if err := h.validator.Validate(kind, job.Payload); err != nil {
		return queue.Permanent(err)
	}
	return nil
}

// store archives the payload; archive failures never fail the job.
func (h *FiscalJobHandler) store(ctx context.Context, key string, body []byte) {
	if h.archive == nil {
		return
	}
	if err := h.archive.Put(ctx, key, body); err != nil {
		log.Printf("Warning: failed to archive %s: %v", key, err)
	}
}

// classify marks errors that a retry cannot fix as permanent.
func classify(err error) error {
	if errors.Is(err, errs.ErrValidation) || errors.Is(err, errs.ErrConflict) {
		return queue.Permanent(err)
	}
	return err
}
