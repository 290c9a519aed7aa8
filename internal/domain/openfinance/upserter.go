package openfinance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"finsync/internal/domain/account"
	"finsync/internal/domain/fiscal"
	"finsync/internal/domain/transaction"
	ofclient "finsync/internal/infrastructure/openfinance"
	"finsync/internal/shared/errs"
)

// RecordKind tags the payload carried by an ExternalRecord.
type RecordKind string

const (
	KindAccount     RecordKind = "account"
	KindTransaction RecordKind = "transaction"
	KindInvoice     RecordKind = "invoice"
	KindTaxReturn   RecordKind = "tax_return"
)

// ExternalRecord is one provider record plus the local owner it syncs into.
// Exactly the field matching Kind must be set.
type ExternalRecord struct {
	Kind       RecordKind
	CustomerID string
	LinkID     string

	Account     *ofclient.Account
	Transaction *ofclient.Transaction
	Invoice     *ofclient.Invoice
	TaxReturn   *ofclient.TaxReturn
}

// Outcome reports what an upsert did to the local store.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	OutcomeSkipped Outcome = "skipped"
)

// UpsertResult is the local id touched by an upsert and how.
type UpsertResult struct {
	Kind    RecordKind
	LocalID string
	Outcome Outcome
}

// Upserter writes provider records into the local store keyed by their
// provider ids. Each call touches a single row.
type Upserter struct {
	accounts     account.Repository
	transactions transaction.Repository
	fiscal       fiscal.Repository
	now          func() time.Time
}

// NewUpserter creates a new record upserter
func NewUpserter(accounts account.Repository, transactions transaction.Repository, fiscalRepo fiscal.Repository) *Upserter {
	return &Upserter{
		accounts:     accounts,
		transactions: transactions,
		fiscal:       fiscalRepo,
		now:          time.Now,
	}
}

// Upsert dispatches on the record kind.
func (u *Upserter) Upsert(ctx context.Context, rec ExternalRecord) (*UpsertResult, error) {
	switch rec.Kind {
	case KindAccount:
		if rec.Account == nil {
			return nil, errs.New(errs.ErrValidation, "account record has no payload")
		}
		return u.UpsertAccount(ctx, rec.CustomerID, rec.LinkID, rec.Account)
	case KindTransaction:
		if rec.Transaction == nil {
			return nil, errs.New(errs.ErrValidation, "transaction record has no payload")
		}
		return u.UpsertTransaction(ctx, rec.CustomerID, rec.Transaction)
	case KindInvoice:
		if rec.Invoice == nil {
			return nil, errs.New(errs.ErrValidation, "invoice record has no payload")
		}
		return u.UpsertInvoice(ctx, rec.CustomerID, rec.LinkID, rec.Invoice)
	case KindTaxReturn:
		if rec.TaxReturn == nil {
			return nil, errs.New(errs.ErrValidation, "tax return record has no payload")
		}
		return u.UpsertTaxReturn(ctx, rec.CustomerID, rec.LinkID, rec.TaxReturn)
	default:
		return nil, errs.New(errs.ErrValidation, fmt.Sprintf("unknown record kind %q", rec.Kind))
	}
}

// UpsertAccount creates the account or refreshes its balances and metadata.
func (u *Upserter) UpsertAccount(ctx context.Context, customerID, linkID string, a *ofclient.Account) (*UpsertResult, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	now := u.now()

	existing, err := u.accounts.GetByExternalID(ctx, a.ID)
	if err != nil && !errors.Is(err, account.ErrAccountNotFound) {
		return nil, fmt.Errorf("failed to look up account %s: %w", a.ID, err)
	}

	if existing == nil {
		created, err := u.accounts.Create(ctx, account.CreateParams{
			CustomerID:        customerID,
			LinkID:            linkID,
			ExternalAccountID: a.ID,
			Institution:       a.Institution.Name,
			InstitutionType:   a.Institution.Type,
			Name:              a.Name,
			Type:              a.Type,
			Category:          a.Category,
			Number:            a.Number,
			CurrentBalance:    a.Balance.Current,
			AvailableBalance:  a.Balance.Available,
			Currency:          a.Currency,
			RawData:           a.Raw,
			SyncedAt:          now,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create account %s: %w", a.ID, err)
		}
		return &UpsertResult{Kind: KindAccount, LocalID: created.ID, Outcome: OutcomeCreated}, nil
	}

	if existing.CustomerID != customerID {
		return nil, fmt.Errorf("account %s: %w", a.ID, account.ErrOwnedElsewhere)
	}

	updated, err := u.accounts.UpdateSnapshot(ctx, existing.ID, account.SnapshotParams{
		LinkID:           linkID,
		Name:             a.Name,
		Category:         a.Category,
		CurrentBalance:   a.Balance.Current,
		AvailableBalance: a.Balance.Available,
		RawData:          a.Raw,
		SyncedAt:         now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update account %s: %w", a.ID, err)
	}
	return &UpsertResult{Kind: KindAccount, LocalID: updated.ID, Outcome: OutcomeUpdated}, nil
}

// UpsertTransaction inserts the transaction if it is not stored yet. Stored
// transactions are never rewritten. A transaction whose account has not been
// synced is skipped.
func (u *Upserter) UpsertTransaction(ctx context.Context, customerID string, t *ofclient.Transaction) (*UpsertResult, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	exists, err := u.transactions.Exists(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check transaction %s: %w", t.ID, err)
	}
	if exists {
		return &UpsertResult{Kind: KindTransaction, Outcome: OutcomeSkipped}, nil
	}

	acct, err := u.accounts.GetByExternalID(ctx, t.Account.ID)
	if errors.Is(err, account.ErrAccountNotFound) {
		log.Printf("Customer %s: skipping transaction %s, account %s not synced", customerID, t.ID, t.Account.ID)
		return &UpsertResult{Kind: KindTransaction, Outcome: OutcomeSkipped}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve account %s: %w", t.Account.ID, err)
	}
	if acct.CustomerID != customerID {
		return nil, fmt.Errorf("transaction %s: %w", t.ID, account.ErrOwnedElsewhere)
	}

	// Validate already checked the value date.
	valueDate, _ := t.GetValueDate()
	accountingDate, err := t.GetAccountingDate()
	if err != nil {
		return nil, errs.New(errs.ErrValidation, fmt.Sprintf("transaction %s: %v", t.ID, err))
	}
	collectedAt, err := t.GetCollectedAt()
	if err != nil {
		return nil, errs.New(errs.ErrValidation, fmt.Sprintf("transaction %s: %v", t.ID, err))
	}

	currency := t.Currency
	if currency == "" {
		currency = acct.Currency
	}
	var merchant string
	if t.Merchant != nil {
		merchant = t.Merchant.Name
	}

	tx, created, err := u.transactions.CreateIfAbsent(ctx, transaction.CreateParams{
		CustomerID:            customerID,
		AccountID:             acct.ID,
		ExternalTransactionID: t.ID,
		ExternalAccountID:     t.Account.ID,
		Amount:                t.Amount,
		Balance:               t.Balance,
		Currency:              currency,
		Description:           t.Description,
		Observations:          t.Observations,
		Category:              t.Category,
		Subcategory:           t.Subcategory,
		Type:                  t.Type,
		Status:                t.Status,
		Merchant:              merchant,
		Reference:             t.Reference,
		ValueDate:             valueDate,
		AccountingDate:        accountingDate,
		CollectedAt:           collectedAt,
		RawData:               t.Raw,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction %s: %w", t.ID, err)
	}
	if !created {
		// Lost a race with a concurrent insert of the same id.
		return &UpsertResult{Kind: KindTransaction, Outcome: OutcomeSkipped}, nil
	}
	return &UpsertResult{Kind: KindTransaction, LocalID: tx.ID, Outcome: OutcomeCreated}, nil
}

// UpsertInvoice creates the invoice or refreshes its mutable projection.
func (u *Upserter) UpsertInvoice(ctx context.Context, customerID, linkID string, inv *ofclient.Invoice) (*UpsertResult, error) {
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	params, err := invoiceParams(customerID, linkID, inv)
	if err != nil {
		return nil, err
	}

	existing, err := u.fiscal.GetInvoiceByExternalID(ctx, inv.ID)
	if err != nil && !errors.Is(err, fiscal.ErrDocumentNotFound) {
		return nil, fmt.Errorf("failed to look up invoice %s: %w", inv.ID, err)
	}
	if existing == nil {
		created, err := u.fiscal.CreateInvoice(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("failed to create invoice %s: %w", inv.ID, err)
		}
		return &UpsertResult{Kind: KindInvoice, LocalID: created.ID, Outcome: OutcomeCreated}, nil
	}

	updated, err := u.fiscal.UpdateInvoice(ctx, existing.ID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to update invoice %s: %w", inv.ID, err)
	}
	return &UpsertResult{Kind: KindInvoice, LocalID: updated.ID, Outcome: OutcomeUpdated}, nil
}

func invoiceParams(customerID, linkID string, inv *ofclient.Invoice) (fiscal.InvoiceParams, error) {
	invoiceDate, _ := inv.GetInvoiceDate()
	certificationDate, err := inv.GetCertificationDate()
	if err != nil {
		return fiscal.InvoiceParams{}, errs.New(errs.ErrValidation, fmt.Sprintf("invoice %s: %v", inv.ID, err))
	}
	collectedAt, err := inv.GetCollectedAt()
	if err != nil {
		return fiscal.InvoiceParams{}, errs.New(errs.ErrValidation, fmt.Sprintf("invoice %s: %v", inv.ID, err))
	}

	var exchangeRate decimal.NullDecimal
	if !inv.ExchangeRate.IsZero() {
		exchangeRate = decimal.NewNullDecimal(inv.ExchangeRate)
	}

	return fiscal.InvoiceParams{
		CustomerID:             customerID,
		LinkID:                 linkID,
		ExternalDocumentID:     inv.ID,
		Type:                   inv.Type,
		InvoiceType:            inv.InvoiceType,
		InvoiceIdentification:  inv.InvoiceIdentification,
		Folio:                  inv.Folio,
		Series:                 inv.Series,
		InvoiceDate:            invoiceDate,
		Status:                 inv.Status,
		CancelationStatus:      inv.CancelationStatus,
		Usage:                  inv.Usage,
		Version:                inv.Version,
		PaymentType:            inv.PaymentType,
		PaymentMethod:          inv.PaymentMethod,
		PlaceOfIssue:           inv.PlaceOfIssue,
		CertificationDate:      certificationDate,
		CertificationAuthority: inv.CertificationAuthority,
		SenderID:               inv.SenderID,
		SenderName:             inv.SenderName,
		SenderFiscalRegime:     inv.SenderFiscalRegime,
		SenderPostalCode:       inv.SenderPostalCode,
		ReceiverID:             inv.ReceiverID,
		ReceiverName:           inv.ReceiverName,
		ReceiverFiscalRegime:   inv.ReceiverFiscalRegime,
		ReceiverPostalCode:     inv.ReceiverPostalCode,
		Currency:               inv.Currency,
		ExchangeRate:           exchangeRate,
		SubtotalAmount:         inv.SubtotalAmount,
		DiscountAmount:         inv.DiscountAmount,
		TaxAmount:              inv.TaxAmount,
		TotalAmount:            inv.TotalAmount,
		TaxDetails:             inv.TaxDetails,
		Payments:               inv.Payments,
		InvoiceDetails:         inv.InvoiceDetails,
		RelatedInvoices:        inv.RelatedInvoices,
		RawData:                inv.Raw,
		CollectedAt:            collectedAt,
	}, nil
}

// UpsertTaxReturn creates the tax return or refreshes its mutable projection.
func (u *Upserter) UpsertTaxReturn(ctx context.Context, customerID, linkID string, tr *ofclient.TaxReturn) (*UpsertResult, error) {
	if err := tr.Validate(); err != nil {
		return nil, err
	}
	collectedAt, err := tr.GetCollectedAt()
	if err != nil {
		return nil, errs.New(errs.ErrValidation, fmt.Sprintf("tax return %s: %v", tr.ID, err))
	}

	params := fiscal.TaxReturnParams{
		CustomerID:         customerID,
		LinkID:             linkID,
		ExternalDocumentID: tr.ID,
		FiscalYear:         tr.FiscalYear(),
		IncomeTax:          tr.IncomeTax(),
		NetIncome:          tr.NetIncome(),
		GrossIncome:        tr.GrossIncome(),
		RawData:            tr.Raw,
		CollectedAt:        collectedAt,
	}

	existing, err := u.fiscal.GetTaxReturnByExternalID(ctx, tr.ID)
	if err != nil && !errors.Is(err, fiscal.ErrDocumentNotFound) {
		return nil, fmt.Errorf("failed to look up tax return %s: %w", tr.ID, err)
	}
	if existing == nil {
		created, err := u.fiscal.CreateTaxReturn(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("failed to create tax return %s: %w", tr.ID, err)
		}
		return &UpsertResult{Kind: KindTaxReturn, LocalID: created.ID, Outcome: OutcomeCreated}, nil
	}

	updated, err := u.fiscal.UpdateTaxReturn(ctx, existing.ID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to update tax return %s: %w", tr.ID, err)
	}
	return &UpsertResult{Kind: KindTaxReturn, LocalID: updated.ID, Outcome: OutcomeUpdated}, nil
}
