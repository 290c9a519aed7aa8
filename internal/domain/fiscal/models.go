package fiscal

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"finsync/internal/shared/errs"
)

// Domain errors
var (
	ErrDocumentNotFound = errs.New(errs.ErrNotFound, "fiscal document not found")
)

// Invoice is a fiscal invoice mirrored from the provider.
type Invoice struct {
	ID                     string              `json:"id"`
	CustomerID             string              `json:"customerId"`
	LinkID                 string              `json:"linkId"`
	ExternalDocumentID     string              `json:"externalDocumentId"`
	Type                   string              `json:"type"`
	InvoiceType            string              `json:"invoiceType"`
	InvoiceIdentification  string              `json:"invoiceIdentification"`
	Folio                  string              `json:"folio"`
	Series                 string              `json:"series"`
	InvoiceDate            *time.Time          `json:"invoiceDate"`
	Status                 string              `json:"status"`
	CancelationStatus      string              `json:"cancelationStatus,omitempty"`
	Usage                  string              `json:"usage"`
	Version                string              `json:"version"`
	PaymentType            string              `json:"paymentType"`
	PaymentMethod          string              `json:"paymentMethod"`
	PlaceOfIssue           string              `json:"placeOfIssue"`
	CertificationDate      *time.Time          `json:"certificationDate"`
	CertificationAuthority string              `json:"certificationAuthority"`
	SenderID               string              `json:"senderId"`
	SenderName             string              `json:"senderName"`
	SenderFiscalRegime     string              `json:"senderFiscalRegime"`
	SenderPostalCode       string              `json:"senderPostalCode"`
	ReceiverID             string              `json:"receiverId"`
	ReceiverName           string              `json:"receiverName"`
	ReceiverFiscalRegime   string              `json:"receiverFiscalRegime"`
	ReceiverPostalCode     string              `json:"receiverPostalCode"`
	Currency               string              `json:"currency"`
	ExchangeRate           decimal.NullDecimal `json:"exchangeRate"`
	SubtotalAmount         decimal.Decimal     `json:"subtotalAmount"`
	DiscountAmount         decimal.Decimal     `json:"discountAmount"`
	TaxAmount              decimal.Decimal     `json:"taxAmount"`
	TotalAmount            decimal.Decimal     `json:"totalAmount"`
	TaxDetails             json.RawMessage     `json:"taxDetails,omitempty"`
	Payments               json.RawMessage     `json:"payments,omitempty"`
	InvoiceDetails         json.RawMessage     `json:"invoiceDetails,omitempty"`
	RelatedInvoices        json.RawMessage     `json:"relatedInvoices,omitempty"`
	RawData                json.RawMessage     `json:"-"`
	CollectedAt            *time.Time          `json:"collectedAt"`
	CreatedAt              time.Time           `json:"createdAt"`
	UpdatedAt              time.Time           `json:"updatedAt"`
}

// InvoiceParams is the full mapped invoice. Updates apply only the fields
// the provider may revise: status, cancellation, amounts, attachments and
// collection time.
type InvoiceParams struct {
	CustomerID             string
	LinkID                 string
	ExternalDocumentID     string
	Type                   string
	InvoiceType            string
	InvoiceIdentification  string
	Folio                  string
	Series                 string
	InvoiceDate            *time.Time
	Status                 string
	CancelationStatus      string
	Usage                  string
	Version                string
	PaymentType            string
	PaymentMethod          string
	PlaceOfIssue           string
	CertificationDate      *time.Time
	CertificationAuthority string
	SenderID               string
	SenderName             string
	SenderFiscalRegime     string
	SenderPostalCode       string
	ReceiverID             string
	ReceiverName           string
	ReceiverFiscalRegime   string
	ReceiverPostalCode     string
	Currency               string
	ExchangeRate           decimal.NullDecimal
	SubtotalAmount         decimal.Decimal
	DiscountAmount         decimal.Decimal
	TaxAmount              decimal.Decimal
	TotalAmount            decimal.Decimal
	TaxDetails             json.RawMessage
	Payments               json.RawMessage
	InvoiceDetails         json.RawMessage
	RelatedInvoices        json.RawMessage
	RawData                json.RawMessage
	CollectedAt            *time.Time
}

// Validate validates the invoice parameters
func (p InvoiceParams) Validate() error {
	if p.CustomerID == "" {
		return errs.New(errs.ErrValidation, "customer ID is required")
	}
	if p.ExternalDocumentID == "" {
		return errs.New(errs.ErrValidation, "external document ID is required")
	}
	return nil
}

// TaxReturn is a yearly tax return mirrored from the provider.
type TaxReturn struct {
	ID                 string              `json:"id"`
	CustomerID         string              `json:"customerId"`
	LinkID             string              `json:"linkId"`
	ExternalDocumentID string              `json:"externalDocumentId"`
	FiscalYear         string              `json:"fiscalYear"`
	IncomeTax          decimal.NullDecimal `json:"incomeTax"`
	NetIncome          decimal.NullDecimal `json:"netIncome"`
	GrossIncome        decimal.NullDecimal `json:"grossIncome"`
	RawData            json.RawMessage     `json:"-"`
	CollectedAt        *time.Time          `json:"collectedAt"`
	CreatedAt          time.Time           `json:"createdAt"`
	UpdatedAt          time.Time           `json:"updatedAt"`
}

// TaxReturnParams is the mapped tax return.
type TaxReturnParams struct {
	CustomerID         string
	LinkID             string
	ExternalDocumentID string
	FiscalYear         string
	IncomeTax          decimal.NullDecimal
	NetIncome          decimal.NullDecimal
	GrossIncome        decimal.NullDecimal
	RawData            json.RawMessage
	CollectedAt        *time.Time
}

// Validate validates the tax return parameters
func (p TaxReturnParams) Validate() error {
	if p.CustomerID == "" {
		return errs.New(errs.ErrValidation, "customer ID is required")
	}
	if p.ExternalDocumentID == "" {
		return errs.New(errs.ErrValidation, "external document ID is required")
	}
	return nil
}

// Page selects a slice of a listing. Page is 1-based.
type Page struct {
	Page  int
	Limit int
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Offset returns the row offset of the page.
func (p Page) Offset() int {
	return (p.Page - 1) * p.Limit
}

// InvoiceFilter restricts an invoice listing.
type InvoiceFilter struct {
	Page
	From *time.Time
	To   *time.Time
}
