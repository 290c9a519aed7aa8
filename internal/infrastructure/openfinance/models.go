package openfinance

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"finsync/internal/shared/errs"
)

// pageResponse is the envelope of list endpoints. Retrieve endpoints return a
// bare array instead.
type pageResponse struct {
	Count    int             `json:"count"`
	Next     *string         `json:"next"`
	Previous *string         `json:"previous"`
	Results  json.RawMessage `json:"results"`
}

// ErrorResponse is the body the provider returns on failures.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

// Link is a provider-side link.
type Link struct {
	ID          string `json:"id"`
	Institution string `json:"institution"`
	AccessMode  string `json:"access_mode"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	ExternalID  string `json:"external_id"`
	CreatedBy   string `json:"created_by,omitempty"`
}

// Institution is the institution block embedded in accounts.
type Institution struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Balance holds the balances reported for an account.
type Balance struct {
	Current   decimal.Decimal     `json:"current"`
	Available decimal.NullDecimal `json:"available"`
}

// Account represents an account from the provider API
type Account struct {
	ID          string      `json:"id"`
	Link        string      `json:"link"`
	Institution Institution `json:"institution"`
	CollectedAt string      `json:"collected_at"`
	Category    string      `json:"category"`
	Type        string      `json:"type"`
	Name        string      `json:"name"`
	Number      string      `json:"number"`
	Balance     Balance     `json:"balance"`
	Currency    string      `json:"currency"`

	Raw json.RawMessage `json:"-"`
}

func (a *Account) UnmarshalJSON(b []byte) error {
	type alias Account
	var v alias
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*a = Account(v)
	a.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// Validate rejects accounts missing the fields the upserter keys on.
func (a *Account) Validate() error {
	if a.ID == "" {
		return errs.New(errs.ErrValidation, "account id is required")
	}
	if a.Currency == "" {
		return errs.New(errs.ErrValidation, fmt.Sprintf("account %s: currency is required", a.ID))
	}
	return nil
}

// TransactionAccount is the account reference embedded in a transaction.
type TransactionAccount struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Merchant is the optional merchant block of a transaction.
type Merchant struct {
	Name string `json:"name"`
	Logo string `json:"logo,omitempty"`
}

// Transaction represents a transaction from the provider API
type Transaction struct {
	ID             string              `json:"id"`
	Account        TransactionAccount  `json:"account"`
	CollectedAt    string              `json:"collected_at"`
	ValueDate      string              `json:"value_date"`
	AccountingDate string              `json:"accounting_date"`
	Amount         decimal.Decimal     `json:"amount"`
	Balance        decimal.NullDecimal `json:"balance"`
	Currency       string              `json:"currency"`
	Description    string              `json:"description"`
	Observations   string              `json:"observations"`
	Merchant       *Merchant           `json:"merchant"`
	Category       string              `json:"category"`
	Subcategory    string              `json:"subcategory"`
	Reference      string              `json:"reference"`
	Type           string              `json:"type"`
	Status         string              `json:"status"`

	Raw json.RawMessage `json:"-"`
}

func (t *Transaction) UnmarshalJSON(b []byte) error {
	type alias Transaction
	var v alias
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*t = Transaction(v)
	t.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// Validate rejects transactions that cannot be tied to an account.
func (t *Transaction) Validate() error {
	if t.ID == "" {
		return errs.New(errs.ErrValidation, "transaction id is required")
	}
	if t.Account.ID == "" {
		return errs.New(errs.ErrValidation, fmt.Sprintf("transaction %s: account id is required", t.ID))
	}
	if _, err := t.GetValueDate(); err != nil {
		return errs.New(errs.ErrValidation, fmt.Sprintf("transaction %s: %v", t.ID, err))
	}
	return nil
}

// GetValueDate parses the value date.
func (t *Transaction) GetValueDate() (*time.Time, error) {
	return parseDate(t.ValueDate)
}

// GetAccountingDate parses the accounting date.
func (t *Transaction) GetAccountingDate() (*time.Time, error) {
	return parseDate(t.AccountingDate)
}

// GetCollectedAt parses the collection timestamp.
func (t *Transaction) GetCollectedAt() (*time.Time, error) {
	return parseDate(t.CollectedAt)
}

// Invoice is a fiscal invoice (CFDI) from the provider.
type Invoice struct {
	ID                     string          `json:"id"`
	Link                   string          `json:"link"`
	CollectedAt            string          `json:"collected_at"`
	CreatedAt              string          `json:"created_at"`
	InvoiceIdentification  string          `json:"invoice_identification"`
	InvoiceDate            string          `json:"invoice_date"`
	Status                 string          `json:"status"`
	InvoiceType            string          `json:"invoice_type"`
	Type                   string          `json:"type"`
	SenderID               string          `json:"sender_id"`
	SenderName             string          `json:"sender_name"`
	SenderFiscalRegime     string          `json:"sender_fiscal_regime"`
	SenderPostalCode       string          `json:"sender_postal_code"`
	ReceiverID             string          `json:"receiver_id"`
	ReceiverName           string          `json:"receiver_name"`
	ReceiverFiscalRegime   string          `json:"receiver_fiscal_regime"`
	ReceiverPostalCode     string          `json:"receiver_postal_code"`
	CancelationStatus      string          `json:"cancelation_status"`
	CancelationUpdateDate  string          `json:"cancelation_update_date"`
	CertificationDate      string          `json:"certification_date"`
	CertificationAuthority string          `json:"certification_authority"`
	PaymentType            string          `json:"payment_type"`
	PaymentTypeDescription string          `json:"payment_type_description"`
	PaymentMethod          string          `json:"payment_method"`
	PlaceOfIssue           string          `json:"place_of_issue"`
	Usage                  string          `json:"usage"`
	Version                string          `json:"version"`
	Folio                  string          `json:"folio"`
	Series                 string          `json:"series"`
	Currency               string          `json:"currency"`
	SubtotalAmount         decimal.Decimal `json:"subtotal_amount"`
	ExchangeRate           decimal.Decimal `json:"exchange_rate"`
	TaxAmount              decimal.Decimal `json:"tax_amount"`
	DiscountAmount         decimal.Decimal `json:"discount_amount"`
	TotalAmount            decimal.Decimal `json:"total_amount"`
	InvoiceDetails         json.RawMessage `json:"invoice_details"`
	TaxDetails             json.RawMessage `json:"tax_details"`
	RelatedInvoices        json.RawMessage `json:"related_invoices"`
	Payments               json.RawMessage `json:"payments"`

	Raw json.RawMessage `json:"-"`
}

func (i *Invoice) UnmarshalJSON(b []byte) error {
	type alias Invoice
	var v alias
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*i = Invoice(v)
	i.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// Validate checks the fields every stored invoice needs.
func (i *Invoice) Validate() error {
	if i.ID == "" {
		return errs.New(errs.ErrValidation, "invoice id is required")
	}
	if _, err := i.GetInvoiceDate(); err != nil {
		return errs.New(errs.ErrValidation, fmt.Sprintf("invoice %s: %v", i.ID, err))
	}
	return nil
}

// GetInvoiceDate parses the invoice date.
func (i *Invoice) GetInvoiceDate() (*time.Time, error) {
	return parseDate(i.InvoiceDate)
}

// GetCertificationDate parses the certification date.
func (i *Invoice) GetCertificationDate() (*time.Time, error) {
	return parseDate(i.CertificationDate)
}

// GetCollectedAt parses the collection timestamp.
func (i *Invoice) GetCollectedAt() (*time.Time, error) {
	return parseDate(i.CollectedAt)
}

// TaxReturnGeneral is the informacion_general block of a yearly return.
type TaxReturnGeneral struct {
	Ejercicio       string `json:"ejercicio"`
	TipoDeclaracion string `json:"tipo_declaracion"`
}

// TaxReturnWages is the sueldos_salarios block.
type TaxReturnWages struct {
	IngresosGravados decimal.NullDecimal `json:"ingresos_gravados"`
	IngresosExentos  decimal.NullDecimal `json:"ingresos_exentos"`
	IsrRetenido      decimal.NullDecimal `json:"isr_retenido"`
}

// TaxReturnIncomeTax is the determinacion_isr block.
type TaxReturnIncomeTax struct {
	BaseGravable  decimal.NullDecimal `json:"base_gravable"`
	ImpuestoCargo decimal.NullDecimal `json:"impuesto_cargo"`
	IsrPagar      decimal.NullDecimal `json:"isr_pagar"`
	IsrFavor      decimal.NullDecimal `json:"isr_favor"`
}

// TaxReturn is a yearly tax return from the provider.
type TaxReturn struct {
	ID                 string              `json:"id"`
	Link               string              `json:"link"`
	CollectedAt        string              `json:"collected_at"`
	CreatedAt          string              `json:"created_at"`
	InformacionGeneral *TaxReturnGeneral   `json:"informacion_general"`
	SueldosSalarios    *TaxReturnWages     `json:"sueldos_salarios"`
	DeterminacionISR   *TaxReturnIncomeTax `json:"determinacion_isr"`

	Raw json.RawMessage `json:"-"`
}

func (t *TaxReturn) UnmarshalJSON(b []byte) error {
	type alias TaxReturn
	var v alias
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*t = TaxReturn(v)
	t.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// Validate checks the fields every stored tax return needs.
func (t *TaxReturn) Validate() error {
	if t.ID == "" {
		return errs.New(errs.ErrValidation, "tax return id is required")
	}
	return nil
}

// FiscalYear returns the declared fiscal year, or empty when absent.
func (t *TaxReturn) FiscalYear() string {
	if t.InformacionGeneral == nil {
		return ""
	}
	return t.InformacionGeneral.Ejercicio
}

// IncomeTax returns the income tax payable.
func (t *TaxReturn) IncomeTax() decimal.NullDecimal {
	if t.DeterminacionISR == nil {
		return decimal.NullDecimal{}
	}
	return t.DeterminacionISR.IsrPagar
}

// NetIncome returns the taxable base.
func (t *TaxReturn) NetIncome() decimal.NullDecimal {
	if t.DeterminacionISR == nil {
		return decimal.NullDecimal{}
	}
	return t.DeterminacionISR.BaseGravable
}

// GrossIncome returns taxable wage income.
func (t *TaxReturn) GrossIncome() decimal.NullDecimal {
	if t.SueldosSalarios == nil {
		return decimal.NullDecimal{}
	}
	return t.SueldosSalarios.IngresosGravados
}

// GetCollectedAt parses the collection timestamp.
func (t *TaxReturn) GetCollectedAt() (*time.Time, error) {
	return parseDate(t.CollectedAt)
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseDate accepts the timestamp layouts the provider has been seen to emit.
func parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("failed to parse date '%s'", s)
}
