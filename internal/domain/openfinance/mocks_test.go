package openfinance

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"finsync/internal/domain/account"
	"finsync/internal/domain/fiscal"
	"finsync/internal/domain/transaction"
	ofclient "finsync/internal/infrastructure/openfinance"
	"finsync/internal/infrastructure/queue"
)

// MockGateway implements ofclient.Gateway
type MockGateway struct {
	FetchAccountsFunc     func(ctx context.Context, linkID string) ([]ofclient.Account, error)
	FetchTransactionsFunc func(ctx context.Context, linkID string, from, to time.Time) ([]ofclient.Transaction, error)
	FetchInvoicesFunc     func(ctx context.Context, linkID string, from, to time.Time) ([]ofclient.Invoice, error)
	FetchTaxReturnsFunc   func(ctx context.Context, linkID string, yearFrom, yearTo int) ([]ofclient.TaxReturn, error)
}

func (m *MockGateway) FetchAccounts(ctx context.Context, linkID string) ([]ofclient.Account, error) {
	if m.FetchAccountsFunc != nil {
		return m.FetchAccountsFunc(ctx, linkID)
	}
	return nil, nil
}

func (m *MockGateway) FetchTransactions(ctx context.Context, linkID string, from, to time.Time) ([]ofclient.Transaction, error) {
	if m.FetchTransactionsFunc != nil {
		return m.FetchTransactionsFunc(ctx, linkID, from, to)
	}
	return nil, nil
}

func (m *MockGateway) FetchInvoices(ctx context.Context, linkID string, from, to time.Time) ([]ofclient.Invoice, error) {
	if m.FetchInvoicesFunc != nil {
		return m.FetchInvoicesFunc(ctx, linkID, from, to)
	}
	return nil, nil
}

func (m *MockGateway) FetchTaxReturns(ctx context.Context, linkID string, yearFrom, yearTo int) ([]ofclient.TaxReturn, error) {
	if m.FetchTaxReturnsFunc != nil {
		return m.FetchTaxReturnsFunc(ctx, linkID, yearFrom, yearTo)
	}
	return nil, nil
}

func (m *MockGateway) ResolveLink(ctx context.Context, linkID string) (*ofclient.Link, error) {
	return nil, nil
}

func (m *MockGateway) ResolveLinkByExternalID(ctx context.Context, externalID string) (*ofclient.Link, error) {
	return nil, nil
}

func (m *MockGateway) RevokeLink(ctx context.Context, linkID string) error { return nil }

// memAccounts is an in-memory account.Repository
type memAccounts struct {
	mu    sync.Mutex
	seq   int
	byExt map[string]*account.Account
}

func newMemAccounts() *memAccounts {
	return &memAccounts{byExt: make(map[string]*account.Account)}
}

func (r *memAccounts) GetByExternalID(ctx context.Context, externalAccountID string) (*account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byExt[externalAccountID]
	if !ok {
		return nil, account.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memAccounts) Create(ctx context.Context, p account.CreateParams) (*account.Account, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byExt[p.ExternalAccountID]; ok {
		if existing.CustomerID != p.CustomerID {
			return nil, account.ErrOwnedElsewhere
		}
		cp := *existing
		return &cp, nil
	}
	r.seq++
	synced := p.SyncedAt
	a := &account.Account{
		ID:                fmt.Sprintf("acc-%d", r.seq),
		CustomerID:        p.CustomerID,
		LinkID:            p.LinkID,
		ExternalAccountID: p.ExternalAccountID,
		Name:              p.Name,
		CurrentBalance:    p.CurrentBalance,
		AvailableBalance:  p.AvailableBalance,
		Currency:          p.Currency,
		LastSyncedAt:      &synced,
		CreatedAt:         p.SyncedAt,
		UpdatedAt:         p.SyncedAt,
	}
	r.byExt[p.ExternalAccountID] = a
	cp := *a
	return &cp, nil
}

func (r *memAccounts) UpdateSnapshot(ctx context.Context, id string, p account.SnapshotParams) (*account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.byExt {
		if a.ID != id {
			continue
		}
		synced := p.SyncedAt
		a.LinkID = p.LinkID
		a.Name = p.Name
		a.Category = p.Category
		a.CurrentBalance = p.CurrentBalance
		a.AvailableBalance = p.AvailableBalance
		a.LastSyncedAt = &synced
		a.UpdatedAt = p.SyncedAt
		cp := *a
		return &cp, nil
	}
	return nil, account.ErrAccountNotFound
}

func (r *memAccounts) ListByCustomer(ctx context.Context, customerID string) ([]*account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*account.Account
	for _, a := range r.byExt {
		if a.CustomerID == customerID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memAccounts) MarkUnlinked(ctx context.Context, linkID string, at time.Time) (int64, error) {
	return 0, nil
}

func (r *memAccounts) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byExt)
}

// memTransactions is an in-memory transaction.Repository
type memTransactions struct {
	mu    sync.Mutex
	seq   int
	byExt map[string]*transaction.Transaction
}

func newMemTransactions() *memTransactions {
	return &memTransactions{byExt: make(map[string]*transaction.Transaction)}
}

func (r *memTransactions) Exists(ctx context.Context, externalTransactionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byExt[externalTransactionID]
	return ok, nil
}

func (r *memTransactions) CreateIfAbsent(ctx context.Context, p transaction.CreateParams) (*transaction.Transaction, bool, error) {
	if err := p.Validate(); err != nil {
		return nil, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byExt[p.ExternalTransactionID]; ok {
		return nil, false, nil
	}
	r.seq++
	t := &transaction.Transaction{
		ID:                    fmt.Sprintf("tx-%d", r.seq),
		CustomerID:            p.CustomerID,
		AccountID:             p.AccountID,
		ExternalTransactionID: p.ExternalTransactionID,
		Amount:                p.Amount,
		ValueDate:             p.ValueDate,
		Status:                p.Status,
	}
	r.byExt[p.ExternalTransactionID] = t
	cp := *t
	return &cp, true, nil
}

func (r *memTransactions) ListByCustomer(ctx context.Context, customerID string, filter transaction.ListFilter) ([]*transaction.Transaction, error) {
	return nil, nil
}

func (r *memTransactions) get(externalID string) *transaction.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.byExt[externalID]; ok {
		cp := *t
		return &cp
	}
	return nil
}

func (r *memTransactions) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byExt)
}

// memFiscal is an in-memory fiscal.Repository
type memFiscal struct {
	mu         sync.Mutex
	seq        int
	invoices   map[string]*fiscal.Invoice
	taxReturns map[string]*fiscal.TaxReturn
	updates    int
}

func newMemFiscal() *memFiscal {
	return &memFiscal{
		invoices:   make(map[string]*fiscal.Invoice),
		taxReturns: make(map[string]*fiscal.TaxReturn),
	}
}

func (r *memFiscal) GetInvoiceByExternalID(ctx context.Context, externalID string) (*fiscal.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[externalID]
	if !ok {
		return nil, fiscal.ErrDocumentNotFound
	}
	cp := *inv
	return &cp, nil
}

func (r *memFiscal) CreateInvoice(ctx context.Context, p fiscal.InvoiceParams) (*fiscal.Invoice, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if inv, ok := r.invoices[p.ExternalDocumentID]; ok {
		inv.Status = p.Status
		cp := *inv
		return &cp, nil
	}
	r.seq++
	inv := &fiscal.Invoice{
		ID:                 fmt.Sprintf("inv-%d", r.seq),
		CustomerID:         p.CustomerID,
		LinkID:             p.LinkID,
		ExternalDocumentID: p.ExternalDocumentID,
		Status:             p.Status,
		TotalAmount:        p.TotalAmount,
		InvoiceDate:        p.InvoiceDate,
		CreatedAt:          time.Now(),
	}
	r.invoices[p.ExternalDocumentID] = inv
	cp := *inv
	return &cp, nil
}

func (r *memFiscal) UpdateInvoice(ctx context.Context, id string, p fiscal.InvoiceParams) (*fiscal.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.invoices {
		if inv.ID == id {
			inv.Status = p.Status
			inv.TotalAmount = p.TotalAmount
			r.updates++
			cp := *inv
			return &cp, nil
		}
	}
	return nil, fiscal.ErrDocumentNotFound
}

func (r *memFiscal) ListInvoices(ctx context.Context, customerID string, filter fiscal.InvoiceFilter) ([]*fiscal.Invoice, int, error) {
	return nil, 0, nil
}

func (r *memFiscal) GetTaxReturnByExternalID(ctx context.Context, externalID string) (*fiscal.TaxReturn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tr, ok := r.taxReturns[externalID]
	if !ok {
		return nil, fiscal.ErrDocumentNotFound
	}
	cp := *tr
	return &cp, nil
}

func (r *memFiscal) CreateTaxReturn(ctx context.Context, p fiscal.TaxReturnParams) (*fiscal.TaxReturn, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if tr, ok := r.taxReturns[p.ExternalDocumentID]; ok {
		cp := *tr
		return &cp, nil
	}
	r.seq++
	tr := &fiscal.TaxReturn{
		ID:                 fmt.Sprintf("tr-%d", r.seq),
		CustomerID:         p.CustomerID,
		LinkID:             p.LinkID,
		ExternalDocumentID: p.ExternalDocumentID,
		FiscalYear:         p.FiscalYear,
		IncomeTax:          p.IncomeTax,
	}
	r.taxReturns[p.ExternalDocumentID] = tr
	cp := *tr
	return &cp, nil
}

func (r *memFiscal) UpdateTaxReturn(ctx context.Context, id string, p fiscal.TaxReturnParams) (*fiscal.TaxReturn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tr := range r.taxReturns {
		if tr.ID == id {
			tr.IncomeTax = p.IncomeTax
			r.updates++
			cp := *tr
			return &cp, nil
		}
	}
	return nil, fiscal.ErrDocumentNotFound
}

func (r *memFiscal) ListTaxReturns(ctx context.Context, customerID string, page fiscal.Page) ([]*fiscal.TaxReturn, int, error) {
	return nil, 0, nil
}

func (r *memFiscal) counts() (invoices, taxReturns int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.invoices), len(r.taxReturns)
}

// mustDecode builds provider records the way the client does, so Raw is set.
func mustDecode[T any](raw string) T {
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		panic(err)
	}
	return v
}

func testAccount(id, balance string) ofclient.Account {
	return mustDecode[ofclient.Account](fmt.Sprintf(`{
		"id": %q, "link": "L1", "name": "Cuenta %s", "category": "CHECKING_ACCOUNT",
		"currency": "MXN", "institution": {"name": "erebor_mx_retail", "type": "bank"},
		"balance": {"current": %s, "available": %s}
	}`, id, id, balance, balance))
}

func testTransaction(id, accountID, amount, valueDate string) ofclient.Transaction {
	return mustDecode[ofclient.Transaction](fmt.Sprintf(`{
		"id": %q, "account": {"id": %q}, "amount": %s, "currency": "MXN",
		"value_date": %q, "accounting_date": %q, "collected_at": "2024-05-01T10:00:00Z",
		"description": "SPEI", "type": "OUTFLOW", "status": "PROCESSED"
	}`, id, accountID, amount, valueDate, valueDate+"T00:00:00Z"))
}

func testInvoice(id, status, total string) ofclient.Invoice {
	return mustDecode[ofclient.Invoice](fmt.Sprintf(`{
		"id": %q, "link": "L2", "invoice_date": "2024-03-10", "status": %q,
		"type": "OUTFLOW", "currency": "MXN", "total_amount": %s,
		"collected_at": "2024-05-01T10:00:00Z"
	}`, id, status, total))
}

func testTaxReturn(id, year string) ofclient.TaxReturn {
	return mustDecode[ofclient.TaxReturn](fmt.Sprintf(`{
		"id": %q, "link": "L2", "collected_at": "2024-05-01T10:00:00Z",
		"informacion_general": {"ejercicio": %q},
		"determinacion_isr": {"isr_pagar": 1200.50, "base_gravable": 350000}
	}`, id, year))
}

// recordingEnqueuer captures enqueue requests, optionally failing some.
type recordingEnqueuer struct {
	mu       sync.Mutex
	requests []queue.EnqueueRequest
	failFor  func(req queue.EnqueueRequest) error
}

func (e *recordingEnqueuer) Enqueue(ctx context.Context, req queue.EnqueueRequest) (string, error) {
	if e.failFor != nil {
		if err := e.failFor(req); err != nil {
			return "", err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, req)
	return fmt.Sprintf("job-%d", len(e.requests)), nil
}
