package openfinance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"finsync/internal/domain/account"
	ofclient "finsync/internal/infrastructure/openfinance"
	"finsync/internal/shared/errs"
)

func newTestUpserter() (*Upserter, *memAccounts, *memTransactions, *memFiscal) {
	accounts := newMemAccounts()
	transactions := newMemTransactions()
	fiscalRepo := newMemFiscal()
	return NewUpserter(accounts, transactions, fiscalRepo), accounts, transactions, fiscalRepo
}

func TestUpsertAccount_Idempotent(t *testing.T) {
	u, accounts, _, _ := newTestUpserter()
	ctx := context.Background()

	first := testAccount("A1", "100.50")
	res, err := u.UpsertAccount(ctx, "C1", "L1", &first)
	if err != nil {
		t.Fatalf("first upsert error = %v", err)
	}
	if res.Outcome != OutcomeCreated {
		t.Errorf("first outcome = %s, want created", res.Outcome)
	}

	second := testAccount("A1", "250.00")
	res2, err := u.UpsertAccount(ctx, "C1", "L1", &second)
	if err != nil {
		t.Fatalf("second upsert error = %v", err)
	}
	if res2.Outcome != OutcomeUpdated {
		t.Errorf("second outcome = %s, want updated", res2.Outcome)
	}
	if res2.LocalID != res.LocalID {
		t.Errorf("local id changed from %s to %s", res.LocalID, res2.LocalID)
	}
	if accounts.count() != 1 {
		t.Errorf("stored accounts = %d, want 1", accounts.count())
	}

	stored, _ := accounts.GetByExternalID(ctx, "A1")
	if !stored.CurrentBalance.Equal(decimal.RequireFromString("250.00")) {
		t.Errorf("balance = %s, want 250.00", stored.CurrentBalance)
	}
	if stored.LastSyncedAt == nil {
		t.Error("LastSyncedAt not set")
	}
}

func TestUpsertAccount_OwnedByAnotherCustomer(t *testing.T) {
	u, _, _, _ := newTestUpserter()
	ctx := context.Background()

	a := testAccount("A1", "10")
	if _, err := u.UpsertAccount(ctx, "C1", "L1", &a); err != nil {
		t.Fatalf("setup upsert error = %v", err)
	}

	_, err := u.UpsertAccount(ctx, "C2", "L9", &a)
	if !errors.Is(err, account.ErrOwnedElsewhere) {
		t.Errorf("error = %v, want ErrOwnedElsewhere", err)
	}
	if !errors.Is(err, errs.ErrConflict) {
		t.Errorf("error kind = %v, want conflict", errs.KindOf(err))
	}
}

func TestUpsertAccount_Invalid(t *testing.T) {
	u, _, _, _ := newTestUpserter()

	_, err := u.UpsertAccount(context.Background(), "C1", "L1", &ofclient.Account{ID: "A1"})
	if !errors.Is(err, errs.ErrValidation) {
		t.Errorf("error = %v, want validation failure", err)
	}
}

func TestUpsertTransaction_NeverRewritten(t *testing.T) {
	u, _, transactions, _ := newTestUpserter()
	ctx := context.Background()

	a := testAccount("A1", "10")
	if _, err := u.UpsertAccount(ctx, "C1", "L1", &a); err != nil {
		t.Fatalf("account upsert error = %v", err)
	}

	original := testTransaction("T1", "A1", "-42.10", "2024-04-01")
	res, err := u.UpsertTransaction(ctx, "C1", &original)
	if err != nil {
		t.Fatalf("first upsert error = %v", err)
	}
	if res.Outcome != OutcomeCreated {
		t.Errorf("first outcome = %s, want created", res.Outcome)
	}

	drifted := testTransaction("T1", "A1", "-99.99", "2024-04-02")
	res, err = u.UpsertTransaction(ctx, "C1", &drifted)
	if err != nil {
		t.Fatalf("second upsert error = %v", err)
	}
	if res.Outcome != OutcomeSkipped {
		t.Errorf("second outcome = %s, want skipped", res.Outcome)
	}

	stored := transactions.get("T1")
	if !stored.Amount.Equal(decimal.RequireFromString("-42.10")) {
		t.Errorf("amount = %s, want -42.10", stored.Amount)
	}
	want := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	if stored.ValueDate == nil || !stored.ValueDate.Equal(want) {
		t.Errorf("value date = %v, want %v", stored.ValueDate, want)
	}
	if transactions.count() != 1 {
		t.Errorf("stored transactions = %d, want 1", transactions.count())
	}
}

func TestUpsertTransaction_UnknownAccountSkipped(t *testing.T) {
	u, _, transactions, _ := newTestUpserter()

	tx := testTransaction("T1", "missing", "5", "2024-04-01")
	res, err := u.UpsertTransaction(context.Background(), "C1", &tx)
	if err != nil {
		t.Fatalf("UpsertTransaction() error = %v", err)
	}
	if res.Outcome != OutcomeSkipped {
		t.Errorf("outcome = %s, want skipped", res.Outcome)
	}
	if transactions.count() != 0 {
		t.Errorf("stored transactions = %d, want 0", transactions.count())
	}
}

func TestUpsertInvoice_UpdatesMutableFields(t *testing.T) {
	u, _, _, fiscalRepo := newTestUpserter()
	ctx := context.Background()

	inv := testInvoice("I1", "VIGENTE", "1160.00")
	first, err := u.UpsertInvoice(ctx, "C1", "L2", &inv)
	if err != nil {
		t.Fatalf("first upsert error = %v", err)
	}

	cancelled := testInvoice("I1", "CANCELADO", "1160.00")
	second, err := u.UpsertInvoice(ctx, "C1", "L2", &cancelled)
	if err != nil {
		t.Fatalf("second upsert error = %v", err)
	}
	if second.Outcome != OutcomeUpdated || second.LocalID != first.LocalID {
		t.Errorf("second result = %+v, want update of %s", second, first.LocalID)
	}

	stored, _ := fiscalRepo.GetInvoiceByExternalID(ctx, "I1")
	if stored.Status != "CANCELADO" {
		t.Errorf("status = %s, want CANCELADO", stored.Status)
	}
	if n, _ := fiscalRepo.counts(); n != 1 {
		t.Errorf("stored invoices = %d, want 1", n)
	}
}

func TestUpsertTaxReturn(t *testing.T) {
	u, _, _, fiscalRepo := newTestUpserter()
	ctx := context.Background()

	tr := testTaxReturn("R1", "2023")
	res, err := u.UpsertTaxReturn(ctx, "C1", "L2", &tr)
	if err != nil {
		t.Fatalf("UpsertTaxReturn() error = %v", err)
	}
	if res.Outcome != OutcomeCreated {
		t.Errorf("outcome = %s, want created", res.Outcome)
	}

	stored, _ := fiscalRepo.GetTaxReturnByExternalID(ctx, "R1")
	if stored.FiscalYear != "2023" {
		t.Errorf("fiscal year = %q, want 2023", stored.FiscalYear)
	}
	if !stored.IncomeTax.Valid || !stored.IncomeTax.Decimal.Equal(decimal.RequireFromString("1200.50")) {
		t.Errorf("income tax = %+v, want 1200.50", stored.IncomeTax)
	}
}

func TestUpsert_Dispatch(t *testing.T) {
	u, _, _, _ := newTestUpserter()
	ctx := context.Background()
	a := testAccount("A1", "1")

	tests := []struct {
		name    string
		rec     ExternalRecord
		wantErr bool
		want    RecordKind
	}{
		{name: "account", rec: ExternalRecord{Kind: KindAccount, CustomerID: "C1", LinkID: "L1", Account: &a}, want: KindAccount},
		{name: "missing payload", rec: ExternalRecord{Kind: KindInvoice, CustomerID: "C1"}, wantErr: true},
		{name: "unknown kind", rec: ExternalRecord{Kind: "statement", CustomerID: "C1"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := u.Upsert(ctx, tt.rec)
			if tt.wantErr {
				if !errors.Is(err, errs.ErrValidation) {
					t.Errorf("error = %v, want validation failure", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Upsert() error = %v", err)
			}
			if res.Kind != tt.want {
				t.Errorf("kind = %s, want %s", res.Kind, tt.want)
			}
		})
	}
}
