package openfinance

import (
	"errors"
	"testing"

	"finsync/internal/shared/errs"
)

func TestPayloadValidator(t *testing.T) {
	v, err := NewPayloadValidator()
	if err != nil {
		t.Fatalf("NewPayloadValidator() error = %v", err)
	}

	tests := []struct {
		name    string
		kind    string
		raw     string
		wantErr bool
	}{
		{"valid invoice", SchemaInvoice, `{"id":"inv-1","invoice_date":"2024-03-01","total_amount":116.0,"payments":[]}`, false},
		{"invoice missing date", SchemaInvoice, `{"id":"inv-1"}`, true},
		{"invoice wrong type", SchemaInvoice, `{"id":"inv-1","invoice_date":"2024-03-01","payments":"none"}`, true},
		{"valid tax return", SchemaTaxReturn, `{"id":"tr-1","informacion_general":{"ejercicio":"2023"}}`, false},
		{"tax return numeric year", SchemaTaxReturn, `{"id":"tr-1","informacion_general":{"ejercicio":2023}}`, true},
		{"not json", SchemaTaxReturn, `{`, true},
		{"unknown kind", "receipt", `{}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.kind, []byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, errs.ErrValidation) {
				t.Errorf("error should be a validation failure: %v", err)
			}
		})
	}
}
