package openfinance

import (
	"embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"finsync/internal/shared/errs"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Document kinds with a registered payload schema.
const (
	SchemaInvoice   = "invoice"
	SchemaTaxReturn = "tax_return"
)

// PayloadValidator checks raw provider documents against their JSON schema
// before they are decoded.
type PayloadValidator struct {
	schemas map[string]*gojsonschema.Schema
}

// NewPayloadValidator compiles the embedded document schemas.
func NewPayloadValidator() (*PayloadValidator, error) {
	v := &PayloadValidator{schemas: make(map[string]*gojsonschema.Schema)}
	for _, kind := range []string{SchemaInvoice, SchemaTaxReturn} {
		raw, err := schemaFS.ReadFile("schemas/" + kind + ".schema.json")
		if err != nil {
			return nil, fmt.Errorf("failed to read %s schema: %w", kind, err)
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to compile %s schema: %w", kind, err)
		}
		v.schemas[kind] = schema
	}
	return v, nil
}

// Validate returns an ErrValidation error listing every schema violation.
func (v *PayloadValidator) Validate(kind string, raw []byte) error {
	schema, ok := v.schemas[kind]
	if !ok {
		return errs.New(errs.ErrValidation, fmt.Sprintf("no schema for %q", kind))
	}

	res, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return errs.New(errs.ErrValidation, fmt.Sprintf("malformed %s payload: %v", kind, err))
	}
	if !res.Valid() {
		details := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			details = append(details, e.String())
		}
		return errs.New(errs.ErrValidation, fmt.Sprintf("invalid %s payload: %s", kind, strings.Join(details, "; ")))
	}
	return nil
}
