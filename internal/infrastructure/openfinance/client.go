package openfinance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"finsync/internal/shared/errs"
)

const (
	DefaultBaseURL   = "https://api.belvo.com"
	defaultTimeout   = 180 * time.Second // fiscal retrieves can be slow
	linksPath        = "/api/links/"
	accountsPath     = "/api/accounts/"
	transactionsPath = "/api/transactions/"
	invoicesPath     = "/api/invoices/"
	taxReturnsPath   = "/api/tax-returns/"

	// maxPages bounds pagination so a misbehaving next link cannot loop forever.
	maxPages = 500
)

// Client handles communication with the provider API
type Client struct {
	httpClient     *http.Client
	baseURL        string
	secretID       string
	secretPassword string
}

// Ensure Client implements Gateway
var _ Gateway = (*Client)(nil)

// Credentials are the basic-auth pair issued by the provider.
type Credentials struct {
	SecretID       string
	SecretPassword string
}

// NewClient creates a new provider API client. An empty baseURL selects the
// production API; a zero timeout selects the default.
func NewClient(baseURL string, creds Credentials, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL:        strings.TrimRight(baseURL, "/"),
		secretID:       creds.SecretID,
		secretPassword: creds.SecretPassword,
	}
}

// FetchAccounts retrieves all accounts of a link. Records that fail to
// decode are dropped and reported through a *PartialError alongside the rest.
func (c *Client) FetchAccounts(ctx context.Context, linkID string) ([]Account, error) {
	elems, err := c.retrieve(ctx, accountsPath, map[string]any{"link": linkID})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch accounts: %w", err)
	}
	return decodeEach[Account]("account", elems)
}

// FetchTransactions retrieves the transactions of a link between two dates.
func (c *Client) FetchTransactions(ctx context.Context, linkID string, from, to time.Time) ([]Transaction, error) {
	body := map[string]any{
		"link":      linkID,
		"date_from": from.Format("2006-01-02"),
		"date_to":   to.Format("2006-01-02"),
	}
	elems, err := c.retrieve(ctx, transactionsPath, body)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transactions: %w", err)
	}
	return decodeEach[Transaction]("transaction", elems)
}

// FetchInvoices retrieves the outflow invoices of a fiscal link between two dates.
func (c *Client) FetchInvoices(ctx context.Context, linkID string, from, to time.Time) ([]Invoice, error) {
	body := map[string]any{
		"link":       linkID,
		"date_from":  from.Format("2006-01-02"),
		"date_to":    to.Format("2006-01-02"),
		"type":       "OUTFLOW",
		"attach_xml": false,
	}
	elems, err := c.retrieve(ctx, invoicesPath, body)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch invoices: %w", err)
	}
	return decodeEach[Invoice]("invoice", elems)
}

// FetchTaxReturns retrieves the yearly tax returns in [yearFrom, yearTo].
func (c *Client) FetchTaxReturns(ctx context.Context, linkID string, yearFrom, yearTo int) ([]TaxReturn, error) {
	body := map[string]any{
		"link":       linkID,
		"year_from":  strconv.Itoa(yearFrom),
		"year_to":    strconv.Itoa(yearTo),
		"attach_pdf": false,
	}
	elems, err := c.retrieve(ctx, taxReturnsPath, body)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tax returns: %w", err)
	}
	return decodeEach[TaxReturn]("tax return", elems)
}

// ResolveLink fetches a link by id.
func (c *Client) ResolveLink(ctx context.Context, linkID string) (*Link, error) {
	var link Link
	if err := c.do(ctx, http.MethodGet, c.baseURL+linksPath+url.PathEscape(linkID)+"/", nil, &link); err != nil {
		return nil, fmt.Errorf("failed to resolve link %s: %w", linkID, err)
	}
	if link.ID == "" {
		return nil, fmt.Errorf("failed to resolve link %s: %w", linkID, errs.New(errs.ErrValidation, "link response has no id"))
	}
	return &link, nil
}

// ResolveLinkByExternalID returns the first link tagged with externalID.
func (c *Client) ResolveLinkByExternalID(ctx context.Context, externalID string) (*Link, error) {
	q := url.Values{}
	q.Set("external_id", externalID)
	q.Set("page_size", "1")

	elems, err := c.list(ctx, linksPath, q)
	if err != nil {
		return nil, fmt.Errorf("failed to search links by external id: %w", err)
	}
	links, err := decodeEach[Link]("link", elems)
	if len(links) == 0 {
		if err != nil {
			return nil, fmt.Errorf("failed to search links by external id: %w", err)
		}
		return nil, nil
	}
	return &links[0], nil
}

// RevokeLink deletes a link at the provider.
func (c *Client) RevokeLink(ctx context.Context, linkID string) error {
	if err := c.do(ctx, http.MethodDelete, c.baseURL+linksPath+url.PathEscape(linkID)+"/", nil, nil); err != nil {
		return fmt.Errorf("failed to revoke link %s: %w", linkID, err)
	}
	return nil
}

// retrieve POSTs to a retrieve endpoint. The provider answers with either a
// bare array or a paginated envelope; both yield the raw records.
func (c *Client) retrieve(ctx context.Context, path string, body any) ([]json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, c.baseURL+path, body, &raw); err != nil {
		return nil, err
	}
	return c.collect(ctx, raw)
}

// list GETs a list endpoint and follows next links.
func (c *Client) list(ctx context.Context, path string, q url.Values) ([]json.RawMessage, error) {
	target := c.baseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, target, nil, &raw); err != nil {
		return nil, err
	}
	return c.collect(ctx, raw)
}

// collect splits raw into its records. Paginated envelopes are walked page
// by page until next is empty. Records are left undecoded.
func (c *Client) collect(ctx context.Context, raw json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		return splitArray(trimmed)
	}

	var records []json.RawMessage
	for i := 0; ; i++ {
		var page pageResponse
		if err := json.Unmarshal(trimmed, &page); err != nil {
			return nil, errs.New(errs.ErrValidation, fmt.Sprintf("failed to decode page: %v", err))
		}
		elems, err := splitArray(page.Results)
		if err != nil {
			return nil, err
		}
		records = append(records, elems...)
		if page.Next == nil || *page.Next == "" || i >= maxPages {
			break
		}
		var next json.RawMessage
		if err := c.do(ctx, http.MethodGet, *page.Next, nil, &next); err != nil {
			return nil, err
		}
		trimmed = bytes.TrimSpace(next)
	}
	return records, nil
}

// splitArray returns the elements of a JSON array without decoding them.
func splitArray(raw json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return nil, errs.New(errs.ErrValidation, "page results is not an array")
	}
	return elems, nil
}

// decodeEach decodes every record on its own so one malformed record does
// not take the rest of the batch with it.
func decodeEach[T any](kind string, elems []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(elems))
	var dropped []RecordError
	for i, elem := range elems {
		var v T
		if err := json.Unmarshal(elem, &v); err != nil {
			dropped = append(dropped, RecordError{
				Index: i,
				ID:    recordID(elem),
				Err:   errs.New(errs.ErrValidation, fmt.Sprintf("failed to decode %s: %v", kind, err)),
			})
			continue
		}
		out = append(out, v)
	}
	if len(dropped) > 0 {
		return out, &PartialError{Kind: kind, Total: len(elems), Records: dropped}
	}
	return out, nil
}

// recordID extracts the id of a record that failed to decode, if it has one.
func recordID(elem json.RawMessage) string {
	var head struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(elem, &head)
	return head.ID
}

// RecordError is one provider record that could not be decoded.
type RecordError struct {
	Index int
	ID    string
	Err   error
}

// PartialError is returned with the decodable records of a fetch when some
// records were malformed. It wraps the validation kind.
type PartialError struct {
	Kind    string
	Total   int
	Records []RecordError
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("dropped %d of %d %s records: %v", len(e.Records), e.Total, e.Kind, e.Records[0].Err)
}

func (e *PartialError) Unwrap() error {
	return errs.ErrValidation
}

// Dropped splits a fetch error into the records a partial fetch skipped and
// the error that remains. A *PartialError leaves no remaining error.
func Dropped(err error) ([]RecordError, error) {
	var partial *PartialError
	if errors.As(err, &partial) {
		return partial.Records, nil
	}
	return nil, err
}

// do executes one authenticated request and decodes a 2xx body into out.
func (c *Client) do(ctx context.Context, method, target string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.secretID, c.secretPassword)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %v: %w", err, errs.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %v: %w", err, errs.ErrUpstreamUnavailable)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(resp.StatusCode, respBody)
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return errs.New(errs.ErrValidation, fmt.Sprintf("failed to unmarshal response: %v", err))
	}
	return nil
}

// APIError is a non-2xx response from the provider.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}

	// The provider returns either an object or a list of error objects.
	var single ErrorResponse
	var list []ErrorResponse
	switch {
	case json.Unmarshal(body, &list) == nil && len(list) > 0:
		apiErr.Code, apiErr.Message = list[0].Code, list[0].Message
	case json.Unmarshal(body, &single) == nil && (single.Code != "" || single.Message != ""):
		apiErr.Code, apiErr.Message = single.Code, single.Message
	default:
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider error (status %d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("provider request failed with status %d: %s", e.StatusCode, e.Message)
}

// Unwrap classifies every provider failure as upstream unavailability;
// callers that need finer detail inspect StatusCode.
func (e *APIError) Unwrap() error {
	return errs.ErrUpstreamUnavailable
}

// IsNotFound reports whether err is a provider 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsUnauthorized reports whether the provider rejected the link or credentials.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) &&
		(apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden)
}
