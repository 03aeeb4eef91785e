// Package registry talks to the external income registry. One lookup maps
// one need's window and filter to the nested month-by-month ledger.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"inntekt/internal/period"
)

const lookupPath = "/api/v1/hentinntektliste"

// UpstreamError is a non-success response from the registry. The body is
// kept for operator diagnosis; it is logged, never parsed.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("income registry returned %d: %s", e.Status, e.Body)
}

// ParseError is a response that does not match the expected shape,
// including an unrecognized income-type code.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("income registry response: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// TokenSource provides the bearer credential for registry calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client issues authenticated lookups against the income registry. It does
// not retry; a failed lookup fails the message-processing attempt and any
// redelivery is the bus transport's business.
type Client struct {
	baseURL string
	purpose string
	tokens  TokenSource
	httpc   *http.Client
}

type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client, mainly for tests.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) {
		c.httpc = httpc
	}
}

// WithPurpose overrides the fixed purpose tag sent with every lookup.
func WithPurpose(purpose string) Option {
	return func(c *Client) {
		c.purpose = purpose
	}
}

func New(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		purpose: "Sykepenger",
		tokens:  tokens,
		httpc:   &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type lookupRequest struct {
	Subject     subjectRef        `json:"subject"`
	Filter      period.FilterCode `json:"filter"`
	Purpose     string            `json:"purpose"`
	PeriodStart period.YearMonth  `json:"periodStart"`
	PeriodEnd   period.YearMonth  `json:"periodEnd"`
}

type subjectRef struct {
	Identifier string `json:"identifier"`
	Type       string `json:"type"`
}

// Lookup fetches the income ledger for one subject over the inclusive
// window [start, end], sliced by filter. The correlation id rides along as
// a request header for upstream tracing.
func (c *Client) Lookup(ctx context.Context, subjectID string, start, end period.YearMonth, filter period.FilterCode, correlationID string) ([]MonthlyIncome, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(lookupRequest{
		Subject:     subjectRef{Identifier: subjectID, Type: "PERSON_ID"},
		Filter:      filter,
		Purpose:     c.purpose,
		PeriodStart: start,
		PeriodEnd:   end,
	})
	if err != nil {
		return nil, fmt.Errorf("encode lookup request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+lookupPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build lookup request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Correlation-Id", correlationID)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("income registry request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read income registry response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(body)}
	}

	var parsed lookupResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &ParseError{Err: err}
	}

	months := make([]MonthlyIncome, 0, len(parsed.Months))
	for _, entry := range parsed.Months {
		month, err := entry.toMonthlyIncome()
		if err != nil {
			return nil, &ParseError{Err: err}
		}
		months = append(months, month)
	}
	return months, nil
}
