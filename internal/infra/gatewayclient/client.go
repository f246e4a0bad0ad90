// Package gatewayclient speaks the internal claim protocol over HTTP.
package gatewayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bryanwahyu/casegate/internal/domain/cases"
)

// maxResponse bounds a claim response: the image travels base64 encoded inside it.
const maxResponse = 16 << 20

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type receiptRequest struct {
	ID      cases.ID `json:"id"`
	Receipt string   `json:"receipt"`
	Reason  string   `json:"reason,omitempty"`
}

type resultRequest struct {
	ID      cases.ID `json:"id"`
	Receipt string   `json:"receipt"`
	cases.Assessment
}

type statusResponse struct {
	Status   string   `json:"status"`
	Already  bool     `json:"already_confirmed"`
	Warnings []string `json:"warnings"`
}

func (c *Client) Claim(ctx context.Context) (*cases.ClaimResult, error) {
	var out cases.ClaimResult
	if err := c.post(ctx, "/internal/claim", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Confirm(ctx context.Context, id cases.ID, receipt string) (*cases.ConfirmResult, error) {
	var out statusResponse
	if err := c.post(ctx, "/internal/confirm", receiptRequest{ID: id, Receipt: receipt}, &out); err != nil {
		return nil, err
	}
	return &cases.ConfirmResult{ID: id, Already: out.Already, Warnings: out.Warnings}, nil
}

func (c *Client) Abort(ctx context.Context, id cases.ID, receipt, reason string) error {
	return c.post(ctx, "/internal/abort", receiptRequest{ID: id, Receipt: receipt, Reason: reason}, nil)
}

func (c *Client) UpdateResult(ctx context.Context, id cases.ID, receipt string, a cases.Assessment) error {
	err := c.post(ctx, "/internal/result", resultRequest{ID: id, Receipt: receipt, Assessment: a}, nil)
	if err != nil && isConflict(err) {
		return fmt.Errorf("%w: %v", cases.ErrResultRecorded, err)
	}
	return err
}

// Sweep asks the gateway to release leases older than olderThan.
func (c *Client) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	var in any
	if olderThan > 0 {
		in = map[string]string{"older_than": olderThan.String()}
	}
	var out struct {
		Swept int `json:"swept"`
	}
	if err := c.post(ctx, "/internal/sweep", in, &out); err != nil {
		return 0, err
	}
	return out.Swept, nil
}

// StatusError is a non-2xx answer from the gateway
type StatusError struct {
	Code    int
	Message string
	kind    error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway: %d %s", e.Code, e.Message)
}

func (e *StatusError) Unwrap() error { return e.kind }

func isConflict(err error) bool {
	se, ok := err.(*StatusError)
	return ok && se.Code == http.StatusConflict
}

func kindOf(code int) error {
	switch code {
	case http.StatusNotFound:
		return cases.ErrNotFound
	case http.StatusForbidden:
		return cases.ErrReceiptMismatch
	case http.StatusUnauthorized:
		return cases.ErrUnauthorized
	case http.StatusConflict:
		return cases.ErrConflict
	case http.StatusRequestEntityTooLarge:
		return cases.ErrPayloadTooLarge
	case http.StatusUnprocessableEntity:
		return cases.ErrQuarantined
	case http.StatusBadRequest:
		return cases.ErrInvalidInput
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(msg)), kind: kindOf(resp.StatusCode)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponse)).Decode(out); err != nil {
		return fmt.Errorf("gateway %s: decode: %w", path, err)
	}
	return nil
}

var _ cases.Gateway = (*Client)(nil)
