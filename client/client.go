/*
Package client implements assortment.Backend over HTTP.

PURPOSE:
  Lets the assortment service run in front of a remote inventory backend
  that exposes the collaborator endpoints (see api/handlers.go). Every
  call carries the caller's context and a per-call timeout.

ERRORS:
  A non-2xx response becomes *assortment.BackendError with the status and
  the body's "message" (or "error") so the user sees the backend's own
  words. Transport failures are returned wrapped, without a message, so
  the engine falls back to its generic text.

USAGE:
  c := client.New("http://inventory:8080", client.WithTimeout(5*time.Second))
  ctrl := assortment.NewController(c, logger)

SEE ALSO:
  - assortment/backend.go: Interface definition
  - api/server.go: The routes this client calls
*/
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gemvault/assortment-engine/assortment"
)

const DefaultTimeout = 10 * time.Second

// Client is an HTTP Backend.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

type Option func(*Client)

// WithTimeout bounds each backend call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http.DefaultClient,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// =============================================================================
// BACKEND
// =============================================================================

func (c *Client) ListWarehouses(ctx context.Context) ([]assortment.Warehouse, error) {
	var out []assortment.Warehouse
	err := c.do(ctx, http.MethodGet, "/api/warehouses", nil, nil, &out)
	return out, err
}

func (c *Client) ListGrns(ctx context.Context, warehouseID string) ([]assortment.Grn, error) {
	q := url.Values{}
	if warehouseID != "" {
		q.Set("warehouse_id", warehouseID)
	}
	var out []assortment.Grn
	err := c.do(ctx, http.MethodGet, "/api/grns", q, nil, &out)
	return out, err
}

func (c *Client) GrnItemsWithRemainingQty(ctx context.Context, grnID string) ([]assortment.GrnLineItem, error) {
	var out []assortment.GrnLineItem
	err := c.do(ctx, http.MethodGet, "/api/grns/"+url.PathEscape(grnID)+"/items", nil, nil, &out)
	var be *assortment.BackendError
	if errors.As(err, &be) && be.StatusCode == http.StatusNotFound {
		return nil, assortment.ErrGrnNotFound
	}
	return out, err
}

func (c *Client) ListPackets(ctx context.Context, f assortment.PacketFilter) ([]assortment.Packet, error) {
	q := url.Values{}
	if f.WarehouseID != "" {
		q.Set("warehouse_id", f.WarehouseID)
	}
	if f.PurchaseOrderID != "" {
		q.Set("purchase_order_id", f.PurchaseOrderID)
	}
	var out []assortment.Packet
	err := c.do(ctx, http.MethodGet, "/api/packets", q, nil, &out)
	return out, err
}

func (c *Client) GeneratePacketCode(ctx context.Context, attrs assortment.Attributes) (string, error) {
	var out struct {
		OK         bool   `json:"ok"`
		PacketCode string `json:"packet_code"`
		Message    string `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/packets/generate-code", nil, attrs, &out); err != nil {
		return "", err
	}
	if !out.OK || out.PacketCode == "" {
		return "", &assortment.BackendError{StatusCode: http.StatusOK, Message: out.Message}
	}
	return out.PacketCode, nil
}

func (c *Client) AssortGrnToPackets(ctx context.Context, req assortment.AssortRequest) error {
	var out struct {
		OK      bool   `json:"ok"`
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/assortments", nil, req, &out); err != nil {
		return err
	}
	if !out.OK {
		return &assortment.BackendError{StatusCode: http.StatusOK, Message: out.Message}
	}
	return nil
}

// =============================================================================
// TRANSPORT
// =============================================================================

// errorBody covers both {"ok":false,"message":...} and {"error":...}.
type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		msg := eb.Message
		if msg == "" {
			msg = eb.Error
		}
		return &assortment.BackendError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

var _ assortment.Backend = (*Client)(nil)
