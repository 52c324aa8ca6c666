// Package pharmacie is a typed client for the pharmacy inventory REST backend.
// It exposes CRUD operations over the medicaments collection and a read of
// the categories collection, unwrapping HAL "_embedded" envelopes.
package pharmacie

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/pharmacie-hq/pharmacie-inventory/pkg/httpclient"
)

const (
	// DefaultBaseURL is the hosted inventory backend.
	DefaultBaseURL = "https://pharmacie-backend-4f71.onrender.com/api"

	DefaultPageSize           = 20
	DefaultCategoriesPageSize = 100

	medicamentsPath = "/medicaments"
	categoriesPath  = "/categories"
	medicamentsKey  = "medicaments"
	categoriesKey   = "categories"

	mimeJSON = "application/json"
)

type operation struct {
	name    string
	failure string
}

var (
	opList           = operation{name: "list", failure: "listing failed"}
	opGet            = operation{name: "get", failure: "not found"}
	opCreate         = operation{name: "create", failure: "creation failed"}
	opReplace        = operation{name: "replace", failure: "update failed"}
	opPatch          = operation{name: "patch", failure: "patch failed"}
	opRemove         = operation{name: "remove", failure: "deletion failed"}
	opListCategories = operation{name: "list_categories", failure: "category load failed"}
)

// Config is fixed at construction and never changes afterwards.
type Config struct {
	BaseURL            string
	CategoriesPageSize int
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default resty transport.
func WithHTTPClient(hc httpclient.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(log Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithObserver registers a request observer, typically for metrics.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

// Client talks to the inventory backend. It holds no mutable state and is
// safe for concurrent use.
type Client struct {
	baseURL        string
	categoriesSize int
	http           httpclient.Client
	log            Logger
	observer       Observer
}

// NewClient validates cfg and builds a Client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must use http or https", base)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base url %q has no host", base)
	}

	size := cfg.CategoriesPageSize
	if size <= 0 {
		size = DefaultCategoriesPageSize
	}

	c := &Client{
		baseURL:        base,
		categoriesSize: size,
		log:            noopLogger{},
		observer:       noopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = httpclient.NewRestyClient(0)
	}
	return c, nil
}

// BaseURL returns the configured endpoint.
func (c *Client) BaseURL() string { return c.baseURL }

// List fetches one page of medicaments. A negative page is treated as 0 and a
// non-positive size as DefaultPageSize.
func (c *Client) List(ctx context.Context, page, size int) (*ListResult, error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = DefaultPageSize
	}

	body, err := c.do(ctx, opList, httpclient.Request{
		Method: http.MethodGet,
		URL:    c.baseURL + medicamentsPath,
		Query: map[string]string{
			"page": strconv.Itoa(page),
			"size": strconv.Itoa(size),
		},
	})
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := decodeJSON(body, &env); err != nil {
		return nil, &DecodeError{Op: opList.name, Err: err}
	}
	items, err := embedded[Medication](env, medicamentsKey)
	if err != nil {
		return nil, &DecodeError{Op: opList.name, Err: err}
	}
	if len(items) > size {
		c.log.WarnObj("server returned more items than requested", "pharmacie_list_overflow", map[string]any{
			"requested_size": size,
			"received":       len(items),
		})
		items = items[:size]
	}

	return &ListResult{Items: items, Page: env.Page}, nil
}

// Get fetches a single medicament by reference. The body is returned as the
// server sent it.
func (c *Client) Get(ctx context.Context, reference int64) (Medication, error) {
	body, err := c.do(ctx, opGet, httpclient.Request{
		Method: http.MethodGet,
		URL:    c.itemURL(reference),
	})
	if err != nil {
		return nil, err
	}

	return decodeRecord(opGet, body)
}

// Create posts a new medicament and returns the server's representation.
func (c *Client) Create(ctx context.Context, m Medication) (Medication, error) {
	return c.send(ctx, opCreate, http.MethodPost, c.baseURL+medicamentsPath, m)
}

// Replace overwrites the medicament at reference with m.
func (c *Client) Replace(ctx context.Context, reference int64, m Medication) (Medication, error) {
	return c.send(ctx, opReplace, http.MethodPut, c.itemURL(reference), m)
}

// Patch updates only the given fields of the medicament at reference.
func (c *Client) Patch(ctx context.Context, reference int64, fields map[string]any) (Medication, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	return c.send(ctx, opPatch, http.MethodPatch, c.itemURL(reference), fields)
}

// Remove deletes the medicament at reference.
func (c *Client) Remove(ctx context.Context, reference int64) error {
	_, err := c.do(ctx, opRemove, httpclient.Request{
		Method: http.MethodDelete,
		URL:    c.itemURL(reference),
	})
	return err
}

// ListCategories fetches the categories collection in a single page.
func (c *Client) ListCategories(ctx context.Context) ([]Category, error) {
	body, err := c.do(ctx, opListCategories, httpclient.Request{
		Method: http.MethodGet,
		URL:    c.baseURL + categoriesPath,
		Query:  map[string]string{"size": strconv.Itoa(c.categoriesSize)},
	})
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := decodeJSON(body, &env); err != nil {
		return nil, &DecodeError{Op: opListCategories.name, Err: err}
	}
	cats, err := embedded[Category](env, categoriesKey)
	if err != nil {
		return nil, &DecodeError{Op: opListCategories.name, Err: err}
	}
	return cats, nil
}

func (c *Client) send(ctx context.Context, op operation, method, target string, payload any) (Medication, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", op.name, err)
	}

	body, err := c.do(ctx, op, httpclient.Request{
		Method: method,
		URL:    target,
		Body:   raw,
	})
	if err != nil {
		return nil, err
	}
	return decodeRecord(op, body)
}

func (c *Client) do(ctx context.Context, op operation, req httpclient.Request) ([]byte, error) {
	req.Headers = map[string]string{"Accept": mimeJSON}
	if req.Body != nil {
		req.Headers["Content-Type"] = mimeJSON
	}

	start := time.Now()
	resp, err := c.http.Do(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		c.observer.ObserveRequest(op.name, 0, elapsed)
		c.log.ErrorObj("pharmacie request failed", "pharmacie_transport_error", map[string]any{
			"operation": op.name,
			"method":    req.Method,
			"url":       req.URL,
			"error":     err.Error(),
		})
		return nil, &TransportError{Op: op.name, Err: err}
	}

	status := resp.StatusCode()
	c.observer.ObserveRequest(op.name, status, elapsed)
	if status < 200 || status > 299 {
		body := append([]byte(nil), resp.Body()...)
		c.log.WarnObj("pharmacie request rejected", "pharmacie_status_error", map[string]any{
			"operation": op.name,
			"method":    req.Method,
			"url":       req.URL,
			"status":    status,
		})
		return nil, &FetchError{
			Op:         op.name,
			Message:    op.failure,
			StatusCode: status,
			Body:       body,
		}
	}

	c.log.DebugObj("pharmacie request completed", "pharmacie_request", map[string]any{
		"operation":  op.name,
		"method":     req.Method,
		"url":        req.URL,
		"status":     status,
		"elapsed_ms": elapsed.Milliseconds(),
	})
	return resp.Body(), nil
}

func (c *Client) itemURL(reference int64) string {
	return c.baseURL + medicamentsPath + "/" + strconv.FormatInt(reference, 10)
}

// envelope is the HAL collection body shape.
type envelope struct {
	Embedded map[string]json.RawMessage `json:"_embedded"`
	Page     *Page                      `json:"page"`
}

// embedded unwraps the named collection. A missing key yields an empty slice.
func embedded[T any](env envelope, key string) ([]T, error) {
	raw, ok := env.Embedded[key]
	if !ok || len(bytes.TrimSpace(raw)) == 0 {
		return []T{}, nil
	}
	var items []T
	if err := decodeJSON(raw, &items); err != nil {
		return nil, fmt.Errorf("decode _embedded.%s: %w", key, err)
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

func decodeRecord(op operation, body []byte) (Medication, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &DecodeError{Op: op.name, Err: errEmptyBody}
	}
	var m Medication
	if err := decodeJSON(body, &m); err != nil {
		return nil, &DecodeError{Op: op.name, Err: err}
	}
	if m == nil {
		return nil, &DecodeError{Op: op.name, Err: errEmptyBody}
	}
	return m, nil
}

// decodeJSON keeps numbers as json.Number so large references stay exact.
func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
