package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmerrifield20/logline/pkg/atomic"
	"github.com/jmerrifield20/logline/pkg/ledgererr"
)

// maxResponseBytes bounds every buffered response body. Export streams
// and is not bounded.
const maxResponseBytes = 32 << 20

// Receipt is returned by Append.
type Receipt struct {
	Cursor  string         `json:"cursor"`
	Hash    string         `json:"hash"`
	Signed  bool           `json:"signed"`
	Durable bool           `json:"durable"`
	Atomic  *atomic.Atomic `json:"atomic"`
}

// Record is an atomic together with its ledger cursor.
type Record struct {
	Cursor string         `json:"cursor"`
	Atomic *atomic.Atomic `json:"atomic"`
}

// Page is one page of a Scan.
type Page struct {
	Atomics    []Record `json:"atomics"`
	NextCursor string   `json:"next_cursor"`
	HasMore    bool     `json:"has_more"`
}

// Stats summarises a remote ledger.
type Stats struct {
	Total    int            `json:"total"`
	ByType   map[string]int `json:"by_type"`
	ByStatus map[string]int `json:"by_status"`
	Oldest   string         `json:"oldest,omitempty"`
	Newest   string         `json:"newest,omitempty"`
}

// VerifyResult is the outcome of a remote full-ledger verification.
type VerifyResult struct {
	Valid  bool   `json:"valid"`
	Error  string `json:"error,omitempty"`
	Report struct {
		Checked   int    `json:"checked"`
		Signed    int    `json:"signed"`
		Traces    int    `json:"traces"`
		Untrusted int    `json:"untrusted,omitempty"`
		Position  string `json:"position,omitempty"`
	} `json:"report"`
}

// TrustKey is one entry of a remote trust registry.
type TrustKey struct {
	PublicKey string    `json:"public_key"`
	Scope     string    `json:"scope"`
	Peer      string    `json:"peer,omitempty"`
	AddedAt   time.Time `json:"added_at"`
}

// AppendOptions controls Append.
type AppendOptions struct {
	ValidateOnly bool
	Sign         bool
}

// ScanOptions filters a Scan. Zero values are unset.
type ScanOptions struct {
	Cursor     string
	Limit      int
	Status     string
	EntityType string
}

// QueryOptions filters a Query. Zero values are unset.
type QueryOptions struct {
	TraceID    string
	EntityType string
	OwnerID    string
	TenantID   string
	From       time.Time
	To         time.Time
	Limit      int
}

// APIError is a non-2xx answer from the server. It unwraps to the matching
// ledgererr type where one exists, so ledgererr.KindOf classifies it.
type APIError struct {
	StatusCode int
	Kind       string   `json:"kind"`
	Message    string   `json:"error"`
	Reasons    []string `json:"reasons"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the response onto the ledger's error taxonomy.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest:
		reasons := e.Reasons
		if len(reasons) == 0 {
			reasons = []string{e.Message}
		}
		return &ledgererr.ValidationError{Reasons: reasons}
	case http.StatusUnauthorized:
		return &ledgererr.AuthenticationError{}
	case http.StatusForbidden:
		return &ledgererr.AuthorizationError{}
	case http.StatusNotFound:
		return ledgererr.ErrNotFound
	case http.StatusConflict:
		return &ledgererr.DuplicateAtomicError{}
	case http.StatusUnprocessableEntity:
		return &ledgererr.LedgerCorruptedError{Reason: e.Message}
	}
	return nil
}

// Client talks to a logline server's /api/v1 routes.
type Client struct {
	base       string
	apiKey     string
	httpClient *http.Client
	cache      *atomicCache
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithAPIKey sends key in the x-api-key header on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) error {
		c.apiKey = key
		return nil
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.httpClient.Timeout = d
		return nil
	}
}

// WithCacheTTL caches Get results by hash for ttl. Atomics never change
// once appended, so only deletion of the remote ledger makes a hit stale.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) error {
		c.cache = newAtomicCache(ttl)
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Only use this in development against a self-signed server.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
			Timeout: c.httpClient.Timeout,
		}
		return nil
	}
}

// New creates a Client for the server at base, e.g. "http://localhost:8000".
func New(base string, opts ...Option) (*Client, error) {
	if base == "" {
		return nil, errors.New("server URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse server URL: %w", err)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// ─── Ledger ──────────────────────────────────────────────────────────────────

// Append submits one atomic.
func (c *Client) Append(ctx context.Context, a *atomic.Atomic, opts AppendOptions) (*Receipt, error) {
	body, err := a.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode atomic: %w", err)
	}
	q := url.Values{}
	if opts.ValidateOnly {
		q.Set("validate_only", "true")
	}
	if opts.Sign {
		q.Set("sign", "true")
	}
	var out Receipt
	if err := c.call(ctx, http.MethodPost, "/append", q, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Scan reads one page of the ledger.
func (c *Client) Scan(ctx context.Context, opts ScanOptions) (*Page, error) {
	q := url.Values{}
	setIf(q, "cursor", opts.Cursor)
	setIf(q, "status", opts.Status)
	setIf(q, "entity_type", opts.EntityType)
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	var out Page
	if err := c.call(ctx, http.MethodGet, "/scan", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Query returns records matching every set filter.
func (c *Client) Query(ctx context.Context, opts QueryOptions) ([]Record, error) {
	q := url.Values{}
	setIf(q, "trace_id", opts.TraceID)
	setIf(q, "entity_type", opts.EntityType)
	setIf(q, "owner_id", opts.OwnerID)
	setIf(q, "tenant_id", opts.TenantID)
	if !opts.From.IsZero() {
		q.Set("from", opts.From.UTC().Format(time.RFC3339))
	}
	if !opts.To.IsZero() {
		q.Set("to", opts.To.UTC().Format(time.RFC3339))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	return c.records(ctx, "/query", q)
}

// Get returns the record with the given hash.
func (c *Client) Get(ctx context.Context, hash string) (*Record, error) {
	if c.cache != nil {
		if rec, ok := c.cache.get(hash); ok {
			return rec, nil
		}
	}
	var out Record
	if err := c.call(ctx, http.MethodGet, "/atomics/"+url.PathEscape(hash), nil, nil, &out); err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.set(hash, &out)
	}
	return &out, nil
}

// Lineage returns the prev chain ending at hash, root first.
func (c *Client) Lineage(ctx context.Context, hash string) ([]Record, error) {
	return c.records(ctx, "/atomics/"+url.PathEscape(hash)+"/lineage", nil)
}

// Trace returns every record of a trace in ledger order.
func (c *Client) Trace(ctx context.Context, traceID string) ([]Record, error) {
	return c.records(ctx, "/traces/"+url.PathEscape(traceID), nil)
}

// Exists reports whether an atomic with the given hash is stored.
func (c *Client) Exists(ctx context.Context, hash string) (bool, error) {
	var out struct {
		Exists bool `json:"exists"`
	}
	if err := c.call(ctx, http.MethodGet, "/exists/"+url.PathEscape(hash), nil, nil, &out); err != nil {
		return false, err
	}
	return out.Exists, nil
}

// Stats returns ledger statistics.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var out Stats
	if err := c.call(ctx, http.MethodGet, "/stats", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verify asks the server to verify its whole ledger.
func (c *Client) Verify(ctx context.Context) (*VerifyResult, error) {
	var out VerifyResult
	if err := c.call(ctx, http.MethodGet, "/verify", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Export streams the remote ledger as NDJSON into w.
func (c *Client) Export(ctx context.Context, w io.Writer) (int64, error) {
	resp, err := c.send(ctx, http.MethodGet, "/export", nil, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return 0, decodeError(resp)
	}
	return io.Copy(w, resp.Body)
}

// ─── Trust ───────────────────────────────────────────────────────────────────

// TrustKeys lists the remote trust registry, optionally filtered by scope.
func (c *Client) TrustKeys(ctx context.Context, scope string) ([]TrustKey, error) {
	q := url.Values{}
	setIf(q, "scope", scope)
	var out struct {
		Keys []TrustKey `json:"keys"`
	}
	if err := c.call(ctx, http.MethodGet, "/trust/keys", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Keys, nil
}

// SigningKeys returns the public keys the server signs with or has signed
// with: its local keys plus the ones it rotated out. Federation peers trust
// exactly these.
func (c *Client) SigningKeys(ctx context.Context) ([]string, error) {
	keys, err := c.TrustKeys(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k.Scope == "local" || k.Scope == "rotated" {
			out = append(out, k.PublicKey)
		}
	}
	return out, nil
}

// AddTrustKey trusts publicKey on the server. An empty scope means local.
func (c *Client) AddTrustKey(ctx context.Context, publicKey, scope string) (*TrustKey, error) {
	body, err := json.Marshal(map[string]string{"public_key": publicKey, "scope": scope})
	if err != nil {
		return nil, err
	}
	var out TrustKey
	if err := c.call(ctx, http.MethodPost, "/trust/keys", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RemoveTrustKey stops the server trusting publicKey.
func (c *Client) RemoveTrustKey(ctx context.Context, publicKey string) error {
	return c.call(ctx, http.MethodDelete, "/trust/keys/"+url.PathEscape(publicKey), nil, nil, nil)
}

// RotateTrustKey makes publicKey the server's local signer.
func (c *Client) RotateTrustKey(ctx context.Context, publicKey string, retainOld bool) ([]TrustKey, error) {
	body, err := json.Marshal(map[string]any{"public_key": publicKey, "retain_old": retainOld})
	if err != nil {
		return nil, err
	}
	var out struct {
		Keys []TrustKey `json:"keys"`
	}
	if err := c.call(ctx, http.MethodPost, "/trust/rotate", nil, body, &out); err != nil {
		return nil, err
	}
	return out.Keys, nil
}

// ─── Transport ───────────────────────────────────────────────────────────────

func (c *Client) records(ctx context.Context, path string, q url.Values) ([]Record, error) {
	var out struct {
		Atomics []Record `json:"atomics"`
	}
	if err := c.call(ctx, http.MethodGet, path, q, nil, &out); err != nil {
		return nil, err
	}
	return out.Atomics, nil
}

// call sends a request and decodes a 2xx JSON body into out, which may be nil.
func (c *Client) call(ctx context.Context, method, path string, q url.Values, body []byte, out any) error {
	resp, err := c.send(ctx, method, path, q, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, q url.Values, body []byte) (*http.Response, error) {
	u := c.base + "/api/v1" + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	return resp, nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err := json.Unmarshal(data, apiErr); err != nil {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

func setIf(q url.Values, key, val string) {
	if val != "" {
		q.Set(key, val)
	}
}

// ─── Cache ───────────────────────────────────────────────────────────────────

type cacheEntry struct {
	record    *Record
	expiresAt time.Time
}

type atomicCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
}

func newAtomicCache(ttl time.Duration) *atomicCache {
	return &atomicCache{entries: make(map[string]*cacheEntry), ttl: ttl}
}

func (ac *atomicCache) get(hash string) (*Record, bool) {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	e, ok := ac.entries[hash]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.record, true
}

func (ac *atomicCache) set(hash string, rec *Record) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	ac.entries[hash] = &cacheEntry{record: rec, expiresAt: time.Now().Add(ac.ttl)}
}
