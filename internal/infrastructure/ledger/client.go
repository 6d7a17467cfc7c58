// Package ledger implements the HTTP client of the external invoice ledger.
package ledger

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

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/erp/reconciliation/internal/domain/reconciliation"
	"github.com/erp/reconciliation/internal/infrastructure/telemetry"
)

// TokenHeader carries the per-connection API token
const TokenHeader = "xc-token"

const (
	defaultTimeout          = 10 * time.Second
	defaultPageLimit        = 100
	defaultMaxResponseBytes = 10 * 1024 * 1024
)

// Config holds client-wide settings. Connections may override Timeout.
type Config struct {
	Timeout          time.Duration
	PageLimit        int
	MaxResponseBytes int64
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.PageLimit <= 0 {
		c.PageLimit = defaultPageLimit
	}
	if c.MaxResponseBytes <= 0 {
		c.MaxResponseBytes = defaultMaxResponseBytes
	}
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics records request counts and latency
func WithMetrics(m *telemetry.ReconciliationMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// Client queries ledger tables over the ledger's REST records API. Each call
// issues exactly one GET; there is no caching and no retry.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *zap.Logger
	metrics    *telemetry.ReconciliationMetrics
}

// NewClient creates a ledger client
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.applyDefaults()
	c := &Client{
		config:     cfg,
		httpClient: &http.Client{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type recordsResponse struct {
	List     []reconciliation.LedgerRecord `json:"list"`
	PageInfo struct {
		TotalRows  int  `json:"totalRows"`
		IsLastPage bool `json:"isLastPage"`
	} `json:"pageInfo"`
}

// FetchRows returns the rows of cfg's table matching filter. A store without
// a usable configuration fails with ErrNotConfigured before any request.
func (c *Client) FetchRows(ctx context.Context, cfg *reconciliation.StoreLedgerConfig, filter reconciliation.Filter) ([]reconciliation.LedgerRecord, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	where := filter.String()
	endpoint := c.recordsURL(cfg, where)

	ctx, span := telemetry.StartSpan(ctx, "ledger.fetch_rows", trace.SpanKindClient,
		telemetry.SpanAttrStoreID, cfg.StoreID,
		"ledger.table", cfg.TableID,
		"ledger.filter", where,
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeoutFor(cfg.Connection))
	defer cancel()

	start := time.Now()
	rows, err := c.do(ctx, cfg, endpoint, where)
	elapsed := time.Since(start)

	if err != nil {
		outcome := "error"
		var lerr *reconciliation.LedgerError
		if errors.As(err, &lerr) {
			outcome = string(lerr.Kind)
		}
		c.metrics.RecordLedgerRequest(ctx, outcome, elapsed)
		telemetry.RecordError(span, err)
		c.logger.Warn("Ledger request failed",
			zap.String("store_id", cfg.StoreID.String()),
			zap.String("table_id", cfg.TableID),
			zap.String("filter", where),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return nil, err
	}

	c.metrics.RecordLedgerRequest(ctx, "ok", elapsed)
	telemetry.SetAttributes(span, "ledger.rows", len(rows))
	c.logger.Debug("Ledger request completed",
		zap.String("store_id", cfg.StoreID.String()),
		zap.String("filter", where),
		zap.Int("rows", len(rows)),
		zap.Duration("elapsed", elapsed),
	)
	return rows, nil
}

func (c *Client) do(ctx context.Context, cfg *reconciliation.StoreLedgerConfig, endpoint, where string) ([]reconciliation.LedgerRecord, error) {
	fail := func(kind reconciliation.LedgerErrorKind, status int, err error) error {
		return &reconciliation.LedgerError{Kind: kind, StatusCode: status, URL: endpoint, Filter: where, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fail(reconciliation.LedgerErrorNetwork, 0, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set(TokenHeader, cfg.Connection.APIToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fail(reconciliation.LedgerErrorNetwork, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxResponseBytes+1))
	if err != nil {
		return nil, fail(reconciliation.LedgerErrorNetwork, resp.StatusCode, fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fail(reconciliation.LedgerErrorAuth, resp.StatusCode, errors.New(snippet(body)))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fail(reconciliation.LedgerErrorNetwork, resp.StatusCode, errors.New(snippet(body)))
	}

	if int64(len(body)) > c.config.MaxResponseBytes {
		return nil, fail(reconciliation.LedgerErrorInvalidResponse, resp.StatusCode,
			fmt.Errorf("response exceeds %d bytes", c.config.MaxResponseBytes))
	}

	var parsed recordsResponse
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&parsed); err != nil {
		return nil, fail(reconciliation.LedgerErrorInvalidResponse, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	if parsed.List == nil {
		return []reconciliation.LedgerRecord{}, nil
	}
	return parsed.List, nil
}

func (c *Client) recordsURL(cfg *reconciliation.StoreLedgerConfig, where string) string {
	q := url.Values{}
	if where != "" {
		q.Set("where", where)
	}
	q.Set("limit", strconv.Itoa(c.config.PageLimit))

	base := strings.TrimRight(cfg.Connection.BaseURL, "/")
	return base + "/api/v2/tables/" + url.PathEscape(cfg.TableID) + "/records?" + q.Encode()
}

func (c *Client) timeoutFor(conn *reconciliation.LedgerConnection) time.Duration {
	if conn != nil && conn.Timeout > 0 {
		return conn.Timeout
	}
	return c.config.Timeout
}

func snippet(body []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	if s == "" {
		s = "empty response body"
	}
	return s
}

var _ reconciliation.LedgerClient = (*Client)(nil)
