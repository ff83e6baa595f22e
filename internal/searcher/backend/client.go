// Package backend is the HTTP client for the remote variant search engine.
// Calls are never retried and, once issued, are not cancelled by the caller.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/variant-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/variant-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/variant-search/pkg/metrics"
)

const (
	EndpointSearch     = "search"
	EndpointGeneCounts = "gene_counts"
	endpointStatus     = "status"
)

type Client struct {
	baseURL string
	http    *http.Client
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewClient returns a client for baseURL. A nil httpClient uses
// http.DefaultClient; m may be nil.
func NewClient(baseURL string, httpClient *http.Client, m *metrics.Metrics) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		metrics: m,
		logger:  slog.Default().With("component", "search-backend"),
	}
}

// Search runs a variant search.
func (c *Client) Search(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	var out SearchResponse
	if err := c.post(ctx, EndpointSearch, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GeneCounts runs the gene-level aggregation of a search.
func (c *Client) GeneCounts(ctx context.Context, req *SearchRequest) (GeneCounts, error) {
	out := GeneCounts{}
	if err := c.post(ctx, EndpointGeneCounts, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Ping checks that the backend answers its status endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+endpointStatus, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: status %d", apperrors.ErrBackendUnavailable, resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, endpoint string, body any, out any) error {
	log := logger.FromContext(ctx).With("component", "search-backend", "endpoint", endpoint)
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodPost,
		c.baseURL+"/"+endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id := logger.RequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	c.observe(endpoint, start)
	if err != nil {
		c.countError(endpoint, "transport")
		log.Error("backend unreachable", "error", err)
		return fmt.Errorf("%w: %v", apperrors.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.countError(endpoint, "transport")
		return fmt.Errorf("%w: reading %s response: %v", apperrors.ErrBackendUnavailable, endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.countError(endpoint, strconv.Itoa(resp.StatusCode))
		log.Warn("backend rejected request", "status", resp.StatusCode, "body_size", len(data))
		return &apperrors.BackendError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", endpoint, err)
	}
	log.Debug("backend request completed",
		"status", resp.StatusCode,
		"request_size", len(payload),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (c *Client) observe(endpoint string, start time.Time) {
	if c.metrics != nil {
		c.metrics.BackendLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

func (c *Client) countError(endpoint, status string) {
	if c.metrics != nil {
		c.metrics.BackendErrorsTotal.WithLabelValues(endpoint, status).Inc()
	}
}
