// Package executor runs compiled searches against the backend and owns the
// per-session result state.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/searcher/backend"
	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/searcher/compiler"
	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/searcher/samples"
	apperrors "github.com/Adithya-Monish-Kumar-K/variant-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/variant-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/variant-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/variant-search/pkg/tracing"
)

const (
	OperationQueryVariants = "query_variants"
	OperationGeneCounts    = "gene_counts"
)

type Compiler interface {
	Compile(ctx context.Context, in compiler.Input) (*compiler.Compiled, error)
}

type Backend interface {
	Search(ctx context.Context, req *backend.SearchRequest) (*backend.SearchResponse, error)
	GeneCounts(ctx context.Context, req *backend.SearchRequest) (backend.GeneCounts, error)
}

// Tracker receives analytics events keyed by session id.
type Tracker interface {
	Track(key string, value any)
}

// Query is one search request against a session.
type Query struct {
	// SessionID names the result state. Empty starts a new session.
	SessionID      string
	Samples        []samples.Sample
	Search         compiler.Params
	RequesterEmail string
	Sort           string
	Page           int
	PageSize       int
}

type Result struct {
	SessionID string
	Variants  []json.RawMessage
	Total     int
	CacheHit  bool
}

type GeneCountsResult struct {
	SessionID  string
	GeneCounts map[string]json.RawMessage
	CacheHit   bool
}

type Executor struct {
	compiler Compiler
	backend  Backend
	store    cache.Store
	locks    *cache.Locker
	metrics  *metrics.Metrics
	tracker  Tracker
	logger   *slog.Logger
}

// New returns an Executor. m and tracker may be nil.
func New(c Compiler, b Backend, store cache.Store, m *metrics.Metrics, tracker Tracker) *Executor {
	return &Executor{
		compiler: c,
		backend:  b,
		store:    store,
		locks:    cache.NewLocker(),
		metrics:  m,
		tracker:  tracker,
		logger:   slog.Default().With("component", "query-executor"),
	}
}

// QueryVariants returns one page of results for q. Cached results are
// reused when they belong to the same search and sort and already cover the
// page; otherwise the backend is queried and the session state replaced.
// A failed backend call leaves the session untouched.
func (e *Executor) QueryVariants(ctx context.Context, q Query) (*Result, error) {
	start := time.Now()
	q.SessionID = sessionID(q.SessionID)
	ctx = logger.WithSessionID(ctx, q.SessionID)
	ctx, span := tracing.StartSpan(ctx, OperationQueryVariants, logger.RequestID(ctx))
	log := logger.FromContext(ctx)
	defer func() {
		span.End()
		span.Finish(log)
	}()

	compiled, err := e.compiler.Compile(ctx, e.input(q))
	if err != nil {
		e.failed(ctx, OperationQueryVariants, q, nil, start, err)
		return nil, err
	}

	unlock := e.locks.Lock(q.SessionID)
	defer unlock()

	state, ok, err := e.store.Load(ctx, q.SessionID)
	if err != nil {
		e.failed(ctx, OperationQueryVariants, q, compiled, start, err)
		return nil, err
	}
	if ok && state.Covers(compiled.Fingerprint, q.Sort, q.Page, q.PageSize) {
		e.sessionHit(true)
		res := &Result{
			SessionID: q.SessionID,
			Variants:  cache.Page(state.Results, q.Page, q.PageSize),
			Total:     state.Total,
			CacheHit:  true,
		}
		e.succeeded(ctx, outcome{
			op: OperationQueryVariants, event: analytics.EventCacheHit, cacheHit: true,
			total: res.Total, returned: len(res.Variants),
		}, q, compiled, start)
		return res, nil
	}
	e.sessionHit(false)

	_, backendSpan := tracing.StartChildSpan(ctx, "backend_search")
	resp, err := e.backend.Search(ctx, compiled.Request)
	backendSpan.End()
	if err != nil {
		e.failed(ctx, OperationQueryVariants, q, compiled, start, err)
		return nil, err
	}

	next := &cache.SessionState{
		Fingerprint: compiled.Fingerprint,
		Sort:        q.Sort,
		Total:       resp.Total,
		Results:     resp.Results,
	}
	if ok && state.GeneCountsFingerprint == compiled.Fingerprint {
		next.GeneCountsFingerprint = state.GeneCountsFingerprint
		next.GeneCounts = state.GeneCounts
	}
	if err := e.store.Save(ctx, q.SessionID, next); err != nil {
		e.failed(ctx, OperationQueryVariants, q, compiled, start, err)
		return nil, err
	}

	res := &Result{
		SessionID: q.SessionID,
		Variants:  cache.Page(resp.Results, q.Page, q.PageSize),
		Total:     resp.Total,
	}
	e.succeeded(ctx, outcome{
		op: OperationQueryVariants, event: analytics.EventSearch,
		total: res.Total, returned: len(res.Variants),
	}, q, compiled, start)
	return res, nil
}

// GeneCounts returns the gene aggregation of q's search. The aggregation is
// cached alongside the session's variant results.
func (e *Executor) GeneCounts(ctx context.Context, q Query) (*GeneCountsResult, error) {
	start := time.Now()
	q.SessionID = sessionID(q.SessionID)
	q.Sort = ""
	if q.Page < 1 {
		q.Page = 1
	}
	ctx = logger.WithSessionID(ctx, q.SessionID)
	ctx, span := tracing.StartSpan(ctx, OperationGeneCounts, logger.RequestID(ctx))
	log := logger.FromContext(ctx)
	defer func() {
		span.End()
		span.Finish(log)
	}()

	compiled, err := e.compiler.Compile(ctx, e.input(q))
	if err != nil {
		e.failed(ctx, OperationGeneCounts, q, nil, start, err)
		return nil, err
	}

	unlock := e.locks.Lock(q.SessionID)
	defer unlock()

	state, ok, err := e.store.Load(ctx, q.SessionID)
	if err != nil {
		e.failed(ctx, OperationGeneCounts, q, compiled, start, err)
		return nil, err
	}
	if ok && state.GeneCounts != nil && state.GeneCountsFingerprint == compiled.Fingerprint {
		e.sessionHit(true)
		res := &GeneCountsResult{SessionID: q.SessionID, GeneCounts: state.GeneCounts, CacheHit: true}
		e.succeeded(ctx, outcome{
			op: OperationGeneCounts, event: analytics.EventGeneCounts, cacheHit: true,
			total: len(res.GeneCounts), returned: len(res.GeneCounts),
		}, q, compiled, start)
		return res, nil
	}
	e.sessionHit(false)

	_, backendSpan := tracing.StartChildSpan(ctx, "backend_gene_counts")
	counts, err := e.backend.GeneCounts(ctx, compiled.Request)
	backendSpan.End()
	if err != nil {
		e.failed(ctx, OperationGeneCounts, q, compiled, start, err)
		return nil, err
	}

	next := &cache.SessionState{}
	if ok && state.Fingerprint == compiled.Fingerprint {
		next = state
	}
	next.GeneCountsFingerprint = compiled.Fingerprint
	next.GeneCounts = counts
	if err := e.store.Save(ctx, q.SessionID, next); err != nil {
		e.failed(ctx, OperationGeneCounts, q, compiled, start, err)
		return nil, err
	}

	res := &GeneCountsResult{SessionID: q.SessionID, GeneCounts: counts}
	e.succeeded(ctx, outcome{
		op: OperationGeneCounts, event: analytics.EventGeneCounts,
		total: len(counts), returned: len(counts),
	}, q, compiled, start)
	return res, nil
}

// CachedPage serves a page of a session's stored results without a
// backend call.
func (e *Executor) CachedPage(ctx context.Context, sessionID string, page, size int) (*Result, error) {
	if page < 1 || size < 1 {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
			"page and page size must be positive, got page %d size %d", page, size)
	}
	unlock := e.locks.Lock(sessionID)
	defer unlock()

	state, ok, err := e.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok || state.Fingerprint == "" {
		return nil, apperrors.Newf(apperrors.ErrSessionNotFound, http.StatusNotFound,
			"no search results stored for session %s", sessionID)
	}
	e.sessionHit(true)
	return &Result{
		SessionID: sessionID,
		Variants:  cache.Page(state.Results, page, size),
		Total:     state.Total,
		CacheHit:  true,
	}, nil
}

func (e *Executor) input(q Query) compiler.Input {
	return compiler.Input{
		Samples:        q.Samples,
		Search:         q.Search,
		RequesterEmail: q.RequesterEmail,
		Sort:           q.Sort,
		Page:           q.Page,
		PageSize:       q.PageSize,
	}
}

func sessionID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

func (e *Executor) sessionHit(hit bool) {
	if e.metrics == nil {
		return
	}
	if hit {
		e.metrics.SessionHitsTotal.Inc()
		return
	}
	e.metrics.SessionMissesTotal.Inc()
}

// outcome describes a successful operation for metrics, logs and events.
type outcome struct {
	op       string
	event    analytics.EventType
	cacheHit bool
	total    int
	returned int
}

func (e *Executor) succeeded(ctx context.Context, o outcome, q Query, c *compiler.Compiled, start time.Time) {
	elapsed := time.Since(start)
	op, cacheHit, total, returned := o.op, o.cacheHit, o.total, o.returned
	if e.metrics != nil {
		label := "backend"
		if cacheHit {
			label = "cache_hit"
		}
		e.metrics.SearchesTotal.WithLabelValues(op, label).Inc()
		e.metrics.SearchLatency.WithLabelValues(c.Strategy.String()).Observe(elapsed.Seconds())
		if op == OperationQueryVariants {
			e.metrics.SearchResultsTotal.Observe(float64(total))
		}
	}
	logger.FromContext(ctx).Info("search completed",
		"operation", op,
		"strategy", c.Strategy.String(),
		"plan", c.Plan(),
		"families", c.Families,
		"total", total,
		"returned", returned,
		"cache_hit", cacheHit,
		"latency_ms", elapsed.Milliseconds(),
	)
	e.track(ctx, analytics.SearchEvent{
		Type:      o.event,
		Operation: op,
		SessionID: q.SessionID,
		Strategy:  c.Strategy.String(),
		Plan:      c.Plan(),
		Sort:      q.Sort,
		Families:  c.Families,
		Total:     total,
		Returned:  returned,
		LatencyMs: elapsed.Milliseconds(),
		CacheHit:  cacheHit,
	})
}

func (e *Executor) failed(ctx context.Context, op string, q Query, c *compiler.Compiled, start time.Time, err error) {
	elapsed := time.Since(start)
	typ, label := analytics.EventBackendError, "error"
	var backendErr *apperrors.BackendError
	switch {
	case errors.Is(err, apperrors.ErrInvalidSearch), errors.Is(err, apperrors.ErrInvalidInput):
		typ, label = analytics.EventRejected, "invalid"
	case errors.As(err, &backendErr):
		label = fmt.Sprintf("backend_%d", backendErr.StatusCode)
	}
	if e.metrics != nil {
		e.metrics.SearchesTotal.WithLabelValues(op, label).Inc()
	}

	log := logger.FromContext(ctx)
	if typ == analytics.EventRejected {
		log.Info("search rejected", "operation", op, "reason", apperrors.Message(err))
	} else {
		log.Error("search failed", "operation", op, "error", err)
	}

	event := analytics.SearchEvent{
		Type:      typ,
		Operation: op,
		SessionID: q.SessionID,
		Sort:      q.Sort,
		LatencyMs: elapsed.Milliseconds(),
		Status:    apperrors.HTTPStatusCode(err),
	}
	if c != nil {
		event.Strategy = c.Strategy.String()
		event.Plan = c.Plan()
		event.Families = c.Families
	}
	e.track(ctx, event)
}

func (e *Executor) track(ctx context.Context, event analytics.SearchEvent) {
	if e.tracker == nil {
		return
	}
	event.Timestamp = time.Now().UTC()
	event.RequestID = logger.RequestID(ctx)
	e.tracker.Track(event.SessionID, event)
}
