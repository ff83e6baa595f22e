// Package handler exposes variant search over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/searcher/compiler"
	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/searcher/samples"
	apperrors "github.com/Adithya-Monish-Kumar-K/variant-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/variant-search/pkg/logger"
)

// RequesterEmailHeader carries the identity of the user running a search.
const RequesterEmailHeader = "X-Requester-Email"

// DefaultSort orders results by genomic position.
const DefaultSort = "xpos"

// CacheHeader reports whether results came from the session cache.
const CacheHeader = "X-Session-Cache"

// maxBodyBytes bounds a decoded request body.
const maxBodyBytes = 1 << 20

type SampleLoader interface {
	LoadSamples(ctx context.Context, familyGUIDs []string) ([]samples.Sample, error)
}

type Searcher interface {
	QueryVariants(ctx context.Context, q executor.Query) (*executor.Result, error)
	GeneCounts(ctx context.Context, q executor.Query) (*executor.GeneCountsResult, error)
	CachedPage(ctx context.Context, sessionID string, page, size int) (*executor.Result, error)
}

type Handler struct {
	samples         SampleLoader
	searcher        Searcher
	defaultPageSize int
	maxPageSize     int
	logger          *slog.Logger
}

func New(loader SampleLoader, searcher Searcher, defaultPageSize, maxPageSize int) *Handler {
	return &Handler{
		samples:         loader,
		searcher:        searcher,
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
		logger:          slog.Default().With("component", "search-handler"),
	}
}

type searchRequest struct {
	SessionID  string          `json:"session_id"`
	Families   []string        `json:"families"`
	Search     compiler.Params `json:"search"`
	Sort       *string         `json:"sort"`
	Page       int             `json:"page"`
	NumResults int             `json:"num_results"`
}

type searchResponse struct {
	SessionID string            `json:"session_id"`
	Variants  []json.RawMessage `json:"variants"`
	Total     int               `json:"total"`
}

type geneCountsResponse struct {
	SessionID  string                     `json:"session_id"`
	GeneCounts map[string]json.RawMessage `json:"gene_counts"`
}

// Search handles POST /api/v1/search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q, err := h.decodeQuery(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.searcher.QueryVariants(r.Context(), q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	setCacheHeader(w, res.CacheHit)
	h.writeJSON(w, http.StatusOK, searchResponse{
		SessionID: res.SessionID,
		Variants:  res.Variants,
		Total:     res.Total,
	})
}

// GeneCounts handles POST /api/v1/gene_counts.
func (h *Handler) GeneCounts(w http.ResponseWriter, r *http.Request) {
	q, err := h.decodeQuery(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.searcher.GeneCounts(r.Context(), q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	setCacheHeader(w, res.CacheHit)
	h.writeJSON(w, http.StatusOK, geneCountsResponse{SessionID: res.SessionID, GeneCounts: res.GeneCounts})
}

// Session handles GET /api/v1/sessions/{id}?page=&num_results=, paging
// through stored results.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	page, err := intParam(r, "page", 1)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	size, err := intParam(r, "num_results", h.defaultPageSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	size = h.clampPageSize(size)
	if err := checkPaging(page, size); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.searcher.CachedPage(r.Context(), r.PathValue("id"), page, size)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, searchResponse{
		SessionID: res.SessionID,
		Variants:  res.Variants,
		Total:     res.Total,
	})
}

func setCacheHeader(w http.ResponseWriter, hit bool) {
	if hit {
		w.Header().Set(CacheHeader, "hit")
		return
	}
	w.Header().Set(CacheHeader, "miss")
}

func (h *Handler) decodeQuery(w http.ResponseWriter, r *http.Request) (executor.Query, error) {
	email := r.Header.Get(RequesterEmailHeader)
	if email == "" {
		return executor.Query{}, apperrors.Newf(apperrors.ErrUnauthorized, http.StatusUnauthorized,
			"%s header is required", RequesterEmailHeader)
	}

	var req searchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		return executor.Query{}, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
			"invalid request body: %v", err)
	}
	if len(req.Families) == 0 {
		return executor.Query{}, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest,
			"families must not be empty")
	}
	if req.Page == 0 {
		req.Page = 1
	}
	if req.NumResults == 0 {
		req.NumResults = h.defaultPageSize
	}
	if req.Page < 0 || req.NumResults < 0 {
		return executor.Query{}, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
			"page and num_results must be positive, got page %d num_results %d", req.Page, req.NumResults)
	}
	req.NumResults = h.clampPageSize(req.NumResults)
	if err := checkPaging(req.Page, req.NumResults); err != nil {
		return executor.Query{}, err
	}
	sort := DefaultSort
	if req.Sort != nil {
		sort = *req.Sort
	}

	found, err := h.samples.LoadSamples(r.Context(), req.Families)
	if err != nil {
		return executor.Query{}, err
	}
	return executor.Query{
		SessionID:      req.SessionID,
		Samples:        found,
		Search:         req.Search,
		RequesterEmail: email,
		Sort:           sort,
		Page:           req.Page,
		PageSize:       req.NumResults,
	}, nil
}

func (h *Handler) clampPageSize(size int) int {
	if h.maxPageSize > 0 && size > h.maxPageSize {
		return h.maxPageSize
	}
	return size
}

// checkPaging rejects pages whose result count page*size overflows.
func checkPaging(page, size int) error {
	if _, ok := cache.ResultsThrough(page, size); !ok {
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
			"page %d of size %d is out of range", page, size)
	}
	return nil
}

func intParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
			"%s must be a positive integer", name)
	}
	return v, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// writeError maps err to its status. Internal failures are logged and
// reported without detail.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := apperrors.Message(err)
	var backendErr *apperrors.BackendError
	if status == http.StatusInternalServerError && !errors.As(err, &backendErr) {
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
		message = apperrors.ErrInternal.Error()
	}
	h.writeJSON(w, status, map[string]string{"error": message})
}
