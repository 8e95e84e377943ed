// Package api provides HTTP API handlers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lexsync/lexsync/internal/alerts"
	"github.com/lexsync/lexsync/internal/apperr"
	"github.com/lexsync/lexsync/internal/cache"
	"github.com/lexsync/lexsync/internal/legislation"
	"github.com/lexsync/lexsync/internal/models"
	"github.com/lexsync/lexsync/internal/search"
	"github.com/rs/zerolog/log"
)

// Defaults for query parameters.
const (
	defaultLimit    = 20
	maxLimit        = 100
	defaultSyncDays = 7
)

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains all HTTP handlers.
type Handler struct {
	legislation *legislation.Service
	alerts      *alerts.Service
	store       Pinger
	caches      map[string]cache.Inspector
}

// NewHandler creates a new handler.
func NewHandler(legislationSvc *legislation.Service, alertSvc *alerts.Service, store Pinger, caches map[string]cache.Inspector) *Handler {
	return &Handler{
		legislation: legislationSvc,
		alerts:      alertSvc,
		store:       store,
		caches:      caches,
	}
}

// HealthCheck returns the service health status.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		log.Error().Err(err).Msg("Store ping failed")
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"version":   "1.0.0",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ListLegislation lists locally stored records.
func (h *Handler) ListLegislation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	origin, err := parseOriginParam(q.Get("origin"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	page, _ := strconv.Atoi(q.Get("page"))

	result, err := h.legislation.LocalSearch(r.Context(), models.LegislationFilter{
		Page:         page,
		Limit:        limitParam(q.Get("limit")),
		Sort:         q.Get("sort"),
		DocumentType: q.Get("type"),
		Search:       q.Get("search"),
		Origin:       origin,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetLegislation returns a locally stored record.
func (h *Handler) GetLegislation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.legislation.GetLocal(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// FederatedSearch queries the external sources.
func (h *Handler) FederatedSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	origin, err := parseOriginParam(q.Get("origin"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	from, err := dateParam(q.Get("from"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	to, err := dateParam(q.Get("to"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	page, _ := strconv.Atoi(q.Get("page"))
	persist, _ := strconv.ParseBool(q.Get("persist"))

	result, err := h.legislation.FederatedSearch(r.Context(), legislation.FederatedQuery{
		Origin:  origin,
		Query:   q.Get("q"),
		From:    from,
		To:      to,
		Limit:   limitParam(q.Get("limit")),
		Organ:   q.Get("organ"),
		Page:    page,
		Persist: persist,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// SearchBOE searches one gazette day, falling back to local records.
func (h *Handler) SearchBOE(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := dateParam(q.Get("date"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	result, err := h.legislation.SearchGazette(r.Context(), q.Get("q"), date, limitParam(q.Get("limit")))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// SearchCENDOJ searches the case-law portal, falling back to local records.
func (h *Handler) SearchCENDOJ(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	result, err := h.legislation.SearchCaseLaw(r.Context(), search.CaseLawParams{
		Query: q.Get("q"),
		Organ: q.Get("organ"),
		Page:  page,
	}, limitParam(q.Get("limit")))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// FetchExternal fetches one upstream document and stores it.
func (h *Handler) FetchExternal(w http.ResponseWriter, r *http.Request) {
	origin, err := parseOriginParam(chi.URLParam(r, "origin"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	rec, err := h.legislation.FetchDocument(r.Context(), origin, chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Sync triggers a gazette bulk sync.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DaysBack *int `json:"daysBack"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	days := defaultSyncDays
	if req.DaysBack != nil {
		days = *req.DaysBack
	}

	result, err := h.legislation.BulkSync(r.Context(), days)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListFavorites lists the caller's favorites.
func (h *Handler) ListFavorites(w http.ResponseWriter, r *http.Request) {
	favs, err := h.legislation.ListFavorites(r.Context(), getUserID(r.Context()))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"favorites": favs,
	})
}

// AddFavorite favorites a stored record.
func (h *Handler) AddFavorite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LegislationID string `json:"legislationId"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	fav, created, err := h.legislation.AddFavorite(r.Context(), getUserID(r.Context()), req.LegislationID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, fav)
}

// RemoveFavorite removes a favorite.
func (h *Handler) RemoveFavorite(w http.ResponseWriter, r *http.Request) {
	if err := h.legislation.RemoveFavorite(r.Context(), getUserID(r.Context()), chi.URLParam(r, "legislationId")); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAlerts lists the caller's alerts, optionally filtered by ?active=.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	var active *bool
	if raw := r.URL.Query().Get("active"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "active must be true or false")
			return
		}
		active = &v
	}

	list, err := h.alerts.List(r.Context(), getUserID(r.Context()), active)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": list,
	})
}

// CreateAlert creates an alert.
func (h *Handler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	var in alerts.AlertInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	alert, err := h.alerts.Create(r.Context(), getUserID(r.Context()), in)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, alert)
}

// UpdateAlert updates an alert.
func (h *Handler) UpdateAlert(w http.ResponseWriter, r *http.Request) {
	var in alerts.AlertInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	alert, err := h.alerts.Update(r.Context(), getUserID(r.Context()), chi.URLParam(r, "id"), in)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// DeleteAlert soft-deletes an alert.
func (h *Handler) DeleteAlert(w http.ResponseWriter, r *http.Request) {
	if err := h.alerts.Delete(r.Context(), getUserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ToggleAlert flips an alert's active flag.
func (h *Handler) ToggleAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := h.alerts.Toggle(r.Context(), getUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// VerifyAlerts evaluates the caller's active alerts now.
func (h *Handler) VerifyAlerts(w http.ResponseWriter, r *http.Request) {
	eval, err := h.alerts.Evaluate(r.Context(), getUserID(r.Context()))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eval)
}

// CacheStats reports the response caches per source.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]cache.Stats, len(h.caches))
	for _, name := range h.cacheNames() {
		s, err := h.caches[name].Stats(r.Context())
		if err != nil {
			log.Error().Err(err).Str("source", name).Msg("Failed to read cache stats")
			writeError(w, http.StatusInternalServerError, "Failed to read cache stats")
			return
		}
		stats[name] = s
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"caches": stats,
	})
}

// ClearCaches empties every response cache.
func (h *Handler) ClearCaches(w http.ResponseWriter, r *http.Request) {
	for _, name := range h.cacheNames() {
		if err := h.caches[name].Clear(r.Context()); err != nil {
			log.Error().Err(err).Str("source", name).Msg("Failed to clear cache")
			writeError(w, http.StatusInternalServerError, "Failed to clear cache")
			return
		}
	}
	log.Info().Int("caches", len(h.caches)).Msg("Response caches cleared")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) cacheNames() []string {
	names := make([]string, 0, len(h.caches))
	for name := range h.caches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func parseOriginParam(raw string) (models.Origin, error) {
	origin, err := models.ParseOrigin(raw)
	if err != nil {
		return "", apperr.NewInvalidRequest(err.Error())
	}
	return origin, nil
}

func dateParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, apperr.NewInvalidRequest("dates must be YYYY-MM-DD: " + raw)
	}
	return t, nil
}

func limitParam(raw string) int {
	limit, _ := strconv.Atoi(raw)
	if limit <= 0 || limit > maxLimit {
		return defaultLimit
	}
	return limit
}

// decodeBody decodes a JSON body; an empty body leaves v untouched.
func decodeBody(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// Helper functions
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeAppError maps err onto its HTTP status. Internal failures are logged
// and their details withheld.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.StatusOf(err)
	code := apperr.CodeOf(err)
	message := err.Error()

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		status, code, message = http.StatusGatewayTimeout, apperr.CodeSourceUnavailable, "upstream timed out"
	case errors.Is(err, context.Canceled):
		status, message = 499, "request cancelled"
	case code == apperr.CodeInternal:
		message = "Internal server error"
	}

	if status >= http.StatusInternalServerError {
		log.Error().Err(err).
			Str("path", r.URL.Path).
			Str("request_id", getRequestID(r.Context())).
			Msg("Request failed")
	}

	w.Header().Set("Content-Type", "application/json")
	if code == apperr.CodeRateLimited {
		w.Header().Set("Retry-After", "60")
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":     strings.TrimSpace(message),
		"code":      code,
		"retryable": apperr.Retryable(err),
	})
}
