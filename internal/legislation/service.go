// Package legislation orchestrates the upstream source clients and the local
// store: federated search, local listing, bulk sync and favorites.
package legislation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lexsync/lexsync/internal/apperr"
	"github.com/lexsync/lexsync/internal/metrics"
	"github.com/lexsync/lexsync/internal/models"
	"github.com/lexsync/lexsync/internal/search"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// GazetteSource is the gazette client as seen by the orchestrator. It is the
// only source with date-range iteration.
type GazetteSource interface {
	Search(ctx context.Context, query string, date time.Time, limit int) ([]models.LegislationRecord, error)
	SearchByDateRange(ctx context.Context, from, to time.Time, query string) ([]models.LegislationRecord, error)
	GetDocument(ctx context.Context, id string) (*models.LegislationRecord, error)
}

// CaseLawSource is the case-law client as seen by the orchestrator. Its
// searches are query-scoped only.
type CaseLawSource interface {
	Search(ctx context.Context, params search.CaseLawParams) (*models.ResultSet, error)
	GetRecord(ctx context.Context, id string) (*models.LegislationRecord, error)
}

// Store is the subset of the local store the orchestrator needs.
type Store interface {
	UpsertLegislation(ctx context.Context, records []models.LegislationRecord) (int, error)
	GetLegislation(ctx context.Context, id string) (*models.LegislationRecord, error)
	ListLegislation(ctx context.Context, filter models.LegislationFilter) (*models.PaginatedResult, error)
	AddFavorite(ctx context.Context, userID, legislationID string) (*models.Favorite, bool, error)
	RemoveFavorite(ctx context.Context, userID, legislationID string) (bool, error)
	ListFavorites(ctx context.Context, userID string) ([]models.Favorite, error)
}

// Options configure a Service.
type Options struct {
	MaxRangeDays int
	SyncTimeout  time.Duration
	Metrics      *metrics.Metrics
}

// Service is the sync orchestrator.
type Service struct {
	gazette      GazetteSource
	caseLaw      CaseLawSource
	store        Store
	metrics      *metrics.Metrics
	maxRangeDays int
	syncTimeout  time.Duration

	now func() time.Time
}

// NewService creates a new orchestrator.
func NewService(gazette GazetteSource, caseLaw CaseLawSource, store Store, opts Options) *Service {
	maxDays := opts.MaxRangeDays
	if maxDays <= 0 {
		maxDays = search.DefaultMaxRangeDays
	}
	return &Service{
		gazette:      gazette,
		caseLaw:      caseLaw,
		store:        store,
		metrics:      opts.Metrics,
		maxRangeDays: maxDays,
		syncTimeout:  opts.SyncTimeout,
		now:          time.Now,
	}
}

// FederatedQuery is one logical query dispatched to the external sources.
// From/To only apply to the gazette; the case-law portal is query-scoped.
type FederatedQuery struct {
	Origin  models.Origin
	Query   string
	From    time.Time
	To      time.Time
	Limit   int // per source; 0 keeps everything
	Organ   string
	Page    int
	Persist bool
}

// SourceResult is the outcome of one source in a federated search. Error
// holds the failure code when the source failed.
type SourceResult struct {
	Records  []models.LegislationRecord `json:"records"`
	Total    int                        `json:"total"`
	Error    string                     `json:"error,omitempty"`
	Message  string                     `json:"message,omitempty"`
	Fallback bool                       `json:"fallback,omitempty"`
}

func failedSource(err error) *SourceResult {
	return &SourceResult{
		Records: []models.LegislationRecord{},
		Error:   string(apperr.CodeOf(err)),
		Message: err.Error(),
	}
}

// FederatedResult carries one entry per requested source.
type FederatedResult struct {
	Gazette   *SourceResult    `json:"gazette,omitempty"`
	CaseLaw   *SourceResult    `json:"caselaw,omitempty"`
	Persisted int              `json:"persisted"`
	Warnings  []models.Warning `json:"warnings,omitempty"`
}

// FederatedSearch queries the requested sources concurrently. A source
// failure is reported in its SourceResult; the call only fails when every
// requested source failed. A single-origin request keeps that source's own
// error code (RATE_LIMITED, BLOCKED, SOURCE_UNAVAILABLE); an ALL request
// where both sources failed returns SOURCE_UNAVAILABLE.
func (s *Service) FederatedSearch(ctx context.Context, q FederatedQuery) (*FederatedResult, error) {
	origin := q.Origin
	if origin == "" {
		origin = models.OriginAll
	}
	from, to, ranged := s.resolveRange(q.From, q.To)
	if ranged && origin.Includes(models.OriginGazette) {
		if days := search.DaysBetween(from, to); days < 0 || days > s.maxRangeDays {
			return nil, apperr.NewInvalidRange(from, to, s.maxRangeDays)
		}
	}

	var (
		result              FederatedResult
		gazetteErr, caseErr error
		g                   errgroup.Group
	)

	if origin.Includes(models.OriginGazette) {
		g.Go(func() error {
			var records []models.LegislationRecord
			if ranged {
				records, gazetteErr = s.gazette.SearchByDateRange(ctx, from, to, q.Query)
			} else {
				records, gazetteErr = s.gazette.Search(ctx, q.Query, time.Time{}, q.Limit)
			}
			if gazetteErr != nil {
				result.Gazette = failedSource(gazetteErr)
				return nil
			}
			records = limitRecords(records, q.Limit)
			result.Gazette = &SourceResult{Records: nonNil(records), Total: len(records)}
			return nil
		})
	}

	if origin.Includes(models.OriginCaseLaw) {
		g.Go(func() error {
			var rs *models.ResultSet
			rs, caseErr = s.caseLaw.Search(ctx, search.CaseLawParams{Query: q.Query, Organ: q.Organ, Page: q.Page})
			if caseErr != nil {
				result.CaseLaw = failedSource(caseErr)
				return nil
			}
			result.CaseLaw = &SourceResult{Records: nonNil(limitRecords(rs.Records, q.Limit)), Total: rs.Total}
			return nil
		})
	}

	_ = g.Wait()

	for _, f := range []struct {
		source string
		err    error
	}{{search.SourceBOE, gazetteErr}, {search.SourceCENDOJ, caseErr}} {
		if f.err != nil {
			log.Warn().Err(f.err).Str("source", f.source).Str("query", q.Query).Msg("Federated search: source failed")
			result.Warnings = append(result.Warnings, models.Warning{Source: f.source, Message: f.err.Error()})
		}
	}

	switch origin {
	case models.OriginGazette:
		if gazetteErr != nil {
			return nil, gazetteErr
		}
	case models.OriginCaseLaw:
		if caseErr != nil {
			return nil, caseErr
		}
	default:
		if gazetteErr != nil && caseErr != nil {
			return nil, apperr.NewSourceUnavailable("", errors.Join(gazetteErr, caseErr))
		}
	}

	if q.Persist {
		var toStore []models.LegislationRecord
		if result.Gazette != nil {
			toStore = append(toStore, result.Gazette.Records...)
		}
		if result.CaseLaw != nil {
			toStore = append(toStore, result.CaseLaw.Records...)
		}
		n, err := s.persist(ctx, toStore)
		if err != nil {
			result.Warnings = append(result.Warnings, models.Warning{Source: "store", Message: err.Error()})
		}
		result.Persisted = n
	}

	return &result, nil
}

// resolveRange fills a missing bound: From alone runs until today, To alone
// is a single day.
func (s *Service) resolveRange(from, to time.Time) (time.Time, time.Time, bool) {
	switch {
	case from.IsZero() && to.IsZero():
		return from, to, false
	case to.IsZero():
		to = s.now()
	case from.IsZero():
		from = to
	}
	return from, to, true
}

// LocalSearch lists records from the local store only.
func (s *Service) LocalSearch(ctx context.Context, filter models.LegislationFilter) (*models.PaginatedResult, error) {
	page, err := s.store.ListLegislation(ctx, filter)
	if err != nil {
		return nil, apperr.NewInternal(err)
	}
	return page, nil
}

// GetLocal returns one stored record.
func (s *Service) GetLocal(ctx context.Context, id string) (*models.LegislationRecord, error) {
	r, err := s.store.GetLegislation(ctx, id)
	if err != nil {
		return nil, apperr.NewInternal(err)
	}
	if r == nil {
		return nil, apperr.NewNotFound("legislation", id)
	}
	return r, nil
}

// SearchGazette runs a single-date gazette search, degrading to the local
// store when the upstream fails.
func (s *Service) SearchGazette(ctx context.Context, query string, date time.Time, limit int) (*SourceResult, error) {
	records, err := s.gazette.Search(ctx, query, date, limit)
	if err == nil {
		return &SourceResult{Records: nonNil(records), Total: len(records)}, nil
	}
	return s.localFallback(ctx, models.OriginGazette, query, limit, err)
}

// SearchCaseLaw runs a case-law search, degrading to the local store when the
// upstream fails.
func (s *Service) SearchCaseLaw(ctx context.Context, params search.CaseLawParams, limit int) (*SourceResult, error) {
	rs, err := s.caseLaw.Search(ctx, params)
	if err == nil {
		return &SourceResult{Records: nonNil(limitRecords(rs.Records, limit)), Total: rs.Total}, nil
	}
	return s.localFallback(ctx, models.OriginCaseLaw, params.Query, limit, err)
}

func (s *Service) localFallback(ctx context.Context, origin models.Origin, query string, limit int, cause error) (*SourceResult, error) {
	if ctx.Err() != nil {
		return nil, cause
	}
	page, err := s.store.ListLegislation(ctx, models.LegislationFilter{
		Origin: origin,
		Search: query,
		Limit:  limit,
	})
	if err != nil {
		log.Error().Err(err).Str("origin", string(origin)).Msg("Local fallback failed")
		return nil, cause
	}

	log.Warn().Err(cause).
		Str("origin", string(origin)).
		Int("results", len(page.Items)).
		Msg("Upstream failed, serving local results")
	return &SourceResult{
		Records:  page.Items,
		Total:    page.Pagination.Total,
		Error:    string(apperr.CodeOf(cause)),
		Message:  cause.Error(),
		Fallback: true,
	}, nil
}

// FetchDocument retrieves one external record by id and stores it locally.
// OriginAll picks the source from the id shape. A record that was fetched but
// could not be stored is reported as an INTERNAL error.
func (s *Service) FetchDocument(ctx context.Context, origin models.Origin, id string) (*models.LegislationRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperr.NewInvalidRequest("id is required")
	}
	if origin == models.OriginAll || origin == "" {
		origin = models.OriginGazette
		if strings.HasPrefix(id, search.CaseLawIDPrefix) {
			origin = models.OriginCaseLaw
		}
	}

	var (
		rec *models.LegislationRecord
		err error
	)
	switch origin {
	case models.OriginGazette:
		rec, err = s.gazette.GetDocument(ctx, id)
	case models.OriginCaseLaw:
		rec, err = s.caseLaw.GetRecord(ctx, id)
	default:
		return nil, apperr.NewInvalidRequest(fmt.Sprintf("unknown origin %q", origin))
	}
	if err != nil {
		return nil, err
	}

	if _, err := s.persist(ctx, []models.LegislationRecord{*rec}); err != nil {
		return nil, apperr.NewInternal(fmt.Errorf("storing %s: %w", rec.ID, err))
	}
	if stored, err := s.store.GetLegislation(ctx, rec.ID); err == nil && stored != nil {
		return stored, nil
	}
	return rec, nil
}

// SyncResult summarizes a bulk sync. CaseLawCount is always zero: the
// case-law portal has no date-range listing, so its sync is query-scoped.
type SyncResult struct {
	From         string   `json:"from"`
	To           string   `json:"to"`
	GazetteCount int      `json:"gazetteCount"`
	CaseLawCount int      `json:"caselawCount"`
	Errors       []string `json:"errors"`
}

// BulkSync pulls the gazette for [today-daysBack, today] and upserts it.
// A failure part-way keeps what was fetched before it.
func (s *Service) BulkSync(ctx context.Context, daysBack int) (*SyncResult, error) {
	if daysBack < 0 {
		return nil, apperr.NewInvalidRequest("daysBack must not be negative")
	}
	if daysBack > s.maxRangeDays {
		to := s.now()
		return nil, apperr.NewInvalidRange(to.AddDate(0, 0, -daysBack), to, s.maxRangeDays)
	}
	if s.syncTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.syncTimeout)
		defer cancel()
	}

	to := s.now()
	from := to.AddDate(0, 0, -daysBack)
	result := &SyncResult{
		From:   from.Format(time.DateOnly),
		To:     to.Format(time.DateOnly),
		Errors: []string{},
	}

	start := time.Now()
	records, err := s.gazette.SearchByDateRange(ctx, from, to, "")
	if err != nil {
		if apperr.Is(err, apperr.CodeInvalidRange) {
			return nil, err
		}
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", search.SourceBOE, err))
	}

	// Upsert with a fresh context so a timed-out sync still keeps its records.
	n, perr := s.persist(context.WithoutCancel(ctx), records)
	if perr != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("store: %v", perr))
	}
	result.GazetteCount = n

	log.Info().
		Int("days_back", daysBack).
		Int("gazette_count", result.GazetteCount).
		Int("errors", len(result.Errors)).
		Dur("duration", time.Since(start)).
		Msg("Bulk sync completed")
	return result, nil
}

// persist upserts records and counts them per origin.
func (s *Service) persist(ctx context.Context, records []models.LegislationRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	n, err := s.store.UpsertLegislation(ctx, records)
	if err != nil {
		log.Error().Err(err).Int("count", len(records)).Msg("Failed to persist legislation")
		return 0, err
	}
	perOrigin := make(map[models.Origin]int)
	for _, r := range records {
		perOrigin[r.SourceOrigin]++
	}
	for origin, count := range perOrigin {
		s.metrics.AddUpserted(string(origin), count)
	}
	return n, nil
}

// AddFavorite favorites a locally stored record. Adding an existing favorite
// returns it unchanged.
func (s *Service) AddFavorite(ctx context.Context, userID, legislationID string) (*models.Favorite, bool, error) {
	if legislationID == "" {
		return nil, false, apperr.NewInvalidRequest("legislationId is required")
	}
	rec, err := s.store.GetLegislation(ctx, legislationID)
	if err != nil {
		return nil, false, apperr.NewInternal(err)
	}
	if rec == nil {
		return nil, false, apperr.NewNotFound("legislation", legislationID)
	}

	fav, created, err := s.store.AddFavorite(ctx, userID, legislationID)
	if err != nil {
		return nil, false, apperr.NewInternal(err)
	}
	fav.Legislation = rec
	return fav, created, nil
}

// RemoveFavorite soft-deletes a favorite.
func (s *Service) RemoveFavorite(ctx context.Context, userID, legislationID string) error {
	ok, err := s.store.RemoveFavorite(ctx, userID, legislationID)
	if err != nil {
		return apperr.NewInternal(err)
	}
	if !ok {
		return apperr.NewNotFound("favorite", legislationID)
	}
	return nil
}

// ListFavorites returns the user's active favorites.
func (s *Service) ListFavorites(ctx context.Context, userID string) ([]models.Favorite, error) {
	favs, err := s.store.ListFavorites(ctx, userID)
	if err != nil {
		return nil, apperr.NewInternal(err)
	}
	return favs, nil
}

func limitRecords(records []models.LegislationRecord, limit int) []models.LegislationRecord {
	if limit > 0 && len(records) > limit {
		return records[:limit]
	}
	return records
}

func nonNil(records []models.LegislationRecord) []models.LegislationRecord {
	if records == nil {
		return []models.LegislationRecord{}
	}
	return records
}
