package legislation

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lexsync/lexsync/internal/apperr"
	"github.com/lexsync/lexsync/internal/database"
	"github.com/lexsync/lexsync/internal/models"
	"github.com/lexsync/lexsync/internal/search"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type fakeGazette struct {
	mu          sync.Mutex
	records     []models.LegislationRecord
	err         error
	searchCalls int
	rangeCalls  int
	from, to    time.Time
	document    *models.LegislationRecord
}

func (f *fakeGazette) Search(_ context.Context, query string, _ time.Time, limit int) ([]models.LegislationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	if f.err != nil {
		return nil, f.err
	}
	var out []models.LegislationRecord
	for _, r := range f.records {
		if r.Matches(query) {
			out = append(out, r)
		}
	}
	return limitRecords(out, limit), nil
}

func (f *fakeGazette) SearchByDateRange(_ context.Context, from, to time.Time, _ string) ([]models.LegislationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rangeCalls++
	f.from, f.to = from, to
	return f.records, f.err
}

func (f *fakeGazette) GetDocument(_ context.Context, id string) (*models.LegislationRecord, error) {
	if f.document == nil || f.document.ID != id {
		return nil, apperr.NewNotFound("gazette document", id)
	}
	return f.document, nil
}

type fakeCaseLaw struct {
	mu     sync.Mutex
	result *models.ResultSet
	err    error
	calls  int
	params search.CaseLawParams
	record *models.LegislationRecord
}

func (f *fakeCaseLaw) Search(_ context.Context, params search.CaseLawParams) (*models.ResultSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeCaseLaw) GetRecord(_ context.Context, id string) (*models.LegislationRecord, error) {
	if f.record == nil || f.record.ID != id {
		return nil, apperr.NewNotFound("case-law record", id)
	}
	return f.record, nil
}

func gazetteRecords(n int) []models.LegislationRecord {
	ids := []string{"BOE-A-2024-1001", "BOE-A-2024-1002", "BOE-A-2024-1003", "BOE-A-2024-1004"}
	out := make([]models.LegislationRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.LegislationRecord{
			ID:              ids[i],
			Title:           "Resolución sobre despido " + ids[i],
			DocumentType:    "Resolución",
			PublicationDate: "2024-03-05",
			SourceOrigin:    models.OriginGazette,
			SourceURL:       "https://www.boe.es/diario_boe/txt.php?id=" + ids[i],
		})
	}
	return out
}

func caseLawResult() *models.ResultSet {
	return &models.ResultSet{
		Records: []models.LegislationRecord{
			{ID: "CENDOJ-1", Title: "Sentencia despido improcedente", DocumentType: "Sentencia", SourceOrigin: models.OriginCaseLaw, SourceURL: "https://cendoj/detalle/1"},
			{ID: "CENDOJ-2", Title: "Auto despido", DocumentType: "Auto", SourceOrigin: models.OriginCaseLaw, SourceURL: "https://cendoj/detalle/2"},
		},
		Total: 87,
	}
}

type ServiceSuite struct {
	suite.Suite
	ctx     context.Context
	gazette *fakeGazette
	caseLaw *fakeCaseLaw
	store   *database.SQLiteStore
	svc     *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.gazette = &fakeGazette{records: gazetteRecords(3)}
	s.caseLaw = &fakeCaseLaw{result: caseLawResult()}

	store, err := database.NewSQLiteStore(filepath.Join(s.T().TempDir(), "lexsync.db"))
	s.Require().NoError(err)
	s.T().Cleanup(func() { store.Close() })
	s.store = store

	s.svc = NewService(s.gazette, s.caseLaw, store, Options{MaxRangeDays: 30})
	s.svc.now = func() time.Time { return time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC) }
}

func (s *ServiceSuite) TestFederatedSearchPartialSuccess() {
	s.caseLaw.err = apperr.NewBlocked(search.SourceCENDOJ, errors.New("status 403"))

	res, err := s.svc.FederatedSearch(s.ctx, FederatedQuery{Origin: models.OriginAll, Query: "despido"})
	s.Require().NoError(err)

	s.Require().NotNil(res.Gazette)
	s.Len(res.Gazette.Records, 3)
	s.Empty(res.Gazette.Error)

	s.Require().NotNil(res.CaseLaw)
	s.Equal("BLOCKED", res.CaseLaw.Error)
	s.Empty(res.CaseLaw.Records)
	s.Require().Len(res.Warnings, 1)
	s.Equal(search.SourceCENDOJ, res.Warnings[0].Source)
}

func (s *ServiceSuite) TestFederatedSearchBothSourcesSucceed() {
	res, err := s.svc.FederatedSearch(s.ctx, FederatedQuery{Query: "despido", Organ: "Tribunal Supremo", Page: 2})
	s.Require().NoError(err)

	s.Len(res.Gazette.Records, 3)
	s.Len(res.CaseLaw.Records, 2)
	s.Equal(87, res.CaseLaw.Total)
	s.Empty(res.Warnings)
	s.Equal(search.CaseLawParams{Query: "despido", Organ: "Tribunal Supremo", Page: 2}, s.caseLaw.params)
	s.Zero(res.Persisted)

	page, err := s.store.ListLegislation(s.ctx, models.LegislationFilter{})
	s.Require().NoError(err)
	s.Zero(page.Pagination.Total)
}

func (s *ServiceSuite) TestFederatedSearchFailsWhenAllSourcesFail() {
	s.gazette.err = apperr.NewSourceUnavailable(search.SourceBOE, errors.New("timeout"))
	s.caseLaw.err = apperr.NewRateLimited(search.SourceCENDOJ, errors.New("status 429"))

	_, err := s.svc.FederatedSearch(s.ctx, FederatedQuery{Query: "despido"})
	s.Require().Error(err)
	s.True(apperr.Is(err, apperr.CodeSourceUnavailable))
}

func (s *ServiceSuite) TestFederatedSearchSingleOriginKeepsErrorCode() {
	s.caseLaw.err = apperr.NewRateLimited(search.SourceCENDOJ, errors.New("status 429"))

	_, err := s.svc.FederatedSearch(s.ctx, FederatedQuery{Origin: models.OriginCaseLaw, Query: "despido"})
	s.Require().Error(err)
	s.True(apperr.Is(err, apperr.CodeRateLimited))
	s.Zero(s.gazette.searchCalls)
}

func (s *ServiceSuite) TestFederatedSearchOnlyQueriesRequestedOrigin() {
	res, err := s.svc.FederatedSearch(s.ctx, FederatedQuery{Origin: models.OriginGazette, Query: "despido"})
	s.Require().NoError(err)
	s.NotNil(res.Gazette)
	s.Nil(res.CaseLaw)
	s.Zero(s.caseLaw.calls)
}

func (s *ServiceSuite) TestFederatedSearchDateRange() {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	res, err := s.svc.FederatedSearch(s.ctx, FederatedQuery{Origin: models.OriginGazette, From: from, To: to, Limit: 2})
	s.Require().NoError(err)
	s.Equal(1, s.gazette.rangeCalls)
	s.Zero(s.gazette.searchCalls)
	s.Equal(from, s.gazette.from)
	s.Equal(to, s.gazette.to)
	s.Len(res.Gazette.Records, 2)
}

func (s *ServiceSuite) TestFederatedSearchRejectsLongRange() {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.svc.FederatedSearch(s.ctx, FederatedQuery{From: from, To: to, Query: "despido"})
	s.Require().Error(err)
	s.True(apperr.Is(err, apperr.CodeInvalidRange))
	s.Zero(s.gazette.rangeCalls)
	s.Zero(s.caseLaw.calls)
}

func (s *ServiceSuite) TestFederatedSearchPersists() {
	res, err := s.svc.FederatedSearch(s.ctx, FederatedQuery{Query: "despido", Persist: true})
	s.Require().NoError(err)
	s.Equal(5, res.Persisted)

	page, err := s.store.ListLegislation(s.ctx, models.LegislationFilter{Origin: models.OriginCaseLaw})
	s.Require().NoError(err)
	s.Equal(2, page.Pagination.Total)

	// A second identical sync leaves a single row per id.
	_, err = s.svc.FederatedSearch(s.ctx, FederatedQuery{Query: "despido", Persist: true})
	s.Require().NoError(err)
	all, err := s.store.ListLegislation(s.ctx, models.LegislationFilter{})
	s.Require().NoError(err)
	s.Equal(5, all.Pagination.Total)
}

func (s *ServiceSuite) TestLocalSearchMakesNoUpstreamCalls() {
	_, err := s.store.UpsertLegislation(s.ctx, gazetteRecords(2))
	s.Require().NoError(err)

	page, err := s.svc.LocalSearch(s.ctx, models.LegislationFilter{Search: "1002"})
	s.Require().NoError(err)
	s.Require().Len(page.Items, 1)
	s.Equal("BOE-A-2024-1002", page.Items[0].ID)
	s.Zero(s.gazette.searchCalls)
	s.Zero(s.caseLaw.calls)
}

func (s *ServiceSuite) TestGetLocalNotFound() {
	_, err := s.svc.GetLocal(s.ctx, "BOE-A-2024-9999")
	s.True(apperr.Is(err, apperr.CodeNotFound))
}

func (s *ServiceSuite) TestSearchGazetteFallsBackToLocal() {
	_, err := s.store.UpsertLegislation(s.ctx, gazetteRecords(2))
	s.Require().NoError(err)
	s.gazette.err = apperr.NewSourceUnavailable(search.SourceBOE, errors.New("timeout"))

	res, err := s.svc.SearchGazette(s.ctx, "despido", time.Time{}, 10)
	s.Require().NoError(err)
	s.True(res.Fallback)
	s.Equal("SOURCE_UNAVAILABLE", res.Error)
	s.Len(res.Records, 2)
}

func (s *ServiceSuite) TestSearchCaseLawFallsBackToLocal() {
	_, err := s.store.UpsertLegislation(s.ctx, caseLawResult().Records)
	s.Require().NoError(err)
	s.caseLaw.err = apperr.NewBlocked(search.SourceCENDOJ, errors.New("status 403"))

	res, err := s.svc.SearchCaseLaw(s.ctx, search.CaseLawParams{Query: "improcedente"}, 10)
	s.Require().NoError(err)
	s.True(res.Fallback)
	s.Equal("BLOCKED", res.Error)
	s.Require().Len(res.Records, 1)
	s.Equal("CENDOJ-1", res.Records[0].ID)
}

func (s *ServiceSuite) TestSearchCaseLawUpstream() {
	res, err := s.svc.SearchCaseLaw(s.ctx, search.CaseLawParams{Query: "despido"}, 1)
	s.Require().NoError(err)
	s.False(res.Fallback)
	s.Len(res.Records, 1)
	s.Equal(87, res.Total)
}

func (s *ServiceSuite) TestFetchDocumentUpserts() {
	s.caseLaw.record = &caseLawResult().Records[0]

	rec, err := s.svc.FetchDocument(s.ctx, models.OriginAll, "CENDOJ-1")
	s.Require().NoError(err)
	s.Equal("CENDOJ-1", rec.ID)
	s.False(rec.CreatedAt.IsZero())

	stored, err := s.store.GetLegislation(s.ctx, "CENDOJ-1")
	s.Require().NoError(err)
	s.NotNil(stored)
}

type failingUpsertStore struct {
	Store
	err error
}

func (f failingUpsertStore) UpsertLegislation(context.Context, []models.LegislationRecord) (int, error) {
	return 0, f.err
}

func (s *ServiceSuite) TestFetchDocumentReportsStoreFailure() {
	s.caseLaw.record = &caseLawResult().Records[0]
	svc := NewService(s.gazette, s.caseLaw, failingUpsertStore{Store: s.store, err: errors.New("disk I/O error")}, Options{})

	rec, err := svc.FetchDocument(s.ctx, models.OriginCaseLaw, "CENDOJ-1")
	s.Nil(rec)
	s.True(apperr.Is(err, apperr.CodeInternal))
	s.ErrorContains(err, "CENDOJ-1")

	stored, err := s.store.GetLegislation(s.ctx, "CENDOJ-1")
	s.Require().NoError(err)
	s.Nil(stored)
}

func (s *ServiceSuite) TestFetchDocumentNotFound() {
	_, err := s.svc.FetchDocument(s.ctx, models.OriginGazette, "BOE-A-2024-9999")
	s.True(apperr.Is(err, apperr.CodeNotFound))
}

func (s *ServiceSuite) TestBulkSync() {
	res, err := s.svc.BulkSync(s.ctx, 7)
	s.Require().NoError(err)
	s.Equal(3, res.GazetteCount)
	s.Zero(res.CaseLawCount)
	s.Empty(res.Errors)
	s.Equal("2024-03-03", res.From)
	s.Equal("2024-03-10", res.To)
	s.Equal(7, search.DaysBetween(s.gazette.from, s.gazette.to))
	s.Zero(s.caseLaw.calls)
}

func (s *ServiceSuite) TestBulkSyncKeepsPartialResults() {
	s.gazette.err = apperr.NewSourceUnavailable(search.SourceBOE, errors.New("status 502"))

	res, err := s.svc.BulkSync(s.ctx, 3)
	s.Require().NoError(err)
	s.Equal(3, res.GazetteCount)
	s.Len(res.Errors, 1)

	page, err := s.store.ListLegislation(s.ctx, models.LegislationFilter{})
	s.Require().NoError(err)
	s.Equal(3, page.Pagination.Total)
}

func (s *ServiceSuite) TestBulkSyncRejectsBadWindows() {
	_, err := s.svc.BulkSync(s.ctx, 31)
	s.True(apperr.Is(err, apperr.CodeInvalidRange))

	_, err = s.svc.BulkSync(s.ctx, -1)
	s.True(apperr.Is(err, apperr.CodeInvalidRequest))
	s.Zero(s.gazette.rangeCalls)
}

func (s *ServiceSuite) TestFavorites() {
	_, err := s.store.UpsertLegislation(s.ctx, gazetteRecords(1))
	s.Require().NoError(err)

	_, _, err = s.svc.AddFavorite(s.ctx, "user-1", "BOE-A-2024-9999")
	s.True(apperr.Is(err, apperr.CodeNotFound))

	fav, created, err := s.svc.AddFavorite(s.ctx, "user-1", "BOE-A-2024-1001")
	s.Require().NoError(err)
	s.True(created)
	s.Require().NotNil(fav.Legislation)

	dup, created, err := s.svc.AddFavorite(s.ctx, "user-1", "BOE-A-2024-1001")
	s.Require().NoError(err)
	s.False(created)
	s.Equal(fav.ID, dup.ID)

	favs, err := s.svc.ListFavorites(s.ctx, "user-1")
	s.Require().NoError(err)
	s.Len(favs, 1)

	s.Require().NoError(s.svc.RemoveFavorite(s.ctx, "user-1", "BOE-A-2024-1001"))
	err = s.svc.RemoveFavorite(s.ctx, "user-1", "BOE-A-2024-1001")
	s.True(apperr.Is(err, apperr.CodeNotFound))
}

func TestLimitRecords(t *testing.T) {
	records := gazetteRecords(3)
	assert.Len(t, limitRecords(records, 0), 3)
	assert.Len(t, limitRecords(records, 2), 2)
	assert.Len(t, limitRecords(records, 5), 3)
	require.NotNil(t, nonNil(nil))
}
