package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lexsync/lexsync/internal/apperr"
	"github.com/lexsync/lexsync/internal/cache"
	"github.com/lexsync/lexsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const resultsFixture = `<html><body>
<div class="numResultados">Se han encontrado 1.234 resultados</div>
<div class="searchresult" data-id="28079140012024100123">
  <h3 class="title"><a href="/search/detalle/28079140012024100123">Sentencia 123/2024 del Tribunal Supremo sobre despido improcedente</a></h3>
  <span class="date">05/03/2024</span>
  <p class="summary">Despido disciplinario. Madrid. Ponente: María López García</p>
</div>
<div class="searchresult">
  <a href="/search/detalle/ABC123">Auto 45/2023 Audiencia Provincial de Sevilla</a>
  <span class="fecha">5/3/23</span>
</div>
</body></html>`

const unstructuredFixture = `<html><body><ul>
<li><a href="/search/detalle/XYZ789">Sentencia sobre despido objetivo</a> Tribunal Superior de Justicia de Madrid, 12/01/2024</li>
<li><a href="/search/detalle/XYZ789">Sentencia sobre despido objetivo</a></li>
<li><a href="/search/ayuda">Ayuda</a></li>
</ul></body></html>`

const recordFixture = `<html><head><title>CENDOJ - Detalle</title></head><body>
<h1>Sentencia 123/2024, de 5 de marzo</h1>
<div id="contenido">
  <dl>
    <dt>Órgano</dt><dd>Tribunal Supremo. Sala de lo Social</dd>
    <dt>Sede</dt><dd>Madrid</dd>
    <dt>Ponente</dt><dd>María López García</dd>
    <dt>Fecha</dt><dd>05/03/2024</dd>
  </dl>
  <div id="resumen">Despido improcedente por falta de causa.</div>
</div>
</body></html>`

func newTestCaseLaw(t *testing.T, handler http.HandlerFunc, userAgent string, c cache.Cache[models.ResultSet]) (*CaseLawClient, *atomic.Int32, string) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client := NewCaseLawClient(CaseLawOptions{
		BaseURL:   srv.URL + "/search",
		UserAgent: userAgent,
		Timeout:   5 * time.Second,
		Cache:     c,
	})
	return client, &hits, srv.URL
}

func serveHTML(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}
}

func TestCaseLawSearchStructuredResults(t *testing.T) {
	var gotQuery, gotUA string
	client, _, base := newTestCaseLaw(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotUA = r.Header.Get("User-Agent")
		serveHTML(resultsFixture)(w, r)
	}, "LexSync/test", nil)

	result, err := client.Search(context.Background(), CaseLawParams{Query: "despido"})
	require.NoError(t, err)
	assert.Equal(t, "despido", gotQuery)
	assert.Equal(t, "LexSync/test", gotUA)
	assert.Equal(t, 1234, result.Total)
	require.Len(t, result.Records, 2)

	first := result.Records[0]
	assert.Equal(t, "CENDOJ-28079140012024100123", first.ID)
	assert.Equal(t, "Sentencia", first.DocumentType)
	assert.Equal(t, "2024-03-05", first.PublicationDate)
	assert.Equal(t, models.OriginCaseLaw, first.SourceOrigin)
	assert.Equal(t, base+"/search/detalle/28079140012024100123", first.SourceURL)
	assert.Equal(t, "Despido disciplinario. Madrid. Ponente: María López García", first.Content)
	assert.Equal(t, "Tribunal Supremo", first.Metadata.Organ)
	assert.Equal(t, "Madrid", first.Metadata.Venue)
	assert.Equal(t, "123/2024", first.Metadata.ResolutionNumber)
	assert.Equal(t, "María López García", first.Metadata.Rapporteur)
	assert.Contains(t, first.Metadata.Keywords, "despido")

	second := result.Records[1]
	assert.Equal(t, "CENDOJ-ABC123", second.ID)
	assert.Equal(t, "Auto", second.DocumentType)
	assert.Equal(t, "2023-03-05", second.PublicationDate)
	assert.Equal(t, "Audiencia Provincial", second.Metadata.Organ)
	assert.Equal(t, "Sevilla", second.Metadata.Venue)
}

func TestCaseLawSearchFallbackExtraction(t *testing.T) {
	client, _, _ := newTestCaseLaw(t, serveHTML(unstructuredFixture), "LexSync/test", nil)

	result, err := client.Search(context.Background(), CaseLawParams{Query: "despido"})
	require.NoError(t, err)
	assert.Zero(t, result.Total)
	require.Len(t, result.Records, 1)

	rec := result.Records[0]
	assert.Equal(t, "CENDOJ-XYZ789", rec.ID)
	assert.Equal(t, "Sentencia sobre despido objetivo", rec.Title)
	assert.Equal(t, "2024-01-12", rec.PublicationDate)
	assert.Equal(t, "Tribunal Superior de Justicia", rec.Metadata.Organ)
	assert.Equal(t, "Madrid", rec.Metadata.Venue)
}

func TestCaseLawSearchNoResults(t *testing.T) {
	client, _, _ := newTestCaseLaw(t, serveHTML("<html><body><p>Sin resultados</p></body></html>"), "LexSync/test", nil)

	result, err := client.Search(context.Background(), CaseLawParams{Query: "zzz"})
	require.NoError(t, err)
	assert.Empty(t, result.Records)
	assert.Zero(t, result.Total)
}

func TestCaseLawSearchStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   apperr.Code
	}{
		{status: http.StatusTooManyRequests, want: apperr.CodeRateLimited},
		{status: http.StatusForbidden, want: apperr.CodeBlocked},
		{status: http.StatusNotFound, want: apperr.CodeSourceUnavailable},
		{status: http.StatusInternalServerError, want: apperr.CodeSourceUnavailable},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			client, _, _ := newTestCaseLaw(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}, "LexSync/test", nil)

			_, err := client.Search(context.Background(), CaseLawParams{Query: "despido"})
			require.Error(t, err)
			assert.Equal(t, tt.want, apperr.CodeOf(err))
		})
	}
}

func TestCaseLawSearchWithoutUserAgentIsBlocked(t *testing.T) {
	client, hits, _ := newTestCaseLaw(t, serveHTML(resultsFixture), "", nil)

	_, err := client.Search(context.Background(), CaseLawParams{Query: "despido"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeBlocked))
	assert.Zero(t, hits.Load())
}

func TestCaseLawSearchUsesCache(t *testing.T) {
	client, hits, _ := newTestCaseLaw(t, serveHTML(resultsFixture), "LexSync/test",
		cache.NewMemory[models.ResultSet](cache.Options{TTL: time.Hour}))
	ctx := context.Background()

	_, err := client.Search(ctx, CaseLawParams{Query: "despido"})
	require.NoError(t, err)
	cached, err := client.Search(ctx, CaseLawParams{Query: "despido", Page: 1})
	require.NoError(t, err)
	assert.Len(t, cached.Records, 2)
	assert.Equal(t, int32(1), hits.Load())

	_, err = client.Search(ctx, CaseLawParams{Query: "despido", Page: 2})
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestCaseLawSearchRefetchesAfterTTL(t *testing.T) {
	now := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	responses := cache.NewMemory[models.ResultSet](cache.Options{
		TTL: time.Hour,
		Now: func() time.Time { return now },
	})
	client, hits, _ := newTestCaseLaw(t, serveHTML(resultsFixture), "LexSync/test", responses)
	ctx := context.Background()
	params := CaseLawParams{Query: "despido"}

	_, err := client.Search(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	_, err = client.Search(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	now = now.Add(time.Hour)
	rs, err := client.Search(ctx, params)
	require.NoError(t, err)
	assert.Len(t, rs.Records, 2)
	assert.Equal(t, int32(2), hits.Load())

	_, err = client.Search(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestCaseLawSearchPassesOrganAndPage(t *testing.T) {
	var path, organ, page string
	client, _, _ := newTestCaseLaw(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		organ = r.URL.Query().Get("organismo")
		page = r.URL.Query().Get("page")
		serveHTML(resultsFixture)(w, r)
	}, "LexSync/test", nil)

	_, err := client.Search(context.Background(), CaseLawParams{Query: "despido", Organ: "Tribunal Supremo", Page: 3})
	require.NoError(t, err)
	assert.Equal(t, "/search", path)
	assert.Equal(t, "Tribunal Supremo", organ)
	assert.Equal(t, "3", page)
}

func TestCaseLawURLsShareBase(t *testing.T) {
	client := NewCaseLawClient(CaseLawOptions{BaseURL: "https://portal.example/search", UserAgent: "LexSync/test"})

	assert.Equal(t, "https://portal.example/search?page=1&q=despido", client.SearchURL(CaseLawParams{Query: "despido"}))
	assert.Equal(t, "https://portal.example/search?organismo=Tribunal+Supremo&page=2&q=despido",
		client.SearchURL(CaseLawParams{Query: " despido ", Organ: "Tribunal Supremo", Page: 2}))
	assert.Equal(t, "https://portal.example/search/detalle/123", client.RecordURL("123"))
}

func TestCaseLawGetRecord(t *testing.T) {
	var path string
	client, hits, base := newTestCaseLaw(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		serveHTML(recordFixture)(w, r)
	}, "LexSync/test", cache.NewMemory[models.ResultSet](cache.Options{TTL: time.Hour}))

	rec, err := client.GetRecord(context.Background(), "CENDOJ-28079140012024100123")
	require.NoError(t, err)
	assert.Equal(t, "/search/detalle/28079140012024100123", path)
	assert.Equal(t, "CENDOJ-28079140012024100123", rec.ID)
	assert.Equal(t, "Sentencia 123/2024, de 5 de marzo", rec.Title)
	assert.Equal(t, "Sentencia", rec.DocumentType)
	assert.Equal(t, "2024-03-05", rec.PublicationDate)
	assert.Equal(t, "Despido improcedente por falta de causa.", rec.Content)
	assert.Equal(t, base+"/search/detalle/28079140012024100123", rec.SourceURL)
	assert.Equal(t, "Tribunal Supremo", rec.Metadata.Organ)
	assert.Equal(t, "Madrid", rec.Metadata.Venue)
	assert.Equal(t, "María López García", rec.Metadata.Rapporteur)
	assert.Equal(t, "123/2024", rec.Metadata.ResolutionNumber)

	again, err := client.GetRecord(context.Background(), "28079140012024100123")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, again.ID)
	assert.Equal(t, int32(1), hits.Load())
}

func TestCaseLawGetRecordNotFound(t *testing.T) {
	client, _, _ := newTestCaseLaw(t, http.NotFound, "LexSync/test", nil)

	_, err := client.GetRecord(context.Background(), "CENDOJ-missing")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}
