package search

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lexsync/lexsync/internal/apperr"
	"github.com/lexsync/lexsync/internal/cache"
	"github.com/lexsync/lexsync/internal/metrics"
	"github.com/lexsync/lexsync/internal/models"
	"github.com/lexsync/lexsync/internal/ratelimit"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html/charset"
)

// DefaultMaxRangeDays bounds SearchByDateRange.
const DefaultMaxRangeDays = 30

// GazetteOptions configure a GazetteClient.
type GazetteOptions struct {
	BaseURL      string
	UserAgent    string
	Timeout      time.Duration
	Limiter      *ratelimit.Limiter
	Cache        cache.Cache[models.ResultSet] // optional; caches parsed sumarios per date
	Metrics      *metrics.Metrics
	MaxRangeDays int
}

// GazetteClient reads the daily BOE sumario and individual documents.
type GazetteClient struct {
	fetcher
	baseURL      string
	cache        cache.Cache[models.ResultSet]
	maxRangeDays int

	now func() time.Time
}

// NewGazetteClient creates a new gazette client.
func NewGazetteClient(opts GazetteOptions) *GazetteClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	maxDays := opts.MaxRangeDays
	if maxDays <= 0 {
		maxDays = DefaultMaxRangeDays
	}
	return &GazetteClient{
		fetcher: fetcher{
			source:     SourceBOE,
			httpClient: &http.Client{Timeout: timeout},
			userAgent:  opts.UserAgent,
			accept:     "application/xml, text/xml",
			limiter:    opts.Limiter,
			metrics:    opts.Metrics,
		},
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		cache:        opts.Cache,
		maxRangeDays: maxDays,
		now:          time.Now,
	}
}

// Name returns the source name.
func (c *GazetteClient) Name() string {
	return SourceBOE
}

// SumarioURL returns the per-date sumario endpoint.
func (c *GazetteClient) SumarioURL(date time.Time) string {
	return fmt.Sprintf("%s/sumario/%s/sumario.xml", c.baseURL, date.Format("20060102"))
}

// DocumentURL returns the per-document endpoint.
func (c *GazetteClient) DocumentURL(id string) string {
	return fmt.Sprintf("%s/%s.xml", c.baseURL, url.PathEscape(id))
}

// Search returns the dispositions published on date (today if zero) whose
// title or excerpt contains query. limit <= 0 means no truncation.
// A date without a sumario yields an empty result.
func (c *GazetteClient) Search(ctx context.Context, query string, date time.Time, limit int) ([]models.LegislationRecord, error) {
	if date.IsZero() {
		date = c.now()
	}

	all, err := c.sumario(ctx, date)
	if err != nil {
		return nil, err
	}

	var out []models.LegislationRecord
	for _, r := range all {
		if !r.Matches(query) {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}

	log.Debug().
		Str("date", date.Format(time.DateOnly)).
		Str("query", query).
		Int("total", len(all)).
		Int("matched", len(out)).
		Msg("Gazette: Search completed")
	return out, nil
}

// SearchByDateRange runs Search for every day in [from, to]. Ranges longer
// than the configured maximum (or inverted) fail with INVALID_RANGE before
// any fetch. It stops issuing fetches once ctx is cancelled or a day fails,
// returning what was gathered so far alongside the error.
func (c *GazetteClient) SearchByDateRange(ctx context.Context, from, to time.Time, query string) ([]models.LegislationRecord, error) {
	from, to = dateOnly(from), dateOnly(to)
	days := DaysBetween(from, to)
	if days < 0 || days > c.maxRangeDays {
		return nil, apperr.NewInvalidRange(from, to, c.maxRangeDays)
	}

	var out []models.LegislationRecord
	for i := 0; i <= days; i++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		day := from.AddDate(0, 0, i)
		records, err := c.Search(ctx, query, day, 0)
		if err != nil {
			return out, fmt.Errorf("gazette %s: %w", day.Format(time.DateOnly), err)
		}
		out = append(out, records...)
	}
	return out, nil
}

// GetDocument fetches one disposition with its full text.
func (c *GazetteClient) GetDocument(ctx context.Context, id string) (*models.LegislationRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperr.NewInvalidRequest("document id is required")
	}

	docURL := c.DocumentURL(id)
	resp, err := c.get(ctx, docURL)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.status == http.StatusNotFound:
		c.metrics.ObserveUpstream(c.source, string(apperr.CodeNotFound))
		return nil, apperr.NewNotFound("gazette document", id)
	case resp.status != http.StatusOK:
		c.metrics.ObserveUpstream(c.source, string(apperr.CodeSourceUnavailable))
		return nil, apperr.NewSourceUnavailable(c.source, fmt.Errorf("status %d", resp.status))
	}

	record, err := parseGazetteDocument(resp.body, id, docURL)
	if err != nil {
		c.metrics.ObserveUpstream(c.source, string(apperr.CodeSourceUnavailable))
		return nil, apperr.NewSourceUnavailable(c.source, err)
	}
	c.metrics.ObserveUpstream(c.source, "ok")
	return record, nil
}

// sumario returns every entry of the day's sumario, from cache when fresh.
func (c *GazetteClient) sumario(ctx context.Context, date time.Time) ([]models.LegislationRecord, error) {
	key := "sumario:" + date.Format("20060102")
	if c.cache != nil {
		if cached, ok := c.cache.Get(ctx, key); ok {
			c.metrics.ObserveCache(c.source, true)
			return cached.Records, nil
		}
		c.metrics.ObserveCache(c.source, false)
	}

	resp, err := c.get(ctx, c.SumarioURL(date))
	if err != nil {
		return nil, err
	}
	switch {
	case resp.status == http.StatusNotFound:
		// No publication that day.
		c.metrics.ObserveUpstream(c.source, "empty")
		return nil, nil
	case resp.status != http.StatusOK:
		c.metrics.ObserveUpstream(c.source, string(apperr.CodeSourceUnavailable))
		return nil, apperr.NewSourceUnavailable(c.source, fmt.Errorf("sumario %s: status %d", key, resp.status))
	}

	records, err := parseSumario(bytes.NewReader(resp.body), date, c.baseURL)
	if err != nil {
		c.metrics.ObserveUpstream(c.source, string(apperr.CodeSourceUnavailable))
		return nil, apperr.NewSourceUnavailable(c.source, err)
	}
	c.metrics.ObserveUpstream(c.source, "ok")

	if c.cache != nil {
		c.cache.Put(ctx, key, models.ResultSet{Records: records, Total: len(records)})
	}
	return records, nil
}

// sumarioItem covers both the legacy attribute-style and the open-data
// element-style sumario entries.
type sumarioItem struct {
	IDAttr        string `xml:"id,attr"`
	Identificador string `xml:"identificador"`
	Titulo        string `xml:"titulo"`
	URLPdf        string `xml:"urlPdf"`
	URLPdfAlt     string `xml:"url_pdf"`
	URLHtm        string `xml:"urlHtm"`
	URLHtmlAlt    string `xml:"url_html"`
	URLXml        string `xml:"urlXml"`
	URLXmlAlt     string `xml:"url_xml"`
}

// parseSumario streams the document and collects every <item>, tracking the
// enclosing section and department. requested is used when the sumario does
// not state its own date.
func parseSumario(r io.Reader, requested time.Time, baseURL string) ([]models.LegislationRecord, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel

	var (
		section, department string
		published           string
		records             []models.LegislationRecord
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing sumario: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch se.Name.Local {
		case "seccion":
			section = xmlAttr(se, "nombre")
		case "departamento":
			department = xmlAttr(se, "nombre")
		case "fecha", "fecha_publicacion":
			var raw string
			if err := dec.DecodeElement(&raw, &se); err != nil {
				return nil, fmt.Errorf("parsing sumario date: %w", err)
			}
			if published == "" {
				published = parseGazetteDate(raw)
			}
		case "item":
			var item sumarioItem
			if err := dec.DecodeElement(&item, &se); err != nil {
				return nil, fmt.Errorf("parsing sumario item: %w", err)
			}
			rec, ok := item.record(baseURL)
			if !ok {
				continue
			}
			rec.Metadata.Section = section
			rec.Metadata.Department = department
			records = append(records, rec)
		}
	}

	if published == "" {
		published = requested.Format(time.DateOnly)
	}
	for i := range records {
		records[i].PublicationDate = published
	}
	return records, nil
}

func (it sumarioItem) record(baseURL string) (models.LegislationRecord, bool) {
	id := strings.TrimSpace(firstNonEmpty(it.IDAttr, it.Identificador))
	title := strings.Join(strings.Fields(it.Titulo), " ")
	if id == "" || title == "" {
		return models.LegislationRecord{}, false
	}

	docURL := firstNonEmpty(it.URLHtm, it.URLHtmlAlt, it.URLXml, it.URLXmlAlt)
	rec := models.LegislationRecord{
		ID:           id,
		Title:        title,
		DocumentType: gazetteDocumentType(id, title),
		SourceOrigin: models.OriginGazette,
		SourceURL:    resolveURL(baseURL, docURL),
		Metadata: models.RecordMetadata{
			PDFURL: resolveURL(baseURL, firstNonEmpty(it.URLPdf, it.URLPdfAlt)),
		},
	}
	if rec.SourceURL == "" {
		rec.SourceURL = fmt.Sprintf("%s/%s.xml", baseURL, url.PathEscape(id))
	}
	return rec, true
}

type gazetteDocument struct {
	Metadatos struct {
		Identificador    string `xml:"identificador"`
		Titulo           string `xml:"titulo"`
		Departamento     string `xml:"departamento"`
		Seccion          string `xml:"seccion"`
		Rango            string `xml:"rango"`
		FechaPublicacion string `xml:"fecha_publicacion"`
		URLPdf           string `xml:"url_pdf"`
	} `xml:"metadatos"`
	Texto struct {
		Inner string `xml:",innerxml"`
	} `xml:"texto"`
}

func parseGazetteDocument(body []byte, id, docURL string) (*models.LegislationRecord, error) {
	var doc gazetteDocument
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.CharsetReader = charset.NewReaderLabel
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing document %s: %w", id, err)
	}

	meta := doc.Metadatos
	if meta.Identificador != "" {
		id = strings.TrimSpace(meta.Identificador)
	}
	title := strings.Join(strings.Fields(meta.Titulo), " ")
	if title == "" {
		return nil, fmt.Errorf("document %s has no title", id)
	}

	published := parseGazetteDate(meta.FechaPublicacion)
	if published == "" {
		// Fall back to the year embedded in the identifier.
		if year, ok := YearFromID(id); ok {
			published = fmt.Sprintf("%04d-01-01", year)
		}
	}

	docType := strings.TrimSpace(meta.Rango)
	if docType == "" {
		docType = gazetteDocumentType(id, title)
	}

	return &models.LegislationRecord{
		ID:              id,
		Title:           title,
		DocumentType:    docType,
		PublicationDate: published,
		SourceOrigin:    models.OriginGazette,
		SourceURL:       docURL,
		Content:         fragmentText(doc.Texto.Inner),
		Metadata: models.RecordMetadata{
			Department: strings.TrimSpace(meta.Departamento),
			Section:    strings.TrimSpace(meta.Seccion),
			PDFURL:     strings.TrimSpace(meta.URLPdf),
		},
	}, nil
}

// YearFromID extracts YEAR from identifiers shaped PREFIX-TYPE-YEAR-SEQ.
func YearFromID(id string) (int, bool) {
	parts := strings.Split(id, "-")
	if len(parts) != 4 {
		return 0, false
	}
	year, err := strconv.Atoi(parts[2])
	if err != nil || year < 1800 || year > 9999 {
		return 0, false
	}
	return year, true
}

// gazetteRanks are matched against the start of a disposition title.
var gazetteRanks = []string{
	"Real Decreto-ley", "Real Decreto Legislativo", "Real Decreto", "Ley Orgánica", "Ley",
	"Decreto", "Orden", "Resolución", "Instrucción", "Circular", "Acuerdo", "Anuncio",
	"Corrección de errores", "Sentencia", "Auto", "Reglamento", "Convenio",
}

func gazetteDocumentType(id, title string) string {
	lower := strings.ToLower(title)
	for _, rank := range gazetteRanks {
		if strings.HasPrefix(lower, strings.ToLower(rank)) {
			return rank
		}
	}
	if parts := strings.Split(id, "-"); len(parts) == 4 && parts[1] == "B" {
		return "Anuncio"
	}
	return "Disposición"
}

// parseGazetteDate accepts DD/MM/YYYY and YYYYMMDD.
func parseGazetteDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) == 8 {
		if t, err := time.Parse("20060102", raw); err == nil {
			return t.Format(time.DateOnly)
		}
	}
	return NormalizeDate(raw)
}

func xmlAttr(se xml.StartElement, name string) string {
	for _, a := range se.Attr {
		if a.Name.Local == name {
			return strings.TrimSpace(a.Value)
		}
	}
	return ""
}

func resolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil || u.IsAbs() {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	return b.ResolveReference(u).String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of calendar days from from to to.
func DaysBetween(from, to time.Time) int {
	return int(dateOnly(to).Sub(dateOnly(from)).Hours() / 24)
}
