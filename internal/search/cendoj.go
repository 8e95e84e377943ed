package search

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lexsync/lexsync/internal/apperr"
	"github.com/lexsync/lexsync/internal/cache"
	"github.com/lexsync/lexsync/internal/metrics"
	"github.com/lexsync/lexsync/internal/models"
	"github.com/lexsync/lexsync/internal/ratelimit"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// CaseLawIDPrefix marks identifiers minted for case-law records.
const CaseLawIDPrefix = "CENDOJ-"

// CaseLawOptions configure a CaseLawClient.
type CaseLawOptions struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	Limiter   *ratelimit.Limiter
	Cache     cache.Cache[models.ResultSet] // optional
	Metrics   *metrics.Metrics
}

// CaseLawParams is one search against the case-law portal.
type CaseLawParams struct {
	Query string
	Organ string
	Page  int
}

// CaseLawClient scrapes the case-law search portal. The portal offers no
// stable API, so every parse has a generic fallback tier.
type CaseLawClient struct {
	fetcher
	baseURL string
	cache   cache.Cache[models.ResultSet]
}

// NewCaseLawClient creates a new case-law client.
func NewCaseLawClient(opts CaseLawOptions) *CaseLawClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CaseLawClient{
		fetcher: fetcher{
			source:     SourceCENDOJ,
			httpClient: &http.Client{Timeout: timeout},
			userAgent:  opts.UserAgent,
			accept:     "text/html,application/xhtml+xml",
			limiter:    opts.Limiter,
			metrics:    opts.Metrics,
		},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		cache:   opts.Cache,
	}
}

// Name returns the source name.
func (c *CaseLawClient) Name() string {
	return SourceCENDOJ
}

// SearchURL returns the portal URL for params.
func (c *CaseLawClient) SearchURL(params CaseLawParams) string {
	return c.baseURL + "?" + searchValues(params).Encode()
}

// RecordURL returns the detail page for a reference (without the id prefix).
func (c *CaseLawClient) RecordURL(ref string) string {
	return c.baseURL + "/detalle/" + url.PathEscape(ref)
}

func searchValues(params CaseLawParams) url.Values {
	v := url.Values{}
	v.Set("q", strings.TrimSpace(params.Query))
	if params.Organ != "" {
		v.Set("organismo", params.Organ)
	}
	page := params.Page
	if page < 1 {
		page = 1
	}
	v.Set("page", strconv.Itoa(page))
	return v
}

// Search scrapes one page of results. Total is the portal's reported count
// when it shows one, otherwise 0.
func (c *CaseLawClient) Search(ctx context.Context, params CaseLawParams) (*models.ResultSet, error) {
	if c.userAgent == "" {
		return nil, apperr.NewBlocked(c.source, fmt.Errorf("no user agent configured"))
	}

	key := "search:" + searchValues(params).Encode()
	if c.cache != nil {
		if cached, ok := c.cache.Get(ctx, key); ok {
			c.metrics.ObserveCache(c.source, true)
			return &cached, nil
		}
		c.metrics.ObserveCache(c.source, false)
	}

	resp, err := c.get(ctx, c.SearchURL(params))
	if err != nil {
		return nil, err
	}
	if err := c.checkStatus(resp.status, ""); err != nil {
		return nil, err
	}

	doc, err := html.Parse(bytes.NewReader(resp.body))
	if err != nil {
		c.metrics.ObserveUpstream(c.source, string(apperr.CodeSourceUnavailable))
		return nil, apperr.NewSourceUnavailable(c.source, fmt.Errorf("parsing results: %w", err))
	}
	c.metrics.ObserveUpstream(c.source, "ok")

	records := c.parseResults(doc)
	result := models.ResultSet{Records: records, Total: reportedTotal(doc)}

	log.Debug().
		Str("query", params.Query).
		Int("results", len(records)).
		Int("total", result.Total).
		Msg("CaseLaw: Search completed")

	if c.cache != nil {
		c.cache.Put(ctx, key, result)
	}
	return &result, nil
}

// GetRecord fetches the detail page for id ("CENDOJ-<ref>" or a bare ref).
func (c *CaseLawClient) GetRecord(ctx context.Context, id string) (*models.LegislationRecord, error) {
	ref := strings.TrimPrefix(strings.TrimSpace(id), CaseLawIDPrefix)
	if ref == "" {
		return nil, apperr.NewInvalidRequest("record id is required")
	}
	if c.userAgent == "" {
		return nil, apperr.NewBlocked(c.source, fmt.Errorf("no user agent configured"))
	}
	id = CaseLawIDPrefix + ref

	key := "record:" + id
	if c.cache != nil {
		if cached, ok := c.cache.Get(ctx, key); ok && len(cached.Records) == 1 {
			c.metrics.ObserveCache(c.source, true)
			rec := cached.Records[0]
			return &rec, nil
		}
		c.metrics.ObserveCache(c.source, false)
	}

	recordURL := c.RecordURL(ref)
	resp, err := c.get(ctx, recordURL)
	if err != nil {
		return nil, err
	}
	if err := c.checkStatus(resp.status, id); err != nil {
		return nil, err
	}

	doc, err := html.Parse(bytes.NewReader(resp.body))
	if err != nil {
		c.metrics.ObserveUpstream(c.source, string(apperr.CodeSourceUnavailable))
		return nil, apperr.NewSourceUnavailable(c.source, fmt.Errorf("parsing record: %w", err))
	}
	c.metrics.ObserveUpstream(c.source, "ok")

	rec := parseRecordPage(doc, id, recordURL)
	if c.cache != nil {
		c.cache.Put(ctx, key, models.ResultSet{Records: []models.LegislationRecord{rec}, Total: 1})
	}
	return &rec, nil
}

// checkStatus maps portal status codes. id is set for single-record fetches,
// where 404 means the record does not exist.
func (c *CaseLawClient) checkStatus(status int, id string) error {
	var err error
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusTooManyRequests:
		err = apperr.NewRateLimited(c.source, fmt.Errorf("status %d", status))
	case status == http.StatusForbidden:
		err = apperr.NewBlocked(c.source, fmt.Errorf("status %d", status))
	case status == http.StatusNotFound && id != "":
		err = apperr.NewNotFound("case-law record", id)
	default:
		err = apperr.NewSourceUnavailable(c.source, fmt.Errorf("status %d", status))
	}
	c.metrics.ObserveUpstream(c.source, string(apperr.CodeOf(err)))
	log.Warn().Str("source", c.source).Int("status", status).Msg("CaseLaw: upstream refused request")
	return err
}

var (
	resultContainer = byClass("searchresult", "resultado", "result-item")
	resultTitle     = anyOf(byClass("title", "titulo"), byTag(atom.H2, atom.H3, atom.H4))
	resultDate      = byClass("date", "fecha")
	resultSummary   = byClass("summary", "resumen")
	resultTotal     = anyOf(byClass("numResultados", "total", "resultsCount"), byID("numResultados"))

	blockAncestor = byTag(atom.Li, atom.Tr, atom.Div, atom.Article, atom.P, atom.Section)
	detailHrefRe  = regexp.MustCompile(`(?i)/detalle/([^/?#]+)`)
	eclIRe        = regexp.MustCompile(`(?i)ECLI:[A-Z]{2}:[A-Z0-9]+:\d{4}:[A-Z0-9.]+`)
	digitsRe      = regexp.MustCompile(`\d[\d.]*`)
)

// parseResults runs the structured extraction and falls back to a generic
// link scan when it yields nothing.
func (c *CaseLawClient) parseResults(doc *html.Node) []models.LegislationRecord {
	var records []models.LegislationRecord
	for _, n := range findAll(doc, resultContainer) {
		if rec, ok := c.structuredResult(n); ok {
			records = append(records, rec)
		}
	}
	if len(records) > 0 {
		return records
	}

	records = c.fallbackResults(doc)
	if len(records) > 0 {
		log.Debug().Int("results", len(records)).Msg("CaseLaw: used fallback extraction")
	}
	return records
}

func (c *CaseLawClient) structuredResult(n *html.Node) (models.LegislationRecord, bool) {
	link := findFirst(n, byTag(atom.A))
	titleNode := findFirst(n, resultTitle)

	title := nodeText(titleNode)
	if title == "" && link != nil {
		title = nodeText(link)
	}
	if title == "" {
		return models.LegislationRecord{}, false
	}

	href := ""
	if link != nil {
		href = attr(link, "href")
	}
	lines := nodeLines(n)
	text := strings.Join(lines, " ")

	date := NormalizeDate(nodeText(findFirst(n, resultDate)))
	if date == "" {
		date = FindDate(text)
	}
	summary := nodeText(findFirst(n, resultSummary))
	if summary == "" {
		summary = truncate(text, 500)
	}

	ref := attr(n, "data-id")
	if ref == "" {
		ref = refFromHref(href)
	}
	return c.newRecord(ref, title, href, date, summary, text, lines), true
}

func (c *CaseLawClient) fallbackResults(doc *html.Node) []models.LegislationRecord {
	seen := make(map[string]bool)
	var records []models.LegislationRecord
	for _, a := range findAll(doc, byTag(atom.A)) {
		href := attr(a, "href")
		title := nodeText(a)
		if href == "" || title == "" || !looksLikeResolution(href, title) {
			continue
		}
		abs := c.absolute(href)
		if seen[abs] {
			continue
		}
		seen[abs] = true

		block := closest(a.Parent, blockAncestor)
		if block == nil {
			block = a
		}
		lines := nodeLines(block)
		text := strings.Join(lines, " ")
		records = append(records, c.newRecord(refFromHref(href), title, href, FindDate(text), truncate(text, 500), text, lines))
	}
	return records
}

func looksLikeResolution(href, text string) bool {
	lower := strings.ToLower(href)
	if strings.Contains(lower, "detalle") || strings.Contains(lower, "ecli") {
		return true
	}
	return resolutionTypeRe.MatchString(text)
}

func (c *CaseLawClient) newRecord(ref, title, href, date, summary, text string, lines []string) models.LegislationRecord {
	abs := c.absolute(href)
	if ref == "" {
		if m := eclIRe.FindString(text); m != "" {
			ref = m
		} else {
			ref = strings.TrimPrefix(derivedID("", abs, title), "-")
		}
	}
	return models.LegislationRecord{
		ID:              CaseLawIDPrefix + ref,
		Title:           truncate(title, 500),
		DocumentType:    ResolutionType(title + " " + text),
		PublicationDate: date,
		SourceOrigin:    models.OriginCaseLaw,
		SourceURL:       abs,
		Content:         summary,
		Metadata: models.RecordMetadata{
			Organ:            IssuingBody(text),
			Venue:            Venue(text),
			ResolutionNumber: ResolutionNumber(text),
			Rapporteur:       Rapporteur(lines),
			Keywords:         SubjectKeywords(title + " " + text),
		},
	}
}

func (c *CaseLawClient) absolute(href string) string {
	if href == "" {
		return ""
	}
	return resolveURL(c.baseURL+"/", href)
}

func refFromHref(href string) string {
	if m := detailHrefRe.FindStringSubmatch(href); m != nil {
		if ref, err := url.PathUnescape(m[1]); err == nil {
			return ref
		}
		return m[1]
	}
	return ""
}

func reportedTotal(doc *html.Node) int {
	text := nodeText(findFirst(doc, resultTotal))
	m := digitsRe.FindString(text)
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m, ".", ""))
	if err != nil {
		return 0
	}
	return n
}

var (
	recordTitle   = anyOf(byTag(atom.H1), byClass("title", "titulo"))
	recordSummary = anyOf(byClass("summary", "resumen"), byID("resumen"))
	recordBody    = anyOf(byClass("content", "contenido", "texto"), byID("contenido", "texto"), byTag(atom.Main, atom.Body))
)

func parseRecordPage(doc *html.Node, id, recordURL string) models.LegislationRecord {
	body := findFirst(doc, recordBody)
	lines := nodeLines(body)
	text := strings.Join(lines, " ")

	title := nodeText(findFirst(doc, recordTitle))
	if title == "" {
		title = nodeText(findFirst(doc, byTag(atom.Title)))
	}
	if title == "" {
		title = id
	}

	content := nodeText(findFirst(doc, recordSummary))
	if content == "" {
		content = truncate(text, 1000)
	}

	return models.LegislationRecord{
		ID:              id,
		Title:           truncate(title, 500),
		DocumentType:    ResolutionType(title + " " + text),
		PublicationDate: FindDate(text),
		SourceOrigin:    models.OriginCaseLaw,
		SourceURL:       recordURL,
		Content:         content,
		Metadata: models.RecordMetadata{
			Organ:            IssuingBody(text),
			Venue:            Venue(text),
			ResolutionNumber: ResolutionNumber(text),
			Rapporteur:       Rapporteur(lines),
			Keywords:         SubjectKeywords(title + " " + text),
		},
	}
}
