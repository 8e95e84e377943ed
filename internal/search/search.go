// Package search provides the upstream legislation source clients: the
// government gazette (BOE) and the case-law portal (CENDOJ).
package search

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lexsync/lexsync/internal/apperr"
	"github.com/lexsync/lexsync/internal/metrics"
	"github.com/lexsync/lexsync/internal/ratelimit"
	"github.com/rs/zerolog/log"
)

// Source names, used for rate limiter groups, cache prefixes and metrics.
const (
	SourceBOE    = "boe"
	SourceCENDOJ = "cendoj"
)

// maxBodyBytes bounds what we read from an upstream response.
const maxBodyBytes = 8 << 20

// fetcher performs rate-limited GETs against one upstream.
type fetcher struct {
	source     string
	httpClient *http.Client
	userAgent  string
	accept     string
	limiter    *ratelimit.Limiter
	metrics    *metrics.Metrics
}

type response struct {
	status int
	body   []byte
}

// get waits for the limiter, then issues the request. Transport failures are
// reported as SourceUnavailable; the caller maps status codes.
func (f *fetcher) get(ctx context.Context, rawURL string) (*response, error) {
	if f.limiter != nil {
		waited, err := f.limiter.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		f.metrics.ObserveWait(f.source, waited)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, apperr.NewSourceUnavailable(f.source, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	if f.accept != "" {
		req.Header.Set("Accept", f.accept)
	}
	req.Header.Set("Accept-Language", "es-ES,es;q=0.9,en;q=0.5")

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.metrics.ObserveUpstream(f.source, string(apperr.CodeSourceUnavailable))
		return nil, apperr.NewSourceUnavailable(f.source, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		f.metrics.ObserveUpstream(f.source, string(apperr.CodeSourceUnavailable))
		return nil, apperr.NewSourceUnavailable(f.source, fmt.Errorf("reading body: %w", err))
	}

	log.Debug().
		Str("source", f.source).
		Str("url", rawURL).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Upstream fetch")

	return &response{status: resp.StatusCode, body: body}, nil
}

// derivedID builds a stable identifier for scraped entries that carry none.
func derivedID(prefix string, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%s-%x", prefix, h.Sum(nil)[:8])
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
