// Package models defines the core data structures used throughout the application.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Origin identifies the upstream a legislation record was fetched from.
type Origin string

const (
	OriginGazette Origin = "GAZETTE"
	OriginCaseLaw Origin = "CASELAW"
	// OriginAll is only valid as a federated search target.
	OriginAll Origin = "ALL"
)

// ParseOrigin accepts the canonical names plus the source short names (boe, cendoj).
func ParseOrigin(s string) (Origin, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "GAZETTE", "BOE":
		return OriginGazette, nil
	case "CASELAW", "CENDOJ":
		return OriginCaseLaw, nil
	case "ALL", "":
		return OriginAll, nil
	}
	return "", fmt.Errorf("unknown origin: %q", s)
}

// Includes reports whether a federated target covers the given concrete origin.
func (o Origin) Includes(other Origin) bool {
	return o == OriginAll || o == other
}

// LegislationRecord is the canonical, source-independent legal document.
// ID is unique across both origins.
type LegislationRecord struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	DocumentType    string         `json:"documentType"`
	PublicationDate string         `json:"publicationDate,omitempty"` // YYYY-MM-DD
	SourceOrigin    Origin         `json:"sourceOrigin"`
	SourceURL       string         `json:"sourceUrl"`
	Content         string         `json:"content,omitempty"`
	Metadata        RecordMetadata `json:"metadata"`
	CreatedAt       time.Time      `json:"createdAt,omitempty"`
	UpdatedAt       time.Time      `json:"updatedAt,omitempty"`
}

// RecordMetadata holds the origin-specific attributes extracted during parsing.
type RecordMetadata struct {
	Department       string   `json:"department,omitempty"`
	Section          string   `json:"section,omitempty"`
	PDFURL           string   `json:"pdfUrl,omitempty"`
	Organ            string   `json:"organ,omitempty"`
	Venue            string   `json:"venue,omitempty"`
	ResolutionNumber string   `json:"resolutionNumber,omitempty"`
	Rapporteur       string   `json:"rapporteur,omitempty"`
	Keywords         []string `json:"keywords,omitempty"`
}

// Matches reports whether the record's title or content contains query,
// case-insensitively. An empty query matches everything.
func (r LegislationRecord) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(r.Title), q) ||
		strings.Contains(strings.ToLower(r.Content), q)
}

// ResultSet is a page of records plus the upstream's total count. It is the
// unit stored in response caches.
type ResultSet struct {
	Records []LegislationRecord `json:"records"`
	Total   int                 `json:"total"`
}

// Favorite links a user to a locally stored legislation record.
type Favorite struct {
	ID            string             `json:"id"`
	UserID        string             `json:"userId"`
	LegislationID string             `json:"legislationId"`
	CreatedAt     time.Time          `json:"createdAt"`
	DeletedAt     *time.Time         `json:"deletedAt,omitempty"`
	Legislation   *LegislationRecord `json:"legislation,omitempty"`
}

// Alert is a saved keyword query re-evaluated on demand.
type Alert struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"userId"`
	Keywords           string     `json:"keywords"`
	DocumentTypeFilter string     `json:"documentTypeFilter,omitempty"`
	Active             bool       `json:"active"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
	DeletedAt          *time.Time `json:"deletedAt,omitempty"`
}

// Sort orders accepted by local listings.
const (
	SortDateDesc = "date_desc"
	SortDateAsc  = "date_asc"
	SortTitle    = "title"
)

// LegislationFilter drives local store listings.
type LegislationFilter struct {
	Page         int
	Limit        int
	Sort         string
	DocumentType string
	Search       string
	Origin       Origin // empty or OriginAll means any
}

// Pagination describes the slice of a listing that was returned.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// PaginatedResult is the response of a local listing.
type PaginatedResult struct {
	Items      []LegislationRecord `json:"items"`
	Pagination Pagination          `json:"pagination"`
}

// Warning represents a non-fatal issue during processing.
type Warning struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}
