// Package database provides the local legislation store: canonical records,
// per-user favorites and alerts.
package database

import (
	"context"
	"time"

	"github.com/lexsync/lexsync/internal/models"
)

// Store defines the interface for data persistence.
// Lookups of a missing (or soft-deleted, or not owned) row return nil, nil.
type Store interface {
	// Legislation
	UpsertLegislation(ctx context.Context, records []models.LegislationRecord) (int, error)
	GetLegislation(ctx context.Context, id string) (*models.LegislationRecord, error)
	ListLegislation(ctx context.Context, filter models.LegislationFilter) (*models.PaginatedResult, error)

	// Favorites
	AddFavorite(ctx context.Context, userID, legislationID string) (*models.Favorite, bool, error)
	RemoveFavorite(ctx context.Context, userID, legislationID string) (bool, error)
	ListFavorites(ctx context.Context, userID string) ([]models.Favorite, error)

	// Alerts
	CreateAlert(ctx context.Context, alert *models.Alert) error
	GetAlert(ctx context.Context, userID, id string) (*models.Alert, error)
	ListAlerts(ctx context.Context, userID string, active *bool) ([]models.Alert, error)
	UpdateAlert(ctx context.Context, alert *models.Alert) (bool, error)
	ToggleAlert(ctx context.Context, userID, id string) (*models.Alert, error)
	DeleteAlert(ctx context.Context, userID, id string) (bool, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
	Migrate() error
}

// Listing bounds applied when a filter leaves them unset or out of range.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// normalizeFilter fills defaults and clamps paging.
func normalizeFilter(f models.LegislationFilter) models.LegislationFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	switch f.Sort {
	case models.SortDateAsc, models.SortDateDesc, models.SortTitle:
	default:
		f.Sort = models.SortDateDesc
	}
	return f
}

func totalPages(total, limit int) int {
	if limit <= 0 || total == 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

func utcNow() time.Time {
	return time.Now().UTC()
}
