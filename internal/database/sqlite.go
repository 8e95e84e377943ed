package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lexsync/lexsync/internal/models"
	"github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SQLiteStore{db: db, now: utcNow}
	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS legislation (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			type TEXT NOT NULL,
			url TEXT NOT NULL,
			publication_date TEXT NOT NULL DEFAULT '',
			source_origin TEXT NOT NULL,
			content TEXT,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_legislation_date ON legislation(publication_date)`,
		`CREATE INDEX IF NOT EXISTS idx_legislation_origin ON legislation(source_origin)`,
		`CREATE TABLE IF NOT EXISTS favorite (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			legislation_id TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			deleted_at DATETIME,
			FOREIGN KEY (legislation_id) REFERENCES legislation(id)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_favorite_active
			ON favorite(user_id, legislation_id) WHERE deleted_at IS NULL`,
		`CREATE TABLE IF NOT EXISTS alert (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			keywords TEXT NOT NULL,
			type_filter TEXT,
			active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			deleted_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_user ON alert(user_id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Ping checks the connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const legislationColumns = `id, title, type, url, publication_date, source_origin, content, metadata, created_at, updated_at`

// UpsertLegislation inserts records or fully overwrites the existing row with
// the same id. created_at is kept from the first insert.
func (s *SQLiteStore) UpsertLegislation(ctx context.Context, records []models.LegislationRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO legislation (`+legislationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			type = excluded.type,
			url = excluded.url,
			publication_date = excluded.publication_date,
			source_origin = excluded.source_origin,
			content = excluded.content,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	now := s.now()
	for _, r := range records {
		if r.ID == "" {
			return 0, fmt.Errorf("upserting legislation: empty id")
		}
		metaJSON, err := json.Marshal(r.Metadata)
		if err != nil {
			return 0, fmt.Errorf("encoding metadata for %s: %w", r.ID, err)
		}
		var content sql.NullString
		if r.Content != "" {
			content = sql.NullString{String: r.Content, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.Title, r.DocumentType, r.SourceURL,
			r.PublicationDate, string(r.SourceOrigin), content, string(metaJSON), now, now); err != nil {
			return 0, fmt.Errorf("upserting legislation %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(records), nil
}

// GetLegislation retrieves a record by ID.
func (s *SQLiteStore) GetLegislation(ctx context.Context, id string) (*models.LegislationRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+legislationColumns+` FROM legislation WHERE id = ?`, id)
	r, err := scanLegislation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

var legislationSorts = map[string]string{
	models.SortDateDesc: "publication_date DESC, id ASC",
	models.SortDateAsc:  "publication_date ASC, id ASC",
	models.SortTitle:    "title COLLATE NOCASE ASC, id ASC",
}

// ListLegislation returns one page of local records matching filter.
func (s *SQLiteStore) ListLegislation(ctx context.Context, filter models.LegislationFilter) (*models.PaginatedResult, error) {
	f := normalizeFilter(filter)

	var (
		where []string
		args  []any
	)
	if f.DocumentType != "" {
		where = append(where, "LOWER(type) = LOWER(?)")
		args = append(args, f.DocumentType)
	}
	if f.Origin != "" && f.Origin != models.OriginAll {
		where = append(where, "source_origin = ?")
		args = append(args, string(f.Origin))
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		where = append(where, `(title LIKE ? ESCAPE '\' OR content LIKE ? ESCAPE '\')`)
		term := "%" + escapeLike(q) + "%"
		args = append(args, term, term)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM legislation"+clause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting legislation: %w", err)
	}

	query := "SELECT " + legislationColumns + " FROM legislation" + clause +
		" ORDER BY " + legislationSorts[f.Sort] + " LIMIT ? OFFSET ?"
	rows, err := s.db.QueryContext(ctx, query, append(args, f.Limit, (f.Page-1)*f.Limit)...)
	if err != nil {
		return nil, fmt.Errorf("querying legislation: %w", err)
	}
	defer rows.Close()

	items := []models.LegislationRecord{}
	for rows.Next() {
		r, err := scanLegislation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning legislation: %w", err)
		}
		items = append(items, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &models.PaginatedResult{
		Items: items,
		Pagination: models.Pagination{
			Page:       f.Page,
			Limit:      f.Limit,
			Total:      total,
			TotalPages: totalPages(total, f.Limit),
		},
	}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanLegislation scans a legislation row. leading receives any columns
// selected before the legislation ones.
func scanLegislation(sc scanner, leading ...any) (*models.LegislationRecord, error) {
	var (
		r        models.LegislationRecord
		origin   string
		content  sql.NullString
		metaJSON string
	)
	dest := append(leading, &r.ID, &r.Title, &r.DocumentType, &r.SourceURL, &r.PublicationDate,
		&origin, &content, &metaJSON, &r.CreatedAt, &r.UpdatedAt)
	if err := sc.Scan(dest...); err != nil {
		return nil, err
	}
	r.SourceOrigin = models.Origin(origin)
	r.Content = content.String
	if err := json.Unmarshal([]byte(metaJSON), &r.Metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata for %s: %w", r.ID, err)
	}
	return &r, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// AddFavorite links the user to a record. When an active favorite already
// exists it is returned with created=false.
func (s *SQLiteStore) AddFavorite(ctx context.Context, userID, legislationID string) (*models.Favorite, bool, error) {
	if fav, err := s.activeFavorite(ctx, userID, legislationID); err != nil || fav != nil {
		return fav, false, err
	}

	fav := &models.Favorite{
		ID:            uuid.New().String(),
		UserID:        userID,
		LegislationID: legislationID,
		CreatedAt:     s.now(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO favorite (id, user_id, legislation_id, created_at)
		VALUES (?, ?, ?, ?)`,
		fav.ID, fav.UserID, fav.LegislationID, fav.CreatedAt)
	if isUniqueViolation(err) {
		// Lost a race with a concurrent add.
		existing, err := s.activeFavorite(ctx, userID, legislationID)
		return existing, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return fav, true, nil
}

func (s *SQLiteStore) activeFavorite(ctx context.Context, userID, legislationID string) (*models.Favorite, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, legislation_id, created_at
		FROM favorite WHERE user_id = ? AND legislation_id = ? AND deleted_at IS NULL`,
		userID, legislationID)

	var f models.Favorite
	err := row.Scan(&f.ID, &f.UserID, &f.LegislationID, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// RemoveFavorite soft-deletes the user's active favorite for a record.
func (s *SQLiteStore) RemoveFavorite(ctx context.Context, userID, legislationID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE favorite SET deleted_at = ?
		WHERE user_id = ? AND legislation_id = ? AND deleted_at IS NULL`,
		s.now(), userID, legislationID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListFavorites returns the user's active favorites with their records,
// newest first.
func (s *SQLiteStore) ListFavorites(ctx context.Context, userID string) ([]models.Favorite, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.user_id, f.legislation_id, f.created_at,
			l.id, l.title, l.type, l.url, l.publication_date, l.source_origin, l.content, l.metadata, l.created_at, l.updated_at
		FROM favorite f
		JOIN legislation l ON l.id = f.legislation_id
		WHERE f.user_id = ? AND f.deleted_at IS NULL
		ORDER BY f.created_at DESC, f.id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	favorites := []models.Favorite{}
	for rows.Next() {
		var f models.Favorite
		r, err := scanLegislation(rows, &f.ID, &f.UserID, &f.LegislationID, &f.CreatedAt)
		if err != nil {
			return nil, err
		}
		f.Legislation = r
		favorites = append(favorites, f)
	}
	return favorites, rows.Err()
}

const alertColumns = `id, user_id, keywords, type_filter, active, created_at, updated_at`

// CreateAlert stores a new alert. ID and timestamps are assigned when empty.
func (s *SQLiteStore) CreateAlert(ctx context.Context, alert *models.Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	now := s.now()
	alert.CreatedAt = now
	alert.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.UserID, alert.Keywords, nullString(alert.DocumentTypeFilter),
		alert.Active, alert.CreatedAt, alert.UpdatedAt)
	return err
}

// GetAlert retrieves one of the user's alerts.
func (s *SQLiteStore) GetAlert(ctx context.Context, userID, id string) (*models.Alert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+alertColumns+` FROM alert
		WHERE id = ? AND user_id = ? AND deleted_at IS NULL`, id, userID)
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListAlerts returns the user's alerts, optionally filtered by active state.
func (s *SQLiteStore) ListAlerts(ctx context.Context, userID string, active *bool) ([]models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alert WHERE user_id = ? AND deleted_at IS NULL`
	args := []any{userID}
	if active != nil {
		query += " AND active = ?"
		args = append(args, *active)
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alerts := []models.Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

// UpdateAlert overwrites keywords, filter and active state of an owned alert.
func (s *SQLiteStore) UpdateAlert(ctx context.Context, alert *models.Alert) (bool, error) {
	alert.UpdatedAt = s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE alert SET keywords = ?, type_filter = ?, active = ?, updated_at = ?
		WHERE id = ? AND user_id = ? AND deleted_at IS NULL`,
		alert.Keywords, nullString(alert.DocumentTypeFilter), alert.Active, alert.UpdatedAt,
		alert.ID, alert.UserID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ToggleAlert flips the active flag in a single statement and returns the
// updated alert, or nil when it is not owned by the user.
func (s *SQLiteStore) ToggleAlert(ctx context.Context, userID, id string) (*models.Alert, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alert SET active = NOT active, updated_at = ?
		WHERE id = ? AND user_id = ? AND deleted_at IS NULL`,
		s.now(), id, userID)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return nil, err
	}
	return s.GetAlert(ctx, userID, id)
}

// DeleteAlert soft-deletes an owned alert.
func (s *SQLiteStore) DeleteAlert(ctx context.Context, userID, id string) (bool, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE alert SET deleted_at = ?, updated_at = ?
		WHERE id = ? AND user_id = ? AND deleted_at IS NULL`,
		now, now, id, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func scanAlert(sc scanner) (*models.Alert, error) {
	var (
		a      models.Alert
		filter sql.NullString
	)
	if err := sc.Scan(&a.ID, &a.UserID, &a.Keywords, &filter, &a.Active, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.DocumentTypeFilter = filter.String
	return &a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
