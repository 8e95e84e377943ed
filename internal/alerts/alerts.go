// Package alerts manages saved keyword alerts and re-runs them on demand
// against the external sources.
package alerts

import (
	"context"
	"strings"
	"time"

	"github.com/lexsync/lexsync/internal/apperr"
	"github.com/lexsync/lexsync/internal/legislation"
	"github.com/lexsync/lexsync/internal/metrics"
	"github.com/lexsync/lexsync/internal/models"
	"github.com/rs/zerolog/log"
)

// DefaultMatchLimit caps the matches returned per source and alert.
const DefaultMatchLimit = 5

// Store is the alert persistence the evaluator needs.
type Store interface {
	CreateAlert(ctx context.Context, alert *models.Alert) error
	GetAlert(ctx context.Context, userID, id string) (*models.Alert, error)
	ListAlerts(ctx context.Context, userID string, active *bool) ([]models.Alert, error)
	UpdateAlert(ctx context.Context, alert *models.Alert) (bool, error)
	ToggleAlert(ctx context.Context, userID, id string) (*models.Alert, error)
	DeleteAlert(ctx context.Context, userID, id string) (bool, error)
}

// Searcher runs federated searches.
type Searcher interface {
	FederatedSearch(ctx context.Context, q legislation.FederatedQuery) (*legislation.FederatedResult, error)
}

// Match is the evaluation outcome for one alert. Every run returns all
// current matches; nothing is remembered between runs.
type Match struct {
	AlertID        string                     `json:"alertId"`
	Keywords       string                     `json:"keywords"`
	GazetteMatches []models.LegislationRecord `json:"gazetteMatches"`
	CaseLawMatches []models.LegislationRecord `json:"caselawMatches"`
	Errors         []string                   `json:"errors,omitempty"`
}

// Evaluation is the result of Evaluate.
type Evaluation struct {
	AlertsChecked int       `json:"alertsChecked"`
	NewMatches    []Match   `json:"newMatches"`
	EvaluatedAt   time.Time `json:"evaluatedAt"`
}

// Service manages alerts.
type Service struct {
	store      Store
	searcher   Searcher
	matchLimit int
	metrics    *metrics.Metrics

	now func() time.Time
}

// NewService creates a new alert service.
func NewService(store Store, searcher Searcher, matchLimit int, m *metrics.Metrics) *Service {
	if matchLimit <= 0 {
		matchLimit = DefaultMatchLimit
	}
	return &Service{
		store:      store,
		searcher:   searcher,
		matchLimit: matchLimit,
		metrics:    m,
		now:        time.Now,
	}
}

// AlertInput is the user-editable part of an alert.
type AlertInput struct {
	Keywords           string `json:"keywords"`
	DocumentTypeFilter string `json:"documentTypeFilter"`
	Active             *bool  `json:"active"`
}

func (in AlertInput) validate() error {
	if strings.TrimSpace(in.Keywords) == "" {
		return apperr.NewInvalidRequest("keywords is required")
	}
	return nil
}

// Create stores a new alert; it is active unless the input says otherwise.
func (s *Service) Create(ctx context.Context, userID string, in AlertInput) (*models.Alert, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	alert := &models.Alert{
		UserID:             userID,
		Keywords:           strings.TrimSpace(in.Keywords),
		DocumentTypeFilter: strings.TrimSpace(in.DocumentTypeFilter),
		Active:             in.Active == nil || *in.Active,
	}
	if err := s.store.CreateAlert(ctx, alert); err != nil {
		return nil, apperr.NewInternal(err)
	}
	return alert, nil
}

// Get returns one of the user's alerts.
func (s *Service) Get(ctx context.Context, userID, id string) (*models.Alert, error) {
	alert, err := s.store.GetAlert(ctx, userID, id)
	if err != nil {
		return nil, apperr.NewInternal(err)
	}
	if alert == nil {
		return nil, apperr.NewNotFound("alert", id)
	}
	return alert, nil
}

// List returns the user's alerts, optionally only active or inactive ones.
func (s *Service) List(ctx context.Context, userID string, active *bool) ([]models.Alert, error) {
	alerts, err := s.store.ListAlerts(ctx, userID, active)
	if err != nil {
		return nil, apperr.NewInternal(err)
	}
	return alerts, nil
}

// Update replaces keywords and filter; Active is only changed when set.
func (s *Service) Update(ctx context.Context, userID, id string, in AlertInput) (*models.Alert, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	alert, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	alert.Keywords = strings.TrimSpace(in.Keywords)
	alert.DocumentTypeFilter = strings.TrimSpace(in.DocumentTypeFilter)
	if in.Active != nil {
		alert.Active = *in.Active
	}

	ok, err := s.store.UpdateAlert(ctx, alert)
	if err != nil {
		return nil, apperr.NewInternal(err)
	}
	if !ok {
		return nil, apperr.NewNotFound("alert", id)
	}
	return alert, nil
}

// Delete soft-deletes an alert.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	ok, err := s.store.DeleteAlert(ctx, userID, id)
	if err != nil {
		return apperr.NewInternal(err)
	}
	if !ok {
		return apperr.NewNotFound("alert", id)
	}
	return nil
}

// Toggle flips the alert's active flag and returns the updated alert.
func (s *Service) Toggle(ctx context.Context, userID, id string) (*models.Alert, error) {
	alert, err := s.store.ToggleAlert(ctx, userID, id)
	if err != nil {
		return nil, apperr.NewInternal(err)
	}
	if alert == nil {
		return nil, apperr.NewNotFound("alert", id)
	}
	log.Info().Str("alert_id", id).Bool("active", alert.Active).Msg("Alert toggled")
	return alert, nil
}

// Evaluate re-runs every active alert of the user against both sources
// without persisting anything. A failing alert is reported in its Match and
// does not stop the others.
func (s *Service) Evaluate(ctx context.Context, userID string) (*Evaluation, error) {
	active := true
	alerts, err := s.store.ListAlerts(ctx, userID, &active)
	if err != nil {
		return nil, apperr.NewInternal(err)
	}

	eval := &Evaluation{
		NewMatches:  []Match{},
		EvaluatedAt: s.now(),
	}
	for _, alert := range alerts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		eval.NewMatches = append(eval.NewMatches, s.evaluateOne(ctx, alert))
		eval.AlertsChecked++
		s.metrics.IncrementAlertsEvaluated()
	}

	log.Info().
		Str("user_id", userID).
		Int("alerts_checked", eval.AlertsChecked).
		Msg("Alerts evaluated")
	return eval, nil
}

func (s *Service) evaluateOne(ctx context.Context, alert models.Alert) Match {
	match := Match{
		AlertID:        alert.ID,
		Keywords:       alert.Keywords,
		GazetteMatches: []models.LegislationRecord{},
		CaseLawMatches: []models.LegislationRecord{},
	}

	res, err := s.searcher.FederatedSearch(ctx, legislation.FederatedQuery{
		Origin:  models.OriginAll,
		Query:   alert.Keywords,
		Limit:   s.matchLimit,
		Persist: false,
	})
	if err != nil {
		log.Warn().Err(err).Str("alert_id", alert.ID).Msg("Alert evaluation failed")
		match.Errors = append(match.Errors, err.Error())
		return match
	}

	if res.Gazette != nil {
		match.GazetteMatches = filterByType(res.Gazette.Records, alert.DocumentTypeFilter)
		if res.Gazette.Error != "" {
			match.Errors = append(match.Errors, "gazette: "+res.Gazette.Error)
		}
	}
	if res.CaseLaw != nil {
		match.CaseLawMatches = filterByType(res.CaseLaw.Records, alert.DocumentTypeFilter)
		if res.CaseLaw.Error != "" {
			match.Errors = append(match.Errors, "caselaw: "+res.CaseLaw.Error)
		}
	}
	return match
}

// filterByType keeps records whose document type contains filter,
// case-insensitively. An empty filter keeps everything.
func filterByType(records []models.LegislationRecord, filter string) []models.LegislationRecord {
	filter = strings.ToLower(strings.TrimSpace(filter))
	out := []models.LegislationRecord{}
	for _, r := range records {
		if filter == "" || strings.Contains(strings.ToLower(r.DocumentType), filter) {
			out = append(out, r)
		}
	}
	return out
}
