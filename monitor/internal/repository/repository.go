package repository

import (
	"context"
	"errors"
	"time"

	"github.com/adcraft-labs/creative-qa/monitor/internal/models"
)

var (
	ErrIncidentNotFound = errors.New("incident not found")
	ErrReportNotFound   = errors.New("report not found")
	// ErrStateConflict means the stored incident changed since it was read.
	ErrStateConflict = errors.New("incident was modified concurrently")
)

// Repository persists reports, incidents, sent alerts and metric snapshots.
type Repository interface {
	// Reports
	SaveReport(ctx context.Context, r *models.ReportRecord) error
	GetReport(ctx context.Context, creativeID string) (*models.ReportRecord, error)

	// Incidents. UpdateIncident succeeds only if the stored version is
	// inc.Version-1.
	CreateIncident(ctx context.Context, inc *models.Incident) error
	UpdateIncident(ctx context.Context, inc *models.Incident) error
	GetIncident(ctx context.Context, id string) (*models.Incident, error)
	ListIncidents(ctx context.Context, req *models.ListIncidentsRequest) ([]*models.Incident, int, error)
	ListActiveIncidents(ctx context.Context) ([]*models.Incident, error)

	// Alerts are append-only.
	SaveAlert(ctx context.Context, a *models.Alert) error
	ListAlerts(ctx context.Context, incidentID string) ([]*models.Alert, error)

	// Measurements are stored as a snapshot replacing the previous one.
	SaveMeasurements(ctx context.Context, ms []models.Measurement) error
	LoadMeasurements(ctx context.Context, since time.Time) ([]models.Measurement, error)

	Ping(ctx context.Context) error
	Close() error
}

// normalizePage applies the default page size of 50 and caps it at 500.
func normalizePage(req *models.ListIncidentsRequest) (page, limit int) {
	page, limit = req.Page, req.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	return page, limit
}
