package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adcraft-labs/creative-qa/common/logging"
	"github.com/adcraft-labs/creative-qa/common/messaging"
	"github.com/adcraft-labs/creative-qa/monitor/internal/detector"
	"github.com/adcraft-labs/creative-qa/monitor/internal/incident"
	"github.com/adcraft-labs/creative-qa/monitor/internal/models"
	"github.com/adcraft-labs/creative-qa/monitor/internal/repository"
)

// Acknowledge moves an open incident to acknowledged. Repeating it, or
// acknowledging a resolved incident, returns the incident unchanged.
func (s *Service) Acknowledge(ctx context.Context, id, operator string) (*models.Incident, error) {
	inc, changed, err := s.tracker.Acknowledge(ctx, id, operator)
	if err != nil {
		return nil, translate(err)
	}
	if changed {
		s.logger.InfoContext(ctx, "incident acknowledged",
			logging.IncidentID(id),
			"operator", operator)
		s.publishIncident(ctx, inc, false)
	}
	return inc, nil
}

// Resolve closes an incident. Resolving twice is a no-op.
func (s *Service) Resolve(ctx context.Context, id, operator, reason string) (*models.Incident, error) {
	inc, changed, err := s.tracker.Resolve(ctx, id, operator, reason)
	if err != nil {
		return nil, translate(err)
	}
	if changed {
		s.logger.InfoContext(ctx, "incident resolved",
			logging.IncidentID(id),
			"operator", operator)
		s.publishIncident(ctx, inc, false)
	}
	return inc, nil
}

// GetIncident prefers the tracker's live copy over the stored one.
func (s *Service) GetIncident(ctx context.Context, id string) (*models.Incident, error) {
	if inc, ok := s.tracker.Get(id); ok {
		return inc, nil
	}
	inc, err := s.repo.GetIncident(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	return inc, nil
}

func (s *Service) ListIncidents(ctx context.Context, req *models.ListIncidentsRequest) (*models.ListIncidentsResponse, error) {
	if req.State != "" && !req.State.Valid() {
		return nil, fmt.Errorf("%w: unknown state %q", ErrInvalidFilter, req.State)
	}
	if req.Severity != "" && !req.Severity.Valid() {
		return nil, fmt.Errorf("%w: unknown severity %q", ErrInvalidFilter, req.Severity)
	}
	incidents, total, err := s.repo.ListIncidents(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	if incidents == nil {
		incidents = []*models.Incident{}
	}
	return &models.ListIncidentsResponse{
		Incidents: incidents,
		Total:     total,
		Page:      req.Page,
		Limit:     req.Limit,
	}, nil
}

// ListIncidentAlerts returns the alerts sent for an incident, oldest first.
func (s *Service) ListIncidentAlerts(ctx context.Context, id string) ([]*models.Alert, error) {
	if _, err := s.GetIncident(ctx, id); err != nil {
		return nil, err
	}
	alerts, err := s.repo.ListAlerts(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	if alerts == nil {
		alerts = []*models.Alert{}
	}
	return alerts, nil
}

func (s *Service) GetReport(ctx context.Context, creativeID string) (*models.ReportRecord, error) {
	return s.repo.GetReport(ctx, creativeID)
}

// MetricWindow returns the current rolling window of a metric with summary
// statistics. size and span fall back to the store's full history when zero.
func (s *Service) MetricWindow(name string, size int, span time.Duration) (*models.WindowResponse, error) {
	window := s.store.Window(name, size, span)
	if len(window) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMetricNotFound, name)
	}

	stats := &models.WindowStats{
		Count:  len(window),
		Min:    window[0].Value,
		Max:    window[0].Value,
		Latest: window[len(window)-1].Value,
	}
	for _, m := range window {
		stats.Min = min(stats.Min, m.Value)
		stats.Max = max(stats.Max, m.Value)
	}
	stats.Mean, stats.StdDev = detector.MeanStdDev(window)

	return &models.WindowResponse{MetricName: name, Stats: stats, Measurements: window}, nil
}

// Metrics lists the names of every metric held in the store.
func (s *Service) Metrics() []string {
	return s.store.Metrics()
}

// Health reports repository reachability.
func (s *Service) Health(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// BrokerHealth returns the message broker state, or nil when the monitor
// runs without one.
func (s *Service) BrokerHealth() *messaging.HealthStatus {
	if s.broker == nil {
		return nil
	}
	st := messaging.CheckClientHealth(s.broker)
	return &st
}

// ErrInvalidFilter is returned for list requests with unknown filter values.
var ErrInvalidFilter = errors.New("invalid filter")

// translate maps tracker errors onto repository sentinels so callers only
// need to check one set.
func translate(err error) error {
	if errors.Is(err, incident.ErrUnknownIncident) {
		return fmt.Errorf("%w: %w", repository.ErrIncidentNotFound, err)
	}
	return err
}
