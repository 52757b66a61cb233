package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/adcraft-labs/creative-qa/monitor/internal/models"
)

// MemoryRepository keeps everything in process memory. It backs the monitor
// when PostgreSQL is disabled and doubles as a test fake.
type MemoryRepository struct {
	mu           sync.RWMutex
	reports      map[string]*models.ReportRecord
	incidents    map[string]*models.Incident
	alerts       []*models.Alert
	measurements []models.Measurement
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		reports:   make(map[string]*models.ReportRecord),
		incidents: make(map[string]*models.Incident),
	}
}

func (r *MemoryRepository) SaveReport(_ context.Context, rec *models.ReportRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *rec
	r.reports[rec.CreativeID] = &c
	return nil
}

func (r *MemoryRepository) GetReport(_ context.Context, creativeID string) (*models.ReportRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.reports[creativeID]
	if !ok {
		return nil, ErrReportNotFound
	}
	c := *rec
	return &c, nil
}

func (r *MemoryRepository) CreateIncident(_ context.Context, inc *models.Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incidents[inc.ID] = inc.Clone()
	return nil
}

func (r *MemoryRepository) UpdateIncident(_ context.Context, inc *models.Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.incidents[inc.ID]
	if !ok {
		return ErrIncidentNotFound
	}
	if cur.Version != inc.Version-1 {
		return ErrStateConflict
	}
	r.incidents[inc.ID] = inc.Clone()
	return nil
}

func (r *MemoryRepository) GetIncident(_ context.Context, id string) (*models.Incident, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inc, ok := r.incidents[id]
	if !ok {
		return nil, ErrIncidentNotFound
	}
	return inc.Clone(), nil
}

func (r *MemoryRepository) ListIncidents(_ context.Context, req *models.ListIncidentsRequest) ([]*models.Incident, int, error) {
	page, limit := normalizePage(req)

	r.mu.RLock()
	var matched []*models.Incident
	for _, inc := range r.incidents {
		if req.State != "" && inc.State != req.State {
			continue
		}
		if req.Severity != "" && inc.Severity != req.Severity {
			continue
		}
		if req.Family != "" && inc.FamilyKey != req.Family {
			continue
		}
		matched = append(matched, inc.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].OpenedAt.Equal(matched[j].OpenedAt) {
			return matched[i].OpenedAt.After(matched[j].OpenedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	start := (page - 1) * limit
	if start >= total {
		return []*models.Incident{}, total, nil
	}
	end := min(start+limit, total)
	return matched[start:end], total, nil
}

func (r *MemoryRepository) ListActiveIncidents(_ context.Context) ([]*models.Incident, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Incident
	for _, inc := range r.incidents {
		if inc.State.Active() {
			out = append(out, inc.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

func (r *MemoryRepository) SaveAlert(_ context.Context, a *models.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *a
	r.alerts = append(r.alerts, &c)
	return nil
}

func (r *MemoryRepository) ListAlerts(_ context.Context, incidentID string) ([]*models.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*models.Alert{}
	for _, a := range r.alerts {
		if a.IncidentID == incidentID {
			c := *a
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *MemoryRepository) SaveMeasurements(_ context.Context, ms []models.Measurement) error {
	snapshot := make([]models.Measurement, len(ms))
	for i, m := range ms {
		snapshot[i] = m.Clone()
	}
	r.mu.Lock()
	r.measurements = snapshot
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) LoadMeasurements(_ context.Context, since time.Time) ([]models.Measurement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.Measurement
	for _, m := range r.measurements {
		if !m.Timestamp.Before(since) {
			out = append(out, m.Clone())
		}
	}
	return out, nil
}

func (r *MemoryRepository) Ping(context.Context) error { return nil }

func (r *MemoryRepository) Close() error { return nil }
