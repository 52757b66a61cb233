// Package incident groups anomaly and quality events into incidents and
// drives their open, acknowledged and resolved lifecycle.
package incident

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adcraft-labs/creative-qa/common/logging"
	"github.com/adcraft-labs/creative-qa/monitor/internal/metrics"
	"github.com/adcraft-labs/creative-qa/monitor/internal/models"
	"github.com/adcraft-labs/creative-qa/monitor/internal/repository"
)

// ErrUnknownIncident is returned for ids that were never recorded.
var ErrUnknownIncident = errors.New("unknown incident")

const (
	ReasonAutoExpired = "auto-expired"
	ReasonManual      = "resolved by operator"
	SystemActor       = "system"

	maxConflictRetries = 3
)

// Store is the persistence the tracker needs. repository.Repository
// satisfies it.
type Store interface {
	CreateIncident(ctx context.Context, inc *models.Incident) error
	UpdateIncident(ctx context.Context, inc *models.Incident) error
	GetIncident(ctx context.Context, id string) (*models.Incident, error)
	ListActiveIncidents(ctx context.Context) ([]*models.Incident, error)
}

type Config struct {
	// Cooldown is how long an active incident may go without a related
	// event before it auto-expires.
	Cooldown      time.Duration
	SweepInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Cooldown:      2 * time.Hour,
		SweepInterval: time.Minute,
	}
}

// Result describes what Record did with an event.
type Result struct {
	Incident  *models.Incident
	Created   bool
	Escalated bool
	// Notify is set when the incident is open after the event, so alerts
	// may be routed for it.
	Notify bool
}

type entry struct {
	mu      sync.Mutex
	inc     *models.Incident
	removed bool
}

// Tracker owns the active incidents. Mutations of one incident are
// serialized by its entry lock; different incidents proceed concurrently.
// Lock order is entry.mu before Tracker.mu.
type Tracker struct {
	cfg    Config
	store  Store
	logger *logging.Logger
	now    func() time.Time
	newID  func() string

	mu       sync.Mutex
	families map[string]*entry
	entries  map[string]*entry
}

func New(cfg Config, store Store, logger *logging.Logger) *Tracker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Tracker{
		cfg:      cfg,
		store:    store,
		logger:   logger.With(logging.Service("incident-tracker")),
		now:      time.Now,
		newID:    newIncidentID,
		families: make(map[string]*entry),
		entries:  make(map[string]*entry),
	}
}

func newIncidentID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Load restores active incidents from the store. Call it before Record.
func (t *Tracker) Load(ctx context.Context) (int, error) {
	active, err := t.store.ListActiveIncidents(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load active incidents: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, inc := range active {
		if cur, ok := t.families[inc.FamilyKey]; ok && cur.inc.OpenedAt.After(inc.OpenedAt) {
			continue
		}
		e := &entry{inc: inc.Clone()}
		if old, ok := t.families[inc.FamilyKey]; ok {
			delete(t.entries, old.inc.ID)
		}
		t.families[inc.FamilyKey] = e
		t.entries[inc.ID] = e
	}
	metrics.ActiveIncidents.Set(float64(len(t.entries)))
	return len(t.entries), nil
}

// Record attaches ev to the active incident of its family, or opens a new
// one. An incident idle past the cooldown is expired first, so the event
// starts a fresh incident.
func (t *Tracker) Record(ctx context.Context, ev models.Event) (*Result, error) {
	for {
		t.mu.Lock()
		e, ok := t.families[ev.Family]
		if !ok {
			return t.open(ctx, ev)
		}
		t.mu.Unlock()

		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}

		now := t.now()
		if t.expired(e.inc, now) {
			_, err := t.mutateLocked(ctx, e, func(inc *models.Incident) bool {
				return resolve(inc, SystemActor, ReasonAutoExpired, now)
			})
			id := e.inc.ID
			e.mu.Unlock()
			if err != nil {
				return nil, err
			}
			metrics.IncidentTransitions.WithLabelValues(string(models.IncidentResolved)).Inc()
			t.logger.Info("incident auto-expired",
				logging.IncidentID(id),
				logging.Family(ev.Family))
			continue
		}

		var escalated bool
		_, err := t.mutateLocked(ctx, e, func(inc *models.Incident) bool {
			escalated = attach(inc, ev, now)
			return true
		})
		if err != nil {
			e.mu.Unlock()
			return nil, err
		}
		res := &Result{
			Incident:  e.inc.Clone(),
			Escalated: escalated,
			Notify:    e.inc.State == models.IncidentOpen,
		}
		e.mu.Unlock()

		if escalated {
			metrics.IncidentTransitions.WithLabelValues("escalated").Inc()
			t.logger.Warn("incident escalated",
				logging.IncidentID(res.Incident.ID),
				logging.Severity(string(res.Incident.Severity)))
		}
		return res, nil
	}
}

// open is called with t.mu held and releases it.
func (t *Tracker) open(ctx context.Context, ev models.Event) (*Result, error) {
	now := t.now()
	inc := &models.Incident{
		ID:            t.newID(),
		FamilyKey:     ev.Family,
		Severity:      ev.Severity,
		EventType:     ev.Type,
		State:         models.IncidentOpen,
		OpenedAt:      now,
		LastEventAt:   now,
		RelatedEvents: []models.RelatedEvent{relatedEvent(ev)},
		Version:       1,
	}

	// The entry is unreachable until inserted, so locking it here cannot
	// invert the lock order.
	e := &entry{inc: inc}
	e.mu.Lock()
	t.families[ev.Family] = e
	t.entries[inc.ID] = e
	t.mu.Unlock()

	if err := t.store.CreateIncident(ctx, inc); err != nil {
		e.removed = true
		t.detach(e)
		e.mu.Unlock()
		return nil, fmt.Errorf("failed to persist incident: %w", err)
	}
	e.mu.Unlock()

	metrics.IncidentTransitions.WithLabelValues(string(models.IncidentOpen)).Inc()
	t.logger.Info("incident opened",
		logging.IncidentID(inc.ID),
		logging.Family(inc.FamilyKey),
		logging.Severity(string(inc.Severity)),
		logging.EventType(string(inc.EventType)))

	return &Result{Incident: inc.Clone(), Created: true, Notify: true}, nil
}

// Acknowledge moves an open incident to acknowledged. Acknowledging an
// acknowledged or resolved incident is a no-op that returns it unchanged.
func (t *Tracker) Acknowledge(ctx context.Context, id, operator string) (*models.Incident, bool, error) {
	return t.transition(ctx, id, func(inc *models.Incident) bool {
		if inc.State != models.IncidentOpen {
			return false
		}
		now := t.now()
		inc.State = models.IncidentAcknowledged
		inc.AcknowledgedAt = &now
		inc.AcknowledgedBy = operator
		return true
	})
}

// Resolve closes an active incident. Resolving a resolved incident is a
// no-op.
func (t *Tracker) Resolve(ctx context.Context, id, operator, reason string) (*models.Incident, bool, error) {
	if reason == "" {
		reason = ReasonManual
	}
	return t.transition(ctx, id, func(inc *models.Incident) bool {
		return resolve(inc, operator, reason, t.now())
	})
}

func (t *Tracker) transition(ctx context.Context, id string, fn func(*models.Incident) bool) (*models.Incident, bool, error) {
	t.mu.Lock()
	e, ok := t.entries[id]
	t.mu.Unlock()
	if ok {
		e.mu.Lock()
		if !e.removed {
			changed, err := t.mutateLocked(ctx, e, fn)
			inc := e.inc.Clone()
			e.mu.Unlock()
			if err != nil {
				return nil, false, err
			}
			if changed {
				metrics.IncidentTransitions.WithLabelValues(string(inc.State)).Inc()
				t.logger.Info("incident transitioned",
					logging.IncidentID(inc.ID),
					logging.State(string(inc.State)))
			}
			return inc, changed, nil
		}
		e.mu.Unlock()
	}

	// Not active: either resolved earlier or never seen.
	inc, err := t.store.GetIncident(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrIncidentNotFound) {
			return nil, false, ErrUnknownIncident
		}
		return nil, false, fmt.Errorf("failed to get incident: %w", err)
	}
	return inc, false, nil
}

// MarkAlerted records that at least one alert was delivered at `at`.
func (t *Tracker) MarkAlerted(ctx context.Context, id string, at time.Time) error {
	t.mu.Lock()
	e, ok := t.entries[id]
	t.mu.Unlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nil
	}
	_, err := t.mutateLocked(ctx, e, func(inc *models.Incident) bool {
		if inc.LastAlertAt != nil && !at.After(*inc.LastAlertAt) {
			return false
		}
		at := at
		inc.LastAlertAt = &at
		return true
	})
	return err
}

// Sweep expires idle incidents and returns how many it resolved.
func (t *Tracker) Sweep(ctx context.Context) int {
	t.mu.Lock()
	candidates := make([]*entry, 0, len(t.entries))
	for _, e := range t.entries {
		candidates = append(candidates, e)
	}
	t.mu.Unlock()

	expired := 0
	for _, e := range candidates {
		if ctx.Err() != nil {
			break
		}
		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		now := t.now()
		if !t.expired(e.inc, now) {
			e.mu.Unlock()
			continue
		}
		changed, err := t.mutateLocked(ctx, e, func(inc *models.Incident) bool {
			return resolve(inc, SystemActor, ReasonAutoExpired, now)
		})
		id := e.inc.ID
		e.mu.Unlock()
		if err != nil {
			t.logger.Error("failed to expire incident", logging.IncidentID(id), logging.Error(err))
			continue
		}
		if changed {
			expired++
			metrics.IncidentTransitions.WithLabelValues(string(models.IncidentResolved)).Inc()
			t.logger.Info("incident auto-expired", logging.IncidentID(id))
		}
	}
	return expired
}

// RunSweeper calls Sweep every SweepInterval until ctx is cancelled.
func (t *Tracker) RunSweeper(ctx context.Context) {
	interval := t.cfg.SweepInterval
	if interval <= 0 {
		interval = DefaultConfig().SweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	t.logger.Info("expiry sweeper started", logging.Duration(interval))
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			if n := t.Sweep(ctx); n > 0 {
				t.logger.Info("expiry sweep completed", "expired", n)
			}
		}
	}
}

// Get returns an active incident by id.
func (t *Tracker) Get(id string) (*models.Incident, bool) {
	t.mu.Lock()
	e, ok := t.entries[id]
	t.mu.Unlock()
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nil, false
	}
	return e.inc.Clone(), true
}

// Active returns the active incidents, oldest first.
func (t *Tracker) Active() []*models.Incident {
	t.mu.Lock()
	entries := make([]*entry, 0, len(t.entries))
	for _, e := range t.entries {
		entries = append(entries, e)
	}
	t.mu.Unlock()

	out := make([]*models.Incident, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.removed {
			out = append(out, e.inc.Clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// mutateLocked applies fn to a copy of the incident, persists it under the
// next version and swaps it in. A version conflict reloads the stored copy
// and reapplies fn. Caller holds e.mu.
func (t *Tracker) mutateLocked(ctx context.Context, e *entry, fn func(*models.Incident) bool) (bool, error) {
	for attempt := 0; ; attempt++ {
		next := e.inc.Clone()
		if !fn(next) {
			return false, nil
		}
		next.Version++

		err := t.store.UpdateIncident(ctx, next)
		if err == nil {
			e.inc = next
			if !next.State.Active() {
				e.removed = true
				t.detach(e)
			}
			return true, nil
		}
		if !errors.Is(err, repository.ErrStateConflict) || attempt >= maxConflictRetries {
			return false, fmt.Errorf("failed to persist incident %s: %w", e.inc.ID, err)
		}

		stored, gerr := t.store.GetIncident(ctx, e.inc.ID)
		if gerr != nil {
			return false, fmt.Errorf("failed to reload incident %s: %w", e.inc.ID, gerr)
		}
		t.logger.Warn("incident version conflict, reloaded",
			logging.IncidentID(stored.ID),
			"version", stored.Version)
		e.inc = stored
		if !stored.State.Active() {
			e.removed = true
			t.detach(e)
			return false, nil
		}
	}
}

// detach drops e from the active maps. Caller holds e.mu.
func (t *Tracker) detach(e *entry) {
	t.mu.Lock()
	if cur, ok := t.families[e.inc.FamilyKey]; ok && cur == e {
		delete(t.families, e.inc.FamilyKey)
	}
	if cur, ok := t.entries[e.inc.ID]; ok && cur == e {
		delete(t.entries, e.inc.ID)
	}
	n := len(t.entries)
	t.mu.Unlock()
	metrics.ActiveIncidents.Set(float64(n))
}

func (t *Tracker) expired(inc *models.Incident, now time.Time) bool {
	return t.cfg.Cooldown > 0 && inc.State.Active() && now.Sub(inc.LastEventAt) > t.cfg.Cooldown
}

// attach appends ev and escalates severity. An acknowledged incident that
// escalates is reopened.
func attach(inc *models.Incident, ev models.Event, now time.Time) bool {
	inc.RelatedEvents = append(inc.RelatedEvents, relatedEvent(ev))
	if now.After(inc.LastEventAt) {
		inc.LastEventAt = now
	}
	if ev.Severity.Rank() <= inc.Severity.Rank() {
		return false
	}
	inc.Severity = ev.Severity
	inc.EventType = ev.Type
	if inc.State == models.IncidentAcknowledged {
		inc.State = models.IncidentOpen
	}
	return true
}

func resolve(inc *models.Incident, by, reason string, now time.Time) bool {
	if inc.State == models.IncidentResolved {
		return false
	}
	inc.State = models.IncidentResolved
	inc.ResolvedAt = &now
	inc.ResolvedBy = by
	inc.ResolutionReason = reason
	return true
}

func relatedEvent(ev models.Event) models.RelatedEvent {
	return models.RelatedEvent{
		Kind:       ev.Kind,
		Ref:        ev.Ref(),
		Severity:   ev.Severity,
		EventType:  ev.Type,
		Summary:    ev.Summary(),
		OccurredAt: ev.OccurredAt,
	}
}
