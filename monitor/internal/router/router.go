// Package router turns incident updates into audience-specific alerts and
// delivers them off the caller's path.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/adcraft-labs/creative-qa/common/logging"
	"github.com/adcraft-labs/creative-qa/monitor/internal/deliverylog"
	"github.com/adcraft-labs/creative-qa/monitor/internal/metrics"
	"github.com/adcraft-labs/creative-qa/monitor/internal/models"
)

type Config struct {
	// Routes lists the audiences alerted for each severity.
	Routes map[models.Severity][]models.Audience
	// Cooldowns is the minimum gap between two alerts to the same audience
	// for the same incident.
	Cooldowns map[models.Audience]time.Duration
}

func DefaultConfig() Config {
	return Config{
		Routes: map[models.Severity][]models.Audience{
			models.SeverityCritical: {models.AudienceExecutive, models.AudienceIT, models.AudienceClient},
			models.SeverityWarning:  {models.AudienceIT, models.AudienceCreative},
			models.SeverityInfo:     {models.AudienceIT},
		},
		Cooldowns: map[models.Audience]time.Duration{
			models.AudienceExecutive: 2 * time.Hour,
			models.AudienceClient:    2 * time.Hour,
			models.AudienceIT:        30 * time.Minute,
			models.AudienceCreative:  time.Hour,
		},
	}
}

const defaultCooldown = 30 * time.Minute

// Delivery is a rendered alert holding a delivery-log reservation. The
// reservation must be released if the alert is never delivered.
type Delivery struct {
	Alert *models.Alert
	Token string
}

type Router struct {
	cfg    Config
	log    deliverylog.Log
	logger *logging.Logger
	now    func() time.Time
}

func New(cfg Config, log deliverylog.Log, logger *logging.Logger) *Router {
	if logger == nil {
		logger = logging.Default()
	}
	return &Router{
		cfg:    cfg,
		log:    log,
		logger: logger.With(logging.Service("alert-router")),
		now:    time.Now,
	}
}

// Audiences returns the audiences alerted for sev.
func (r *Router) Audiences(sev models.Severity) []models.Audience {
	return sortedAudiences(r.cfg.Routes[sev])
}

func (r *Router) Cooldown(aud models.Audience) time.Duration {
	if d, ok := r.cfg.Cooldowns[aud]; ok && d > 0 {
		return d
	}
	return defaultCooldown
}

// Route renders one alert per audience mapped to the incident's severity,
// skipping audiences still within their cooldown for this incident. The
// cooldown check and the delivery-log append are a single Reserve call.
// A delivery-log failure skips that audience and is reported in err; the
// remaining audiences are still routed.
func (r *Router) Route(ctx context.Context, inc *models.Incident, ev models.Event) ([]Delivery, error) {
	facts := BuildFacts(inc, ev)
	now := r.now().UTC()

	var (
		out  []Delivery
		errs []error
	)
	for _, aud := range r.Audiences(inc.Severity) {
		token, ok, err := r.log.Reserve(ctx, inc.ID, aud, r.Cooldown(aud))
		if err != nil {
			metrics.AlertsTotal.WithLabelValues(string(aud), "error").Inc()
			errs = append(errs, fmt.Errorf("reserve %s: %w", aud, err))
			continue
		}
		if !ok {
			metrics.AlertsTotal.WithLabelValues(string(aud), "suppressed").Inc()
			r.logger.DebugContext(ctx, "alert suppressed by cooldown",
				logging.IncidentID(inc.ID),
				logging.Audience(string(aud)))
			continue
		}

		subject, body := Render(aud, facts)
		out = append(out, Delivery{
			Alert: &models.Alert{
				ID:          newAlertID(),
				IncidentID:  inc.ID,
				Audience:    aud,
				Severity:    inc.Severity,
				EventType:   inc.EventType,
				SubjectLine: subject,
				Body:        body,
				SentAt:      now,
			},
			Token: token,
		})
	}
	return out, errors.Join(errs...)
}

// pruner is a delivery log that keeps expired reservations until told to
// drop them. Redis expires keys itself.
type pruner interface {
	Prune() int
}

// PruneDeliveries drops expired reservations from a process-local delivery
// log and returns how many remain. ok is false when the log expires entries
// on its own.
func (r *Router) PruneDeliveries() (remaining int, ok bool) {
	p, ok := r.log.(pruner)
	if !ok {
		return 0, false
	}
	return p.Prune(), true
}

// Release returns an undelivered alert's reservation.
func (r *Router) Release(ctx context.Context, d Delivery) error {
	return r.log.Release(ctx, d.Alert.IncidentID, d.Alert.Audience, d.Token)
}

func newAlertID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
