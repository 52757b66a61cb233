// Package nats connects the monitor to the message bus: it consumes the
// metrics feed, announces lifecycle events and dead-letters undeliverable
// alerts.
package nats

import (
	"context"
	"time"

	"github.com/adcraft-labs/creative-qa/common/messaging"
	"github.com/adcraft-labs/creative-qa/monitor/internal/models"
)

// IncidentEvent is published on every incident transition.
type IncidentEvent struct {
	Action     string           `json:"action"`
	Incident   *models.Incident `json:"incident"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// Publisher announces reports, incident changes and sent alerts.
type Publisher struct {
	pub messaging.Publisher
}

func NewPublisher(pub messaging.Publisher) *Publisher {
	return &Publisher{pub: pub}
}

// PublishReportEvaluated publishes a freshly evaluated report.
func (p *Publisher) PublishReportEvaluated(ctx context.Context, rec *models.ReportRecord) error {
	return messaging.PublishJSON(ctx, p.pub, messaging.SubjectReportsEvaluated, rec)
}

// PublishIncident publishes inc on the subject matching its transition.
func (p *Publisher) PublishIncident(ctx context.Context, inc *models.Incident, created bool) error {
	subject, action := messaging.SubjectIncidentsUpdated, "updated"
	switch {
	case created:
		subject, action = messaging.SubjectIncidentsOpened, "opened"
	case inc.State == models.IncidentResolved:
		subject, action = messaging.SubjectIncidentsResolved, "resolved"
	}
	return messaging.PublishJSON(ctx, p.pub, subject, &IncidentEvent{
		Action:     action,
		Incident:   inc,
		OccurredAt: time.Now().UTC(),
	})
}

func (p *Publisher) PublishAlertSent(ctx context.Context, a *models.Alert) error {
	return messaging.PublishJSON(ctx, p.pub, messaging.SubjectAlertsSent, a)
}
