package models

import (
	"fmt"
	"time"
)

// EventKind distinguishes the two signal sources feeding incidents.
type EventKind string

const (
	KindAnomaly EventKind = "anomaly"
	KindQuality EventKind = "quality"
)

// Event is a signal routed into the incident tracker: either an anomaly or a
// failing quality report.
type Event struct {
	Kind       EventKind
	Family     string
	Severity   Severity
	Type       EventType
	OccurredAt time.Time
	Anomaly    *AnomalyEvent
	Report     *QualityReport
}

// AnomalyFamily is the incident family key for a metric.
func AnomalyFamily(metric string) string {
	return "metric:" + metric
}

// QualityFamily is the incident family key for a campaign, falling back to the
// creative when the campaign is unknown.
func QualityFamily(campaignID, creativeID string) string {
	if campaignID != "" {
		return "quality:" + campaignID
	}
	return "quality:creative:" + creativeID
}

// NewAnomalyEvent wraps a detector event.
func NewAnomalyEvent(a *AnomalyEvent) Event {
	return Event{
		Kind:       KindAnomaly,
		Family:     AnomalyFamily(a.MetricName),
		Severity:   a.Severity,
		Type:       a.EventType,
		OccurredAt: a.WindowEnd,
		Anomaly:    a,
	}
}

// NewQualityEvent wraps a failing report.
func NewQualityEvent(r *QualityReport, sev Severity, typ EventType, at time.Time) Event {
	return Event{
		Kind:       KindQuality,
		Family:     QualityFamily(r.CampaignID, r.CreativeID),
		Severity:   sev,
		Type:       typ,
		OccurredAt: at,
		Report:     r,
	}
}

// Ref identifies the underlying anomaly window or report.
func (e Event) Ref() string {
	switch {
	case e.Anomaly != nil:
		return e.Anomaly.MetricName + "@" + e.Anomaly.WindowEnd.UTC().Format(time.RFC3339Nano)
	case e.Report != nil:
		return e.Report.CreativeID
	}
	return ""
}

// Summary is a one-line description used in incident history.
func (e Event) Summary() string {
	switch {
	case e.Anomaly != nil:
		a := e.Anomaly
		return fmt.Sprintf("%s %s breach: observed %.4g vs baseline %.4g", a.MetricName, a.Trigger, a.ObservedValue, a.Baseline)
	case e.Report != nil:
		r := e.Report
		return fmt.Sprintf("creative %s failed quality gate: composite %.2f, %d violation(s)", r.CreativeID, r.Composite, len(r.Violations))
	}
	return string(e.Kind)
}
