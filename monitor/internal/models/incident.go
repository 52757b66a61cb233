package models

import "time"

type IncidentState string

const (
	IncidentOpen         IncidentState = "open"
	IncidentAcknowledged IncidentState = "acknowledged"
	IncidentResolved     IncidentState = "resolved"
)

// Active reports whether the incident still accepts related events.
func (s IncidentState) Active() bool {
	return s == IncidentOpen || s == IncidentAcknowledged
}

func (s IncidentState) Valid() bool {
	return s.Active() || s == IncidentResolved
}

// RelatedEvent references an anomaly window or quality report attached to an
// incident.
type RelatedEvent struct {
	Kind       EventKind `json:"kind"`
	Ref        string    `json:"ref"`
	Severity   Severity  `json:"severity"`
	EventType  EventType `json:"event_type"`
	Summary    string    `json:"summary"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Incident groups related events for one family until it is resolved.
type Incident struct {
	ID               string         `json:"id"`
	FamilyKey        string         `json:"family_key"`
	Severity         Severity       `json:"severity"`
	EventType        EventType      `json:"event_type"`
	State            IncidentState  `json:"state"`
	OpenedAt         time.Time      `json:"opened_at"`
	LastEventAt      time.Time      `json:"last_event_at"`
	LastAlertAt      *time.Time     `json:"last_alert_at,omitempty"`
	AcknowledgedAt   *time.Time     `json:"acknowledged_at,omitempty"`
	AcknowledgedBy   string         `json:"acknowledged_by,omitempty"`
	ResolvedAt       *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy       string         `json:"resolved_by,omitempty"`
	ResolutionReason string         `json:"resolution_reason,omitempty"`
	RelatedEvents    []RelatedEvent `json:"related_events"`
	Version          int            `json:"version"`
}

// Clone returns a deep copy safe to hand outside the tracker's lock.
func (i *Incident) Clone() *Incident {
	if i == nil {
		return nil
	}
	c := *i
	c.LastAlertAt = cloneTime(i.LastAlertAt)
	c.AcknowledgedAt = cloneTime(i.AcknowledgedAt)
	c.ResolvedAt = cloneTime(i.ResolvedAt)
	c.RelatedEvents = append([]RelatedEvent(nil), i.RelatedEvents...)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// ListIncidentsRequest filters GET /api/v1/incidents.
type ListIncidentsRequest struct {
	State    IncidentState
	Severity Severity
	Family   string
	Page     int
	Limit    int
}

// ListIncidentsResponse is a page of incidents.
type ListIncidentsResponse struct {
	Incidents []*Incident `json:"incidents"`
	Total     int         `json:"total"`
	Page      int         `json:"page"`
	Limit     int         `json:"limit"`
}

// IncidentActionRequest is the body of acknowledge/resolve calls.
type IncidentActionRequest struct {
	Reason string `json:"reason,omitempty"`
}
