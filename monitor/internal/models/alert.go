package models

import "time"

// Alert is a message rendered for one audience about one incident.
// Its JSON form is the payload delivered to notification channels.
type Alert struct {
	ID          string    `json:"id"`
	IncidentID  string    `json:"incident_id"`
	Audience    Audience  `json:"audience"`
	Severity    Severity  `json:"severity"`
	EventType   EventType `json:"event_type"`
	SubjectLine string    `json:"subject_line"`
	Body        string    `json:"body"`
	SentAt      time.Time `json:"timestamp"`
}
