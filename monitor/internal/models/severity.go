package models

import (
	"fmt"
	"strings"
)

// Severity orders incidents and alerts; comparisons use Rank.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank returns 1 for info, 2 for warning, 3 for critical and 0 otherwise.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

func (s Severity) Valid() bool { return s.Rank() > 0 }

// MaxSeverity returns the higher-ranked of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ParseSeverity accepts any casing.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if !sev.Valid() {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// Audience is a stakeholder class receiving alerts.
type Audience string

const (
	AudienceExecutive Audience = "executive"
	AudienceCreative  Audience = "creative"
	AudienceIT        Audience = "it"
	AudienceClient    Audience = "client"
)

// Audiences lists every audience in a stable order.
var Audiences = []Audience{AudienceExecutive, AudienceCreative, AudienceIT, AudienceClient}

func (a Audience) Valid() bool {
	switch a {
	case AudienceExecutive, AudienceCreative, AudienceIT, AudienceClient:
		return true
	}
	return false
}

// EventType classifies what went wrong.
type EventType string

const (
	EventPerformance     EventType = "performance"
	EventQualityBreach   EventType = "quality-breach"
	EventAPIFailure      EventType = "api-failure"
	EventBrandCompliance EventType = "brand-compliance"
)

func (t EventType) Valid() bool {
	switch t {
	case EventPerformance, EventQualityBreach, EventAPIFailure, EventBrandCompliance:
		return true
	}
	return false
}
