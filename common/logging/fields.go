package logging

import (
	"log/slog"
	"time"
)

// Field names shared by every component so log queries stay uniform.
const (
	FieldService    = "service"
	FieldRequestID  = "request_id"
	FieldOperator   = "operator"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatus     = "status"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldMetric     = "metric"
	FieldIncidentID = "incident_id"
	FieldCreativeID = "creative_id"
	FieldCampaignID = "campaign_id"
	FieldAudience   = "audience"
	FieldSeverity   = "severity"
	FieldEventType  = "event_type"
	FieldFamily     = "family"
	FieldState      = "state"
)

func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

func Method(method string) slog.Attr {
	return slog.String(FieldMethod, method)
}

func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Duration records d in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Int64(FieldDuration, d.Milliseconds())
}

// Error returns an error attribute. A nil error is logged as an empty string.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

func Metric(name string) slog.Attr {
	return slog.String(FieldMetric, name)
}

func IncidentID(id string) slog.Attr {
	return slog.String(FieldIncidentID, id)
}

func CreativeID(id string) slog.Attr {
	return slog.String(FieldCreativeID, id)
}

func CampaignID(id string) slog.Attr {
	return slog.String(FieldCampaignID, id)
}

func Audience(a string) slog.Attr {
	return slog.String(FieldAudience, a)
}

func Severity(s string) slog.Attr {
	return slog.String(FieldSeverity, s)
}

func EventType(t string) slog.Attr {
	return slog.String(FieldEventType, t)
}

// Family is an incident family key such as "metric:success_rate".
func Family(key string) slog.Attr {
	return slog.String(FieldFamily, key)
}

func State(s string) slog.Attr {
	return slog.String(FieldState, s)
}
