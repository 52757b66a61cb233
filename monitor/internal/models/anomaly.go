package models

import "time"

// Trigger records which detection rule fired.
type Trigger string

const (
	TriggerStatic      Trigger = "static"
	TriggerStatistical Trigger = "statistical"
	TriggerDrift       Trigger = "drift"
)

// AnomalyEvent describes one metric window that breached a bound or drifted.
type AnomalyEvent struct {
	MetricName    string            `json:"metric_name"`
	WindowStart   time.Time         `json:"window_start"`
	WindowEnd     time.Time         `json:"window_end"`
	ObservedValue float64           `json:"observed_value"`
	Baseline      float64           `json:"baseline"`
	StdDev        float64           `json:"stddev"`
	Deviation     float64           `json:"deviation"`
	Severity      Severity          `json:"severity"`
	Trigger       Trigger           `json:"trigger"`
	EventType     EventType         `json:"event_type"`
	Tags          map[string]string `json:"tags,omitempty"`
}
