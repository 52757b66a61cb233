package models

import (
	"errors"
	"math"
	"time"
)

// Measurement is one observation of a named pipeline metric.
type Measurement struct {
	MetricName string            `json:"metric_name"`
	Value      float64           `json:"value"`
	Timestamp  time.Time         `json:"timestamp"`
	Tags       map[string]string `json:"tags,omitempty"`
}

// Validate rejects unnamed or non-finite measurements.
func (m *Measurement) Validate() error {
	if m.MetricName == "" {
		return errors.New("metric_name is required")
	}
	if math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
		return errors.New("value must be a finite number")
	}
	return nil
}

// Clone returns a deep copy.
func (m Measurement) Clone() Measurement {
	if m.Tags != nil {
		tags := make(map[string]string, len(m.Tags))
		for k, v := range m.Tags {
			tags[k] = v
		}
		m.Tags = tags
	}
	return m
}

// WindowStats summarizes a rolling window.
type WindowStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Latest float64 `json:"latest"`
}

// WindowResponse is returned by the metric window endpoint.
type WindowResponse struct {
	MetricName   string        `json:"metric_name"`
	Stats        *WindowStats  `json:"stats,omitempty"`
	Measurements []Measurement `json:"measurements"`
}
