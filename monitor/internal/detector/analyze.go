package detector

import (
	"math"

	"github.com/adcraft-labs/creative-qa/monitor/internal/models"
)

// Outcome is the result of one detection pass over one metric.
type Outcome int

const (
	OutcomeNormal Outcome = iota
	OutcomeAnomaly
	// OutcomeSkipped means the window holds fewer than MinSamples points.
	OutcomeSkipped
	// OutcomeUnchanged means no measurement arrived since the last pass.
	OutcomeUnchanged
	// OutcomeBusy means another pass over the metric was still running.
	OutcomeBusy
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNormal:
		return "normal"
	case OutcomeAnomaly:
		return "anomaly"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeBusy:
		return "busy"
	}
	return "unknown"
}

// Analyze inspects one window, oldest first. The newest point is the
// observation; the rest form the baseline. It keeps no state, so the same
// window always yields the same result.
//
// Severity is critical when a static floor or ceiling is crossed, warning
// when the observation is more than k standard deviations from the baseline
// mean, and info when the last DriftTicks steps all move the same way by at
// least DriftMinChange without crossing either bound. A rule with
// AggregateMean checks only the window mean against its static bounds.
func Analyze(window []models.Measurement, rule Rule, cfg Config) (*models.AnomalyEvent, Outcome) {
	n := len(window)
	if n < cfg.MinSamples || n < 2 {
		return nil, OutcomeSkipped
	}

	if rule.Aggregate == AggregateMean {
		return analyzeMean(window, rule)
	}

	observed := window[n-1]
	mean, stddev := MeanStdDev(window[:n-1])
	sigma := math.Max(stddev, math.Max(cfg.RelativeStdDevFloor*math.Abs(mean), 1e-9))
	deviation := math.Abs(observed.Value-mean) / sigma

	k := cfg.K
	if rule.K > 0 {
		k = rule.K
	}

	var (
		severity models.Severity
		trigger  models.Trigger
	)
	switch {
	case rule.breachesStatic(observed.Value):
		severity, trigger = models.SeverityCritical, models.TriggerStatic
	case deviation > k:
		severity, trigger = models.SeverityWarning, models.TriggerStatistical
	case drifting(window, cfg.DriftTicks, cfg.DriftMinChange):
		severity, trigger = models.SeverityInfo, models.TriggerDrift
	default:
		return nil, OutcomeNormal
	}

	return &models.AnomalyEvent{
		MetricName:    observed.MetricName,
		WindowStart:   window[0].Timestamp,
		WindowEnd:     observed.Timestamp,
		ObservedValue: observed.Value,
		Baseline:      mean,
		StdDev:        stddev,
		Deviation:     deviation,
		Severity:      severity,
		Trigger:       trigger,
		EventType:     rule.eventType(),
		Tags:          observed.Clone().Tags,
	}, OutcomeAnomaly
}

// analyzeMean raises a critical anomaly when the window mean crosses a static
// bound. A single outlying point moves the mean only by its share of the
// window.
func analyzeMean(window []models.Measurement, rule Rule) (*models.AnomalyEvent, Outcome) {
	mean, stddev := MeanStdDev(window)
	if !rule.breachesStatic(mean) {
		return nil, OutcomeNormal
	}

	bound := mean
	switch {
	case rule.Floor != nil && mean < *rule.Floor:
		bound = *rule.Floor
	case rule.Ceiling != nil:
		bound = *rule.Ceiling
	}
	deviation := 0.0
	if stddev > 0 {
		deviation = math.Abs(mean-bound) / stddev
	}

	observed := window[len(window)-1]
	return &models.AnomalyEvent{
		MetricName:    observed.MetricName,
		WindowStart:   window[0].Timestamp,
		WindowEnd:     observed.Timestamp,
		ObservedValue: mean,
		Baseline:      bound,
		StdDev:        stddev,
		Deviation:     deviation,
		Severity:      models.SeverityCritical,
		Trigger:       models.TriggerStatic,
		EventType:     rule.eventType(),
		Tags:          observed.Clone().Tags,
	}, OutcomeAnomaly
}

// MeanStdDev returns the mean and population standard deviation of ms, which
// must be non-empty.
func MeanStdDev(ms []models.Measurement) (float64, float64) {
	var sum float64
	for _, m := range ms {
		sum += m.Value
	}
	mean := sum / float64(len(ms))

	var sq float64
	for _, m := range ms {
		d := m.Value - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(ms)))
}

// drifting reports whether the last ticks steps share a direction and each
// changes by at least minChange relative to the previous value.
func drifting(window []models.Measurement, ticks int, minChange float64) bool {
	if ticks < 1 || len(window) < ticks+1 {
		return false
	}
	tail := window[len(window)-ticks-1:]

	direction := 0
	for i := 1; i < len(tail); i++ {
		prev, cur := tail[i-1].Value, tail[i].Value
		delta := cur - prev

		step := 0
		switch {
		case delta > 0:
			step = 1
		case delta < 0:
			step = -1
		}
		if step == 0 || (direction != 0 && step != direction) {
			return false
		}
		direction = step

		if prev != 0 && math.Abs(delta)/math.Abs(prev) < minChange {
			return false
		}
	}
	return true
}
