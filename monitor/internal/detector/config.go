package detector

import (
	"time"

	"github.com/adcraft-labs/creative-qa/monitor/internal/models"
)

// Aggregate selects the value a rule's static bounds are checked against.
type Aggregate string

const (
	// AggregateLast checks the newest point and runs every detection mode.
	AggregateLast Aggregate = ""
	// AggregateMean checks the mean of the whole window and runs the static
	// check only. It suits metrics whose points are independent samples,
	// such as one score per evaluated creative.
	AggregateMean Aggregate = "mean"
)

// Rule holds per-metric bounds and classification. Nil bounds are unset.
type Rule struct {
	Floor     *float64
	Ceiling   *float64
	K         float64
	Aggregate Aggregate
	EventType models.EventType
}

func (r Rule) eventType() models.EventType {
	if r.EventType == "" {
		return models.EventPerformance
	}
	return r.EventType
}

func (r Rule) breachesStatic(v float64) bool {
	return (r.Floor != nil && v < *r.Floor) || (r.Ceiling != nil && v > *r.Ceiling)
}

// Config controls windowing and sensitivity.
type Config struct {
	Interval       time.Duration
	WindowSize     int
	WindowDuration time.Duration
	MinSamples     int
	K              float64
	DriftTicks     int
	DriftMinChange float64
	// RelativeStdDevFloor is the minimum standard deviation used for the
	// statistical bound, as a fraction of the baseline mean.
	RelativeStdDevFloor float64
	Rules               map[string]Rule
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:            30 * time.Second,
		WindowSize:          20,
		WindowDuration:      15 * time.Minute,
		MinSamples:          5,
		K:                   2,
		DriftTicks:          3,
		DriftMinChange:      0.01,
		RelativeStdDevFloor: 0.01,
		Rules:               map[string]Rule{},
	}
}

func (c Config) ruleFor(metric string) Rule {
	return c.Rules[metric]
}

// Float is a helper for building rules.
func Float(v float64) *float64 {
	return &v
}
