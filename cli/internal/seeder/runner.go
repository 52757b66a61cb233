package seeder

import (
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/adcraft-labs/creative-qa/cli/internal/client"
)

// Sender delivers a batch of measurements to the monitor.
type Sender interface {
	RecordMeasurements(ms []client.Measurement) (*client.MeasurementsResponse, error)
}

// Summary counts the outcome of a run.
type Summary struct {
	Sent     int
	Accepted int
	Rejected int
	Failed   int
}

// Runner handles the measurement seeding execution
type Runner struct {
	Config *Config
	Sender Sender
	Logger *log.Logger
	Now    func() time.Time
}

func NewRunner(config *Config, sender Sender) *Runner {
	return &Runner{
		Config: config,
		Sender: sender,
		Logger: log.New(os.Stderr, "", log.LstdFlags),
		Now:    time.Now,
	}
}

// Run generates every configured metric series, applies the selected
// degradations (or the enabled ones when none are named) and sends the
// result in batches, oldest first.
func (r *Runner) Run(selected []string) (*Summary, error) {
	degradations, err := r.resolve(selected)
	if err != nil {
		return nil, err
	}

	d := r.Config.Defaults
	r.Logger.Printf("Starting measurement seeder:")
	r.Logger.Printf("  Metrics: %d", len(r.Config.Metrics))
	r.Logger.Printf("  Points per metric: %d", d.Count)
	r.Logger.Printf("  Time spread: %v", d.TimeSpread)
	r.Logger.Printf("  Batch size: %d", d.BatchSize)
	for _, dg := range degradations {
		r.Logger.Printf("  Injecting %s: %s on %s from %.0f%% (magnitude %g)",
			dg.Name, dg.Kind, dg.Metric, dg.Start*100, dg.Magnitude)
	}

	gen := NewGenerator(d.Seed)
	now := r.Now()
	var all []client.Measurement
	for _, m := range r.Config.Metrics {
		all = append(all, gen.Series(m, d.Count, d.TimeSpread, now, degradations)...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.Before(all[j].Timestamp)
	})

	sum := &Summary{}
	for i := 0; i < len(all); i += d.BatchSize {
		end := i + d.BatchSize
		if end > len(all) {
			end = len(all)
		}
		batch := all[i:end]
		sum.Sent += len(batch)

		resp, err := r.Sender.RecordMeasurements(batch)
		if resp != nil {
			sum.Accepted += resp.Accepted
			sum.Rejected += resp.Rejected
		}
		if err != nil {
			r.Logger.Printf("Failed to send batch: %v", err)
			if resp == nil {
				sum.Failed += len(batch)
			}
		}

		if d.Interval > 0 && end < len(all) {
			time.Sleep(d.Interval)
		}
	}

	r.Logger.Printf("Seeding complete:")
	r.Logger.Printf("  Accepted: %d measurements", sum.Accepted)
	r.Logger.Printf("  Rejected: %d measurements", sum.Rejected)
	r.Logger.Printf("  Failed: %d measurements", sum.Failed)
	return sum, nil
}

func (r *Runner) resolve(selected []string) ([]DegradationConfig, error) {
	if len(selected) == 0 {
		return r.Config.GetEnabledDegradations(), nil
	}
	out := make([]DegradationConfig, 0, len(selected))
	for _, name := range selected {
		dg, ok := r.Config.GetDegradation(name)
		if !ok {
			return nil, fmt.Errorf("unknown degradation %q", name)
		}
		out = append(out, dg)
	}
	return out, nil
}
