// Package detector periodically scans metric windows for static breaches,
// statistical outliers and sustained drift.
package detector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/adcraft-labs/creative-qa/common/logging"
	"github.com/adcraft-labs/creative-qa/monitor/internal/metrics"
	"github.com/adcraft-labs/creative-qa/monitor/internal/models"
)

// Source supplies metric windows, typically the metric store.
type Source interface {
	Metrics() []string
	Window(name string, size int, span time.Duration) []models.Measurement
}

// Sink receives emitted anomalies.
type Sink interface {
	HandleAnomaly(ctx context.Context, ev *models.AnomalyEvent)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev *models.AnomalyEvent)

func (f SinkFunc) HandleAnomaly(ctx context.Context, ev *models.AnomalyEvent) { f(ctx, ev) }

// Summary counts outcomes of one tick.
type Summary struct {
	Metrics   int
	Anomalies int
	Skipped   int
	Unchanged int
	Busy      int
}

// Detector runs detection passes. Passes over the same metric never overlap;
// different metrics are evaluated concurrently.
type Detector struct {
	cfg    Config
	source Source
	sink   Sink
	logger *logging.Logger

	mu         sync.Mutex
	locks      map[string]*sync.Mutex
	watermarks map[string]time.Time

	ticks     *atomic.Int64
	anomalies *atomic.Int64
}

// New creates a Detector.
func New(cfg Config, source Source, sink Sink, logger *logging.Logger) *Detector {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Rules == nil {
		cfg.Rules = map[string]Rule{}
	}
	return &Detector{
		cfg:        cfg,
		source:     source,
		sink:       sink,
		logger:     logger.With(logging.Service("detector")),
		locks:      make(map[string]*sync.Mutex),
		watermarks: make(map[string]time.Time),
		ticks:      atomic.NewInt64(0),
		anomalies:  atomic.NewInt64(0),
	}
}

// Run ticks every cfg.Interval until ctx is cancelled. The first pass runs
// immediately.
func (d *Detector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	d.logger.Info("anomaly detector started", slog.Duration("interval", d.cfg.Interval))
	d.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("anomaly detector stopped")
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick runs one detection pass over every known metric.
func (d *Detector) Tick(ctx context.Context) Summary {
	names := d.source.Metrics()
	outcomes := make([]Outcome, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = d.evaluate(ctx, name)
		}()
	}
	wg.Wait()
	d.ticks.Inc()

	sum := Summary{Metrics: len(names)}
	for _, o := range outcomes {
		metrics.DetectionPasses.WithLabelValues(o.String()).Inc()
		switch o {
		case OutcomeAnomaly:
			sum.Anomalies++
		case OutcomeSkipped:
			sum.Skipped++
		case OutcomeUnchanged:
			sum.Unchanged++
		case OutcomeBusy:
			sum.Busy++
		}
	}
	if sum.Anomalies > 0 {
		d.logger.Info("detection pass complete",
			slog.Int("metrics", sum.Metrics),
			slog.Int("anomalies", sum.Anomalies),
			slog.Int("skipped", sum.Skipped))
	}
	return sum
}

// EvaluateMetric runs one pass over a single metric.
func (d *Detector) EvaluateMetric(ctx context.Context, name string) Outcome {
	return d.evaluate(ctx, name)
}

func (d *Detector) evaluate(ctx context.Context, name string) Outcome {
	lock := d.metricLock(name)
	if !lock.TryLock() {
		return OutcomeBusy
	}
	defer lock.Unlock()

	window := d.source.Window(name, d.cfg.WindowSize, d.cfg.WindowDuration)
	if len(window) == 0 {
		return OutcomeSkipped
	}
	end := window[len(window)-1].Timestamp
	if last, ok := d.watermark(name); ok && !end.After(last) {
		return OutcomeUnchanged
	}

	ev, outcome := Analyze(window, d.cfg.ruleFor(name), d.cfg)
	if outcome == OutcomeSkipped {
		d.logger.Debug("insufficient data for detection",
			logging.Metric(name), slog.Int("samples", len(window)))
		return outcome
	}
	d.setWatermark(name, end)

	if ev != nil {
		d.anomalies.Inc()
		metrics.AnomaliesTotal.WithLabelValues(string(ev.Severity), string(ev.Trigger)).Inc()
		d.logger.Info("anomaly detected",
			logging.Metric(name),
			logging.Severity(string(ev.Severity)),
			slog.String("trigger", string(ev.Trigger)),
			slog.Float64("observed", ev.ObservedValue),
			slog.Float64("baseline", ev.Baseline),
			slog.Float64("deviation", ev.Deviation))
		if d.sink != nil {
			d.sink.HandleAnomaly(ctx, ev)
		}
	}
	return outcome
}

func (d *Detector) metricLock(name string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.locks[name]
	if !ok {
		l = &sync.Mutex{}
		d.locks[name] = l
	}
	return l
}

func (d *Detector) watermark(name string) (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.watermarks[name]
	return t, ok
}

func (d *Detector) setWatermark(name string, t time.Time) {
	d.mu.Lock()
	d.watermarks[name] = t
	d.mu.Unlock()
}

// Stats returns the number of completed ticks and emitted anomalies.
func (d *Detector) Stats() (ticks, anomalies int64) {
	return d.ticks.Load(), d.anomalies.Load()
}
