// Package metricstore keeps a bounded, time-ordered log of measurements per
// metric name and serves sliding windows over it.
package metricstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/adcraft-labs/creative-qa/monitor/internal/models"
)

// Persister saves and restores the store across restarts.
type Persister interface {
	SaveMeasurements(ctx context.Context, measurements []models.Measurement) error
	LoadMeasurements(ctx context.Context, since time.Time) ([]models.Measurement, error)
}

// Config bounds how much history is kept.
type Config struct {
	Retention    time.Duration
	MaxPerMetric int
}

// DefaultConfig keeps a day of history and at most 10k points per metric.
func DefaultConfig() Config {
	return Config{Retention: 24 * time.Hour, MaxPerMetric: 10000}
}

// Store is safe for concurrent use. Writers never lose appends and readers
// always see a consistent copy.
type Store struct {
	cfg Config
	now func() time.Time

	mu     sync.RWMutex
	series map[string][]models.Measurement
}

// New creates an empty Store.
func New(cfg Config) *Store {
	if cfg.MaxPerMetric <= 0 {
		cfg.MaxPerMetric = DefaultConfig().MaxPerMetric
	}
	return &Store{
		cfg:    cfg,
		now:    time.Now,
		series: make(map[string][]models.Measurement),
	}
}

// Append validates m and inserts it in timestamp order. A zero timestamp is
// replaced with the current time.
func (s *Store) Append(m models.Measurement) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid measurement: %w", err)
	}
	m = m.Clone()
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now()
	}
	m.Timestamp = m.Timestamp.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(m)
	return nil
}

func (s *Store) insertLocked(m models.Measurement) {
	series := s.series[m.MetricName]
	// Insert after any equal timestamps so arrival order breaks ties.
	i := sort.Search(len(series), func(i int) bool {
		return series[i].Timestamp.After(m.Timestamp)
	})
	series = append(series, models.Measurement{})
	copy(series[i+1:], series[i:])
	series[i] = m

	if over := len(series) - s.cfg.MaxPerMetric; over > 0 {
		series = append(series[:0:0], series[over:]...)
	}
	s.series[m.MetricName] = series
}

// Window returns up to size of the most recent measurements of name whose
// timestamps fall within span of the newest one. size <= 0 or span <= 0
// disables that bound. The result is oldest first and owned by the caller.
func (s *Store) Window(name string, size int, span time.Duration) []models.Measurement {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.series[name]
	if len(series) == 0 {
		return nil
	}

	start := 0
	if span > 0 {
		cutoff := series[len(series)-1].Timestamp.Add(-span)
		start = sort.Search(len(series), func(i int) bool {
			return !series[i].Timestamp.Before(cutoff)
		})
	}
	if size > 0 && len(series)-start > size {
		start = len(series) - size
	}

	out := make([]models.Measurement, 0, len(series)-start)
	for _, m := range series[start:] {
		out = append(out, m.Clone())
	}
	return out
}

// Latest returns the newest measurement of name.
func (s *Store) Latest(name string) (models.Measurement, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	series := s.series[name]
	if len(series) == 0 {
		return models.Measurement{}, false
	}
	return series[len(series)-1].Clone(), true
}

// Metrics lists metric names with at least one measurement, sorted.
func (s *Store) Metrics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.series))
	for name, series := range s.series {
		if len(series) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Len returns the number of retained measurements across all metrics.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, series := range s.series {
		n += len(series)
	}
	return n
}

// Prune drops measurements older than the retention period and returns how
// many were removed.
func (s *Store) Prune() int {
	if s.cfg.Retention <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.cfg.Retention)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for name, series := range s.series {
		i := sort.Search(len(series), func(i int) bool {
			return !series[i].Timestamp.Before(cutoff)
		})
		if i == 0 {
			continue
		}
		removed += i
		if i == len(series) {
			delete(s.series, name)
			continue
		}
		s.series[name] = append(series[:0:0], series[i:]...)
	}
	return removed
}

// Snapshot copies every retained measurement, grouped by metric and ordered
// by time within each metric.
func (s *Store) Snapshot() []models.Measurement {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.series))
	for name := range s.series {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []models.Measurement
	for _, name := range names {
		for _, m := range s.series[name] {
			out = append(out, m.Clone())
		}
	}
	return out
}

// Flush writes a snapshot through p.
func (s *Store) Flush(ctx context.Context, p Persister) error {
	s.Prune()
	if err := p.SaveMeasurements(ctx, s.Snapshot()); err != nil {
		return fmt.Errorf("flush metric store: %w", err)
	}
	return nil
}

// Restore loads measurements within the retention period from p. Invalid
// rows are skipped.
func (s *Store) Restore(ctx context.Context, p Persister) (int, error) {
	var since time.Time
	if s.cfg.Retention > 0 {
		since = s.now().Add(-s.cfg.Retention)
	}
	ms, err := p.LoadMeasurements(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("restore metric store: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range ms {
		if m.Validate() != nil || m.Timestamp.IsZero() {
			continue
		}
		m.Timestamp = m.Timestamp.UTC()
		s.insertLocked(m.Clone())
		n++
	}
	return n, nil
}
