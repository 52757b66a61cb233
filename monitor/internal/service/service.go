// Package service wires the quality evaluator, metric store, incident tracker
// and alert router into the monitor's data flow.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adcraft-labs/creative-qa/common/logging"
	"github.com/adcraft-labs/creative-qa/common/messaging"
	"github.com/adcraft-labs/creative-qa/monitor/internal/archive"
	"github.com/adcraft-labs/creative-qa/monitor/internal/detector"
	"github.com/adcraft-labs/creative-qa/monitor/internal/incident"
	"github.com/adcraft-labs/creative-qa/monitor/internal/metrics"
	"github.com/adcraft-labs/creative-qa/monitor/internal/metricstore"
	"github.com/adcraft-labs/creative-qa/monitor/internal/models"
	"github.com/adcraft-labs/creative-qa/monitor/internal/quality"
	"github.com/adcraft-labs/creative-qa/monitor/internal/repository"
	"github.com/adcraft-labs/creative-qa/monitor/internal/router"
)

// Metric names the service writes into the store for every evaluation.
const (
	MetricQualityComposite = "quality.composite"
	MetricQualityPass      = "quality.pass"
)

var (
	ErrMetricNotFound = errors.New("metric not found")

	// ErrInvalidMeasurement wraps the reasons measurements were rejected.
	ErrInvalidMeasurement = errors.New("invalid measurement")
)

type Config struct {
	// QualityThreshold is the composite below which a failing report opens
	// an incident. Content-safety failures always do.
	QualityThreshold float64
	// CriticalComposite is the composite below which a quality incident is
	// critical rather than a warning.
	CriticalComposite float64
	EventQueueSize    int
	SnapshotInterval  time.Duration
	Dispatch          router.DispatchConfig
}

func DefaultConfig() Config {
	return Config{
		QualityThreshold:  0.7,
		CriticalComposite: 0.4,
		EventQueueSize:    1024,
		SnapshotInterval:  5 * time.Minute,
		Dispatch:          router.DefaultDispatchConfig(),
	}
}

// EventPublisher announces lifecycle events on the bus.
type EventPublisher interface {
	PublishReportEvaluated(ctx context.Context, rec *models.ReportRecord) error
	PublishIncident(ctx context.Context, inc *models.Incident, created bool) error
	PublishAlertSent(ctx context.Context, a *models.Alert) error
}

// Deps are the collaborators of a Service. Archive, Publisher and DeadLetter
// are optional.
type Deps struct {
	Repo       repository.Repository
	Store      *metricstore.Store
	Evaluator  *quality.Evaluator
	Tracker    *incident.Tracker
	Router     *router.Router
	Channels   router.ChannelResolver
	DeadLetter router.DeadLetter
	Archive    archive.Archive
	Publisher  EventPublisher
	// Broker, when set, is reported on the health check.
	Broker     messaging.Client
	Logger     *logging.Logger
}

type Service struct {
	cfg        Config
	repo       repository.Repository
	store      *metricstore.Store
	evaluator  *quality.Evaluator
	tracker    *incident.Tracker
	router     *router.Router
	dispatcher *router.Dispatcher
	archive    archive.Archive
	publisher  EventPublisher
	broker     messaging.Client
	logger     *logging.Logger

	events chan models.Event
	now    func() time.Time
}

func New(cfg Config, deps Deps) *Service {
	if cfg.EventQueueSize <= 0 {
		cfg.EventQueueSize = DefaultConfig().EventQueueSize
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	arch := deps.Archive
	if arch == nil {
		arch = archive.Nop{}
	}

	s := &Service{
		cfg:       cfg,
		repo:      deps.Repo,
		store:     deps.Store,
		evaluator: deps.Evaluator,
		tracker:   deps.Tracker,
		router:    deps.Router,
		archive:   arch,
		publisher: deps.Publisher,
		broker:    deps.Broker,
		logger:    logger.With(logging.Service("qa-monitor")),
		events:    make(chan models.Event, cfg.EventQueueSize),
		now:       time.Now,
	}
	s.dispatcher = router.NewDispatcher(cfg.Dispatch, deps.Router, deps.Channels, deps.DeadLetter, s.RecordAlert, logger)
	return s
}

// Init restores the metric store snapshot and the active incidents.
func (s *Service) Init(ctx context.Context) error {
	restored, err := s.store.Restore(ctx, s.repo)
	if err != nil {
		return fmt.Errorf("restore metric store: %w", err)
	}
	active, err := s.tracker.Load(ctx)
	if err != nil {
		return err
	}
	metrics.StoredMeasurements.Set(float64(s.store.Len()))
	s.logger.InfoContext(ctx, "state restored", "measurements", restored, "active_incidents", active)
	return nil
}

// Run starts the event worker, alert dispatcher, expiry sweeper and snapshot
// loop, and blocks until ctx is cancelled. Events still queued at shutdown
// are recorded on their incidents without routing alerts.
func (s *Service) Run(ctx context.Context) {
	var wg sync.WaitGroup
	start := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	start(s.eventWorker)
	start(func(ctx context.Context) {
		if err := s.dispatcher.Run(ctx); err != nil {
			s.logger.Error("alert dispatcher exited", logging.Error(err))
		}
	})
	start(s.tracker.RunSweeper)
	start(s.snapshotLoop)

	wg.Wait()
	s.drainEvents()
}

// Shutdown writes the final metric store snapshot.
func (s *Service) Shutdown(ctx context.Context) error {
	if err := s.store.Flush(ctx, s.repo); err != nil {
		return fmt.Errorf("flush metric store: %w", err)
	}
	s.logger.InfoContext(ctx, "metric store flushed", "measurements", s.store.Len())
	return nil
}

// Dispatcher exposes delivery statistics.
func (s *Service) Dispatcher() *router.Dispatcher {
	return s.dispatcher
}

// Submit queues ev for the incident tracker without blocking. It reports
// false if the queue is full and the event was dropped.
func (s *Service) Submit(ctx context.Context, ev models.Event) bool {
	select {
	case s.events <- ev:
		return true
	default:
	}
	metrics.EventsDropped.Inc()
	s.logger.WarnContext(ctx, "event queue full, dropping event",
		logging.Family(ev.Family),
		logging.Severity(string(ev.Severity)))
	return false
}

// HandleAnomaly makes Service a detector.Sink.
func (s *Service) HandleAnomaly(ctx context.Context, ev *models.AnomalyEvent) {
	s.Submit(ctx, models.NewAnomalyEvent(ev))
}

var _ detector.Sink = (*Service)(nil)

func (s *Service) eventWorker(ctx context.Context) {
	s.logger.Info("event worker started")
	defer s.logger.Info("event worker stopped")
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			s.processEvent(ctx, ev, ctx.Err() == nil)
		}
	}
}

func (s *Service) drainEvents() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	drained := 0
	for {
		select {
		case ev := <-s.events:
			s.processEvent(ctx, ev, false)
			drained++
		default:
			if drained > 0 {
				s.logger.Info("recorded queued events at shutdown", "events", drained)
			}
			return
		}
	}
}

// processEvent records ev on its incident and, when the incident is open,
// routes alerts for it.
func (s *Service) processEvent(ctx context.Context, ev models.Event, route bool) {
	res, err := s.tracker.Record(ctx, ev)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to record event",
			logging.Family(ev.Family),
			logging.Error(err))
		return
	}
	if res.Created || res.Escalated {
		s.publishIncident(ctx, res.Incident, res.Created)
	}
	if !route || !res.Notify {
		return
	}

	deliveries, err := s.router.Route(ctx, res.Incident, ev)
	if err != nil {
		s.logger.ErrorContext(ctx, "alert routing incomplete",
			logging.IncidentID(res.Incident.ID),
			logging.Error(err))
	}
	for _, d := range deliveries {
		s.dispatcher.Enqueue(ctx, d)
	}
}

// RecordAlert persists a delivered alert. It runs on dispatcher workers.
func (s *Service) RecordAlert(ctx context.Context, a *models.Alert) {
	ctx = context.WithoutCancel(ctx)
	if err := s.repo.SaveAlert(ctx, a); err != nil {
		s.logger.ErrorContext(ctx, "failed to save alert",
			logging.IncidentID(a.IncidentID),
			logging.Error(err))
	}
	if err := s.tracker.MarkAlerted(ctx, a.IncidentID, a.SentAt); err != nil {
		s.logger.ErrorContext(ctx, "failed to mark incident alerted",
			logging.IncidentID(a.IncidentID),
			logging.Error(err))
	}
	if err := s.archive.IndexAlert(ctx, a); err != nil {
		s.logger.WarnContext(ctx, "failed to archive alert", logging.Error(err))
	}
	if s.publisher != nil {
		if err := s.publisher.PublishAlertSent(ctx, a); err != nil {
			s.logger.WarnContext(ctx, "failed to publish alert", logging.Error(err))
		}
	}
}

func (s *Service) publishIncident(ctx context.Context, inc *models.Incident, created bool) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishIncident(ctx, inc, created); err != nil {
		s.logger.WarnContext(ctx, "failed to publish incident",
			logging.IncidentID(inc.ID),
			logging.Error(err))
	}
}

func (s *Service) snapshotLoop(ctx context.Context) {
	interval := s.cfg.SnapshotInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.snapshot(ctx)
		}
	}
}

// snapshot prunes expired measurements and delivery reservations, then
// writes the metric store snapshot.
func (s *Service) snapshot(ctx context.Context) {
	pruned := s.store.Prune()
	metrics.StoredMeasurements.Set(float64(s.store.Len()))
	if remaining, ok := s.router.PruneDeliveries(); ok {
		s.logger.DebugContext(ctx, "delivery log pruned", "reservations", remaining)
	}
	if err := s.store.Flush(ctx, s.repo); err != nil {
		s.logger.ErrorContext(ctx, "failed to snapshot metric store", logging.Error(err))
		return
	}
	s.logger.DebugContext(ctx, "metric store snapshot written",
		"measurements", s.store.Len(),
		"pruned", pruned)
}
