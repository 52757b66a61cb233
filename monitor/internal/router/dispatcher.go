package router

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/atomic"

	"github.com/adcraft-labs/creative-qa/common/logging"
	"github.com/adcraft-labs/creative-qa/monitor/internal/metrics"
	"github.com/adcraft-labs/creative-qa/monitor/internal/models"
	"github.com/adcraft-labs/creative-qa/monitor/internal/notification"
)

var ErrDispatcherRunning = errors.New("dispatcher already running")

type DispatchConfig struct {
	Workers        int
	QueueSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultDispatchConfig() DispatchConfig {
	return DispatchConfig{
		Workers:        4,
		QueueSize:      1024,
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
	}
}

// ChannelResolver picks the channel for an audience.
type ChannelResolver interface {
	For(aud models.Audience) notification.Channel
}

// DeadLetter receives alerts that exhausted their retries.
type DeadLetter interface {
	DeadLetter(ctx context.Context, a *models.Alert, cause error) error
}

// DeliveredFunc is called once per successfully delivered alert.
type DeliveredFunc func(ctx context.Context, a *models.Alert)

// DispatchStats is a point-in-time view of dispatcher counters.
type DispatchStats struct {
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Queued    int   `json:"queued"`
}

// Dispatcher delivers alerts from a bounded queue with retry. Enqueue never
// blocks, so a slow channel cannot stall the caller.
type Dispatcher struct {
	cfg         DispatchConfig
	router      *Router
	channels    ChannelResolver
	deadLetter  DeadLetter
	onDelivered DeliveredFunc
	logger      *logging.Logger

	queue   chan Delivery
	running *atomic.Bool
	wg      sync.WaitGroup

	// mu orders Enqueue against the final drain in Run. Once stopped is set
	// nothing else enters the queue.
	mu      sync.Mutex
	stopped bool

	now func() time.Time

	delivered *atomic.Int64
	failed    *atomic.Int64
	dropped   *atomic.Int64
}

// NewDispatcher creates a Dispatcher. deadLetter and onDelivered may be nil.
func NewDispatcher(cfg DispatchConfig, router *Router, channels ChannelResolver, deadLetter DeadLetter, onDelivered DeliveredFunc, logger *logging.Logger) *Dispatcher {
	def := DefaultDispatchConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		cfg:         cfg,
		router:      router,
		channels:    channels,
		deadLetter:  deadLetter,
		onDelivered: onDelivered,
		logger:      logger.With(logging.Service("alert-dispatcher")),
		queue:       make(chan Delivery, cfg.QueueSize),
		running:     atomic.NewBool(false),
		delivered:   atomic.NewInt64(0),
		failed:      atomic.NewInt64(0),
		dropped:     atomic.NewInt64(0),
		now:         time.Now,
	}
}

// Enqueue queues d for delivery. When the queue is full, or Run has already
// returned, the alert is dropped and its reservation released.
func (d *Dispatcher) Enqueue(ctx context.Context, del Delivery) bool {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		metrics.AlertsTotal.WithLabelValues(string(del.Alert.Audience), "released").Inc()
		d.logger.InfoContext(ctx, "dispatcher stopped, releasing alert",
			logging.IncidentID(del.Alert.IncidentID),
			logging.Audience(string(del.Alert.Audience)))
		d.release(ctx, del)
		return false
	}
	select {
	case d.queue <- del:
		d.mu.Unlock()
		metrics.DispatchQueueDepth.Set(float64(len(d.queue)))
		return true
	default:
	}
	d.mu.Unlock()

	d.dropped.Inc()
	metrics.AlertsTotal.WithLabelValues(string(del.Alert.Audience), "dropped").Inc()
	d.logger.WarnContext(ctx, "alert queue full, dropping alert",
		logging.IncidentID(del.Alert.IncidentID),
		logging.Audience(string(del.Alert.Audience)))
	d.release(ctx, del)
	return false
}

// Run starts the workers and blocks until ctx is cancelled. Alerts still
// queued at shutdown have their reservations released.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.running.CAS(false, true) {
		return ErrDispatcherRunning
	}
	defer d.running.Store(false)

	d.mu.Lock()
	d.stopped = false
	d.mu.Unlock()

	d.logger.Info("alert dispatcher started", "workers", d.cfg.Workers)
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	d.wg.Wait()

	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	released := 0
	for {
		select {
		case del := <-d.queue:
			d.release(ctx, del)
			released++
		default:
			metrics.DispatchQueueDepth.Set(0)
			d.logger.Info("alert dispatcher stopped", "released", released)
			return nil
		}
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case del := <-d.queue:
			metrics.DispatchQueueDepth.Set(float64(len(d.queue)))
			d.deliver(ctx, del)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, del Delivery) {
	a := del.Alert
	ch := d.channels.For(a.Audience)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.InitialBackoff
	b.MaxInterval = d.cfg.MaxBackoff
	b.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		// Each attempt carries its own send time; the successful one is
		// what gets persisted.
		a.SentAt = d.now().UTC()
		err := ch.Deliver(ctx, a)
		if err != nil && notification.IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		d.logger.WarnContext(ctx, "alert delivery failed, retrying",
			logging.IncidentID(a.IncidentID),
			logging.Audience(string(a.Audience)),
			logging.Error(err),
			"attempt", attempt,
			"retry_in", wait.String())
	}

	start := time.Now()
	err := backoff.RetryNotify(op,
		backoff.WithContext(backoff.WithMaxRetries(b, uint64(d.cfg.MaxAttempts-1)), ctx),
		notify)
	metrics.DeliveryDuration.WithLabelValues(ch.Name()).Observe(time.Since(start).Seconds())

	if err != nil {
		d.failed.Inc()
		metrics.AlertsTotal.WithLabelValues(string(a.Audience), "failed").Inc()
		d.logger.ErrorContext(ctx, "alert delivery failed",
			logging.IncidentID(a.IncidentID),
			logging.Audience(string(a.Audience)),
			logging.Error(err),
			"attempts", attempt,
			"channel", ch.Name())
		d.release(ctx, del)
		if d.deadLetter != nil {
			if dlErr := d.deadLetter.DeadLetter(context.WithoutCancel(ctx), a, err); dlErr != nil {
				d.logger.ErrorContext(ctx, "failed to dead-letter alert",
					logging.IncidentID(a.IncidentID),
					logging.Error(dlErr))
			}
		}
		return
	}

	d.delivered.Inc()
	metrics.AlertsTotal.WithLabelValues(string(a.Audience), "sent").Inc()
	if d.onDelivered != nil {
		d.onDelivered(ctx, a)
	}
}

// release ignores cancellation of ctx.
func (d *Dispatcher) release(ctx context.Context, del Delivery) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.router.Release(ctx, del); err != nil {
		d.logger.Error("failed to release delivery reservation",
			logging.IncidentID(del.Alert.IncidentID),
			logging.Audience(string(del.Alert.Audience)),
			logging.Error(err))
	}
}

func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
		Queued:    len(d.queue),
	}
}
