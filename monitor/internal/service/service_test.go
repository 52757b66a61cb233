package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adcraft-labs/creative-qa/common/logging"
	"github.com/adcraft-labs/creative-qa/common/messaging"
	"github.com/adcraft-labs/creative-qa/monitor/internal/deliverylog"
	"github.com/adcraft-labs/creative-qa/monitor/internal/detector"
	"github.com/adcraft-labs/creative-qa/monitor/internal/incident"
	"github.com/adcraft-labs/creative-qa/monitor/internal/metricstore"
	"github.com/adcraft-labs/creative-qa/monitor/internal/models"
	"github.com/adcraft-labs/creative-qa/monitor/internal/notification"
	"github.com/adcraft-labs/creative-qa/monitor/internal/quality"
	"github.com/adcraft-labs/creative-qa/monitor/internal/repository"
	"github.com/adcraft-labs/creative-qa/monitor/internal/router"
)

var (
	steelBlue = models.Color{R: 70, G: 130, B: 180}
	white     = models.Color{R: 255, G: 255, B: 255}
	gold      = models.Color{R: 255, G: 215, B: 0}
)

// brandPNG paints steel blue, white and gold bands.
func brandPNG(t testing.TB, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		c := steelBlue
		switch {
		case y >= h*8/10:
			c = gold
		case y >= h*6/10:
			c = white
		}
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type recordingChannel struct {
	mu     sync.Mutex
	alerts []*models.Alert
}

func (c *recordingChannel) Name() string { return "recording" }

func (c *recordingChannel) Deliver(_ context.Context, a *models.Alert) error {
	c.mu.Lock()
	c.alerts = append(c.alerts, a)
	c.mu.Unlock()
	return nil
}

func (c *recordingChannel) Audiences() []models.Audience {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Audience, 0, len(c.alerts))
	for _, a := range c.alerts {
		out = append(out, a.Audience)
	}
	return out
}

func (c *recordingChannel) For(models.Audience) notification.Channel { return c }

type recordingPublisher struct {
	mu        sync.Mutex
	reports   int
	incidents []string
	alerts    int
}

func (p *recordingPublisher) PublishReportEvaluated(context.Context, *models.ReportRecord) error {
	p.mu.Lock()
	p.reports++
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) PublishIncident(_ context.Context, inc *models.Incident, _ bool) error {
	p.mu.Lock()
	p.incidents = append(p.incidents, string(inc.State))
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) PublishAlertSent(context.Context, *models.Alert) error {
	p.mu.Lock()
	p.alerts++
	p.mu.Unlock()
	return nil
}

type harness struct {
	svc     *Service
	repo    *repository.MemoryRepository
	store   *metricstore.Store
	channel *recordingChannel
	pub     *recordingPublisher
	dlog    *deliverylog.MemoryLog
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	logger := logging.Discard()
	repo := repository.NewMemoryRepository()
	store := metricstore.New(metricstore.DefaultConfig())
	evaluator, err := quality.New(quality.DefaultConfig())
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.SnapshotInterval = 0
	cfg.Dispatch.InitialBackoff = time.Millisecond
	cfg.Dispatch.MaxBackoff = 5 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{
		repo:    repo,
		store:   store,
		channel: &recordingChannel{},
		pub:     &recordingPublisher{},
		dlog:    deliverylog.NewMemoryLog(),
	}
	h.svc = New(cfg, Deps{
		Repo:      repo,
		Store:     store,
		Evaluator: evaluator,
		Tracker:   incident.New(incident.DefaultConfig(), repo, logger),
		Router:    router.New(router.DefaultConfig(), h.dlog, logger),
		Channels:  h.channel,
		Publisher: h.pub,
		Logger:    logger,
	})
	return h
}

// run starts the service and stops it when the test ends.
func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.svc.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func evaluateRequest(t testing.TB, campaignID, message string) *models.EvaluateRequest {
	return &models.EvaluateRequest{
		Creative: models.Creative{
			ID:       "cr-" + gofakeit.LetterN(8),
			Format:   "png",
			Width:    900,
			Height:   900,
			Payload:  brandPNG(t, 900, 900),
			Elements: []string{models.ElementBrandLogo, models.ElementProductName, models.ElementCampaignMessage},
		},
		Campaign: &models.CampaignContext{
			CampaignID:  campaignID,
			BrandColors: []models.Color{steelBlue, white, gold},
			Message:     message,
		},
	}
}

func TestEvaluateCreative_PassRecordsVerdict(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	campaign := gofakeit.UUID()

	report, err := h.svc.EvaluateCreative(ctx, evaluateRequest(t, campaign, "Discover the new spring collection today"))
	require.NoError(t, err)
	assert.Equal(t, models.VerdictPass, report.Verdict)

	stored, err := h.svc.GetReport(ctx, report.CreativeID)
	require.NoError(t, err)
	assert.Equal(t, *report, stored.QualityReport)
	assert.False(t, stored.EvaluatedAt.IsZero())

	latest, ok := h.store.Latest(MetricQualityComposite)
	require.True(t, ok)
	assert.Equal(t, report.Composite, latest.Value)
	assert.Equal(t, campaign, latest.Tags["campaign_id"])
	pass, ok := h.store.Latest(MetricQualityPass)
	require.True(t, ok)
	assert.Equal(t, 1.0, pass.Value)

	assert.Empty(t, h.svc.events, "passing report must not queue an event")
	assert.Equal(t, 1, h.pub.reports)
}

func TestEvaluateCreative_MalformedInput(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	req := evaluateRequest(t, "spring", "Discover the new spring collection today")
	req.Campaign = nil

	report, err := h.svc.EvaluateCreative(ctx, req)
	require.ErrorIs(t, err, quality.ErrInvalidInput)
	require.NotNil(t, report)
	assert.Equal(t, models.VerdictFail, report.Verdict)
	assert.NotEmpty(t, report.Violations)

	_, err = h.svc.GetReport(ctx, req.Creative.ID)
	assert.NoError(t, err, "malformed reports are still persisted")
	assert.Empty(t, h.store.Metrics())
	assert.Empty(t, h.svc.events)

	_, err = h.svc.EvaluateCreative(ctx, nil)
	assert.ErrorIs(t, err, quality.ErrInvalidInput)
}

func TestEvaluateCreative_FailingReportRaisesIncidentAndAlerts(t *testing.T) {
	h := newHarness(t, nil)
	h.run(t)
	ctx := context.Background()

	report, err := h.svc.EvaluateCreative(ctx, evaluateRequest(t, "spring", "Win a free prize with every order"))
	require.NoError(t, err)
	require.Equal(t, models.VerdictFail, report.Verdict)
	require.Zero(t, report.Scores.ContentSafety)

	// critical routes to executive, it and client
	require.Eventually(t, func() bool {
		return len(h.channel.Audiences()) == 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t,
		[]models.Audience{models.AudienceExecutive, models.AudienceIT, models.AudienceClient},
		h.channel.Audiences())

	resp, err := h.svc.ListIncidents(ctx, &models.ListIncidentsRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Incidents, 1)
	inc := resp.Incidents[0]
	assert.Equal(t, models.SeverityCritical, inc.Severity)
	assert.Equal(t, models.QualityFamily("spring", report.CreativeID), inc.FamilyKey)

	require.Eventually(t, func() bool {
		alerts, err := h.svc.ListIncidentAlerts(ctx, inc.ID)
		return err == nil && len(alerts) == 3
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		got, err := h.svc.GetIncident(ctx, inc.ID)
		return err == nil && got.LastAlertAt != nil
	}, 2*time.Second, 10*time.Millisecond)

	// a second failure within cooldown attaches without re-alerting
	_, err = h.svc.EvaluateCreative(ctx, evaluateRequest(t, "spring", "Enter the contest for a prize today"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, err := h.svc.GetIncident(ctx, inc.ID)
		return err == nil && len(got.RelatedEvents) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, h.channel.Audiences(), 3)
}

func TestClassify(t *testing.T) {
	h := newHarness(t, nil)

	tests := []struct {
		name   string
		report models.QualityReport
		sev    models.Severity
		typ    models.EventType
		gated  bool
	}{
		{
			name:   "passing report",
			report: models.QualityReport{Verdict: models.VerdictPass, Composite: 0.9, Scores: models.Scores{Brand: 1, ContentSafety: 1}},
		},
		{
			name:   "fail above incident threshold",
			report: models.QualityReport{Verdict: models.VerdictFail, Composite: 0.75, Scores: models.Scores{Brand: 1, ContentSafety: 1}},
		},
		{
			name:   "content safety veto is always critical",
			report: models.QualityReport{Verdict: models.VerdictFail, Composite: 0.8, Scores: models.Scores{Brand: 1, ContentSafety: 0}},
			sev:    models.SeverityCritical,
			typ:    models.EventQualityBreach,
			gated:  true,
		},
		{
			name:   "moderate failure is a warning",
			report: models.QualityReport{Verdict: models.VerdictFail, Composite: 0.6, Scores: models.Scores{Brand: 0.8, ContentSafety: 1}},
			sev:    models.SeverityWarning,
			typ:    models.EventQualityBreach,
			gated:  true,
		},
		{
			name:   "low brand score is brand compliance",
			report: models.QualityReport{Verdict: models.VerdictFail, Composite: 0.3, Scores: models.Scores{Brand: 0.2, ContentSafety: 1}},
			sev:    models.SeverityCritical,
			typ:    models.EventBrandCompliance,
			gated:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sev, typ, gated := h.svc.classify(&tt.report)
			assert.Equal(t, tt.gated, gated)
			assert.Equal(t, tt.sev, sev)
			assert.Equal(t, tt.typ, typ)
		})
	}
}

func TestRecordMeasurements_PartialBatch(t *testing.T) {
	h := newHarness(t, nil)
	now := time.Now()

	ms := []models.Measurement{
		{MetricName: "pipeline.success_rate", Value: gofakeit.Float64Range(0.9, 1), Timestamp: now},
		{MetricName: "", Value: 1, Timestamp: now},
		{MetricName: "pipeline.generation_seconds", Value: gofakeit.Float64Range(10, 90), Timestamp: now},
	}
	n, err := h.svc.RecordMeasurements(context.Background(), ms, "http")
	assert.Equal(t, 2, n)
	require.ErrorIs(t, err, ErrInvalidMeasurement)
	assert.Contains(t, err.Error(), "measurement 1")
	assert.Equal(t, []string{"pipeline.generation_seconds", "pipeline.success_rate"}, h.svc.Metrics())
}

func TestSubmit_DropsWhenQueueFull(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.EventQueueSize = 1 })
	ctx := context.Background()
	ev := &models.AnomalyEvent{MetricName: "api.failure_rate", Severity: models.SeverityWarning, WindowEnd: time.Now()}

	assert.True(t, h.svc.Submit(ctx, models.NewAnomalyEvent(ev)))
	assert.False(t, h.svc.Submit(ctx, models.NewAnomalyEvent(ev)))

	h.svc.HandleAnomaly(ctx, ev)
	assert.Len(t, h.svc.events, 1)
}

func TestOperatorActions(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.svc.processEvent(ctx, models.NewAnomalyEvent(&models.AnomalyEvent{
		MetricName:    "pipeline.success_rate",
		Severity:      models.SeverityWarning,
		EventType:     models.EventPerformance,
		Trigger:       models.TriggerStatic,
		WindowEnd:     time.Now(),
		ObservedValue: 0.6,
		Baseline:      0.97,
	}), false)
	active := h.svc.tracker.Active()
	require.Len(t, active, 1)
	id := active[0].ID

	inc, err := h.svc.Acknowledge(ctx, id, "ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.IncidentAcknowledged, inc.State)

	again, err := h.svc.Acknowledge(ctx, id, "ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, inc.Version, again.Version, "repeat acknowledge is a no-op")

	resolved, err := h.svc.Resolve(ctx, id, "ops@example.com", "")
	require.NoError(t, err)
	assert.Equal(t, models.IncidentResolved, resolved.State)

	stillResolved, err := h.svc.Acknowledge(ctx, id, "ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.IncidentResolved, stillResolved.State)

	_, err = h.svc.Acknowledge(ctx, "missing", "ops@example.com")
	assert.ErrorIs(t, err, repository.ErrIncidentNotFound)
	_, err = h.svc.Resolve(ctx, "missing", "ops@example.com", "")
	assert.ErrorIs(t, err, repository.ErrIncidentNotFound)
	_, err = h.svc.GetIncident(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrIncidentNotFound)
	_, err = h.svc.ListIncidentAlerts(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrIncidentNotFound)

	assert.Equal(t, []string{"open", "acknowledged", "resolved"}, h.pub.incidents)
}

func TestListIncidents_InvalidFilter(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.svc.ListIncidents(ctx, &models.ListIncidentsRequest{State: "closed"})
	assert.ErrorIs(t, err, ErrInvalidFilter)
	_, err = h.svc.ListIncidents(ctx, &models.ListIncidentsRequest{Severity: "fatal"})
	assert.ErrorIs(t, err, ErrInvalidFilter)

	resp, err := h.svc.ListIncidents(ctx, &models.ListIncidentsRequest{})
	require.NoError(t, err)
	assert.NotNil(t, resp.Incidents)
	assert.Zero(t, resp.Total)
}

func TestMetricWindow(t *testing.T) {
	h := newHarness(t, nil)
	base := time.Now().Add(-10 * time.Minute)
	for i, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		require.NoError(t, h.store.Append(models.Measurement{
			MetricName: "pipeline.generation_seconds",
			Value:      v,
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	resp, err := h.svc.MetricWindow("pipeline.generation_seconds", 0, 0)
	require.NoError(t, err)
	require.NotNil(t, resp.Stats)
	assert.Equal(t, 8, resp.Stats.Count)
	assert.InDelta(t, 5.0, resp.Stats.Mean, 1e-9)
	assert.InDelta(t, 2.0, resp.Stats.StdDev, 1e-9)
	assert.Equal(t, 2.0, resp.Stats.Min)
	assert.Equal(t, 9.0, resp.Stats.Max)
	assert.Equal(t, 9.0, resp.Stats.Latest)

	last, err := h.svc.MetricWindow("pipeline.generation_seconds", 3, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, last.Stats.Count)

	_, err = h.svc.MetricWindow("unknown.metric", 0, 0)
	assert.ErrorIs(t, err, ErrMetricNotFound)
}

func TestInitAndShutdown_PersistState(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.svc.RecordMeasurements(ctx, []models.Measurement{
		{MetricName: "api.failure_rate", Value: 0.02, Timestamp: time.Now()},
	}, "http")
	require.NoError(t, err)
	h.svc.processEvent(ctx, models.NewAnomalyEvent(&models.AnomalyEvent{
		MetricName: "api.failure_rate",
		Severity:   models.SeverityCritical,
		EventType:  models.EventAPIFailure,
		WindowEnd:  time.Now(),
	}), false)
	require.NoError(t, h.svc.Shutdown(ctx))

	// a fresh service over the same repository picks up where it left off
	logger := logging.Discard()
	evaluator, err := quality.New(quality.DefaultConfig())
	require.NoError(t, err)
	store := metricstore.New(metricstore.DefaultConfig())
	tracker := incident.New(incident.DefaultConfig(), h.repo, logger)
	restarted := New(DefaultConfig(), Deps{
		Repo:      h.repo,
		Store:     store,
		Evaluator: evaluator,
		Tracker:   tracker,
		Router:    router.New(router.DefaultConfig(), deliverylog.NewMemoryLog(), logger),
		Channels:  h.channel,
		Logger:    logger,
	})
	require.NoError(t, restarted.Init(ctx))

	assert.Equal(t, 1, store.Len())
	assert.Len(t, tracker.Active(), 1)
	assert.NoError(t, restarted.Health(ctx))
}

func TestRun_RecordsQueuedEventsOnShutdown(t *testing.T) {
	h := newHarness(t, nil)
	ev := &models.AnomalyEvent{
		MetricName: "pipeline.success_rate",
		Severity:   models.SeverityWarning,
		EventType:  models.EventPerformance,
		WindowEnd:  time.Now(),
	}
	require.True(t, h.svc.Submit(context.Background(), models.NewAnomalyEvent(ev)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.svc.Run(ctx)

	assert.Len(t, h.svc.tracker.Active(), 1)
	assert.Empty(t, h.channel.Audiences(), "no alerts are routed once shutdown has begun")
}

func TestQualityCompositeFloor_UsesRollingMean(t *testing.T) {
	h := newHarness(t, nil)
	h.run(t)
	ctx := context.Background()

	det := detector.New(detector.Config{
		Interval:       time.Hour,
		WindowSize:     20,
		WindowDuration: 15 * time.Minute,
		MinSamples:     5,
		K:              2,
		Rules: map[string]detector.Rule{
			MetricQualityComposite: {
				Floor:     detector.Float(0.7),
				Aggregate: detector.AggregateMean,
				EventType: models.EventQualityBreach,
			},
		},
	}, h.store, h.svc, logging.Discard())

	base := time.Now().Add(-12 * time.Minute)
	n := 0
	push := func(vals ...float64) {
		for _, v := range vals {
			require.NoError(t, h.store.Append(models.Measurement{
				MetricName: MetricQualityComposite,
				Value:      v,
				Timestamp:  base.Add(time.Duration(n) * time.Minute),
			}))
			n++
		}
	}

	push(0.9, 0.85, 0.92, 0.88, 0.9, 0.65)
	sum := det.Tick(ctx)
	assert.Zero(t, sum.Anomalies, "one weak creative must not raise a metric incident")

	push(0.5, 0.5, 0.5, 0.5, 0.5, 0.5)
	sum = det.Tick(ctx)
	require.Equal(t, 1, sum.Anomalies)

	require.Eventually(t, func() bool {
		return len(h.svc.tracker.Active()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	inc := h.svc.tracker.Active()[0]
	assert.Equal(t, models.AnomalyFamily(MetricQualityComposite), inc.FamilyKey)
	assert.Equal(t, models.SeverityCritical, inc.Severity)
	assert.Equal(t, models.EventQualityBreach, inc.EventType)
}

func TestSnapshot_PrunesDeliveryLog(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	for _, id := range []string{"inc-a", "inc-b"} {
		_, ok, err := h.dlog.Reserve(ctx, id, models.AudienceIT, time.Millisecond)
		require.NoError(t, err)
		require.True(t, ok)
	}
	_, _, err := h.dlog.Reserve(ctx, "inc-c", models.AudienceExecutive, time.Hour)
	require.NoError(t, err)
	require.Equal(t, 3, h.dlog.Len())

	require.Eventually(t, func() bool {
		h.svc.snapshot(ctx)
		return h.dlog.Len() == 1
	}, time.Second, 5*time.Millisecond)
}

type stubBroker struct {
	messaging.Client
	connected bool
}

func (b *stubBroker) IsConnected() bool { return b.connected }

func TestBrokerHealth(t *testing.T) {
	h := newHarness(t, nil)
	assert.Nil(t, h.svc.BrokerHealth())

	h.svc.broker = &stubBroker{}
	st := h.svc.BrokerHealth()
	require.NotNil(t, st)
	assert.False(t, st.Connected)
	assert.NotEmpty(t, st.Error)

	h.svc.broker = &stubBroker{connected: true}
	assert.True(t, h.svc.BrokerHealth().Connected)
}
