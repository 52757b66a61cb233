package incident

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adcraft-labs/creative-qa/common/logging"
	"github.com/adcraft-labs/creative-qa/monitor/internal/models"
	"github.com/adcraft-labs/creative-qa/monitor/internal/repository"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestTracker(t *testing.T) (*Tracker, *repository.MemoryRepository, *fakeClock) {
	t.Helper()
	repo := repository.NewMemoryRepository()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	tr := New(DefaultConfig(), repo, logging.Discard())
	tr.now = clock.Now
	return tr, repo, clock
}

func anomaly(metric string, sev models.Severity, at time.Time) models.Event {
	return models.NewAnomalyEvent(&models.AnomalyEvent{
		MetricName:    metric,
		WindowStart:   at.Add(-15 * time.Minute),
		WindowEnd:     at,
		ObservedValue: 0.4,
		Baseline:      0.98,
		Severity:      sev,
		Trigger:       models.TriggerStatic,
		EventType:     models.EventPerformance,
	})
}

func TestRecord_OpensThenAttaches(t *testing.T) {
	tr, repo, clock := newTestTracker(t)
	ctx := context.Background()

	first, err := tr.Record(ctx, anomaly("success_rate", models.SeverityWarning, clock.Now()))
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.True(t, first.Notify)
	assert.Equal(t, models.IncidentOpen, first.Incident.State)
	assert.Equal(t, "metric:success_rate", first.Incident.FamilyKey)

	clock.Advance(5 * time.Minute)
	second, err := tr.Record(ctx, anomaly("success_rate", models.SeverityInfo, clock.Now()))
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.False(t, second.Escalated)
	assert.Equal(t, first.Incident.ID, second.Incident.ID)
	assert.Len(t, second.Incident.RelatedEvents, 2)
	assert.Equal(t, models.SeverityWarning, second.Incident.Severity, "severity never decreases")

	clock.Advance(time.Minute)
	third, err := tr.Record(ctx, anomaly("success_rate", models.SeverityCritical, clock.Now()))
	require.NoError(t, err)
	assert.True(t, third.Escalated)
	assert.Equal(t, models.SeverityCritical, third.Incident.Severity)

	stored, err := repo.GetIncident(ctx, first.Incident.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Version)
	assert.Len(t, stored.RelatedEvents, 3)
	assert.Equal(t, clock.Now(), stored.LastEventAt)

	// A different family gets its own incident.
	other, err := tr.Record(ctx, anomaly("generation_seconds", models.SeverityWarning, clock.Now()))
	require.NoError(t, err)
	assert.True(t, other.Created)
	assert.NotEqual(t, first.Incident.ID, other.Incident.ID)
	assert.Len(t, tr.Active(), 2)
}

func TestAcknowledge(t *testing.T) {
	tr, _, clock := newTestTracker(t)
	ctx := context.Background()

	res, err := tr.Record(ctx, anomaly("success_rate", models.SeverityWarning, clock.Now()))
	require.NoError(t, err)
	id := res.Incident.ID

	inc, changed, err := tr.Acknowledge(ctx, id, "alice")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.IncidentAcknowledged, inc.State)
	assert.Equal(t, "alice", inc.AcknowledgedBy)
	require.NotNil(t, inc.AcknowledgedAt)

	inc, changed, err = tr.Acknowledge(ctx, id, "bob")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, "alice", inc.AcknowledgedBy)

	// Same-severity events are attached silently.
	res, err = tr.Record(ctx, anomaly("success_rate", models.SeverityWarning, clock.Now()))
	require.NoError(t, err)
	assert.False(t, res.Notify)
	assert.Equal(t, models.IncidentAcknowledged, res.Incident.State)

	// Escalation reopens it.
	res, err = tr.Record(ctx, anomaly("success_rate", models.SeverityCritical, clock.Now()))
	require.NoError(t, err)
	assert.True(t, res.Escalated)
	assert.True(t, res.Notify)
	assert.Equal(t, models.IncidentOpen, res.Incident.State)
}

func TestResolve(t *testing.T) {
	tr, _, clock := newTestTracker(t)
	ctx := context.Background()

	res, err := tr.Record(ctx, anomaly("success_rate", models.SeverityWarning, clock.Now()))
	require.NoError(t, err)
	id := res.Incident.ID

	inc, changed, err := tr.Resolve(ctx, id, "alice", "")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.IncidentResolved, inc.State)
	assert.Equal(t, ReasonManual, inc.ResolutionReason)
	assert.Empty(t, tr.Active())

	tests := []struct {
		name string
		call func() (*models.Incident, bool, error)
	}{
		{"resolve again", func() (*models.Incident, bool, error) { return tr.Resolve(ctx, id, "bob", "dup") }},
		{"acknowledge resolved", func() (*models.Incident, bool, error) { return tr.Acknowledge(ctx, id, "bob") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inc, changed, err := tt.call()
			require.NoError(t, err)
			assert.False(t, changed)
			assert.Equal(t, models.IncidentResolved, inc.State)
			assert.Equal(t, "alice", inc.ResolvedBy)
		})
	}

	next, err := tr.Record(ctx, anomaly("success_rate", models.SeverityWarning, clock.Now()))
	require.NoError(t, err)
	assert.True(t, next.Created)
	assert.NotEqual(t, id, next.Incident.ID)
}

func TestUnknownIncident(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	ctx := context.Background()

	_, _, err := tr.Acknowledge(ctx, "missing", "alice")
	assert.ErrorIs(t, err, ErrUnknownIncident)
	_, _, err = tr.Resolve(ctx, "missing", "alice", "")
	assert.ErrorIs(t, err, ErrUnknownIncident)
}

func TestSweep_AutoExpires(t *testing.T) {
	tr, repo, clock := newTestTracker(t)
	ctx := context.Background()

	idle, err := tr.Record(ctx, anomaly("success_rate", models.SeverityWarning, clock.Now()))
	require.NoError(t, err)
	_, _, err = tr.Acknowledge(ctx, idle.Incident.ID, "alice")
	require.NoError(t, err)

	clock.Advance(90 * time.Minute)
	busy, err := tr.Record(ctx, anomaly("generation_seconds", models.SeverityWarning, clock.Now()))
	require.NoError(t, err)

	clock.Advance(time.Hour)
	assert.Equal(t, 1, tr.Sweep(ctx))

	stored, err := repo.GetIncident(ctx, idle.Incident.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IncidentResolved, stored.State)
	assert.Equal(t, ReasonAutoExpired, stored.ResolutionReason)
	assert.Equal(t, SystemActor, stored.ResolvedBy)

	_, ok := tr.Get(busy.Incident.ID)
	assert.True(t, ok)

	// Exactly at the cooldown boundary is not yet expired.
	clock.Advance(30 * time.Minute)
	assert.Equal(t, 0, tr.Sweep(ctx))
	clock.Advance(time.Nanosecond)
	assert.Equal(t, 1, tr.Sweep(ctx))
}

func TestRecord_ExpiredIncidentStartsNewOne(t *testing.T) {
	tr, repo, clock := newTestTracker(t)
	ctx := context.Background()

	first, err := tr.Record(ctx, anomaly("success_rate", models.SeverityWarning, clock.Now()))
	require.NoError(t, err)

	clock.Advance(3 * time.Hour)
	second, err := tr.Record(ctx, anomaly("success_rate", models.SeverityWarning, clock.Now()))
	require.NoError(t, err)
	assert.True(t, second.Created)
	assert.NotEqual(t, first.Incident.ID, second.Incident.ID)

	stored, err := repo.GetIncident(ctx, first.Incident.ID)
	require.NoError(t, err)
	assert.Equal(t, ReasonAutoExpired, stored.ResolutionReason)
	assert.Len(t, stored.RelatedEvents, 1, "event must not be attached to the expired incident")
}

func TestRecord_ConcurrentEventsShareOneIncident(t *testing.T) {
	tr, repo, clock := newTestTracker(t)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sev := models.SeverityWarning
			if i%10 == 0 {
				sev = models.SeverityCritical
			}
			res, err := tr.Record(ctx, anomaly("api.failure_rate", sev, clock.Now()))
			if assert.NoError(t, err) {
				ids <- res.Incident.ID
			}
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		seen[id] = true
	}
	require.Len(t, seen, 1)

	active, err := repo.ListActiveIncidents(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Len(t, active[0].RelatedEvents, n)
	assert.Equal(t, n, active[0].Version)
	assert.Equal(t, models.SeverityCritical, active[0].Severity)
}

func TestMutate_ReloadsOnVersionConflict(t *testing.T) {
	tr, repo, clock := newTestTracker(t)
	ctx := context.Background()

	res, err := tr.Record(ctx, anomaly("success_rate", models.SeverityWarning, clock.Now()))
	require.NoError(t, err)

	// Another writer bumps the stored version behind the tracker's back.
	stored, err := repo.GetIncident(ctx, res.Incident.ID)
	require.NoError(t, err)
	stored.Version++
	stored.AcknowledgedBy = "elsewhere"
	require.NoError(t, repo.UpdateIncident(ctx, stored))

	inc, changed, err := tr.Resolve(ctx, res.Incident.ID, "alice", "fixed")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 3, inc.Version)
	assert.Equal(t, "elsewhere", inc.AcknowledgedBy)
}

type failingStore struct {
	*repository.MemoryRepository
	err error
}

func (s *failingStore) CreateIncident(context.Context, *models.Incident) error { return s.err }

func TestRecord_PersistFailure(t *testing.T) {
	store := &failingStore{MemoryRepository: repository.NewMemoryRepository(), err: errors.New("db down")}
	tr := New(DefaultConfig(), store, logging.Discard())
	ctx := context.Background()

	_, err := tr.Record(ctx, anomaly("success_rate", models.SeverityWarning, time.Now()))
	require.Error(t, err)
	assert.Empty(t, tr.Active())

	store.err = nil
	res, err := tr.Record(ctx, anomaly("success_rate", models.SeverityWarning, time.Now()))
	require.NoError(t, err)
	assert.True(t, res.Created)
}

func TestLoadAndMarkAlerted(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		state := models.IncidentOpen
		if i == 2 {
			state = models.IncidentResolved
		}
		require.NoError(t, repo.CreateIncident(ctx, &models.Incident{
			ID:          fmt.Sprintf("inc-%d", i),
			FamilyKey:   fmt.Sprintf("metric:m%d", i),
			Severity:    models.SeverityWarning,
			State:       state,
			OpenedAt:    now,
			LastEventAt: now,
			Version:     1,
		}))
	}

	tr := New(DefaultConfig(), repo, logging.Discard())
	tr.now = func() time.Time { return now }
	n, err := tr.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	res, err := tr.Record(ctx, anomaly("m0", models.SeverityWarning, now))
	require.NoError(t, err)
	assert.Equal(t, "inc-0", res.Incident.ID)

	alertedAt := now.Add(time.Minute)
	require.NoError(t, tr.MarkAlerted(ctx, "inc-0", alertedAt))
	require.NoError(t, tr.MarkAlerted(ctx, "inc-0", now), "older timestamps are ignored")
	require.NoError(t, tr.MarkAlerted(ctx, "inc-2", alertedAt), "inactive incidents are ignored")

	inc, ok := tr.Get("inc-0")
	require.True(t, ok)
	require.NotNil(t, inc.LastAlertAt)
	assert.Equal(t, alertedAt, *inc.LastAlertAt)
}

func TestRunSweeper_StopsOnCancel(t *testing.T) {
	repo := repository.NewMemoryRepository()
	tr := New(Config{Cooldown: time.Hour, SweepInterval: 5 * time.Millisecond}, repo, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.RunSweeper(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
