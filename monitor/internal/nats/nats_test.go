package nats

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/adcraft-labs/creative-qa/common/logging"
	"github.com/adcraft-labs/creative-qa/common/messaging"
	"github.com/adcraft-labs/creative-qa/monitor/internal/models"
)

type published struct {
	subject string
	data    []byte
}

// fakeBus is an in-process messaging.Client.
type fakeBus struct {
	mu       sync.Mutex
	msgs     []published
	handlers map[string]messaging.MessageHandler
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string]messaging.MessageHandler)}
}

func (b *fakeBus) Publish(_ context.Context, subject string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, published{subject: subject, data: data})
	return nil
}

func (b *fakeBus) PublishMsg(ctx context.Context, msg *messaging.Message) error {
	return b.Publish(ctx, msg.Subject, msg.Data)
}

func (b *fakeBus) Subscribe(subject string, h messaging.MessageHandler) (messaging.Subscription, error) {
	return b.QueueSubscribe(subject, "", h)
}

func (b *fakeBus) QueueSubscribe(subject, _ string, h messaging.MessageHandler) (messaging.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[subject] = h
	return &fakeSub{bus: b, subject: subject}, nil
}

func (b *fakeBus) Deliver(ctx context.Context, subject string, data []byte) error {
	b.mu.Lock()
	h, ok := b.handlers[subject]
	b.mu.Unlock()
	if !ok {
		return errors.New("no subscriber")
	}
	return h(ctx, &messaging.Message{Subject: subject, Data: data})
}

func (b *fakeBus) Close() error { return nil }

type fakeSub struct {
	bus     *fakeBus
	subject string
}

func (s *fakeSub) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.handlers, s.subject)
	s.bus.mu.Unlock()
	return nil
}
func (s *fakeSub) Subject() string { return s.subject }
func (s *fakeSub) IsValid() bool   { return true }

type sinkFunc func(ctx context.Context, ms []models.Measurement, source string) (int, error)

func (f sinkFunc) RecordMeasurements(ctx context.Context, ms []models.Measurement, source string) (int, error) {
	return f(ctx, ms, source)
}

func TestPublisher_IncidentSubjects(t *testing.T) {
	tests := []struct {
		name    string
		state   models.IncidentState
		created bool
		subject string
		action  string
	}{
		{"created", models.IncidentOpen, true, messaging.SubjectIncidentsOpened, "opened"},
		{"acknowledged", models.IncidentAcknowledged, false, messaging.SubjectIncidentsUpdated, "updated"},
		{"resolved", models.IncidentResolved, false, messaging.SubjectIncidentsResolved, "resolved"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := newFakeBus()
			p := NewPublisher(bus)
			require.NoError(t, p.PublishIncident(context.Background(), &models.Incident{ID: "inc-1", State: tt.state}, tt.created))

			require.Len(t, bus.msgs, 1)
			assert.Equal(t, tt.subject, bus.msgs[0].subject)
			var ev IncidentEvent
			require.NoError(t, json.Unmarshal(bus.msgs[0].data, &ev))
			assert.Equal(t, tt.action, ev.Action)
			assert.Equal(t, "inc-1", ev.Incident.ID)
		})
	}
}

func TestPublisher_ReportsAndAlerts(t *testing.T) {
	bus := newFakeBus()
	p := NewPublisher(bus)
	ctx := context.Background()

	require.NoError(t, p.PublishReportEvaluated(ctx, &models.ReportRecord{QualityReport: models.QualityReport{CreativeID: "cr-1"}}))
	require.NoError(t, p.PublishAlertSent(ctx, &models.Alert{ID: "al-1"}))

	require.Len(t, bus.msgs, 2)
	assert.Equal(t, messaging.SubjectReportsEvaluated, bus.msgs[0].subject)
	assert.Equal(t, messaging.SubjectAlertsSent, bus.msgs[1].subject)
}

func TestHandler_Measurements(t *testing.T) {
	bus := newFakeBus()
	var got []models.Measurement
	h := NewHandler(bus, sinkFunc(func(_ context.Context, ms []models.Measurement, source string) (int, error) {
		assert.Equal(t, "nats", source)
		got = append(got, ms...)
		return len(ms), nil
	}), logging.Discard())
	ctx := context.Background()
	require.NoError(t, h.Start(ctx))

	require.NoError(t, bus.Deliver(ctx, messaging.SubjectMetricsIngest,
		[]byte(`{"metric_name":"success_rate","value":0.97,"timestamp":"2025-06-01T09:00:00Z"}`)))
	require.NoError(t, bus.Deliver(ctx, messaging.SubjectMetricsIngest,
		[]byte(` [{"metric_name":"generation_seconds","value":41.5},{"metric_name":"generation_seconds","value":39}]`)))
	assert.Error(t, bus.Deliver(ctx, messaging.SubjectMetricsIngest, []byte(`not json`)))
	assert.Error(t, bus.Deliver(ctx, messaging.SubjectMetricsIngest, []byte(`  `)))

	require.Len(t, got, 3)
	assert.Equal(t, "success_rate", got[0].MetricName)
	assert.Equal(t, time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC), got[0].Timestamp)
	assert.Equal(t, 39.0, got[2].Value)

	require.NoError(t, h.Stop())
	assert.Error(t, bus.Deliver(ctx, messaging.SubjectMetricsIngest, []byte(`{}`)))
}

func TestHandler_SinkError(t *testing.T) {
	bus := newFakeBus()
	h := NewHandler(bus, sinkFunc(func(context.Context, []models.Measurement, string) (int, error) {
		return 0, errors.New("invalid measurement")
	}), logging.Discard())
	require.NoError(t, h.Start(context.Background()))

	err := bus.Deliver(context.Background(), messaging.SubjectMetricsIngest, []byte(`{"metric_name":""}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepted 0 of 1")
}

type fakeJetStream struct {
	subjects []string
	data     [][]byte
	err      error
}

func (f *fakeJetStream) PublishSync(_ context.Context, subject string, data []byte) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.subjects = append(f.subjects, subject)
	f.data = append(f.data, data)
	return &jetstream.PubAck{Stream: DefaultDeadLetterStream, Sequence: uint64(len(f.data))}, nil
}

func TestDeadLetter(t *testing.T) {
	js := &fakeJetStream{}
	dl := &DeadLetter{js: js, written: atomic.NewInt64(0), logger: logging.Discard()}

	alert := &models.Alert{ID: "al-1", IncidentID: "inc-1", Audience: models.AudienceExecutive}
	require.NoError(t, dl.DeadLetter(context.Background(), alert, errors.New("status 503")))

	require.Len(t, js.subjects, 1)
	assert.Equal(t, "qa.alerts.dlq.executive", js.subjects[0])
	var rec FailedAlert
	require.NoError(t, json.Unmarshal(js.data[0], &rec))
	assert.Equal(t, "al-1", rec.Alert.ID)
	assert.Equal(t, "status 503", rec.Error)
	assert.Equal(t, int64(1), dl.Stats(context.Background())["written_local"])

	js.err = errors.New("no responders")
	assert.Error(t, dl.DeadLetter(context.Background(), alert, nil))
}
