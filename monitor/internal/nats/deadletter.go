package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/atomic"

	"github.com/adcraft-labs/creative-qa/common/logging"
	"github.com/adcraft-labs/creative-qa/common/messaging"
	natsclient "github.com/adcraft-labs/creative-qa/common/messaging/nats"
	"github.com/adcraft-labs/creative-qa/monitor/internal/models"
)

const DefaultDeadLetterStream = "QA_ALERTS_DLQ"

// FailedAlert is the dead-letter record for an alert that exhausted retries.
type FailedAlert struct {
	Alert    *models.Alert `json:"alert"`
	Error    string        `json:"error"`
	FailedAt time.Time     `json:"failed_at"`
}

type syncPublisher interface {
	PublishSync(ctx context.Context, subject string, data []byte) (*jetstream.PubAck, error)
}

// DeadLetter writes undeliverable alerts to a JetStream stream so they can be
// inspected and replayed.
type DeadLetter struct {
	js      syncPublisher
	stream  jetstream.Stream
	written *atomic.Int64
	logger  *logging.Logger
}

// NewDeadLetter ensures the stream exists.
func NewDeadLetter(ctx context.Context, js *natsclient.JetStreamClient, streamName string, logger *logging.Logger) (*DeadLetter, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream client is nil")
	}
	if streamName == "" {
		streamName = DefaultDeadLetterStream
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := natsclient.DefaultStreamConfig(streamName, []string{messaging.SubjectAlertsDeadLetter + ".>"})
	stream, err := js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create dead-letter stream: %w", err)
	}
	logger.Info("dead-letter stream ready", "stream", streamName)

	return &DeadLetter{js: js, stream: stream, written: atomic.NewInt64(0), logger: logger}, nil
}

func (d *DeadLetter) DeadLetter(ctx context.Context, a *models.Alert, cause error) error {
	rec := FailedAlert{Alert: a, FailedAt: time.Now().UTC()}
	if cause != nil {
		rec.Error = cause.Error()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal dead-letter entry: %w", err)
	}
	if _, err := d.js.PublishSync(ctx, messaging.AlertDeadLetterSubject(string(a.Audience)), data); err != nil {
		return fmt.Errorf("publish dead-letter entry: %w", err)
	}
	d.written.Inc()
	d.logger.Warn("alert dead-lettered",
		logging.IncidentID(a.IncidentID),
		logging.Audience(string(a.Audience)))
	return nil
}

// Stats reports local and stream-level counters.
func (d *DeadLetter) Stats(ctx context.Context) map[string]interface{} {
	stats := map[string]interface{}{
		"backend":       "jetstream",
		"written_local": d.written.Load(),
	}
	if d.stream == nil {
		return stats
	}
	info, err := d.stream.Info(ctx)
	if err != nil {
		stats["error"] = err.Error()
		return stats
	}
	stats["total_messages"] = info.State.Msgs
	stats["total_bytes"] = info.State.Bytes
	return stats
}
