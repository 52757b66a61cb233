package nats

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/adcraft-labs/creative-qa/common/logging"
	"github.com/adcraft-labs/creative-qa/common/messaging"
	"github.com/adcraft-labs/creative-qa/monitor/internal/models"
)

// MeasurementSink accepts measurements from the feed.
type MeasurementSink interface {
	RecordMeasurements(ctx context.Context, ms []models.Measurement, source string) (int, error)
}

// Handler consumes the metrics feed.
type Handler struct {
	sub    messaging.Subscriber
	sink   MeasurementSink
	subs   []messaging.Subscription
	logger *logging.Logger
}

func NewHandler(sub messaging.Subscriber, sink MeasurementSink, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		sub:    sub,
		sink:   sink,
		logger: logger.With(logging.Service("nats-handler")),
	}
}

// Start joins the ingest queue group so replicas share the feed.
func (h *Handler) Start(ctx context.Context) error {
	sub, err := h.sub.QueueSubscribe(messaging.SubjectMetricsIngest, messaging.QueueMetricsIngest, h.handleMeasurements)
	if err != nil {
		return fmt.Errorf("failed to subscribe to metrics feed: %w", err)
	}
	h.subs = append(h.subs, sub)

	h.logger.InfoContext(ctx, "NATS handler started",
		"subject", messaging.SubjectMetricsIngest,
		"queue_group", messaging.QueueMetricsIngest)
	return nil
}

func (h *Handler) Stop() error {
	h.logger.Info("Stopping NATS handler")
	for _, sub := range h.subs {
		if err := sub.Unsubscribe(); err != nil {
			h.logger.Warn("Failed to unsubscribe", logging.Error(err))
		}
	}
	h.subs = nil
	return nil
}

// handleMeasurements accepts a single measurement object or an array.
func (h *Handler) handleMeasurements(ctx context.Context, msg *messaging.Message) error {
	ms, err := DecodeMeasurements(msg.Data)
	if err != nil {
		return fmt.Errorf("decode measurements: %w", err)
	}
	n, err := h.sink.RecordMeasurements(ctx, ms, "nats")
	if err != nil {
		return fmt.Errorf("record measurements: accepted %d of %d: %w", n, len(ms), err)
	}
	h.logger.DebugContext(ctx, "measurements ingested", "count", n)
	return nil
}

// DecodeMeasurements parses a JSON object or array of measurements.
func DecodeMeasurements(data []byte) ([]models.Measurement, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	if data[0] == '[' {
		var ms []models.Measurement
		if err := json.Unmarshal(data, &ms); err != nil {
			return nil, err
		}
		return ms, nil
	}
	var m models.Measurement
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return []models.Measurement{m}, nil
}
