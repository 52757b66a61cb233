package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// JetStreamClient adds durable streams to Client.
type JetStreamClient struct {
	*Client
	js jetstream.JetStream
}

// StreamConfig is the subset of jetstream.StreamConfig the monitor sets.
type StreamConfig struct {
	Name     string
	Subjects []string
	MaxAge   time.Duration
	MaxBytes int64
	MaxMsgs  int64
	Storage  jetstream.StorageType
}

// DefaultStreamConfig keeps a week of messages on disk, capped at 256MB.
func DefaultStreamConfig(name string, subjects []string) StreamConfig {
	return StreamConfig{
		Name:     name,
		Subjects: subjects,
		MaxAge:   7 * 24 * time.Hour,
		MaxBytes: 256 * 1024 * 1024,
		MaxMsgs:  100000,
		Storage:  jetstream.FileStorage,
	}
}

// NewJetStreamClient connects and opens a JetStream context.
func NewJetStreamClient(cfg Config) (*JetStreamClient, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	js, err := jetstream.New(client.conn)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return &JetStreamClient{Client: client, js: js}, nil
}

// JetStream exposes the underlying context for stream-level operations.
func (c *JetStreamClient) JetStream() jetstream.JetStream {
	return c.js
}

// CreateOrUpdateStream ensures a limits-retention stream described by cfg exists.
func (c *JetStreamClient) CreateOrUpdateStream(ctx context.Context, cfg StreamConfig) (jetstream.Stream, error) {
	stream, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Name,
		Subjects:  cfg.Subjects,
		MaxAge:    cfg.MaxAge,
		MaxBytes:  cfg.MaxBytes,
		MaxMsgs:   cfg.MaxMsgs,
		Retention: jetstream.LimitsPolicy,
		Storage:   cfg.Storage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.Name, err)
	}
	return stream, nil
}

// PublishSync publishes and waits for the stream acknowledgement.
func (c *JetStreamClient) PublishSync(ctx context.Context, subject string, data []byte) (*jetstream.PubAck, error) {
	return c.js.Publish(ctx, subject, data)
}
