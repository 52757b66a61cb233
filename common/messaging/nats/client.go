// Package nats implements the messaging interfaces on top of NATS core and
// JetStream.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/adcraft-labs/creative-qa/common/messaging"
)

// Client implements messaging.Client using a NATS connection.
type Client struct {
	conn   *nats.Conn
	logger *slog.Logger

	mu   sync.Mutex
	subs []*subscription
}

var _ messaging.Client = (*Client)(nil)

// Config holds connection settings.
type Config struct {
	URL           string
	Name          string
	MaxReconnects int // -1 reconnects forever
	ReconnectWait time.Duration
	Timeout       time.Duration
	Token         string
	Logger        *slog.Logger
}

// DefaultConfig returns settings for a local NATS server.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "qa-monitor",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NewClient connects to the server described by cfg.
func NewClient(cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Client{conn: conn, logger: logger}, nil
}

func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.conn.Publish(subject, data)
}

func (c *Client) PublishMsg(ctx context.Context, msg *messaging.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	natsMsg := &nats.Msg{Subject: msg.Subject, Data: msg.Data, Reply: msg.Reply}
	if len(msg.Metadata) > 0 {
		natsMsg.Header = make(nats.Header, len(msg.Metadata))
		for k, v := range msg.Metadata {
			natsMsg.Header.Set(k, v)
		}
	}
	return c.conn.PublishMsg(natsMsg)
}

func (c *Client) Subscribe(subject string, handler messaging.MessageHandler) (messaging.Subscription, error) {
	sub, err := c.conn.Subscribe(subject, c.dispatch(subject, handler))
	if err != nil {
		return nil, err
	}
	return c.track(sub), nil
}

func (c *Client) QueueSubscribe(subject, queue string, handler messaging.MessageHandler) (messaging.Subscription, error) {
	sub, err := c.conn.QueueSubscribe(subject, queue, c.dispatch(subject, handler))
	if err != nil {
		return nil, err
	}
	return c.track(sub), nil
}

func (c *Client) dispatch(subject string, handler messaging.MessageHandler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		if err := handler(context.Background(), toMessage(msg)); err != nil {
			c.logger.Warn("message handler failed",
				slog.String("subject", subject),
				slog.String("error", err.Error()))
		}
	}
}

func (c *Client) track(sub *nats.Subscription) *subscription {
	s := &subscription{natsSub: sub}
	c.mu.Lock()
	c.subs = append(c.subs, s)
	c.mu.Unlock()
	return s
}

// Close unsubscribes everything and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.subs = nil
	c.mu.Unlock()

	c.conn.Close()
	return nil
}

// Drain lets in-flight handlers finish before closing.
func (c *Client) Drain() error {
	return c.conn.Drain()
}

func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

type subscription struct {
	natsSub *nats.Subscription
}

func (s *subscription) Unsubscribe() error { return s.natsSub.Unsubscribe() }
func (s *subscription) Subject() string    { return s.natsSub.Subject }
func (s *subscription) IsValid() bool      { return s.natsSub.IsValid() }

func toMessage(msg *nats.Msg) *messaging.Message {
	m := &messaging.Message{
		Subject:   msg.Subject,
		Data:      msg.Data,
		Reply:     msg.Reply,
		Timestamp: time.Now(),
	}
	if msg.Header != nil {
		m.Metadata = make(map[string]string, len(msg.Header))
		for k := range msg.Header {
			m.Metadata[k] = msg.Header.Get(k)
		}
	}
	return m
}
