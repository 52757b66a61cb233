// Package notification delivers rendered alerts to external channels.
package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/adcraft-labs/creative-qa/common/logging"
	"github.com/adcraft-labs/creative-qa/monitor/internal/models"
)

// Channel delivers one alert. Implementations must be safe for concurrent use.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, a *models.Alert) error
}

// DeliveryError reports a failed delivery. Permanent errors are not worth
// retrying.
type DeliveryError struct {
	Channel    string
	StatusCode int
	Permanent  bool
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("delivery via %s failed with status %d: %v", e.Channel, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("delivery via %s failed: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsPermanent reports whether err carries a permanent DeliveryError.
func IsPermanent(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Permanent
}

// statusError classifies a non-2xx response. 4xx other than 408 and 429
// will fail the same way on retry.
func statusError(channel string, code int) error {
	permanent := code >= 400 && code < 500 &&
		code != http.StatusRequestTimeout && code != http.StatusTooManyRequests
	return &DeliveryError{
		Channel:    channel,
		StatusCode: code,
		Permanent:  permanent,
		Err:        errors.New(http.StatusText(code)),
	}
}

// LogChannel writes alerts to the structured log.
type LogChannel struct {
	logger *logging.Logger
}

func NewLogChannel(logger *logging.Logger) *LogChannel {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogChannel{logger: logger.With(logging.Service("notification"))}
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Deliver(ctx context.Context, a *models.Alert) error {
	c.logger.InfoContext(ctx, "alert delivered",
		logging.IncidentID(a.IncidentID),
		logging.Audience(string(a.Audience)),
		logging.Severity(string(a.Severity)),
		"subject", a.SubjectLine)
	return nil
}

// Multi fans an alert out to several channels. It fails if any target fails;
// the error is permanent only if every failure is.
type Multi []Channel

func (m Multi) Name() string {
	names := make([]string, len(m))
	for i, c := range m {
		names[i] = c.Name()
	}
	return strings.Join(names, "+")
}

func (m Multi) Deliver(ctx context.Context, a *models.Alert) error {
	var errs []error
	permanent := true
	for _, c := range m {
		if err := c.Deliver(ctx, a); err != nil {
			errs = append(errs, err)
			permanent = permanent && IsPermanent(err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return &DeliveryError{Channel: m.Name(), Permanent: permanent, Err: errors.Join(errs...)}
}

// ChannelSpec configures one audience's channel. URL may list several
// endpoints separated by commas.
type ChannelSpec struct {
	Type    string
	URL     string
	Timeout time.Duration
}

// Directory maps audiences to channels. Audiences without a configured
// channel fall back to the log.
type Directory struct {
	channels map[models.Audience]Channel
	fallback Channel
}

func NewDirectory(specs map[models.Audience]ChannelSpec, logger *logging.Logger) (*Directory, error) {
	d := &Directory{
		channels: make(map[models.Audience]Channel),
		fallback: NewLogChannel(logger),
	}
	for aud, spec := range specs {
		ch, err := build(spec, logger)
		if err != nil {
			return nil, fmt.Errorf("channel for %s: %w", aud, err)
		}
		d.channels[aud] = ch
	}
	return d, nil
}

// Set overrides the channel for one audience.
func (d *Directory) Set(aud models.Audience, ch Channel) {
	d.channels[aud] = ch
}

func (d *Directory) For(aud models.Audience) Channel {
	if ch, ok := d.channels[aud]; ok {
		return ch
	}
	return d.fallback
}

func build(spec ChannelSpec, logger *logging.Logger) (Channel, error) {
	if spec.Type == "log" || spec.Type == "" {
		return NewLogChannel(logger), nil
	}

	var targets Multi
	for _, u := range strings.Split(spec.URL, ",") {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		switch spec.Type {
		case "webhook":
			targets = append(targets, NewWebhookChannel(u, spec.Timeout))
		case "slack":
			targets = append(targets, NewSlackChannel(u, spec.Timeout))
		default:
			return nil, fmt.Errorf("unknown channel type %q", spec.Type)
		}
	}
	switch len(targets) {
	case 0:
		return nil, fmt.Errorf("%s channel requires a url", spec.Type)
	case 1:
		return targets[0], nil
	}
	return targets, nil
}
