// Package deliverylog reserves (incident, audience) pairs so at most one alert
// per pair is sent within a cooldown.
package deliverylog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adcraft-labs/creative-qa/monitor/internal/models"
)

// Log is the delivery log. Reserve is the atomic cooldown check-and-append:
// it succeeds only if no live reservation exists for the key, and the new
// reservation lives for cooldown. Release drops a reservation whose alert
// could not be delivered, so a later event may retry.
type Log interface {
	Reserve(ctx context.Context, incidentID string, audience models.Audience, cooldown time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, incidentID string, audience models.Audience, token string) error
	Close() error
}

func key(incidentID string, audience models.Audience) string {
	return "delivery:" + incidentID + ":" + string(audience)
}

func newToken() string {
	return uuid.NewString()
}

type reservation struct {
	token   string
	expires time.Time
}

// MemoryLog is a process-local Log.
type MemoryLog struct {
	mu      sync.Mutex
	entries map[string]reservation
	now     func() time.Time
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		entries: make(map[string]reservation),
		now:     time.Now,
	}
}

func (l *MemoryLog) Reserve(_ context.Context, incidentID string, audience models.Audience, cooldown time.Duration) (string, bool, error) {
	k := key(incidentID, audience)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.entries[k]; ok && now.Before(r.expires) {
		return "", false, nil
	}
	token := newToken()
	l.entries[k] = reservation{token: token, expires: now.Add(cooldown)}
	return token, true, nil
}

func (l *MemoryLog) Release(_ context.Context, incidentID string, audience models.Audience, token string) error {
	k := key(incidentID, audience)

	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.entries[k]; ok && r.token == token {
		delete(l.entries, k)
	}
	return nil
}

// Len returns the number of reservations held, expired or not.
func (l *MemoryLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Prune drops expired reservations and returns how many remain.
func (l *MemoryLog) Prune() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, r := range l.entries {
		if !now.Before(r.expires) {
			delete(l.entries, k)
		}
	}
	return len(l.entries)
}

func (l *MemoryLog) Close() error { return nil }
