package service

import (
	"context"
	"log"
	"sync"
	"time"
)

// LocationEvent is what notification checks receive for each parsed fix.
type LocationEvent struct {
	Identifier string
	Latitude   float64
	Longitude  float64
	Speed      float64
	AlarmFlags uint32
}

// LocationCheck is one pluggable notification rule: geofences, speed
// limits, proximity alerts. The algorithm behind each check lives outside
// the ingest core.
type LocationCheck func(ctx context.Context, ev *LocationEvent) error

// NotificationDispatcher fans a location event out to the registered
// checks. Dispatch is fire-and-forget: it runs on a detached goroutine with
// its own deadline so a slow downstream can never stall the socket reader,
// and check errors are logged, never propagated.
type NotificationDispatcher struct {
	mu     sync.RWMutex
	checks map[string]LocationCheck
}

// NewNotificationDispatcher creates an empty dispatcher.
func NewNotificationDispatcher() *NotificationDispatcher {
	return &NotificationDispatcher{checks: make(map[string]LocationCheck)}
}

// Register adds a named check.
func (d *NotificationDispatcher) Register(name string, check LocationCheck) {
	d.mu.Lock()
	d.checks[name] = check
	d.mu.Unlock()
}

// Dispatch schedules all checks for the event and returns immediately.
func (d *NotificationDispatcher) Dispatch(ev *LocationEvent) {
	d.mu.RLock()
	checks := make(map[string]LocationCheck, len(d.checks))
	for name, check := range d.checks {
		checks[name] = check
	}
	d.mu.RUnlock()

	if len(checks) == 0 {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		for name, check := range checks {
			if err := check(ctx, ev); err != nil {
				log.Printf("[Notify] Check %q failed for %s: %v", name, ev.Identifier, err)
			}
		}
	}()
}
