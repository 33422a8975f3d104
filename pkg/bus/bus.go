// Package bus fans out export progress ticks and terminal notifications to
// registered listeners.
package bus

import (
	"log"
	"sync"

	"github.com/agoraflux/chart-export/pkg/model"
)

// ProgressFunc receives progress ticks.
type ProgressFunc func(model.ExportProgress)

// NotificationFunc receives terminal notifications.
type NotificationFunc func(model.ExportNotification)

// Bus is a process-local publish/subscribe hub. The zero value is not
// usable; construct with New.
type Bus struct {
	mu            sync.Mutex
	nextID        int
	progress      map[int]ProgressFunc
	notifications map[int]NotificationFunc
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		progress:      make(map[int]ProgressFunc),
		notifications: make(map[int]NotificationFunc),
	}
}

// OnProgress registers a progress listener and returns an unsubscribe
// function. Unsubscribing twice is harmless.
func (b *Bus) OnProgress(fn ProgressFunc) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.progress[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.progress, id)
	}
}

// OnNotification registers a notification listener and returns an
// unsubscribe function.
func (b *Bus) OnNotification(fn NotificationFunc) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.notifications[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.notifications, id)
	}
}

// EmitProgress delivers a progress tick to every registered listener.
// Listeners are invoked from a snapshot, so subscribing or unsubscribing
// from inside a listener does not deadlock. A panicking listener is
// recovered and logged; it never fails the export.
func (b *Bus) EmitProgress(p model.ExportProgress) {
	b.mu.Lock()
	fns := make([]ProgressFunc, 0, len(b.progress))
	for _, fn := range b.progress {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		safeCall(func() { fn(p) })
	}
}

// EmitNotification delivers a notification to every registered listener.
func (b *Bus) EmitNotification(n model.ExportNotification) {
	b.mu.Lock()
	fns := make([]NotificationFunc, 0, len(b.notifications))
	for _, fn := range b.notifications {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		safeCall(func() { fn(n) })
	}
}

func safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[BUS] listener panic recovered: %v", r)
		}
	}()
	fn()
}
