// Package events is a small synchronous event manager. Listeners may answer
// an event with a map of values which the dispatcher merges for the caller.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// VersionBeforeSave is dispatched once for every version row built on save.
// Listeners may return extra column values for the row.
const VersionBeforeSave = "Model.Version.beforeSave"

// Event is a named event with a subject and free-form data.
type Event struct {
	Name    string
	Subject any
	Data    map[string]any
}

// Listener handles an event. A nil map means no contribution.
type Listener func(ctx context.Context, event Event) (map[string]any, error)

type registration struct {
	id       uint64
	listener Listener
}

// Manager manages event listeners and dispatches events
type Manager struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[string][]registration
}

// NewManager creates a new event manager
func NewManager() *Manager {
	return &Manager{listeners: make(map[string][]registration)}
}

// On registers a listener for the named event. The returned function removes it.
func (m *Manager) On(name string, listener Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.listeners[name] = append(m.listeners[name], registration{id: id, listener: listener})
	logrus.WithFields(logrus.Fields{"event": name, "total": len(m.listeners[name])}).Debug("registered event listener")

	return func() { m.off(name, id) }
}

func (m *Manager) off(name string, id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	regs := m.listeners[name]
	for i, r := range regs {
		if r.id == id {
			m.listeners[name] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// Count returns the number of listeners for the named event.
func (m *Manager) Count(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listeners[name])
}

// Dispatch calls every listener of the event in registration order and
// merges their results. Later listeners overwrite earlier keys. The first
// listener error stops the dispatch.
func (m *Manager) Dispatch(ctx context.Context, event Event) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	m.mu.RLock()
	regs := make([]registration, len(m.listeners[event.Name]))
	copy(regs, m.listeners[event.Name])
	m.mu.RUnlock()

	if len(regs) == 0 {
		return nil, nil
	}

	var merged map[string]any
	for _, r := range regs {
		result, err := r.listener(ctx, event)
		if err != nil {
			return nil, fmt.Errorf("listener for %s failed: %w", event.Name, err)
		}
		if result == nil {
			continue
		}
		if merged == nil {
			merged = make(map[string]any, len(result))
		}
		for k, v := range result {
			merged[k] = v
		}
	}
	return merged, nil
}
