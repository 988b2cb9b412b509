package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/elonfeng/xhistory/pkg/post"
)

// ActionURLListUpdated is sent after every ledger mutation.
const ActionURLListUpdated = "updateUrlList"

// Event is the message delivered to every open surface.
type Event struct {
	Action       string             `json:"action"`
	URLs         []string           `json:"urls"`
	TrackedPosts []post.TrackedPost `json:"trackedPosts"`
	At           time.Time          `json:"at"`
}

// Listener receives ledger events.
type Listener interface {
	Name() string
	Send(ctx context.Context, e *Event) error
}

// Manager fans events out to all registered listeners.
type Manager struct {
	listeners []Listener
}

// NewManager creates a manager for the given listeners.
func NewManager(listeners ...Listener) *Manager {
	return &Manager{listeners: listeners}
}

// Add registers another listener.
func (m *Manager) Add(l Listener) {
	m.listeners = append(m.listeners, l)
}

// HasListeners returns true if at least one listener is configured.
func (m *Manager) HasListeners() bool {
	return len(m.listeners) > 0
}

// Broadcast delivers e to every listener. Having no listeners is not an error.
func (m *Manager) Broadcast(ctx context.Context, e *Event) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	var errs []error
	for _, l := range m.listeners {
		if err := l.Send(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", l.Name(), err))
		}
	}
	return errors.Join(errs...)
}
