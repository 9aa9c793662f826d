package offline0

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// LogNotifier is a Notifier for headless hosts: it logs what would be shown.
type LogNotifier struct{}

func (LogNotifier) Show(_ context.Context, n Notification) error {
	log.WithFields(log.Fields{"notification": n.ID, "title": n.Title, "url": n.URL}).Info("notification shown")
	return nil
}

func (LogNotifier) Close(_ context.Context, id string) error {
	log.WithField("notification", id).Debug("notification closed")
	return nil
}

// WindowRegistry tracks client windows reported to the control API, in
// registration order.
type WindowRegistry struct {
	// CanOpen controls whether OpenWindow succeeds.
	CanOpen bool

	mu      sync.Mutex
	windows []Window
	focused string
}

func NewWindowRegistry(canOpen bool) *WindowRegistry {
	return &WindowRegistry{CanOpen: canOpen}
}

// Register adds a window showing rawURL and returns it.
func (r *WindowRegistry) Register(rawURL string) Window {
	w := Window{ID: uuid.NewString(), URL: rawURL}
	r.mu.Lock()
	r.windows = append(r.windows, w)
	r.mu.Unlock()
	return w
}

func (r *WindowRegistry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, w := range r.windows {
		if w.ID == id {
			r.windows = append(r.windows[:i], r.windows[i+1:]...)
			if r.focused == id {
				r.focused = ""
			}
			return true
		}
	}
	return false
}

func (r *WindowRegistry) ListWindows(context.Context) ([]Window, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Window(nil), r.windows...), nil
}

func (r *WindowRegistry) FocusWindow(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.windows {
		if w.ID == id {
			r.focused = id
			return nil
		}
	}
	return errors.Errorf("window %s not found", id)
}

func (r *WindowRegistry) OpenWindow(_ context.Context, rawURL string) (Window, error) {
	if !r.CanOpen {
		return Window{}, ErrOpenWindowUnsupported
	}
	w := r.Register(rawURL)
	r.mu.Lock()
	r.focused = w.ID
	r.mu.Unlock()
	log.WithFields(log.Fields{"window": w.ID, "url": rawURL}).Info("window opened")
	return w, nil
}

// Focused returns the id of the last focused or opened window.
func (r *WindowRegistry) Focused() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.focused
}
