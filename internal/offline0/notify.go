package offline0

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	ActionOpen    = "open"
	ActionDismiss = "close"
)

var (
	ErrUnknownNotification   = errors.New("unknown or already handled notification")
	ErrOpenWindowUnsupported = errors.New("host cannot open windows")
)

// PushPayload is the JSON body of a push event. Every field is optional.
type PushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Notification is a pending intent built from one push payload.
type Notification struct {
	ID      string               `json:"id"`
	Title   string               `json:"title"`
	Body    string               `json:"body"`
	URL     string               `json:"url"`
	Icon    string               `json:"icon"`
	Badge   string               `json:"badge"`
	Vibrate []int                `json:"vibrate"`
	Actions []NotificationAction `json:"actions"`
}

// Notifier displays and closes notifications on the host.
type Notifier interface {
	Show(ctx context.Context, n Notification) error
	Close(ctx context.Context, id string) error
}

type Window struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// WindowClients exposes the host's open windows.
type WindowClients interface {
	ListWindows(ctx context.Context) ([]Window, error)
	FocusWindow(ctx context.Context, id string) error
	OpenWindow(ctx context.Context, rawURL string) (Window, error)
}

// Pending intents expire when never clicked. The cap keeps a burst of
// unclicked pushes bounded.
const (
	defaultPendingTTL = 24 * time.Hour
	defaultMaxPending = 1024
)

type ClickResult string

const (
	ClickDismissed ClickResult = "dismissed"
	ClickFocused   ClickResult = "focused"
	ClickOpened    ClickResult = "opened"
	ClickNoop      ClickResult = "noop"
)

// Bridge turns push payloads into notifications and notification clicks into
// window focus/open actions.
type Bridge struct {
	notifier Notifier
	clients  WindowClients
	defaults NotificationConfig

	ttl        time.Duration
	maxPending int
	now        func() time.Time

	mu      sync.Mutex
	pending map[string]pendingIntent
}

type pendingIntent struct {
	n  Notification
	at time.Time
}

func NewBridge(notifier Notifier, clients WindowClients, defaults NotificationConfig) *Bridge {
	defaults.applyDefaults()
	return &Bridge{
		notifier: notifier,
		clients:  clients,
		defaults: defaults,

		ttl:        defaultPendingTTL,
		maxPending: defaultMaxPending,
		now:        time.Now,
		pending:    map[string]pendingIntent{},
	}
}

// Push shows a notification for data and returns once the host has
// displayed it. A missing or malformed payload falls back to the defaults.
func (b *Bridge) Push(ctx context.Context, data []byte) (Notification, error) {
	var p PushPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p); err != nil {
			log.WithError(err).Debug("push payload is not JSON, using defaults")
			p = PushPayload{}
		}
	}
	n := b.intent(p)

	b.mu.Lock()
	now := b.now()
	b.pruneLocked(now)
	b.makeRoomLocked()
	b.pending[n.ID] = pendingIntent{n: n, at: now}
	b.mu.Unlock()

	if err := b.notifier.Show(ctx, n); err != nil {
		b.mu.Lock()
		delete(b.pending, n.ID)
		b.mu.Unlock()
		return n, errors.Wrap(err, "show notification")
	}
	return n, nil
}

func (b *Bridge) intent(p PushPayload) Notification {
	n := Notification{
		ID:      uuid.NewString(),
		Title:   p.Title,
		Body:    p.Body,
		URL:     p.URL,
		Icon:    b.defaults.Icon,
		Badge:   b.defaults.Badge,
		Vibrate: append([]int(nil), b.defaults.Vibrate...),
		Actions: []NotificationAction{
			{Action: ActionOpen, Title: b.defaults.OpenTitle},
			{Action: ActionDismiss, Title: b.defaults.DismissTitle},
		},
	}
	if n.Title == "" {
		n.Title = b.defaults.Title
	}
	if n.Body == "" {
		n.Body = b.defaults.Body
	}
	if n.URL == "" {
		n.URL = b.defaults.URL
	}
	return n
}

// Click handles the single click a pending notification may receive.
// Host failures past this point are logged, not returned.
func (b *Bridge) Click(ctx context.Context, id, action string) (ClickResult, error) {
	b.mu.Lock()
	p, ok := b.pending[id]
	delete(b.pending, id)
	b.mu.Unlock()
	if !ok || b.expired(p, b.now()) {
		return ClickNoop, ErrUnknownNotification
	}
	n := p.n

	if err := b.notifier.Close(ctx, n.ID); err != nil {
		log.WithError(err).WithField("notification", n.ID).Warn("close notification failed")
	}
	if action == ActionDismiss {
		return ClickDismissed, nil
	}

	wins, err := b.clients.ListWindows(ctx)
	if err != nil {
		log.WithError(err).Warn("list windows failed")
	}
	for _, w := range wins {
		if !sameTarget(w.URL, n.URL) {
			continue
		}
		if err := b.clients.FocusWindow(ctx, w.ID); err != nil {
			log.WithError(err).WithField("window", w.ID).Warn("focus window failed")
			return ClickNoop, nil
		}
		return ClickFocused, nil
	}

	if _, err := b.clients.OpenWindow(ctx, n.URL); err != nil {
		if !errors.Is(err, ErrOpenWindowUnsupported) {
			log.WithError(err).WithField("url", n.URL).Warn("open window failed")
		}
		return ClickNoop, nil
	}
	return ClickOpened, nil
}

// Pending reports how many notifications still await a click.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked(b.now())
	return len(b.pending)
}

func (b *Bridge) expired(p pendingIntent, now time.Time) bool {
	return b.ttl > 0 && now.Sub(p.at) >= b.ttl
}

func (b *Bridge) pruneLocked(now time.Time) {
	for id, p := range b.pending {
		if b.expired(p, now) {
			delete(b.pending, id)
		}
	}
}

// makeRoomLocked evicts the oldest intents until one more fits under the cap.
func (b *Bridge) makeRoomLocked() {
	for b.maxPending > 0 && len(b.pending) >= b.maxPending {
		oldest := ""
		var at time.Time
		for id, p := range b.pending {
			if oldest == "" || p.at.Before(at) {
				oldest, at = id, p.at
			}
		}
		delete(b.pending, oldest)
	}
}

// sameTarget compares a window URL with a notification target. A relative
// target matches any window showing the same path and query.
func sameTarget(windowURL, target string) bool {
	if windowURL == target {
		return true
	}
	w, err := url.Parse(windowURL)
	if err != nil {
		return false
	}
	t, err := url.Parse(target)
	if err != nil {
		return false
	}
	if t.IsAbs() && (t.Scheme != w.Scheme || t.Host != w.Host) {
		return false
	}
	return w.RequestURI() == t.RequestURI()
}
