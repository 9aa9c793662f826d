package offline0

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type State int

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	}
	return "unknown"
}

var ErrLifecycle = errors.New("lifecycle event out of order")

type DispatcherOptions struct {
	Origin     string
	Fetcher    Fetcher
	Store      Store
	Generation string

	APIMarker               string
	Manifest                []string
	WriteThroughConcurrency int
	FetchTimeout            time.Duration

	Notifier      Notifier
	Clients       WindowClients
	Notifications NotificationConfig

	SyncTag string
	Queue   Queue
}

// Dispatcher receives every lifecycle, fetch, push, click and sync event of
// one controlling process and routes it to the component that owns it.
type Dispatcher struct {
	generation  string
	proxy       *Proxy
	precacher   *Precacher
	generations *GenerationManager
	bridge      *Bridge
	sync        *BackgroundSync

	mu          sync.Mutex
	state       State
	skipWaiting bool
	claimed     bool
}

func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	if opts.Fetcher == nil {
		opts.Fetcher = newOriginClient(0)
	}
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{}
	}
	if opts.Clients == nil {
		opts.Clients = NewWindowRegistry(false)
	}
	return &Dispatcher{
		generation: opts.Generation,
		proxy: NewProxy(ProxyOptions{
			Origin:                  opts.Origin,
			Fetcher:                 opts.Fetcher,
			Store:                   opts.Store,
			Generation:              opts.Generation,
			APIMarker:               opts.APIMarker,
			WriteThroughConcurrency: opts.WriteThroughConcurrency,
			FetchTimeout:            opts.FetchTimeout,
		}),
		precacher:   NewPrecacher(opts.Origin, opts.Fetcher, opts.Store, opts.Generation, opts.Manifest),
		generations: NewGenerationManager(opts.Store, opts.Generation),
		bridge:      NewBridge(opts.Notifier, opts.Clients, opts.Notifications),
		sync:        NewBackgroundSync(opts.SyncTag, opts.Queue),
	}
}

func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Dispatcher) Claimed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.claimed
}

func (d *Dispatcher) SkipWaiting() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.skipWaiting
}

func (d *Dispatcher) transition(from, to State) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != from {
		return errors.Wrapf(ErrLifecycle, "want %s, have %s", from, d.state)
	}
	d.state = to
	return nil
}

// Install precaches the asset manifest. Precache failures never fail the
// install; they only leave the generation colder.
func (d *Dispatcher) Install(ctx context.Context) (PrecacheReport, error) {
	if err := d.transition(StateParsed, StateInstalling); err != nil {
		return PrecacheReport{}, err
	}
	rep, err := d.precacher.Run(ctx)
	if err != nil {
		log.WithError(err).WithField("generation", d.generation).Warn("precache failed")
	}

	d.mu.Lock()
	d.state = StateInstalled
	d.skipWaiting = true
	d.mu.Unlock()
	return rep, nil
}

// Activate purges stale generations and takes control of clients.
func (d *Dispatcher) Activate(ctx context.Context) ([]string, error) {
	if err := d.transition(StateInstalled, StateActivating); err != nil {
		return nil, err
	}
	deleted, err := d.generations.Purge(ctx)
	if err != nil {
		log.WithError(err).WithField("generation", d.generation).Warn("generation cleanup failed")
	}

	d.mu.Lock()
	d.state = StateActivated
	d.claimed = true
	d.mu.Unlock()
	log.WithFields(log.Fields{"generation": d.generation, "purged": len(deleted)}).Info("activated")
	return deleted, nil
}

// ServeHTTP is the fetch event. Requests from clients that are not yet
// controlled go straight to the network.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !d.Claimed() {
		d.proxy.passThrough(w, r)
		return
	}
	d.proxy.ServeHTTP(w, r)
}

// Push shows a notification for a push payload. It reports whether the host
// displayed it.
func (d *Dispatcher) Push(ctx context.Context, data []byte) (Notification, bool) {
	n, err := d.bridge.Push(ctx, data)
	if err != nil {
		log.WithError(err).WithField("notification", n.ID).Warn("push notification not shown")
		return n, false
	}
	return n, true
}

func (d *Dispatcher) NotificationClick(ctx context.Context, id, action string) (ClickResult, error) {
	return d.bridge.Click(ctx, id, action)
}

// Sync handles a background sync event. A non-nil error asks the host to
// reschedule.
func (d *Dispatcher) Sync(ctx context.Context, tag string) error {
	return d.sync.Handle(ctx, tag)
}

func (d *Dispatcher) SyncTag() string { return d.sync.Tag() }

// Wait blocks until background cache writes have finished.
func (d *Dispatcher) Wait() { d.proxy.Wait() }

func (d *Dispatcher) setStats(s *statsCollector) { d.proxy.stats = s }
