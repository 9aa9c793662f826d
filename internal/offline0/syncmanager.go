package offline0

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

// SyncManager plays the host's part of background sync: registrations are
// coalesced per tag, dispatched in the background and rescheduled with
// exponential backoff while the handler keeps failing.
type SyncManager struct {
	dispatch   func(ctx context.Context, tag string) error
	newBackOff func() backoff.BackOff

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[string]struct{}
}

func NewSyncManager(dispatch func(ctx context.Context, tag string) error, maxElapsed time.Duration) *SyncManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &SyncManager{
		dispatch: dispatch,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 5 * time.Second
			b.MaxInterval = 5 * time.Minute
			b.MaxElapsedTime = maxElapsed
			return b
		},
		ctx:     ctx,
		cancel:  cancel,
		pending: map[string]struct{}{},
	}
}

// Register schedules a sync for tag. It returns false when one is already
// pending for the same tag.
func (m *SyncManager) Register(tag string) bool {
	m.mu.Lock()
	if _, ok := m.pending[tag]; ok {
		m.mu.Unlock()
		return false
	}
	m.pending[tag] = struct{}{}
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.pending, tag)
			m.mu.Unlock()
		}()
		m.run(tag)
	}()
	return true
}

func (m *SyncManager) run(tag string) {
	op := func() error { return m.dispatch(m.ctx, tag) }
	notify := func(err error, next time.Duration) {
		log.WithError(err).WithFields(log.Fields{"tag": tag, "retryIn": next}).Warn("sync failed, rescheduled")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(m.newBackOff(), m.ctx), notify); err != nil {
		log.WithError(err).WithField("tag", tag).Error("sync abandoned")
		return
	}
	log.WithField("tag", tag).Info("sync completed")
}

// Pending reports whether a sync for tag is scheduled or running.
func (m *SyncManager) Pending(tag string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[tag]
	return ok
}

// Close cancels outstanding retries and waits for running dispatches.
func (m *SyncManager) Close() {
	m.cancel()
	m.wg.Wait()
}
