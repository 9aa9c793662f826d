package offline0

import (
	"context"
	"io"
	"net/http"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Queue is the durable store of mutations made while offline. Drain replays
// it; an error means the replay should be retried later.
type Queue interface {
	Drain(ctx context.Context) error
}

type QueueFunc func(ctx context.Context) error

func (f QueueFunc) Drain(ctx context.Context) error { return f(ctx) }

// BackgroundSync drains the offline queue when the host reports
// connectivity for the replay tag. Retrying is left to the host.
type BackgroundSync struct {
	tag   string
	queue Queue
}

func NewBackgroundSync(tag string, queue Queue) *BackgroundSync {
	if tag == "" {
		tag = defaultSyncTag
	}
	return &BackgroundSync{tag: tag, queue: queue}
}

func (s *BackgroundSync) Tag() string { return s.tag }

// Handle returns nil for unknown tags.
func (s *BackgroundSync) Handle(ctx context.Context, tag string) error {
	if tag != s.tag {
		log.WithField("tag", tag).Debug("ignoring sync for unknown tag")
		return nil
	}
	if s.queue == nil {
		return nil
	}
	return s.queue.Drain(ctx)
}

// OriginQueue asks the origin to replay its queued mutations by POSTing to a
// drain endpoint.
type OriginQueue struct {
	URL     string
	Fetcher Fetcher
}

func (q OriginQueue) Drain(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.URL, http.NoBody)
	if err != nil {
		return errors.Wrap(err, "build drain request")
	}
	resp, err := q.Fetcher.Do(req)
	if err != nil {
		return errors.Wrap(err, "drain offline queue")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("drain offline queue: status %d", resp.StatusCode)
	}
	return nil
}
