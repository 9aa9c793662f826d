package offline0

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// GenerationManager keeps at most one live generation in the store.
type GenerationManager struct {
	store   Store
	current string
}

func NewGenerationManager(store Store, current string) *GenerationManager {
	return &GenerationManager{store: store, current: current}
}

// Purge deletes every generation except the current one and returns the names
// it removed. Deletions run concurrently and a failed one does not hold back
// the rest; Purge returns once all have finished.
func (m *GenerationManager) Purge(ctx context.Context) ([]string, error) {
	gens, err := m.store.Generations()
	if err != nil {
		return nil, errors.Wrap(err, "list generations")
	}

	var (
		mu      sync.Mutex
		deleted []string
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, gen := range gens {
		if gen == m.current {
			continue
		}
		gen := gen
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if _, err := m.store.Delete(gen); err != nil {
				log.WithError(err).WithField("generation", gen).Warn("delete stale generation failed")
				return nil
			}
			mu.Lock()
			deleted = append(deleted, gen)
			mu.Unlock()
			log.WithField("generation", gen).Info("deleted stale generation")
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(deleted)
	return deleted, nil
}
