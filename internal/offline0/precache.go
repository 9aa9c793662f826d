package offline0

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// PrecacheReport counts the outcome of one install-time population.
type PrecacheReport struct {
	Stored int
	Failed int
}

// Precacher fills a fresh generation with the static asset manifest.
type Precacher struct {
	origin     origin
	store      Store
	generation string
	manifest   []string
}

func NewPrecacher(originURL string, fetcher Fetcher, store Store, generation string, manifest []string) *Precacher {
	return &Precacher{
		origin:     origin{base: originURL, fetcher: fetcher},
		store:      store,
		generation: generation,
		manifest:   append([]string(nil), manifest...),
	}
}

// Run fetches every manifest asset and stores it. Per-asset failures are
// logged and counted; they never abort the other assets. Only a failure to
// open the generation is returned.
func (p *Precacher) Run(ctx context.Context) (PrecacheReport, error) {
	c, err := p.store.Open(p.generation)
	if err != nil {
		return PrecacheReport{Failed: len(p.manifest)}, errors.Wrap(err, "open precache generation")
	}

	var stored, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(4)
	for _, asset := range p.manifest {
		asset := asset
		g.Go(func() error {
			if err := p.cacheAsset(ctx, c, asset); err != nil {
				failed.Add(1)
				log.WithError(err).WithFields(log.Fields{"generation": p.generation, "asset": asset}).Warn("precache asset failed")
				return nil
			}
			stored.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	rep := PrecacheReport{Stored: int(stored.Load()), Failed: int(failed.Load())}
	log.WithFields(log.Fields{"generation": p.generation, "stored": rep.Stored, "failed": rep.Failed}).Info("precache finished")
	return rep, nil
}

func (p *Precacher) cacheAsset(ctx context.Context, c Cache, asset string) error {
	ent, err := p.origin.fetch(ctx, http.MethodGet, asset, nil, nil)
	if err != nil {
		return err
	}
	if ent.Status < 200 || ent.Status >= 300 {
		return errors.Errorf("unexpected status %d", ent.Status)
	}
	return c.Put(Key(http.MethodGet, asset), ent)
}
