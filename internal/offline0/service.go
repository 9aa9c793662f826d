package offline0

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Service is one controlling process: the dispatcher plus the host pieces
// around it (storage, window registry, sync scheduling, stats).
type Service struct {
	cfg Config

	httpClient *http.Client
	store      *LevelStore
	windows    *WindowRegistry
	dispatcher *Dispatcher
	syncs      *SyncManager
	stats      *statsCollector

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewService(cfg Config) (*Service, error) {
	store, err := OpenLevelStore(cfg.Storage.Path, cfg.Storage.maxBytes)
	if err != nil {
		return nil, err
	}
	return newService(cfg, store, newOriginClient(cfg.Server.fetchTimeoutDur)), nil
}

func newService(cfg Config, store *LevelStore, client *http.Client) *Service {
	s := &Service{
		cfg:        cfg,
		httpClient: client,
		store:      store,
		windows:    NewWindowRegistry(true),
		stopCh:     make(chan struct{}),
	}

	var queue Queue
	if cfg.Sync.DrainURL != "" {
		u := cfg.Sync.DrainURL
		if strings.HasPrefix(u, "/") {
			u = cfg.Server.Origin + u
		}
		queue = OriginQueue{URL: u, Fetcher: client}
	}

	s.dispatcher = NewDispatcher(DispatcherOptions{
		Origin:                  cfg.Server.Origin,
		Fetcher:                 client,
		Store:                   store,
		Generation:              cfg.Cache.Generation,
		APIMarker:               cfg.Cache.APIMarker,
		Manifest:                cfg.Cache.Manifest,
		WriteThroughConcurrency: cfg.Cache.WriteThroughConcurrency,
		FetchTimeout:            cfg.Server.fetchTimeoutDur,
		Notifier:                LogNotifier{},
		Clients:                 s.windows,
		Notifications:           cfg.Notifications,
		SyncTag:                 cfg.Sync.Tag,
		Queue:                   queue,
	})
	s.syncs = NewSyncManager(s.dispatcher.Sync, cfg.Sync.maxElapsedDur)

	if every := cfg.Logging.logStatsEveryDur; every > 0 {
		s.stats = newStatsCollector()
		s.dispatcher.setStats(s.stats)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.statsLoop(every)
		}()
	}
	return s
}

// Start delivers install and then activate.
func (s *Service) Start(ctx context.Context) error {
	if _, err := s.dispatcher.Install(ctx); err != nil {
		return err
	}
	_, err := s.dispatcher.Activate(ctx)
	return err
}

func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerControl(mux)
	mux.Handle("/", s.dispatcher)
	return mux
}

func (s *Service) Close() {
	close(s.stopCh)
	s.syncs.Close()
	s.dispatcher.Wait()
	s.wg.Wait()
	if err := s.store.Close(); err != nil {
		log.WithError(err).Warn("close store")
	}
}

func (s *Service) statsLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			ss := s.stats.Snapshot()
			fields := log.Fields{
				"network":       ss.Network,
				"cache":         ss.Cache,
				"shell":         ss.Shell,
				"offline":       ss.Offline,
				"bypass":        ss.Bypass,
				"writes":        ss.Writes,
				"writeFailures": ss.WriteFailures,
				"writeSkipped":  ss.WriteSkipped,
				"store":         formatBytes(uint64(s.store.TotalSize())),
			}
			if rss, ok := processRSSBytes(); ok {
				fields["rss"] = formatBytes(rss)
			}
			log.WithFields(fields).Infof("Resp min/avg/max %s/%s/%s",
				formatBytes(ss.MinRespBytes),
				formatBytes(ss.AvgRespBytes),
				formatBytes(ss.MaxRespBytes),
			)
		}
	}
}
