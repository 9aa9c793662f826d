package offline0

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	outcomeHeader = "X-Offline0"
	offlineBody   = "Offline"
	shellURI      = "/"
)

type ProxyOptions struct {
	Origin     string
	Fetcher    Fetcher
	Store      Store
	Generation string

	// APIMarker defaults to "/api/".
	APIMarker string

	// WriteThroughConcurrency bounds in-flight cache writes. Defaults to 32.
	WriteThroughConcurrency int

	// FetchTimeout bounds a cacheable network attempt, body included.
	// Zero leaves it to the request context.
	FetchTimeout time.Duration
}

// Proxy answers requests network-first. Successful GET responses are copied
// into the current generation in the background; when the network fails the
// generation is consulted instead.
type Proxy struct {
	origin     origin
	store      Store
	generation string
	apiMarker  string
	timeout    time.Duration

	bgSem   chan struct{}
	wg      sync.WaitGroup
	skipLog *rateLimitedLogger

	stats *statsCollector
}

func NewProxy(opts ProxyOptions) *Proxy {
	if opts.Fetcher == nil {
		opts.Fetcher = newOriginClient(0)
	}
	if opts.APIMarker == "" {
		opts.APIMarker = defaultAPIMarker
	}
	if opts.WriteThroughConcurrency <= 0 {
		opts.WriteThroughConcurrency = 32
	}
	return &Proxy{
		origin:     origin{base: strings.TrimRight(opts.Origin, "/"), fetcher: opts.Fetcher},
		store:      opts.Store,
		generation: opts.Generation,
		apiMarker:  opts.APIMarker,
		timeout:    opts.FetchTimeout,
		bgSem:      make(chan struct{}, opts.WriteThroughConcurrency),
		skipLog:    newRateLimitedLogger(time.Minute),
	}
}

// Wait blocks until every background cache write has finished.
func (p *Proxy) Wait() {
	p.wg.Wait()
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if p.bypass(r) {
		p.passThrough(w, r)
		return
	}
	ent, outcome := p.respond(r)
	p.stats.Observe(outcome, len(ent.Body))
	writeEntry(w, ent, outcome)
}

func (p *Proxy) bypass(r *http.Request) bool {
	return r.Method != http.MethodGet || strings.Contains(r.URL.RequestURI(), p.apiMarker)
}

// respond runs the network attempt and, only once it has failed, the cache
// fallback.
func (p *Proxy) respond(r *http.Request) (Entry, Outcome) {
	key := requestKey(r)
	ctx := r.Context()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	ent, err := p.origin.fetch(ctx, http.MethodGet, r.URL.RequestURI(), r.Header, nil)
	if err == nil {
		if cacheable(ent) {
			p.writeThrough(key, ent)
		}
		return ent, OutcomeNetwork
	}
	log.WithError(err).WithField("key", key).Debug("network attempt failed")
	return p.fallback(key, isNavigation(r))
}

func (p *Proxy) fallback(key string, navigation bool) (Entry, Outcome) {
	c, err := p.store.Open(p.generation)
	if err != nil {
		log.WithError(err).WithField("generation", p.generation).Warn("open cache for fallback")
		return offlineEntry(), OutcomeOffline
	}
	if ent, ok := match(c, key); ok {
		return ent, OutcomeCache
	}
	if navigation {
		if ent, ok := match(c, Key(http.MethodGet, shellURI)); ok {
			return ent, OutcomeShell
		}
	}
	return offlineEntry(), OutcomeOffline
}

// match treats read failures as misses.
func match(c Cache, key string) (Entry, bool) {
	ent, ok, err := c.Match(key)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{"generation": c.Generation(), "key": key}).Warn("cache read failed")
		return Entry{}, false
	}
	return ent, ok
}

func (p *Proxy) writeThrough(key string, ent Entry) {
	select {
	case p.bgSem <- struct{}{}:
	default:
		p.stats.ObserveWrite(nil, true)
		p.skipLog.Warnf(log.Fields{"key": key}, "write-through saturated, skipping cache write")
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.bgSem }()

		err := p.put(key, ent)
		p.stats.ObserveWrite(err, false)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{"generation": p.generation, "key": key}).Warn("write-through failed")
		}
	}()
}

func (p *Proxy) put(key string, ent Entry) error {
	c, err := p.store.Open(p.generation)
	if err != nil {
		return err
	}
	return c.Put(key, ent)
}

// passThrough forwards the request as-is and streams the answer back. It
// never touches the cache.
func (p *Proxy) passThrough(w http.ResponseWriter, r *http.Request) {
	resp, err := p.origin.forward(r)
	if err != nil {
		log.WithError(err).WithField("uri", r.URL.RequestURI()).Debug("pass-through failed")
		setOutcomeHeaders(w.Header(), OutcomeBadGateway)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	setOutcomeHeaders(w.Header(), OutcomeBypass)
	w.WriteHeader(resp.StatusCode)

	n, err := copyFlushing(w, resp.Body)
	if err != nil && r.Context().Err() == nil {
		log.WithError(err).WithField("uri", r.URL.RequestURI()).Debug("pass-through body interrupted")
	}
	p.stats.Observe(OutcomeBypass, int(n))
}

// copyFlushing copies src to w, flushing after every chunk so streamed
// responses reach the client as they arrive.
func copyFlushing(w http.ResponseWriter, src io.Reader) (int64, error) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32<<10)
	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			m, werr := w.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				return written, werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

func isNavigation(r *http.Request) bool {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func offlineEntry() Entry {
	h := http.Header{}
	h.Set("Content-Type", "text/plain; charset=utf-8")
	return Entry{
		Status: http.StatusServiceUnavailable,
		Header: h,
		Body:   []byte(offlineBody),
	}
}

func writeEntry(w http.ResponseWriter, ent Entry, outcome Outcome) {
	for k, vs := range ent.Header {
		if strings.EqualFold(k, outcomeHeader) {
			continue
		}
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	setOutcomeHeaders(w.Header(), outcome)
	w.WriteHeader(ent.Status)
	_, _ = w.Write(ent.Body)
}

func setOutcomeHeaders(h http.Header, outcome Outcome) {
	h.Set(outcomeHeader, string(outcome))
	// Browsers hide custom headers from cross-origin scripts unless exposed.
	ensureExposedHeader(h, outcomeHeader)
}

func ensureExposedHeader(h http.Header, name string) {
	const expose = "Access-Control-Expose-Headers"
	cur := h.Values(expose)
	if len(cur) == 0 {
		h.Set(expose, name)
		return
	}

	merged := strings.Join(cur, ",")
	for _, part := range strings.Split(merged, ",") {
		if strings.EqualFold(strings.TrimSpace(part), name) {
			return
		}
	}
	h.Set(expose, strings.TrimSpace(merged)+", "+name)
}
