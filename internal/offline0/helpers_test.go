package offline0

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *LevelStore {
	t.Helper()
	s, err := OpenMemStore(0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// fakeOrigin serves fixed bodies per path and counts hits.
type fakeOrigin struct {
	mu     sync.Mutex
	bodies map[string]string
	hits   map[string]int
	srv    *httptest.Server
}

func newFakeOrigin(t *testing.T, bodies map[string]string) *fakeOrigin {
	t.Helper()
	o := &fakeOrigin{bodies: bodies, hits: map[string]int{}}
	o.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.mu.Lock()
		o.hits[r.Method+" "+r.URL.RequestURI()]++
		body, ok := o.bodies[r.URL.RequestURI()]
		o.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(o.srv.Close)
	return o
}

func (o *fakeOrigin) set(uri, body string) {
	o.mu.Lock()
	o.bodies[uri] = body
	o.mu.Unlock()
}

func (o *fakeOrigin) hitCount(key string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[key]
}

var errNetwork = errors.New("network unreachable")

// offlineFetcher fails every request, the way a dropped connection does.
var offlineFetcher = FetcherFunc(func(*http.Request) (*http.Response, error) {
	return nil, errNetwork
})

// switchFetcher delegates to http.DefaultClient until taken offline.
type switchFetcher struct {
	offline atomic.Bool
}

func (f *switchFetcher) Do(req *http.Request) (*http.Response, error) {
	if f.offline.Load() {
		return nil, errNetwork
	}
	return http.DefaultClient.Do(req)
}

// countingStore records every call that reaches the store.
type countingStore struct {
	Store
	calls atomic.Int64
}

func (s *countingStore) Open(gen string) (Cache, error) {
	s.calls.Add(1)
	c, err := s.Store.Open(gen)
	if err != nil {
		return nil, err
	}
	return &countingCache{Cache: c, calls: &s.calls}, nil
}

func (s *countingStore) Generations() ([]string, error) {
	s.calls.Add(1)
	return s.Store.Generations()
}

func (s *countingStore) Delete(gen string) (bool, error) {
	s.calls.Add(1)
	return s.Store.Delete(gen)
}

type countingCache struct {
	Cache
	calls *atomic.Int64
}

func (c *countingCache) Match(key string) (Entry, bool, error) {
	c.calls.Add(1)
	return c.Cache.Match(key)
}

func (c *countingCache) Put(key string, ent Entry) error {
	c.calls.Add(1)
	return c.Cache.Put(key, ent)
}

func putBody(t *testing.T, s Store, gen, uri, body string) {
	t.Helper()
	c, err := s.Open(gen)
	require.NoError(t, err)
	require.NoError(t, c.Put(Key(http.MethodGet, uri), Entry{Status: http.StatusOK, Header: http.Header{}, Body: []byte(body)}))
}

func get(t *testing.T, h http.Handler, uri string, navigate bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, uri, nil)
	if navigate {
		req.Header.Set("Sec-Fetch-Mode", "navigate")
	} else {
		req.Header.Set("Sec-Fetch-Mode", "cors")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}
