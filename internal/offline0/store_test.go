package offline0

import (
	"net/http"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelStore(t *testing.T) {
	t.Run("open creates generation", func(t *testing.T) {
		s := newTestStore(t)

		c, err := s.Open("v1")
		require.NoError(t, err)
		assert.Equal(t, "v1", c.Generation())

		gens, err := s.Generations()
		require.NoError(t, err)
		assert.Equal(t, []string{"v1"}, gens)
	})

	t.Run("put and match", func(t *testing.T) {
		s := newTestStore(t)
		c, err := s.Open("v1")
		require.NoError(t, err)

		h := http.Header{}
		h.Set("Content-Type", "text/html")
		require.NoError(t, c.Put("GET /", Entry{Status: 200, Header: h, Body: []byte("<html>")}))

		ent, ok, err := c.Match("GET /")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 200, ent.Status)
		assert.Equal(t, "text/html", ent.Header.Get("Content-Type"))
		assert.Equal(t, []byte("<html>"), ent.Body)

		_, ok, err = c.Match("GET /missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("overwrite keeps last write", func(t *testing.T) {
		s := newTestStore(t)
		putBody(t, s, "v1", "/a", "first")
		putBody(t, s, "v1", "/a", "second")

		c, err := s.Open("v1")
		require.NoError(t, err)
		ent, ok, err := c.Match("GET /a")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "second", string(ent.Body))

		usage := s.Usage()
		require.Len(t, usage, 1)
		assert.Equal(t, 1, usage[0].Entries)
	})

	t.Run("generations are isolated", func(t *testing.T) {
		s := newTestStore(t)
		putBody(t, s, "old", "/a", "old")

		c, err := s.Open("new")
		require.NoError(t, err)
		_, ok, err := c.Match("GET /a")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete removes entries", func(t *testing.T) {
		s := newTestStore(t)
		putBody(t, s, "old", "/a", "a")
		putBody(t, s, "old", "/b", "b")
		putBody(t, s, "new", "/a", "kept")

		existed, err := s.Delete("old")
		require.NoError(t, err)
		assert.True(t, existed)

		gens, err := s.Generations()
		require.NoError(t, err)
		assert.Equal(t, []string{"new"}, gens)

		c, err := s.Open("new")
		require.NoError(t, err)
		ent, ok, err := c.Match("GET /a")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "kept", string(ent.Body))

		existed, err = s.Delete("old")
		require.NoError(t, err)
		assert.False(t, existed)
	})

	t.Run("quota exceeded is recoverable", func(t *testing.T) {
		s, err := OpenMemStore(16)
		require.NoError(t, err)
		defer s.Close()

		c, err := s.Open("v1")
		require.NoError(t, err)
		big := make([]byte, 4096)
		for i := range big {
			big[i] = byte(i * 7)
		}
		err = c.Put("GET /big", Entry{Status: 200, Body: big})
		assert.ErrorIs(t, err, ErrQuotaExceeded)

		_, ok, err := c.Match("GET /big")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Zero(t, s.TotalSize())
	})

	t.Run("concurrent overwrites keep sizes in step with disk", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "db")
		s, err := OpenLevelStore(path, 0)
		require.NoError(t, err)
		c, err := s.Open("v1")
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				body := make([]byte, 64*(n+1))
				for j := range body {
					body[j] = byte(j*31 + n)
				}
				assert.NoError(t, c.Put("GET /shared", Entry{Status: 200, Body: body}))
			}(i)
		}
		wg.Wait()
		size := s.TotalSize()
		require.NoError(t, s.Close())

		s, err = OpenLevelStore(path, 0)
		require.NoError(t, err)
		defer s.Close()
		assert.Equal(t, size, s.TotalSize())
	})

	t.Run("index survives reopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "db")
		s, err := OpenLevelStore(path, 0)
		require.NoError(t, err)
		putBody(t, s, "v1", "/a", "a")
		putBody(t, s, "v2", "/b", "b")
		size := s.TotalSize()
		require.NoError(t, s.Close())

		s, err = OpenLevelStore(path, 0)
		require.NoError(t, err)
		defer s.Close()
		gens, err := s.Generations()
		require.NoError(t, err)
		assert.Equal(t, []string{"v1", "v2"}, gens)
		assert.Equal(t, size, s.TotalSize())
	})
}
