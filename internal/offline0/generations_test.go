package offline0

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerationManagerPurge(t *testing.T) {
	t.Run("keeps only current", func(t *testing.T) {
		store := newTestStore(t)
		for _, g := range []string{"v1", "v2", "current"} {
			_, err := store.Open(g)
			require.NoError(t, err)
		}

		deleted, err := NewGenerationManager(store, "current").Purge(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"v1", "v2"}, deleted)

		gens, err := store.Generations()
		require.NoError(t, err)
		assert.Equal(t, []string{"current"}, gens)
	})

	t.Run("current entries stay intact", func(t *testing.T) {
		store := newTestStore(t)
		putBody(t, store, "old", "/", "old shell")
		putBody(t, store, "new", "/", "new shell")
		putBody(t, store, "new", "/index.html", "index")

		_, err := NewGenerationManager(store, "new").Purge(context.Background())
		require.NoError(t, err)

		gens, err := store.Generations()
		require.NoError(t, err)
		assert.Equal(t, []string{"new"}, gens)

		c, err := store.Open("new")
		require.NoError(t, err)
		for uri, want := range map[string]string{"/": "new shell", "/index.html": "index"} {
			ent, ok, err := c.Match("GET " + uri)
			require.NoError(t, err)
			require.True(t, ok, uri)
			assert.Equal(t, want, string(ent.Body))
		}
	})

	t.Run("one failed deletion does not block the rest", func(t *testing.T) {
		mem := newTestStore(t)
		for _, g := range []string{"a", "b", "c", "current"} {
			_, err := mem.Open(g)
			require.NoError(t, err)
		}
		store := stuckStore{Store: mem, stuck: "b"}

		deleted, err := NewGenerationManager(store, "current").Purge(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c"}, deleted)

		gens, err := mem.Generations()
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "current"}, gens)
	})

	t.Run("nothing to purge", func(t *testing.T) {
		store := newTestStore(t)
		deleted, err := NewGenerationManager(store, "current").Purge(context.Background())
		require.NoError(t, err)
		assert.Empty(t, deleted)
	})
}

type stuckStore struct {
	Store
	stuck string
}

func (s stuckStore) Delete(gen string) (bool, error) {
	if gen == s.stuck {
		return false, errors.New("disk I/O error")
	}
	return s.Store.Delete(gen)
}
