package offline0

import (
	"bytes"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Store holds named cache generations. It owns no policy.
type Store interface {
	Open(generation string) (Cache, error)
	Generations() ([]string, error)
	Delete(generation string) (bool, error)
}

// Cache is one opened generation.
type Cache interface {
	Generation() string
	Match(key string) (Entry, bool, error)
	Put(key string, ent Entry) error
}

var ErrQuotaExceeded = errors.New("cache storage quota exceeded")

const (
	genPrefix   = "g:"
	entryPrefix = "e:"
)

func genKey(gen string) []byte { return []byte(genPrefix + gen) }

func entryGenPrefix(gen string) []byte { return []byte(entryPrefix + gen + "\x00") }

func entryKey(gen, key string) []byte { return append(entryGenPrefix(gen), key...) }

// GenerationUsage summarises one generation's footprint.
type GenerationUsage struct {
	Generation string
	Entries    int
	Bytes      int64
}

// LevelStore keeps every generation in a single leveldb database.
type LevelStore struct {
	db       *leveldb.DB
	maxBytes int64

	mu        sync.Mutex
	index     map[string]map[string]int64 // generation -> key -> encoded size
	totalSize int64
}

// OpenLevelStore opens (or creates) the store at path. maxBytes <= 0 means
// unlimited.
func OpenLevelStore(path string, maxBytes int64) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "open leveldb %s", path)
	}
	return newLevelStore(db, maxBytes)
}

// OpenMemStore returns a store backed by memory only.
func OpenMemStore(maxBytes int64) (*LevelStore, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "open memory leveldb")
	}
	return newLevelStore(db, maxBytes)
}

func newLevelStore(db *leveldb.DB, maxBytes int64) (*LevelStore, error) {
	s := &LevelStore{
		db:       db,
		maxBytes: maxBytes,
		index:    map[string]map[string]int64{},
	}
	if err := s.loadIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *LevelStore) Close() error {
	return s.db.Close()
}

func (s *LevelStore) loadIndex() error {
	idx := map[string]map[string]int64{}

	git := s.db.NewIterator(util.BytesPrefix([]byte(genPrefix)), nil)
	for git.Next() {
		idx[string(bytes.TrimPrefix(git.Key(), []byte(genPrefix)))] = map[string]int64{}
	}
	git.Release()
	if err := git.Error(); err != nil {
		return errors.Wrap(err, "scan generations")
	}

	var total int64
	eit := s.db.NewIterator(util.BytesPrefix([]byte(entryPrefix)), nil)
	defer eit.Release()
	for eit.Next() {
		rest := bytes.TrimPrefix(eit.Key(), []byte(entryPrefix))
		sep := bytes.IndexByte(rest, 0)
		if sep < 0 {
			continue
		}
		gen, key := string(rest[:sep]), string(rest[sep+1:])
		keys, ok := idx[gen]
		if !ok {
			keys = map[string]int64{}
			idx[gen] = keys
		}
		size := int64(len(eit.Value()))
		keys[key] = size
		total += size
	}
	if err := eit.Error(); err != nil {
		return errors.Wrap(err, "scan entries")
	}

	s.mu.Lock()
	s.index = idx
	s.totalSize = total
	s.mu.Unlock()
	return nil
}

// Open returns the named generation, creating it when absent.
func (s *LevelStore) Open(gen string) (Cache, error) {
	s.mu.Lock()
	_, ok := s.index[gen]
	s.mu.Unlock()
	if !ok {
		stamp := strconv.FormatInt(time.Now().UnixNano(), 10)
		if err := s.db.Put(genKey(gen), []byte(stamp), nil); err != nil {
			return nil, errors.Wrapf(err, "create generation %s", gen)
		}
		s.mu.Lock()
		if _, ok := s.index[gen]; !ok {
			s.index[gen] = map[string]int64{}
		}
		s.mu.Unlock()
	}
	return &levelCache{store: s, gen: gen}, nil
}

func (s *LevelStore) Generations() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.index))
	for g := range s.index {
		out = append(out, g)
	}
	sort.Strings(out)
	return out, nil
}

// Delete drops a generation with all of its entries. It reports whether the
// generation existed.
func (s *LevelStore) Delete(gen string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.index[gen]

	batch := new(leveldb.Batch)
	it := s.db.NewIterator(util.BytesPrefix(entryGenPrefix(gen)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return false, errors.Wrapf(err, "scan generation %s", gen)
	}
	batch.Delete(genKey(gen))
	if err := s.db.Write(batch, nil); err != nil {
		return false, errors.Wrapf(err, "delete generation %s", gen)
	}

	for _, size := range s.index[gen] {
		s.totalSize -= size
	}
	delete(s.index, gen)
	return existed, nil
}

// Usage reports entry counts and sizes per generation, sorted by name.
func (s *LevelStore) Usage() []GenerationUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]GenerationUsage, 0, len(s.index))
	for g, keys := range s.index {
		u := GenerationUsage{Generation: g, Entries: len(keys)}
		for _, size := range keys {
			u.Bytes += size
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Generation < out[j].Generation })
	return out
}

func (s *LevelStore) TotalSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalSize
}

type levelCache struct {
	store *LevelStore
	gen   string
}

func (c *levelCache) Generation() string { return c.gen }

func (c *levelCache) Match(key string) (Entry, bool, error) {
	b, err := c.store.db.Get(entryKey(c.gen, key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, errors.Wrapf(err, "read %s", key)
	}
	ent, err := decodeEntry(b)
	if err != nil {
		return Entry{}, false, err
	}
	return ent, true, nil
}

// Put stores ent under key, replacing any previous entry.
func (c *levelCache) Put(key string, ent Entry) error {
	b, err := encodeEntry(ent)
	if err != nil {
		return err
	}
	size := int64(len(b))

	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	keys, ok := s.index[c.gen]
	if !ok {
		return errors.Errorf("generation %s does not exist", c.gen)
	}
	old := keys[key]
	if s.maxBytes > 0 && s.totalSize-old+size > s.maxBytes {
		return ErrQuotaExceeded
	}
	// Index and database change under the same lock.
	if err := s.db.Put(entryKey(c.gen, key), b, nil); err != nil {
		return errors.Wrapf(err, "write %s", key)
	}
	keys[key] = size
	s.totalSize += size - old
	return nil
}
