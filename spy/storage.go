package spy

import (
	"errors"
	"fmt"
	"log"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/dgraph-io/ristretto/v2"
)

const cacheMetricsInterval = time.Minute

// Storage is a flat key space of history blobs.
type Storage interface {
	Put(key string, blob []byte) error
	// Get returns false when key is not stored.
	Get(key string) ([]byte, bool, error)
	Delete(key string) error
	// Keys returns the keys beginning with prefix in ascending order.
	Keys(prefix string) ([]string, error)
	// DeletePrefix removes every key beginning with prefix.
	DeletePrefix(prefix string) error
	Close() error
}

type memStorage struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemStorage returns a Storage held in memory, used when history does not need to outlive the process.
func NewMemStorage() Storage {
	return &memStorage{blobs: make(map[string][]byte)}
}

func (m *memStorage) Put(key string, blob []byte) error {
	m.mu.Lock()
	m.blobs[key] = slices.Clone(blob)
	m.mu.Unlock()
	return nil
}

func (m *memStorage) Get(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if blob, ok := m.blobs[key]; ok {
		return slices.Clone(blob), true, nil
	}
	return nil, false, nil
}

func (m *memStorage) Delete(key string) error {
	m.mu.Lock()
	delete(m.blobs, key)
	m.mu.Unlock()
	return nil
}

func (m *memStorage) Keys(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := slices.Sorted(maps.Keys(m.blobs))
	return slices.DeleteFunc(keys, func(k string) bool {
		return !strings.HasPrefix(k, prefix)
	}), nil
}

func (m *memStorage) DeletePrefix(prefix string) error {
	m.mu.Lock()
	maps.DeleteFunc(m.blobs, func(k string, _ []byte) bool {
		return strings.HasPrefix(k, prefix)
	})
	m.mu.Unlock()
	return nil
}

func (m *memStorage) Close() error {
	return nil
}

// BadgerOptions configures NewBadgerStorage.
type BadgerOptions struct {
	Path string
	// CacheMB bounds the memtables and the index cache.
	CacheMB int
	// Debug turns on badger logging and periodic index cache metrics.
	Debug bool
}

type badgerStorage struct {
	db       *badger.DB
	stop     chan struct{}
	stopOnce sync.Once
	done     sync.WaitGroup
}

// NewBadgerStorage opens, or creates, the on disk history store at opts.Path.
func NewBadgerStorage(opts BadgerOptions) (Storage, error) {
	if err := os.MkdirAll(opts.Path, 0755); err != nil {
		return nil, fmt.Errorf("create history dir failed: %w", err)
	}

	quarterMB := int64(opts.CacheMB / 4)
	memTableSize := min(max(quarterMB, 8), 64) << 20
	// records are zstd compressed before they reach badger, the block cache would hold compressed bytes
	dbOpts := badger.DefaultOptions(opts.Path).
		WithCompression(options.None).
		WithNumMemtables(2).
		WithMemTableSize(memTableSize).
		WithBaseTableSize(memTableSize).
		WithBlockCacheSize(0).
		WithIndexCacheSize(min(max(quarterMB, 16), 128) << 20)
	if opts.Debug {
		dbOpts = dbOpts.WithLoggingLevel(badger.INFO)
	} else {
		dbOpts = dbOpts.WithLoggingLevel(badger.ERROR).WithMetricsEnabled(false)
	}

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("open history db failed: %w", err)
	}
	store := &badgerStorage{db: db, stop: make(chan struct{})}
	if opts.Debug {
		store.done.Add(1)
		go store.logCacheMetrics(cacheMetricsInterval)
	}
	return store, nil
}

// logCacheMetrics reports index cache hit rates until the store is closed.
func (b *badgerStorage) logCacheMetrics(interval time.Duration) {
	defer b.done.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			logIndexCacheMetrics(b.db.IndexCacheMetrics())
		}
	}
}

func logIndexCacheMetrics(metrics *ristretto.Metrics) {
	if metrics == nil || (metrics.Hits() == 0 && metrics.Misses() == 0) {
		return
	}
	log.Printf("History index cache: hits=%d misses=%d ratio=%.2f",
		metrics.Hits(), metrics.Misses(), metrics.Ratio())
	metrics.Clear()
}

func (b *badgerStorage) Put(key string, blob []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), blob)
	})
}

func (b *badgerStorage) Get(key string) ([]byte, bool, error) {
	var blob []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	return blob, true, nil
}

func (b *badgerStorage) Delete(key string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (b *badgerStorage) Keys(prefix string) ([]string, error) {
	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefix)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().Key()))
		}
		return nil
	})
	return keys, err
}

func (b *badgerStorage) DeletePrefix(prefix string) error {
	return b.db.DropPrefix([]byte(prefix))
}

func (b *badgerStorage) Close() error {
	var err error
	b.stopOnce.Do(func() {
		close(b.stop)
		b.done.Wait()
		err = b.db.Close()
	})
	return err
}
