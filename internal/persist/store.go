package persist

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	"github.com/dgraph-io/badger/v3/options"
	"github.com/kleberbaum/gqty/internal/cache"
	"go.uber.org/zap"
)

const keyPrefix = "snapshot/"

// Store keeps named snapshots in a badger database.
type Store struct {
	db *badger.DB
}

// Open opens the store at dir. An empty dir keeps everything in memory.
// A nil logger silences badger.
func Open(dir string, logger *zap.Logger) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.MemTableSize = 16 << 20
	opts.NumMemtables = 2
	opts.BaseTableSize = 16 << 20
	opts.Compression = options.ZSTD
	opts.ZSTDCompressionLevel = 3
	opts.Logger = nil
	if logger != nil {
		opts.Logger = badgerLogger{logger.Named("badger").Sugar()}
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("persist: open %q: %w", dir, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Save writes snap under name, replacing an earlier snapshot.
func (s *Store) Save(name string, snap cache.Snapshot) error {
	b, err := Encode(snap)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+name), b)
	})
}

// Load returns the snapshot saved under name. found is false when there is
// none.
func (s *Store) Load(name string) (snap cache.Snapshot, found bool, err error) {
	var b []byte
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + name))
		if err != nil {
			return err
		}
		b, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return cache.Snapshot{}, false, nil
	}
	if err != nil {
		return cache.Snapshot{}, false, fmt.Errorf("persist: load %q: %w", name, err)
	}
	snap, err = Decode(b)
	if err != nil {
		return cache.Snapshot{}, false, err
	}
	return snap, true, nil
}

func (s *Store) Delete(name string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + name))
	})
}

// Names lists the saved snapshot names in key order.
func (s *Store) Names() ([]string, error) {
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		o := badger.DefaultIteratorOptions
		o.PrefetchValues = false
		o.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(o)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, string(it.Item().Key()[len(keyPrefix):]))
		}
		return nil
	})
	return names, err
}

// SaveCache snapshots c under name.
func (s *Store) SaveCache(name string, c *cache.Cache) error {
	return s.Save(name, c.Snapshot())
}

// LoadCache restores c from the snapshot under name. It reports whether one
// was found; c is left untouched otherwise.
func (s *Store) LoadCache(name string, c *cache.Cache) (bool, error) {
	snap, found, err := s.Load(name)
	if err != nil || !found {
		return false, err
	}
	c.Restore(snap)
	return true, nil
}

type badgerLogger struct{ s *zap.SugaredLogger }

func (l badgerLogger) Errorf(f string, v ...any)   { l.s.Errorf(f, v...) }
func (l badgerLogger) Warningf(f string, v ...any) { l.s.Warnf(f, v...) }
func (l badgerLogger) Infof(f string, v ...any)    { l.s.Debugf(f, v...) }
func (l badgerLogger) Debugf(f string, v ...any)   { l.s.Debugf(f, v...) }
