// Package store persists final actor records in an embedded badger database.
// Only the record is stored; audit logs belong to the request that produced
// them.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/iyulab/actor-profiler/internal/logging"
	"github.com/iyulab/actor-profiler/internal/naming"
	"github.com/iyulab/actor-profiler/internal/profile"
)

// ErrNotFound is returned when no record matches a name.
var ErrNotFound = errors.New("profile not found")

const keyPrefix = "profile/"

// Options configure Open. Dir is required unless InMemory is set.
type Options struct {
	Dir      string
	InMemory bool
	Logger   *zap.Logger
}

// Entry is a stored record with bookkeeping.
type Entry struct {
	Record    profile.Record `json:"record"`
	RequestID string         `json:"request_id,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Store is safe for concurrent use.
type Store struct {
	db     *badger.DB
	logger *zap.Logger
	now    func() time.Time
}

// Open opens or creates the database.
func Open(opts Options) (*Store, error) {
	logger := logging.OrNop(opts.Logger)

	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Dir == "" {
			return nil, errors.New("store: dir is required for a persistent database")
		}
		if err := os.MkdirAll(opts.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", opts.Dir, err)
		}
		bopts = badger.DefaultOptions(opts.Dir)
	}
	bopts = bopts.WithLogger(&badgerLogger{logger: logger.Sugar()})

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func recordKey(name string) []byte {
	return []byte(keyPrefix + naming.Normalize(name))
}

// Save writes rec under its normalized name, replacing any earlier version.
func (s *Store) Save(ctx context.Context, rec profile.Record, requestID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if naming.Normalize(rec.Name) == "" {
		return errors.New("store: record has no name")
	}

	data, err := json.Marshal(Entry{Record: rec, RequestID: requestID, UpdatedAt: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.Name, err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(rec.Name), data)
	}); err != nil {
		return fmt.Errorf("save record %s: %w", rec.Name, err)
	}
	s.logger.Debug("record saved", zap.String("actor", rec.Name), zap.String("request_id", requestID))
	return nil
}

// Get returns the record stored for name. Lookup falls back to the same
// fuzzy key resolution the override registry uses.
func (s *Store) Get(ctx context.Context, name string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	if naming.Normalize(name) == "" {
		return Entry{}, ErrNotFound
	}

	var entry Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			key, ok := naming.ResolveKey(name, keysIn(txn))
			if !ok {
				return ErrNotFound
			}
			item, err = txn.Get([]byte(keyPrefix + key))
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if errors.Is(err, ErrNotFound) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("get record %s: %w", name, err)
	}
	return entry, nil
}

// keysIn lists the normalized names of every stored record.
func keysIn(txn *badger.Txn) []string {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys []string
	prefix := []byte(keyPrefix)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, string(it.Item().Key()[len(prefix):]))
	}
	return keys
}

// List returns every stored record sorted by name.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entries []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Record.Name < entries[j].Record.Name })
	return entries, nil
}

// Delete removes the record stored under name's exact normalized key.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(recordKey(name)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return txn.Delete(recordKey(name))
	})
}

// badgerLogger adapts zap to badger's Logger interface. Badger's info and
// debug chatter is demoted one level.
type badgerLogger struct {
	logger *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}
