package badger

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"

	"consumo/internal/storage"
)

const backendName = "badger"

// Options configures the embedded Badger backend
type Options struct {
	Path     string
	InMemory bool
}

// Store keeps rows in an embedded BadgerDB, keyed by <partition>/<row>
type Store struct {
	opts   Options
	db     *badger.DB
	init   storage.LazyInit
	logger *zap.Logger
}

var _ storage.Service = (*Store)(nil)

// badgerLogger adapts zap to the badger.Logger interface.
type badgerLogger struct {
	sugar *zap.SugaredLogger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, items ...any)   { l.sugar.Errorf(msg, items...) }
func (l *badgerLogger) Warningf(msg string, items ...any) { l.sugar.Warnf(msg, items...) }
func (l *badgerLogger) Infof(msg string, items ...any)    { l.sugar.Infof(msg, items...) }
func (l *badgerLogger) Debugf(msg string, items ...any)   { l.sugar.Debugf(msg, items...) }

// NewStore creates the store. The database is opened on first use.
func NewStore(opts Options, logger *zap.Logger) (*Store, error) {
	if !opts.InMemory && opts.Path == "" {
		return nil, fmt.Errorf("badger path is required unless running in memory")
	}
	return &Store{opts: opts, logger: logger}, nil
}

// Name returns the backend name
func (s *Store) Name() string {
	return backendName
}

// GetStorageKey derives the partition/row address of a record
func (s *Store) GetStorageKey(keyType storage.KeyType, kc storage.KeyContext) (storage.Key, error) {
	return storage.DeriveKey(keyType, kc)
}

func (s *Store) open(ctx context.Context) error {
	err := s.init.Do(ctx, func(ctx context.Context) error {
		var opts badger.Options
		if s.opts.InMemory {
			opts = badger.DefaultOptions("").WithInMemory(true)
		} else {
			if err := os.MkdirAll(s.opts.Path, 0755); err != nil {
				return err
			}
			opts = badger.DefaultOptions(s.opts.Path)
		}
		opts.Logger = &badgerLogger{sugar: s.logger.Named("badger").Sugar()}
		opts.Compression = options.None

		db, err := badger.Open(opts)
		if err != nil {
			return err
		}
		s.db = db
		s.logger.Debug("Opened badger database", zap.String("path", s.opts.Path), zap.Bool("in_memory", s.opts.InMemory))
		return nil
	})
	return storage.NewBackendError(backendName, "init", err)
}

func dbKey(key storage.Key) []byte {
	return []byte(key.PartitionKey + "/" + key.RowKey)
}

// Get fetches the entity stored at key
func (s *Store) Get(ctx context.Context, key storage.Key) (storage.Entity, error) {
	if err := s.open(ctx); err != nil {
		return nil, err
	}

	var entity storage.Entity
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dbKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var decodeErr error
			entity, decodeErr = storage.UnmarshalEntity(val)
			return decodeErr
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("get %s: %w", key, storage.ErrNotFound)
		}
		return nil, storage.NewBackendError(backendName, "get", err)
	}
	return entity, nil
}

// Add inserts the entity in a transaction that fails if the key exists.
// A concurrent writer of the same key makes the commit fail with badger.ErrConflict.
func (s *Store) Add(ctx context.Context, key storage.Key, entity storage.Entity) error {
	if err := s.open(ctx); err != nil {
		return err
	}

	data, err := storage.MarshalEntity(entity)
	if err != nil {
		return storage.NewBackendError(backendName, "add", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(dbKey(key))
		if err == nil {
			return storage.ErrConflict
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(dbKey(key), data)
	})
	if errors.Is(err, storage.ErrConflict) || errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("add %s: %w", key, storage.ErrConflict)
	}
	return storage.NewBackendError(backendName, "add", err)
}

// AddOrUpdate overwrites the entity at key
func (s *Store) AddOrUpdate(ctx context.Context, key storage.Key, entity storage.Entity) error {
	if err := s.open(ctx); err != nil {
		return err
	}

	data, err := storage.MarshalEntity(entity)
	if err != nil {
		return storage.NewBackendError(backendName, "add_or_update", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(dbKey(key), data)
	})
	return storage.NewBackendError(backendName, "add_or_update", err)
}

// Close closes the database if it was opened
func (s *Store) Close() error {
	return s.init.Close(func() error {
		return s.db.Close()
	})
}
