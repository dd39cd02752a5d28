package valkey

import (
	"context"
	"fmt"

	"github.com/valkey-io/valkey-go"
	"go.uber.org/zap"

	"consumo/internal/storage"
)

const (
	backendName      = "valkey"
	defaultNamespace = "consumo"
)

// Options configures the Valkey backend
type Options struct {
	Addr      string
	Password  string
	Namespace string
	// DisableCache turns off client-side caching, required by miniredis
	DisableCache bool
}

// Store keeps each row as a JSON string under <namespace>:<partition>:<row>
type Store struct {
	opts   Options
	client valkey.Client
	init   storage.LazyInit
	logger *zap.Logger
}

var _ storage.Service = (*Store)(nil)

// NewStore creates a Valkey-backed store. The connection is opened on first use.
func NewStore(opts Options, logger *zap.Logger) (*Store, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("valkey address is required")
	}
	if opts.Namespace == "" {
		opts.Namespace = defaultNamespace
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

func (s *Store) redisKey(key storage.Key) string {
	return fmt.Sprintf("%s:%s:%s", s.opts.Namespace, key.PartitionKey, key.RowKey)
}

// connect opens the client and verifies it with PING
func (s *Store) connect(ctx context.Context) error {
	err := s.init.Do(ctx, func(ctx context.Context) error {
		client, err := valkey.NewClient(valkey.ClientOption{
			InitAddress:  []string{s.opts.Addr},
			Password:     s.opts.Password,
			DisableCache: s.opts.DisableCache,
		})
		if err != nil {
			return fmt.Errorf("connect to valkey: %w", err)
		}
		if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
			client.Close()
			return fmt.Errorf("ping valkey: %w", err)
		}
		s.client = client
		s.logger.Debug("Connected to Valkey", zap.String("addr", s.opts.Addr), zap.String("namespace", s.opts.Namespace))
		return nil
	})
	return storage.NewBackendError(backendName, "init", err)
}

// Get fetches the entity stored at key
func (s *Store) Get(ctx context.Context, key storage.Key) (storage.Entity, error) {
	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.redisKey(key)).Build()).AsBytes()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, fmt.Errorf("get %s: %w", key, storage.ErrNotFound)
		}
		return nil, storage.NewBackendError(backendName, "get", err)
	}

	entity, err := storage.UnmarshalEntity(data)
	if err != nil {
		return nil, storage.NewBackendError(backendName, "get", fmt.Errorf("decode %s: %w", key, err))
	}
	return entity, nil
}

// Add stores the entity with SET NX; a nil reply means the row already exists
func (s *Store) Add(ctx context.Context, key storage.Key, entity storage.Entity) error {
	if err := s.connect(ctx); err != nil {
		return err
	}

	data, err := storage.MarshalEntity(entity)
	if err != nil {
		return storage.NewBackendError(backendName, "add", err)
	}

	cmd := s.client.B().Set().Key(s.redisKey(key)).Value(string(data)).Nx().Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return fmt.Errorf("add %s: %w", key, storage.ErrConflict)
		}
		return storage.NewBackendError(backendName, "add", err)
	}
	return nil
}

// AddOrUpdate overwrites the entity at key
func (s *Store) AddOrUpdate(ctx context.Context, key storage.Key, entity storage.Entity) error {
	if err := s.connect(ctx); err != nil {
		return err
	}

	data, err := storage.MarshalEntity(entity)
	if err != nil {
		return storage.NewBackendError(backendName, "add_or_update", err)
	}

	cmd := s.client.B().Set().Key(s.redisKey(key)).Value(string(data)).Build()
	return storage.NewBackendError(backendName, "add_or_update", s.client.Do(ctx, cmd).Error())
}

// Close closes the Valkey connection if it was opened
func (s *Store) Close() error {
	return s.init.Close(func() error {
		s.client.Close()
		return nil
	})
}
