package storage

import (
	"context"
	"fmt"
)

// Partitions of the table layout. Both are shared by every backend.
const (
	LastReadingPartition = "LastUserRowKey"
	ReadingsPartition    = "UserReadings"
)

// KeyType selects which logical record a Key addresses
type KeyType int

const (
	LastReadingKey KeyType = iota
	ReadingKey
)

func (t KeyType) String() string {
	switch t {
	case LastReadingKey:
		return "last_reading"
	case ReadingKey:
		return "reading"
	default:
		return fmt.Sprintf("key_type(%d)", int(t))
	}
}

// KeyContext carries the logical fields a key is derived from.
// ReadingID is only used by ReadingKey.
type KeyContext struct {
	User      int64
	ReadingID int
}

// Key is the physical partition/row address of a record
type Key struct {
	Type         KeyType
	PartitionKey string
	RowKey       string
}

func (k Key) String() string {
	return k.PartitionKey + "/" + k.RowKey
}

// Service defines partition-addressed key/value access to a backing store.
type Service interface {
	// Name identifies the backend in logs and metrics
	Name() string

	// GetStorageKey derives the address of a record. It never performs I/O.
	GetStorageKey(keyType KeyType, kc KeyContext) (Key, error)

	// Get returns the entity stored at key, or ErrNotFound
	Get(ctx context.Context, key Key) (Entity, error)

	// Add inserts a new entity and fails with ErrConflict if the row exists
	Add(ctx context.Context, key Key, entity Entity) error

	// AddOrUpdate inserts or replaces the entity at key
	AddOrUpdate(ctx context.Context, key Key, entity Entity) error

	Close() error
}

// DeriveKey maps a key type and its context to a partition/row address.
func DeriveKey(keyType KeyType, kc KeyContext) (Key, error) {
	switch keyType {
	case LastReadingKey:
		return Key{
			Type:         LastReadingKey,
			PartitionKey: LastReadingPartition,
			RowKey:       fmt.Sprintf("User_%d", kc.User),
		}, nil
	case ReadingKey:
		if kc.ReadingID < 1 {
			return Key{}, fmt.Errorf("%w: reading id must be positive, got %d", ErrInvalidKey, kc.ReadingID)
		}
		return Key{
			Type:         ReadingKey,
			PartitionKey: ReadingsPartition,
			RowKey:       fmt.Sprintf("Reading_%d_%d", kc.User, kc.ReadingID),
		}, nil
	default:
		return Key{}, fmt.Errorf("%w: %s", ErrUnsupportedKeyType, keyType)
	}
}
