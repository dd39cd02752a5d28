package valkey

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"consumo/internal/models"
	"consumo/internal/storage"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	mini := miniredis.RunT(t)
	store, err := NewStore(Options{Addr: mini.Addr(), Namespace: "test", DisableCache: true}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store, mini
}

func TestNewStore_RequiresAddr(t *testing.T) {
	_, err := NewStore(Options{}, zap.NewNop())
	assert.Error(t, err)
}

func TestStore_GetMissing(t *testing.T) {
	store, _ := newTestStore(t)

	key, err := store.GetStorageKey(storage.LastReadingKey, storage.KeyContext{User: 42})
	require.NoError(t, err)

	_, err = store.Get(context.Background(), key)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_AddAndConflict(t *testing.T) {
	store, mini := newTestStore(t)
	ctx := context.Background()

	key, err := store.GetStorageKey(storage.ReadingKey, storage.KeyContext{User: 42, ReadingID: 1})
	require.NoError(t, err)
	reading := models.Reading{User: 42, ReadingID: 1, Distance: 210, Volume: 30.5, Price: 1.45,
		Date: time.Date(2020, 3, 14, 0, 0, 0, 0, time.UTC)}

	require.NoError(t, store.Add(ctx, key, storage.ReadingEntity(reading)))
	assert.True(t, mini.Exists("test:UserReadings:Reading_42_1"))

	err = store.Add(ctx, key, storage.ReadingEntity(models.Reading{Distance: 1, Volume: 1, Price: 1}))
	assert.ErrorIs(t, err, storage.ErrConflict)

	entity, err := store.Get(ctx, key)
	require.NoError(t, err)
	got, err := storage.ReadingFromEntity(42, 1, entity)
	require.NoError(t, err)
	assert.Equal(t, reading, got)
}

func TestStore_AddOrUpdate(t *testing.T) {
	store, mini := newTestStore(t)
	ctx := context.Background()

	key, err := store.GetStorageKey(storage.LastReadingKey, storage.KeyContext{User: 42})
	require.NoError(t, err)

	require.NoError(t, store.AddOrUpdate(ctx, key, storage.LastReadingEntity(1)))
	require.NoError(t, store.AddOrUpdate(ctx, key, storage.LastReadingEntity(2)))

	raw, err := mini.Get("test:LastUserRowKey:User_42")
	require.NoError(t, err)
	assert.JSONEq(t, `{"Last":2}`, raw)

	entity, err := store.Get(ctx, key)
	require.NoError(t, err)
	last, err := storage.LastReadingFromEntity(42, entity)
	require.NoError(t, err)
	assert.Equal(t, 2, last.Last)
}

func TestStore_ConnectFailureIsBackendError(t *testing.T) {
	mini := miniredis.RunT(t)
	addr := mini.Addr()
	mini.Close()

	store, err := NewStore(Options{Addr: addr, DisableCache: true}, zap.NewNop())
	require.NoError(t, err)

	key, _ := store.GetStorageKey(storage.LastReadingKey, storage.KeyContext{User: 1})
	_, err = store.Get(context.Background(), key)
	assert.True(t, storage.IsBackendError(err))
	assert.False(t, store.init.Done())
}

func TestStore_CloseBeforeUse(t *testing.T) {
	store, err := NewStore(Options{Addr: "localhost:1"}, zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, store.Close())
}

func TestStore_CloseDuringFirstUse(t *testing.T) {
	mini := miniredis.RunT(t)
	store, err := NewStore(Options{Addr: mini.Addr(), DisableCache: true}, zap.NewNop())
	require.NoError(t, err)
	key, _ := store.GetStorageKey(storage.LastReadingKey, storage.KeyContext{User: 1})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		store.Get(context.Background(), key)
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, store.Close())
	}()
	wg.Wait()

	assert.NoError(t, store.Close())
}
