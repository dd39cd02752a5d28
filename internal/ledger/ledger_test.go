package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"consumo/internal/models"
	"consumo/internal/storage"
	"consumo/internal/storage/stubs"
)

var fixedNow = time.Date(2020, 3, 14, 9, 30, 0, 0, time.UTC)

func newTestLedger(opts ...Option) (*Ledger, *stubs.MockService) {
	svc := stubs.NewMockService()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(svc, zap.NewNop(), opts...), svc
}

// recordingJournal collects journaled readings
type recordingJournal struct {
	mu       sync.Mutex
	readings []models.Reading
	err      error
}

func (j *recordingJournal) Record(ctx context.Context, r models.Reading) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.readings = append(j.readings, r)
	return nil
}

func getEntity(t *testing.T, svc *stubs.MockService, keyType storage.KeyType, kc storage.KeyContext) storage.Entity {
	t.Helper()
	key, err := svc.GetStorageKey(keyType, kc)
	require.NoError(t, err)
	e, err := svc.Get(context.Background(), key)
	require.NoError(t, err)
	return e
}

func TestGetNextReadingID_NewUser(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	for _, user := range []int64{1, 42, -5, 9_000_000_000} {
		id, err := l.GetNextReadingID(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, 1, id, "user %d", user)
	}
}

func TestNewReading_SequentialIDs(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	const n = 10
	for i := 1; i <= n; i++ {
		id, err := l.NewReading(ctx, models.Reading{User: 42, Volume: 30, Price: 1.5, Distance: 100 * i})
		require.NoError(t, err)
		assert.Equal(t, i, id)
	}

	next, err := l.GetNextReadingID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, n+1, next)

	// Other users are unaffected
	other, err := l.GetNextReadingID(ctx, 43)
	require.NoError(t, err)
	assert.Equal(t, 1, other)
}

func TestGetNextReadingID_IsIdempotent(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	_, err := l.NewReading(ctx, models.Reading{User: 42, Volume: 30, Price: 1.5, Distance: 10})
	require.NoError(t, err)

	first, err := l.GetNextReadingID(ctx, 42)
	require.NoError(t, err)
	second, err := l.GetNextReadingID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestNewReading_Scenario(t *testing.T) {
	l, svc := newTestLedger()
	ctx := context.Background()

	id, err := l.NewReading(ctx, models.Reading{User: 42, Volume: 30.5, Price: 1.45, Distance: 210, Partial: false})
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	pointer := getEntity(t, svc, storage.LastReadingKey, storage.KeyContext{User: 42})
	assert.Equal(t, storage.Entity{"Last": int32(1)}, pointer)

	row := getEntity(t, svc, storage.ReadingKey, storage.KeyContext{User: 42, ReadingID: 1})
	assert.Equal(t, storage.Entity{
		"Distance": int32(210),
		"Volume":   30.5,
		"Price":    1.45,
		"Partial":  false,
		"Date":     fixedNow,
	}, row)

	id, err = l.NewReading(ctx, models.Reading{User: 42, Volume: 25, Price: 1.5, Distance: 180, Partial: true})
	require.NoError(t, err)
	assert.Equal(t, 2, id)

	pointer = getEntity(t, svc, storage.LastReadingKey, storage.KeyContext{User: 42})
	assert.Equal(t, storage.Entity{"Last": int32(2)}, pointer)

	second := getEntity(t, svc, storage.ReadingKey, storage.KeyContext{User: 42, ReadingID: 2})
	assert.Equal(t, int32(180), second["Distance"])
	assert.Equal(t, true, second["Partial"])

	// The first reading is left untouched
	assert.Equal(t, row, getEntity(t, svc, storage.ReadingKey, storage.KeyContext{User: 42, ReadingID: 1}))

	keys := svc.Keys()
	require.Len(t, keys, 3)
	assert.Equal(t, "LastUserRowKey/User_42", keys[0].String())
	assert.Equal(t, "UserReadings/Reading_42_1", keys[1].String())
	assert.Equal(t, "UserReadings/Reading_42_2", keys[2].String())
}

func TestNewReading_RoundTrip(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	date := time.Date(2020, 2, 29, 0, 0, 0, 0, time.UTC)
	in := models.Reading{User: 7, Volume: 41.27, Price: 1.319, Distance: 655, Partial: true, Date: date}

	id, err := l.NewReading(ctx, in)
	require.NoError(t, err)

	got, err := l.Reading(ctx, 7, id)
	require.NoError(t, err)

	in.ReadingID = id
	assert.Equal(t, in, got)
}

func TestNewReading_DefaultsDateToNow(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	id, err := l.NewReading(ctx, models.Reading{User: 7, Volume: 10, Price: 1, Distance: 1})
	require.NoError(t, err)

	got, err := l.Reading(ctx, 7, id)
	require.NoError(t, err)
	assert.Equal(t, fixedNow, got.Date)
	assert.False(t, got.Partial)
}

func TestNewReading_TruncatesDate(t *testing.T) {
	precise := time.Date(2020, 3, 14, 9, 30, 15, 123456789, time.FixedZone("CET", 3600))
	l, svc := newTestLedger(WithClock(func() time.Time { return precise }))
	ctx := context.Background()

	id, err := l.NewReading(ctx, models.Reading{User: 7, Volume: 10, Price: 1, Distance: 1})
	require.NoError(t, err)

	expected := time.Date(2020, 3, 14, 8, 30, 15, 123000000, time.UTC)
	got, err := l.Reading(ctx, 7, id)
	require.NoError(t, err)
	assert.Equal(t, expected, got.Date)

	row := getEntity(t, svc, storage.ReadingKey, storage.KeyContext{User: 7, ReadingID: id})
	assert.Equal(t, expected, row["Date"])

	// Explicit dates are truncated the same way
	id, err = l.NewReading(ctx, models.Reading{User: 7, Volume: 10, Price: 1, Distance: 1, Date: precise})
	require.NoError(t, err)
	got, err = l.Reading(ctx, 7, id)
	require.NoError(t, err)
	assert.Equal(t, expected, got.Date)
}

func TestNewReading_ConcurrentSameUser(t *testing.T) {
	l, svc := newTestLedger()
	ctx := context.Background()

	// Both writers read the pointer before either of them writes
	var reads atomic.Int32
	var bothRead sync.WaitGroup
	bothRead.Add(2)
	svc.AfterGet(func(key storage.Key) {
		if key.Type == storage.LastReadingKey && reads.Add(1) <= 2 {
			bothRead.Done()
			bothRead.Wait()
		}
	})

	conflictsBefore := testutil.ToFloat64(ledgerConflictsTotal)

	ids := make([]int, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = l.NewReading(ctx, models.Reading{User: 42, Volume: 30, Price: 1.5, Distance: 100 + i})
		}(i)
	}
	wg.Wait()

	var succeeded, conflicted int
	for i := range errs {
		switch {
		case errs[i] == nil:
			succeeded++
			assert.Equal(t, 1, ids[i])
		case errors.Is(errs[i], storage.ErrConflict):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", errs[i])
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, conflicted)
	assert.Equal(t, conflictsBefore+1, testutil.ToFloat64(ledgerConflictsTotal))

	svc.AfterGet(nil)
	next, err := l.GetNextReadingID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 2, next)

	// The losing caller can retry and gets the following id
	id, err := l.NewReading(ctx, models.Reading{User: 42, Volume: 30, Price: 1.5, Distance: 100})
	require.NoError(t, err)
	assert.Equal(t, 2, id)
}

func TestNewReading_PointerReadFailure(t *testing.T) {
	l, svc := newTestLedger()
	ctx := context.Background()

	cause := errors.New("authentication failed")
	svc.FailNext("get", cause)

	_, err := l.NewReading(ctx, models.Reading{User: 42, Volume: 30, Price: 1.5, Distance: 10})
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.True(t, storage.IsBackendError(err))
	assert.Empty(t, svc.Keys(), "no row may be written when the pointer read fails")
}

func TestNewReading_AddFailure(t *testing.T) {
	l, svc := newTestLedger()
	ctx := context.Background()

	svc.FailNext("add", errors.New("503 server busy"))

	_, err := l.NewReading(ctx, models.Reading{User: 42, Volume: 30, Price: 1.5, Distance: 10})
	require.Error(t, err)
	assert.True(t, storage.IsBackendError(err))
	assert.Empty(t, svc.Keys())
}

func TestNewReading_StalePointerAndResync(t *testing.T) {
	l, svc := newTestLedger()
	ctx := context.Background()

	_, err := l.NewReading(ctx, models.Reading{User: 42, Volume: 30, Price: 1.5, Distance: 10})
	require.NoError(t, err)

	svc.FailNext("add_or_update", errors.New("timeout"))
	_, err = l.NewReading(ctx, models.Reading{User: 42, Volume: 31, Price: 1.5, Distance: 20})
	require.Error(t, err)
	assert.True(t, storage.IsBackendError(err))

	// Reading 2 exists but the pointer still says 1
	_ = getEntity(t, svc, storage.ReadingKey, storage.KeyContext{User: 42, ReadingID: 2})
	next, err := l.GetNextReadingID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 2, next)

	_, err = l.NewReading(ctx, models.Reading{User: 42, Volume: 32, Price: 1.5, Distance: 30})
	assert.ErrorIs(t, err, storage.ErrConflict)

	last, err := l.Resync(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 2, last)

	id, err := l.NewReading(ctx, models.Reading{User: 42, Volume: 32, Price: 1.5, Distance: 30})
	require.NoError(t, err)
	assert.Equal(t, 3, id)
}

func TestResync_NothingToDo(t *testing.T) {
	l, svc := newTestLedger()
	ctx := context.Background()

	last, err := l.Resync(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 0, last)
	assert.Empty(t, svc.Keys())

	_, err = l.NewReading(ctx, models.Reading{User: 42, Volume: 30, Price: 1.5, Distance: 10})
	require.NoError(t, err)

	last, err = l.Resync(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 1, last)
}

func TestNewReading_Validation(t *testing.T) {
	testCases := []struct {
		name    string
		reading models.Reading
	}{
		{name: "missing user", reading: models.Reading{Volume: 1, Price: 1}},
		{name: "zero volume", reading: models.Reading{User: 1, Volume: 0, Price: 1}},
		{name: "negative price", reading: models.Reading{User: 1, Volume: 1, Price: -1}},
		{name: "negative distance", reading: models.Reading{User: 1, Volume: 1, Price: 1, Distance: -3}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			l, svc := newTestLedger()
			_, err := l.NewReading(context.Background(), tc.reading)
			assert.ErrorIs(t, err, ErrInvalidReading)
			assert.Equal(t, 0, svc.Inits(), "validation happens before any I/O")
		})
	}
}

func TestNewReading_Journal(t *testing.T) {
	journal := &recordingJournal{}
	l, _ := newTestLedger(WithJournal(journal))
	ctx := context.Background()

	id, err := l.NewReading(ctx, models.Reading{User: 42, Volume: 30.5, Price: 1.45, Distance: 210})
	require.NoError(t, err)

	require.Len(t, journal.readings, 1)
	assert.Equal(t, id, journal.readings[0].ReadingID)
	assert.Equal(t, fixedNow, journal.readings[0].Date)

	// A journal outage does not fail the reading
	journal.err = errors.New("clickhouse down")
	id, err = l.NewReading(ctx, models.Reading{User: 42, Volume: 30.5, Price: 1.45, Distance: 210})
	require.NoError(t, err)
	assert.Equal(t, 2, id)
}

func TestLastReadings(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	empty, err := l.LastReadings(ctx, 42, 5)
	require.NoError(t, err)
	assert.Empty(t, empty)

	for i := 1; i <= 4; i++ {
		_, err := l.NewReading(ctx, models.Reading{User: 42, Volume: 30, Price: 1.5, Distance: i * 10})
		require.NoError(t, err)
	}

	readings, err := l.LastReadings(ctx, 42, 3)
	require.NoError(t, err)
	require.Len(t, readings, 3)
	assert.Equal(t, 4, readings[0].ReadingID)
	assert.Equal(t, 40, readings[0].Distance)
	assert.Equal(t, 2, readings[2].ReadingID)

	all, err := l.LastReadings(ctx, 42, 10)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	none, err := l.LastReadings(ctx, 42, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestReading_NotFound(t *testing.T) {
	l, _ := newTestLedger()

	_, err := l.Reading(context.Background(), 42, 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = l.Reading(context.Background(), 42, 0)
	assert.ErrorIs(t, err, storage.ErrInvalidKey)
}
