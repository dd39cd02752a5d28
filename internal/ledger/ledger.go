package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"consumo/internal/models"
	"consumo/internal/storage"
)

// datePrecision is the finest date resolution every backend keeps
const datePrecision = time.Millisecond

// ErrInvalidReading is returned when reading fields are out of range
var ErrInvalidReading = errors.New("invalid reading")

// Journal receives every reading after it has been stored
type Journal interface {
	Record(ctx context.Context, r models.Reading) error
}

// Ledger assigns per-user sequential reading ids and persists readings
type Ledger struct {
	svc     storage.Service
	journal Journal
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a Ledger
type Option func(*Ledger)

// WithJournal mirrors stored readings into j
func WithJournal(j Journal) Option {
	return func(l *Ledger) {
		l.journal = j
	}
}

// WithClock overrides the clock used for the default reading date
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// New creates a ledger on top of svc
func New(svc storage.Service, logger *zap.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		svc:    svc,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// GetNextReadingID returns the id the next reading of user will get
func (l *Ledger) GetNextReadingID(ctx context.Context, user int64) (int, error) {
	last, err := l.lastReadingID(ctx, user)
	if err != nil {
		return 0, err
	}
	return last + 1, nil
}

// lastReadingID returns the pointer value, or 0 when the user has no readings
func (l *Ledger) lastReadingID(ctx context.Context, user int64) (int, error) {
	key, err := l.svc.GetStorageKey(storage.LastReadingKey, storage.KeyContext{User: user})
	if err != nil {
		return 0, err
	}

	entity, err := l.svc.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		l.logger.Debug("No last reading pointer, first reading for user", zap.Int64("user_id", user))
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read last reading of user %d: %w", user, err)
	}

	pointer, err := storage.LastReadingFromEntity(user, entity)
	if err != nil {
		return 0, storage.NewBackendError(l.svc.Name(), "get", fmt.Errorf("decode %s: %w", key, err))
	}
	return pointer.Last, nil
}

// NewReading stores r under the next id of its user and advances the pointer.
// A concurrent reading of the same user that claimed the id first makes it fail
// with storage.ErrConflict; the caller may retry.
func (l *Ledger) NewReading(ctx context.Context, r models.Reading) (int, error) {
	if err := validate(r); err != nil {
		return 0, err
	}
	if r.Date.IsZero() {
		r.Date = l.now()
	}
	r.Date = r.Date.UTC().Truncate(datePrecision)

	nextID, err := l.GetNextReadingID(ctx, r.User)
	if err != nil {
		ledgerErrorsTotal.WithLabelValues("pointer_read").Inc()
		return 0, err
	}
	r.ReadingID = nextID

	readingKey, err := l.svc.GetStorageKey(storage.ReadingKey, storage.KeyContext{User: r.User, ReadingID: nextID})
	if err != nil {
		return 0, err
	}
	if err := l.svc.Add(ctx, readingKey, storage.ReadingEntity(r)); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			ledgerConflictsTotal.Inc()
			l.logger.Warn("Reading id already taken by a concurrent reading",
				zap.Int64("user_id", r.User),
				zap.Int("reading_id", nextID),
			)
		} else {
			ledgerErrorsTotal.WithLabelValues("reading_add").Inc()
		}
		return 0, fmt.Errorf("failed to store reading %d of user %d: %w", nextID, r.User, err)
	}

	pointerKey, err := l.svc.GetStorageKey(storage.LastReadingKey, storage.KeyContext{User: r.User})
	if err != nil {
		return 0, err
	}
	if err := l.svc.AddOrUpdate(ctx, pointerKey, storage.LastReadingEntity(nextID)); err != nil {
		ledgerErrorsTotal.WithLabelValues("pointer_update").Inc()
		l.logger.Error("Reading stored but last reading pointer is stale",
			zap.Int64("user_id", r.User),
			zap.Int("reading_id", nextID),
			zap.Error(err),
		)
		return 0, fmt.Errorf("failed to update last reading of user %d: %w", r.User, err)
	}

	readingsRecordedTotal.Inc()
	l.logger.Info("New reading stored",
		zap.Int64("user_id", r.User),
		zap.Int("reading_id", nextID),
	)

	if l.journal != nil {
		if err := l.journal.Record(ctx, r); err != nil {
			ledgerErrorsTotal.WithLabelValues("journal").Inc()
			l.logger.Warn("Failed to journal reading",
				zap.Int64("user_id", r.User),
				zap.Int("reading_id", nextID),
				zap.Error(err),
			)
		}
	}

	return nextID, nil
}

// Reading fetches a single reading of user
func (l *Ledger) Reading(ctx context.Context, user int64, readingID int) (models.Reading, error) {
	key, err := l.svc.GetStorageKey(storage.ReadingKey, storage.KeyContext{User: user, ReadingID: readingID})
	if err != nil {
		return models.Reading{}, err
	}

	entity, err := l.svc.Get(ctx, key)
	if err != nil {
		return models.Reading{}, fmt.Errorf("failed to get reading %d of user %d: %w", readingID, user, err)
	}

	r, err := storage.ReadingFromEntity(user, readingID, entity)
	if err != nil {
		return models.Reading{}, storage.NewBackendError(l.svc.Name(), "get", fmt.Errorf("decode %s: %w", key, err))
	}
	return r, nil
}

// LastReadings returns up to limit readings of user, newest first
func (l *Ledger) LastReadings(ctx context.Context, user int64, limit int) ([]models.Reading, error) {
	if limit <= 0 {
		return nil, nil
	}
	last, err := l.lastReadingID(ctx, user)
	if err != nil {
		return nil, err
	}

	readings := make([]models.Reading, 0, min(limit, last))
	for id := last; id >= 1 && len(readings) < limit; id-- {
		r, err := l.Reading(ctx, user, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, nil
}

// Resync moves a stale pointer forward to the highest stored reading.
// A pointer goes stale when a reading was stored but the pointer update failed.
func (l *Ledger) Resync(ctx context.Context, user int64) (int, error) {
	last, err := l.lastReadingID(ctx, user)
	if err != nil {
		return 0, err
	}

	highest := last
	for {
		_, err := l.Reading(ctx, user, highest+1)
		if errors.Is(err, storage.ErrNotFound) {
			break
		}
		if err != nil {
			return 0, err
		}
		highest++
	}

	if highest == last {
		return last, nil
	}

	pointerKey, err := l.svc.GetStorageKey(storage.LastReadingKey, storage.KeyContext{User: user})
	if err != nil {
		return 0, err
	}
	if err := l.svc.AddOrUpdate(ctx, pointerKey, storage.LastReadingEntity(highest)); err != nil {
		return 0, fmt.Errorf("failed to update last reading of user %d: %w", user, err)
	}

	l.logger.Info("Last reading pointer resynchronized",
		zap.Int64("user_id", user),
		zap.Int("previous", last),
		zap.Int("last", highest),
	)
	return highest, nil
}

func validate(r models.Reading) error {
	switch {
	case r.User == 0:
		return fmt.Errorf("%w: user is required", ErrInvalidReading)
	case r.Distance < 0 || r.Distance > math.MaxInt32:
		return fmt.Errorf("%w: distance must be a non-negative number of kilometers", ErrInvalidReading)
	case !(r.Volume > 0) || math.IsInf(r.Volume, 0):
		return fmt.Errorf("%w: volume must be positive", ErrInvalidReading)
	case !(r.Price > 0) || math.IsInf(r.Price, 0):
		return fmt.Errorf("%w: price must be positive", ErrInvalidReading)
	}
	return nil
}
