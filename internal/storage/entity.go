package storage

import (
	"bytes"
	"fmt"
	"math"
	"time"

	"github.com/goccy/go-json"

	"consumo/internal/models"
)

// Entity property names of the table layout
const (
	PropLast     = "Last"
	PropDistance = "Distance"
	PropVolume   = "Volume"
	PropPrice    = "Price"
	PropPartial  = "Partial"
	PropDate     = "Date"
)

// Entity is the property bag stored in a single row
type Entity map[string]any

// Int32 returns a whole-number property
func (e Entity) Int32(name string) (int32, error) {
	v, ok := e[name]
	if !ok {
		return 0, fmt.Errorf("property %s is missing", name)
	}
	switch n := v.(type) {
	case int32:
		return n, nil
	case int:
		return checkedInt32(name, float64(n))
	case int64:
		return checkedInt32(name, float64(n))
	case float64:
		return checkedInt32(name, n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("property %s: %w", name, err)
		}
		return checkedInt32(name, f)
	default:
		return 0, fmt.Errorf("property %s has unexpected type %T", name, v)
	}
}

func checkedInt32(name string, f float64) (int32, error) {
	if f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, fmt.Errorf("property %s is not an int32: %v", name, f)
	}
	return int32(f), nil
}

// Float64 returns a numeric property
func (e Entity) Float64(name string) (float64, error) {
	v, ok := e[name]
	if !ok {
		return 0, fmt.Errorf("property %s is missing", name)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("property %s has unexpected type %T", name, v)
	}
}

// Bool returns a boolean property; a missing property reads as false
func (e Entity) Bool(name string) (bool, error) {
	v, ok := e[name]
	if !ok {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("property %s has unexpected type %T", name, v)
	}
	return b, nil
}

// Time returns a timestamp property stored natively or as RFC 3339 text
func (e Entity) Time(name string) (time.Time, error) {
	v, ok := e[name]
	if !ok {
		return time.Time{}, fmt.Errorf("property %s is missing", name)
	}
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("property %s: %w", name, err)
		}
		return parsed.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("property %s has unexpected type %T", name, v)
	}
}

// ReadingEntity encodes the stored fields of a reading
func ReadingEntity(r models.Reading) Entity {
	return Entity{
		PropDistance: int32(r.Distance),
		PropVolume:   r.Volume,
		PropPrice:    r.Price,
		PropPartial:  r.Partial,
		PropDate:     r.Date.UTC(),
	}
}

// ReadingFromEntity decodes a reading row. User and id come from the key.
func ReadingFromEntity(user int64, readingID int, e Entity) (models.Reading, error) {
	distance, err := e.Int32(PropDistance)
	if err != nil {
		return models.Reading{}, err
	}
	volume, err := e.Float64(PropVolume)
	if err != nil {
		return models.Reading{}, err
	}
	price, err := e.Float64(PropPrice)
	if err != nil {
		return models.Reading{}, err
	}
	partial, err := e.Bool(PropPartial)
	if err != nil {
		return models.Reading{}, err
	}
	date, err := e.Time(PropDate)
	if err != nil {
		return models.Reading{}, err
	}
	return models.Reading{
		User:      user,
		ReadingID: readingID,
		Distance:  int(distance),
		Volume:    volume,
		Price:     price,
		Partial:   partial,
		Date:      date,
	}, nil
}

// LastReadingEntity encodes the per-user pointer
func LastReadingEntity(last int) Entity {
	return Entity{PropLast: int32(last)}
}

// LastReadingFromEntity decodes the per-user pointer
func LastReadingFromEntity(user int64, e Entity) (models.LastReading, error) {
	last, err := e.Int32(PropLast)
	if err != nil {
		return models.LastReading{}, err
	}
	return models.LastReading{User: user, Last: int(last)}, nil
}

// MarshalEntity encodes an entity as JSON for byte-oriented backends
func MarshalEntity(e Entity) ([]byte, error) {
	return json.Marshal(map[string]any(e))
}

// UnmarshalEntity decodes an entity produced by MarshalEntity.
// Numbers come back as json.Number and timestamps as strings.
func UnmarshalEntity(data []byte) (Entity, error) {
	var props map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&props); err != nil {
		return nil, err
	}
	return Entity(props), nil
}
