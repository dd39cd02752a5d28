package models

import "time"

// Reading represents one fuel purchase
type Reading struct {
	User      int64
	ReadingID int
	Distance  int     // kilometers since the previous reading
	Volume    float64 // liters
	Price     float64 // currency per liter
	Partial   bool    // tank was not filled up
	Date      time.Time
}

// LastReading is the per-user pointer to the highest issued reading id
type LastReading struct {
	User int64
	Last int
}

// Total returns the amount paid for the reading
func (r Reading) Total() float64 {
	return r.Volume * r.Price
}
