package positioning

import (
	"math"
	"time"

	"patrol-beat-tracker/internal/models"
)

const earthRadiusMeters = 6371008.8

// Distance returns the great-circle distance between two fixes in meters
func Distance(a, b models.Position) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Filter decides which raw fixes become samples. A fix is emitted at once when it
// is the first one or lies at least minDistance from the last emitted fix;
// otherwise it is held and emitted on the next interval tick.
// Filter is not safe for concurrent use.
type Filter struct {
	interval    time.Duration
	minDistance float64

	last    *models.Position
	pending *models.Position
}

// NewFilter creates a filter; minDistance <= 0 disables the distance trigger
func NewFilter(interval time.Duration, minDistance float64) *Filter {
	return &Filter{interval: interval, minDistance: minDistance}
}

// Interval returns the tick cadence the owner should drive Tick with
func (f *Filter) Interval() time.Duration {
	return f.interval
}

// Observe records a raw fix and reports whether it should be emitted now
func (f *Filter) Observe(p models.Position) bool {
	if f.last != nil && !p.Timestamp.After(f.last.Timestamp) {
		return false
	}
	if f.pending != nil && !p.Timestamp.After(f.pending.Timestamp) {
		return false
	}

	if f.last == nil || (f.minDistance > 0 && Distance(*f.last, p) >= f.minDistance) {
		f.emit(p)
		return true
	}

	f.pending = &p
	return false
}

// Tick returns the newest held fix, if any, and marks it emitted
func (f *Filter) Tick() (models.Position, bool) {
	if f.pending == nil {
		return models.Position{}, false
	}
	p := *f.pending
	f.emit(p)
	return p, true
}

func (f *Filter) emit(p models.Position) {
	f.last = &p
	f.pending = nil
}
