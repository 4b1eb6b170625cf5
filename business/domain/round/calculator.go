package round

import "time"

// Calculator maps wall-clock time onto voting round (epoch) indices. Origin and Duration
// must match the finality protocol's own constants or indices will not match proofs.
type Calculator struct {
	Origin   int64 // unix seconds of the first voting round
	Duration int64 // seconds per round
}

func NewCalculator(origin, duration int64) Calculator {
	return Calculator{Origin: origin, Duration: duration}
}

// EpochIndex returns floor((timestamp - origin) / duration). Timestamps before the origin
// yield negative indices.
func (c Calculator) EpochIndex(timestamp int64) int64 {
	delta := timestamp - c.Origin
	index := delta / c.Duration
	if delta%c.Duration != 0 && (delta < 0) != (c.Duration < 0) {
		index-- // go truncates toward zero
	}
	return index
}

func (c Calculator) EpochIndexAt(t time.Time) int64 {
	return c.EpochIndex(t.Unix())
}

// EpochStart returns the unix timestamp at which the given round begins.
func (c Calculator) EpochStart(index int64) int64 {
	return c.Origin + index*c.Duration
}
