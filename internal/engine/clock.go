package engine

import "time"

// Clock supplies record timestamps. The engine never calls time.Now
// directly, so tests and replay stay deterministic.
type Clock interface {
	Now() time.Time
}

// RealClock reads the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}
