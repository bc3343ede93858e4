// Package domain contains the core business entities and interfaces.
package domain

import "slices"

// DefaultWindowSize is the number of weight samples a record retains.
const DefaultWindowSize = 10

// MinChartSamples is the smallest history for which a chart is drawn.
const MinChartSamples = 4

// Record is a user's body profile plus a bounded weight history. Age and
// Height are zero until the record is registered. Weights are kilograms in
// chronological order, most recent last.
type Record struct {
	Age     int       `json:"age"`
	Height  int       `json:"height"`
	Weights []float64 `json:"weights"`
}

// Registered reports whether the record carries a profile. A record is either
// fully unregistered (zero age, zero height, no weights) or registered.
func (r Record) Registered() bool {
	return r.Age > 0 && r.Height > 0
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	c := r
	c.Weights = slices.Clone(r.Weights)
	if c.Weights == nil {
		c.Weights = []float64{}
	}
	return c
}

// Latest returns the most recent weight sample.
func (r Record) Latest() (float64, bool) {
	if len(r.Weights) == 0 {
		return 0, false
	}
	return r.Weights[len(r.Weights)-1], true
}

// Validate checks the shape of a record received from a store.
func (r Record) Validate() error {
	if !r.Registered() {
		return ErrInvalidRecord
	}
	return nil
}

// PushWeight appends w to the window, evicting the oldest samples so that the
// result holds at most size values. The input slice is not modified.
func PushWeight(weights []float64, w float64, size int) []float64 {
	if size <= 0 {
		size = DefaultWindowSize
	}
	out := make([]float64, 0, size)
	if len(weights) >= size {
		weights = weights[len(weights)-size+1:]
	}
	out = append(out, weights...)
	return append(out, w)
}
