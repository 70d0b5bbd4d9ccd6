package sample

import (
	"math"
	"time"
)

// ChannelKind identifies the physical quantity a channel carries.
type ChannelKind string

const (
	KindAcceleration ChannelKind = "acceleration"
	KindDisplacement ChannelKind = "displacement"
)

// Sample is a single timestamped multi-channel reading. Values and Kinds are
// index-aligned: Values[i] was measured by a channel of kind Kinds[i].
// A Sample is never mutated after construction.
type Sample struct {
	Timestamp time.Time     `json:"timestamp"`
	Values    []float64     `json:"values"`
	Kinds     []ChannelKind `json:"kinds"`
}

// Valid reports whether the sample is structurally usable: a timestamp is
// set, at least one channel is present, every channel has a recognized kind,
// and no value is NaN or infinite.
func (s Sample) Valid() bool {
	if s.Timestamp.IsZero() {
		return false
	}
	if len(s.Values) == 0 || len(s.Values) != len(s.Kinds) {
		return false
	}
	for i, v := range s.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
		if s.Kinds[i] != KindAcceleration && s.Kinds[i] != KindDisplacement {
			return false
		}
	}
	return true
}

// Magnitude returns the absolute value of the channel at index i.
// Acceleration channels are already stored as vector magnitudes by the
// acquisition layer, so a per-channel absolute value is the instantaneous
// quantity compared against thresholds.
func (s Sample) Magnitude(i int) float64 {
	return math.Abs(s.Values[i])
}

// ChannelsOfKind returns the indices of all channels with the given kind,
// in channel order.
func (s Sample) ChannelsOfKind(kind ChannelKind) []int {
	var idx []int
	for i, k := range s.Kinds {
		if k == kind {
			idx = append(idx, i)
		}
	}
	return idx
}
