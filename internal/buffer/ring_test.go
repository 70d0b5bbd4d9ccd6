package buffer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twinspect/twinspect/internal/sample"
)

func sampleAt(i int) sample.Sample {
	return sample.Sample{
		Timestamp: time.Unix(0, int64(i)*int64(10*time.Millisecond)),
		Values:    []float64{float64(i)},
		Kinds:     []sample.ChannelKind{sample.KindAcceleration},
	}
}

func TestRingHoldsLastCapacitySamples(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		capacity int
		pushes   int
	}{
		{name: "warm-up", capacity: 10, pushes: 4},
		{name: "exactly full", capacity: 10, pushes: 10},
		{name: "single overflow", capacity: 10, pushes: 11},
		{name: "many wraps", capacity: 10, pushes: 137},
		{name: "capacity one", capacity: 1, pushes: 25},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := NewRing(tt.capacity)
			for i := 0; i < tt.pushes; i++ {
				r.Push(sampleAt(i))
			}

			want := tt.pushes
			if want > tt.capacity {
				want = tt.capacity
			}
			snap := r.Snapshot()
			require.Len(t, snap, want)
			assert.Equal(t, want, r.Len())

			// Chronological order, equal to the last `want` pushed.
			first := tt.pushes - want
			for i, s := range snap {
				assert.Equal(t, float64(first+i), s.Values[0])
			}
		})
	}
}

func TestRingSnapshotIsIndependent(t *testing.T) {
	t.Parallel()

	r := NewRing(4)
	for i := 0; i < 4; i++ {
		r.Push(sampleAt(i))
	}

	snap := r.Snapshot()
	r.Push(sampleAt(99))
	r.Push(sampleAt(100))

	require.Len(t, snap, 4)
	assert.Equal(t, 0.0, snap[0].Values[0])
	assert.Equal(t, 3.0, snap[3].Values[0])
}

func TestRingReset(t *testing.T) {
	t.Parallel()

	r := NewRing(8)
	for i := 0; i < 5; i++ {
		r.Push(sampleAt(i))
	}
	r.Reset()

	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Snapshot())

	r.Push(sampleAt(42))
	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 42.0, snap[0].Values[0])
}

func TestRingMinimumCapacity(t *testing.T) {
	t.Parallel()

	r := NewRing(0)
	assert.Equal(t, 1, r.Cap())
}
