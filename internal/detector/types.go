package detector

import (
	"time"

	"github.com/twinspect/twinspect/internal/sample"
)

// EventStatus tracks an event through its save/analysis lifecycle.
type EventStatus string

const (
	StatusRecording   EventStatus = "recording"
	StatusPendingSave EventStatus = "pending_save"
	StatusSaved       EventStatus = "saved"
	StatusFailed      EventStatus = "failed"
)

// Event is one detected structural event: the pre-trigger context plus
// every sample recorded while triggered. The detector is the sole mutator
// until the event is handed to the worker pool; after that the owning
// worker task is the only writer.
type Event struct {
	ID            uint64
	TriggerTime   time.Time
	DetriggerTime time.Time // zero until the detrigger condition is met
	Samples       []sample.Sample
	Status        EventStatus
}

// Duration is the detrigger-to-trigger span used by the minimum duration
// filter. Falls back to the last sample's timestamp while the event is
// still open.
func (e *Event) Duration() time.Duration {
	if !e.DetriggerTime.IsZero() {
		return e.DetriggerTime.Sub(e.TriggerTime)
	}
	if n := len(e.Samples); n > 0 {
		return e.Samples[n-1].Timestamp.Sub(e.TriggerTime)
	}
	return 0
}

// Sink receives ownership of closed events. Submit must not block the
// caller; saturated implementations queue, never drop.
type Sink interface {
	Submit(ev *Event)
}

// groupState carries the per-channel-kind detection state: the simple
// moving average of the group's instantaneous magnitude and the debounce
// counter for the detrigger condition.
type groupState struct {
	kind      sample.ChannelKind
	trigger   float64
	detrigger float64

	window []float64 // fixed-length SMA window, circular
	sum    float64
	head   int
	filled int

	movingAvg   float64
	consecBelow int
	seen        bool // a channel of this kind has appeared in the stream
}

func newGroupState(kind sample.ChannelKind, trigger, detrigger float64, windowLen int) *groupState {
	return &groupState{
		kind:      kind,
		trigger:   trigger,
		detrigger: detrigger,
		window:    make([]float64, windowLen),
	}
}

// observe folds one instantaneous magnitude into the moving average.
func (g *groupState) observe(v float64) {
	g.seen = true
	if g.filled == len(g.window) {
		g.sum -= g.window[g.head]
	} else {
		g.filled++
	}
	g.window[g.head] = v
	g.sum += v
	g.head = (g.head + 1) % len(g.window)
	g.movingAvg = g.sum / float64(g.filled)
}

func (g *groupState) reset() {
	g.consecBelow = 0
}
