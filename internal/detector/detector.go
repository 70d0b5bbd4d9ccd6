// Package detector implements the real-time event detection state machine:
// trigger/detrigger evaluation, pre-trigger buffering, and the bounded
// recording window around each structural event.
package detector

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/twinspect/twinspect/internal/buffer"
	"github.com/twinspect/twinspect/internal/config"
	"github.com/twinspect/twinspect/internal/sample"
	"github.com/twinspect/twinspect/internal/state"
)

const statsEvery = 100 // samples between system-partition telemetry updates

// Detector consumes timestamped samples and emits closed Events to a Sink.
// It runs on a single goroutine and is the sole mutator of its ring buffer,
// detection state, and the active event, so it needs no internal locking.
type Detector struct {
	sampling   config.SamplingConfig
	input      <-chan sample.Sample
	ring       *buffer.Ring
	store      *state.Store
	sink       Sink
	logger     *zap.Logger
	groups     [2]*groupState // acceleration, displacement
	accelGroup *groupState
	dispGroup  *groupState

	active       *Event
	nextID       uint64
	holdDeadline time.Time // close boundary once detrigger is confirmed

	lastTimestamp time.Time
	kindLayout    []sample.ChannelKind // expected per-channel kinds, from first valid sample
	periods       []float64            // rolling inter-sample periods, seconds
	periodHead    int
	periodCount   int
	processed     uint64
	dropped       uint64
}

// New creates a Detector reading from input and submitting closed events to
// sink. The ring buffer capacity is derived from the sampling configuration.
func New(sampling config.SamplingConfig, thresholds config.ThresholdConfig, input <-chan sample.Sample, sink Sink, store *state.Store, logger *zap.Logger) *Detector {
	accel := newGroupState(sample.KindAcceleration, thresholds.Acceleration.Trigger, thresholds.Acceleration.Detrigger, sampling.MovingAverageWindow)
	disp := newGroupState(sample.KindDisplacement, thresholds.Displacement.Trigger, thresholds.Displacement.Detrigger, sampling.MovingAverageWindow)

	d := &Detector{
		sampling:   sampling,
		input:      input,
		ring:       buffer.NewRing(sampling.RingCapacity()),
		store:      store,
		sink:       sink,
		logger:     logger,
		groups:     [2]*groupState{accel, disp},
		accelGroup: accel,
		dispGroup:  disp,
		nextID:     1,
		periods:    make([]float64, statsEvery),
	}

	logger.Info("Detector initialized",
		zap.Int("ring_capacity", d.ring.Cap()),
		zap.Float64("sampling_rate", sampling.Rate),
		zap.Int("moving_average_window", sampling.MovingAverageWindow),
		zap.Int("detrigger_consecutive", sampling.DetriggerConsec),
	)
	return d
}

// Run drives the detection loop until the context is cancelled or the input
// channel closes. An in-flight event is finalized on the way out: submitted
// when it already meets the minimum duration, discarded with a log
// otherwise.
func (d *Detector) Run(ctx context.Context) error {
	sugar := d.logger.Sugar()
	sugar.Info("Starting detector loop...")
	defer sugar.Info("Detector loop stopped.")

	for {
		select {
		case s, ok := <-d.input:
			if !ok {
				sugar.Info("Detector input channel closed.")
				d.finalize()
				return nil
			}
			d.process(s)

		case <-ctx.Done():
			sugar.Info("Context cancelled, stopping detector.")
			d.finalize()
			return ctx.Err()
		}
	}
}

// process runs the per-sample algorithm. Errors in the detection path are
// absorbed here and never propagate to the loop.
func (d *Detector) process(s sample.Sample) {
	if !d.admit(s) {
		return
	}

	d.observeTiming(s.Timestamp)
	d.ring.Push(s)

	// Per-group instantaneous magnitudes and moving averages.
	instTriggered := false
	for _, g := range d.groups {
		inst, present := groupMagnitude(s, g.kind)
		if !present {
			continue
		}
		g.observe(inst)
		if inst > g.trigger {
			instTriggered = true
		}
	}

	d.publishSensor(s)
	d.processed++
	samplesProcessed.Inc()

	if d.active == nil {
		if instTriggered {
			d.startEvent(s)
		}
		return
	}
	d.continueEvent(s, instTriggered)
}

// admit validates a sample before it can touch any detection state.
// Malformed or out-of-order samples are dropped with a logged warning.
func (d *Detector) admit(s sample.Sample) bool {
	if !s.Valid() {
		d.drop("malformed", s)
		return false
	}
	if !d.lastTimestamp.IsZero() && s.Timestamp.Before(d.lastTimestamp) {
		d.drop("out_of_order", s)
		return false
	}
	if d.kindLayout == nil {
		d.kindLayout = append([]sample.ChannelKind(nil), s.Kinds...)
	} else if !layoutMatches(d.kindLayout, s.Kinds) {
		d.drop("channel_mismatch", s)
		return false
	}
	return true
}

func (d *Detector) drop(reason string, s sample.Sample) {
	d.dropped++
	samplesDropped.WithLabelValues(reason).Inc()
	d.logger.Warn("Dropping sample",
		zap.String("reason", reason),
		zap.Time("timestamp", s.Timestamp),
		zap.Int("channels", len(s.Values)),
	)
}

// startEvent transitions Idle -> Triggered: allocate the event, seed it
// with the pre-trigger window (which already contains the triggering
// sample), and update the shared event partition.
func (d *Detector) startEvent(s sample.Sample) {
	ev := &Event{
		ID:          d.nextID,
		TriggerTime: s.Timestamp,
		Samples:     d.ring.Snapshot(),
		Status:      StatusRecording,
	}
	d.nextID++
	d.active = ev
	d.holdDeadline = time.Time{}
	for _, g := range d.groups {
		g.reset()
	}

	d.store.SetRecording(ev.ID, ev.TriggerTime)
	triggersTotal.Inc()
	recordingGauge.Set(1)

	d.logger.Info("Event triggered",
		zap.Uint64("event_id", ev.ID),
		zap.Time("trigger_time", ev.TriggerTime),
		zap.Int("pre_trigger_samples", len(ev.Samples)),
	)
}

// continueEvent handles a sample while Triggered: record it, re-arm on
// re-trigger, advance the detrigger debounce, and close the event once the
// post-event hold expires.
func (d *Detector) continueEvent(s sample.Sample, instTriggered bool) {
	ev := d.active
	if ev == nil {
		// Invariant violation: recording state without an active event.
		d.logger.Error("Recording state with no active event, resetting to idle")
		d.resetToIdle(false)
		return
	}

	ev.Samples = append(ev.Samples, s)

	if instTriggered {
		if !ev.DetriggerTime.IsZero() {
			// Re-trigger during the post-event hold cancels the pending close.
			d.logger.Debug("Re-trigger during post-event hold",
				zap.Uint64("event_id", ev.ID),
				zap.Time("timestamp", s.Timestamp),
			)
			ev.DetriggerTime = time.Time{}
			d.holdDeadline = time.Time{}
		}
		for _, g := range d.groups {
			g.reset()
		}
		return
	}

	if ev.DetriggerTime.IsZero() {
		if d.detriggerSatisfied() {
			duration := s.Timestamp.Sub(ev.TriggerTime)
			if duration < d.sampling.MinEventDuration {
				d.discard("too_short", duration)
				return
			}
			ev.DetriggerTime = s.Timestamp
			d.holdDeadline = s.Timestamp.Add(d.sampling.PostEventTime)
			d.logger.Debug("Detrigger condition met",
				zap.Uint64("event_id", ev.ID),
				zap.Duration("duration", duration),
			)
		}
		return
	}

	if s.Timestamp.After(d.holdDeadline) {
		d.closeEvent()
	}
}

// detriggerSatisfied advances the per-group debounce counters and reports
// whether every monitored group has stayed below its detrigger threshold
// for the configured number of consecutive samples.
func (d *Detector) detriggerSatisfied() bool {
	all := true
	for _, g := range d.groups {
		if !g.seen {
			continue
		}
		if g.movingAvg < g.detrigger {
			g.consecBelow++
		} else {
			g.consecBelow = 0
		}
		if g.consecBelow < d.sampling.DetriggerConsec {
			all = false
		}
	}
	return all
}

// closeEvent ends the recording window and transfers ownership of the event
// to the sink. Submission must not block; the pool queues when saturated.
func (d *Detector) closeEvent() {
	ev := d.active
	ev.Status = StatusPendingSave
	duration := ev.DetriggerTime.Sub(ev.TriggerTime)

	d.logger.Info("Event complete",
		zap.Uint64("event_id", ev.ID),
		zap.Duration("duration", duration),
		zap.Int("samples", len(ev.Samples)),
	)
	eventsCompleted.Inc()
	eventDuration.Observe(duration.Seconds())

	d.sink.Submit(ev)
	d.resetToIdle(true)
}

// discard abandons the active event without handing it off. The shared
// event count is not incremented.
func (d *Detector) discard(reason string, duration time.Duration) {
	d.logger.Info("Event discarded",
		zap.Uint64("event_id", d.active.ID),
		zap.String("reason", reason),
		zap.Duration("duration", duration),
	)
	eventsDiscarded.WithLabelValues(reason).Inc()
	d.resetToIdle(false)
}

// resetToIdle clears all per-event state. counted marks whether the event
// was handed off and should increment the shared event count.
func (d *Detector) resetToIdle(counted bool) {
	d.active = nil
	d.holdDeadline = time.Time{}
	d.ring.Reset()
	for _, g := range d.groups {
		g.reset()
	}
	d.store.ClearRecording(counted)
	recordingGauge.Set(0)
}

// finalize handles shutdown with an event still in flight.
func (d *Detector) finalize() {
	ev := d.active
	if ev == nil {
		return
	}
	if ev.Duration() >= d.sampling.MinEventDuration {
		if ev.DetriggerTime.IsZero() && len(ev.Samples) > 0 {
			ev.DetriggerTime = ev.Samples[len(ev.Samples)-1].Timestamp
		}
		d.logger.Info("Finalizing in-flight event on shutdown", zap.Uint64("event_id", ev.ID))
		d.closeEvent()
		return
	}
	d.logger.Warn("Discarding in-flight event on shutdown",
		zap.Uint64("event_id", ev.ID),
		zap.Duration("duration", ev.Duration()),
	)
	eventsDiscarded.WithLabelValues("shutdown").Inc()
	d.resetToIdle(false)
}

// publishSensor refreshes the sensor partition with this tick's values.
func (d *Detector) publishSensor(s sample.Sample) {
	d.store.SetSensor(state.SensorSnapshot{
		LastSampleTime: s.Timestamp,
		LastValues:     s.Values,
		Kinds:          s.Kinds,
		AccelMovingAvg: d.accelGroup.movingAvg,
		DispMovingAvg:  d.dispGroup.movingAvg,
	})
}

// observeTiming records the inter-sample period and periodically publishes
// measured rate and jitter to the system partition.
func (d *Detector) observeTiming(ts time.Time) {
	if !d.lastTimestamp.IsZero() {
		period := ts.Sub(d.lastTimestamp).Seconds()
		if period > 0 {
			d.periods[d.periodHead] = period
			d.periodHead = (d.periodHead + 1) % len(d.periods)
			if d.periodCount < len(d.periods) {
				d.periodCount++
			}
		}
	}
	d.lastTimestamp = ts

	if d.processed%statsEvery == 0 {
		rate, jitter := d.timingStats()
		queueDepth := len(d.input)
		processed, dropped := d.processed, d.dropped
		d.store.UpdateSystem(func(sys *state.SystemSnapshot) {
			sys.MeasuredRate = rate
			sys.JitterMillis = jitter
			sys.QueueDepth = queueDepth
			sys.SamplesProcessed = processed
			sys.SamplesDropped = dropped
		})
	}
}

// timingStats derives the observed sampling rate (Hz) and jitter (std dev
// of periods, ms) from the rolling period window.
func (d *Detector) timingStats() (rate, jitterMs float64) {
	if d.periodCount < 2 {
		return 0, 0
	}
	var sum float64
	for i := 0; i < d.periodCount; i++ {
		sum += d.periods[i]
	}
	mean := sum / float64(d.periodCount)
	if mean <= 0 {
		return 0, 0
	}
	var sq float64
	for i := 0; i < d.periodCount; i++ {
		delta := d.periods[i] - mean
		sq += delta * delta
	}
	return 1.0 / mean, math.Sqrt(sq/float64(d.periodCount)) * 1000
}

// groupMagnitude returns the largest instantaneous magnitude among the
// sample's channels of the given kind.
func groupMagnitude(s sample.Sample, kind sample.ChannelKind) (float64, bool) {
	var maxV float64
	present := false
	for i, k := range s.Kinds {
		if k != kind {
			continue
		}
		present = true
		if v := s.Magnitude(i); v > maxV {
			maxV = v
		}
	}
	return maxV, present
}

func layoutMatches(expected, got []sample.ChannelKind) bool {
	if len(expected) != len(got) {
		return false
	}
	for i := range expected {
		if expected[i] != got[i] {
			return false
		}
	}
	return true
}
