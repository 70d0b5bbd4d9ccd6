// Package analysis derives time and frequency domain results for closed
// events and writes a plain-text event report next to the raw data.
package analysis

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/twinspect/twinspect/internal/detector"
	"github.com/twinspect/twinspect/internal/sample"
)

const reportName = "report.txt"

// ChannelResult holds the derived quantities for one channel.
type ChannelResult struct {
	Kind        sample.ChannelKind
	Peak        float64
	RMS         float64
	DominantHz  float64
	SampleCount int
}

// Analyzer computes per-channel statistics over an event's sample window.
// It reads the event but never mutates it.
type Analyzer struct {
	rate   float64
	dirFor func(ev *detector.Event) string
	logger *zap.Logger
}

// New creates an Analyzer. dirFor maps an event to its output directory,
// which must already exist when AnalyzeEvent runs (persistence precedes
// analysis in the worker task).
func New(samplingRate float64, dirFor func(ev *detector.Event) string, logger *zap.Logger) *Analyzer {
	return &Analyzer{rate: samplingRate, dirFor: dirFor, logger: logger}
}

// AnalyzeEvent computes per-channel peak, RMS, and dominant frequency and
// writes the event report.
func (a *Analyzer) AnalyzeEvent(ev *detector.Event) error {
	if len(ev.Samples) == 0 {
		return fmt.Errorf("event %d has no samples to analyze", ev.ID)
	}

	results := a.Compute(ev)
	path := filepath.Join(a.dirFor(ev), reportName)
	if err := os.WriteFile(path, []byte(a.render(ev, results)), 0o644); err != nil {
		return fmt.Errorf("failed to write report for event %d: %w", ev.ID, err)
	}

	a.logger.Debug("Event report written",
		zap.Uint64("event_id", ev.ID),
		zap.String("path", path),
	)
	return nil
}

// Compute returns per-channel results in channel order.
func (a *Analyzer) Compute(ev *detector.Event) []ChannelResult {
	channels := len(ev.Samples[0].Kinds)
	results := make([]ChannelResult, channels)

	for ch := 0; ch < channels; ch++ {
		series := make([]float64, len(ev.Samples))
		var peak, sumSq float64
		for i, s := range ev.Samples {
			v := s.Values[ch]
			series[i] = v
			if abs := math.Abs(v); abs > peak {
				peak = abs
			}
			sumSq += v * v
		}
		results[ch] = ChannelResult{
			Kind:        ev.Samples[0].Kinds[ch],
			Peak:        peak,
			RMS:         math.Sqrt(sumSq / float64(len(series))),
			DominantHz:  dominantFrequency(series, a.rate),
			SampleCount: len(series),
		}
	}
	return results
}

func (a *Analyzer) render(ev *detector.Event, results []ChannelResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Event %d\n", ev.ID)
	fmt.Fprintf(&b, "Trigger time:   %s\n", ev.TriggerTime.Format("2006-01-02 15:04:05.000"))
	if !ev.DetriggerTime.IsZero() {
		fmt.Fprintf(&b, "Detrigger time: %s\n", ev.DetriggerTime.Format("2006-01-02 15:04:05.000"))
	}
	fmt.Fprintf(&b, "Duration:       %.3f s\n", ev.Duration().Seconds())
	fmt.Fprintf(&b, "Samples:        %d\n\n", len(ev.Samples))
	for i, r := range results {
		fmt.Fprintf(&b, "Channel %d (%s):\n", i+1, r.Kind)
		fmt.Fprintf(&b, "  Peak:               %.6f\n", r.Peak)
		fmt.Fprintf(&b, "  RMS:                %.6f\n", r.RMS)
		fmt.Fprintf(&b, "  Dominant frequency: %.2f Hz\n", r.DominantHz)
	}
	return b.String()
}

// dominantFrequency scans bins up to Nyquist with the Goertzel recurrence
// and returns the frequency with the largest spectral power. The mean is
// removed first so the DC component does not dominate.
func dominantFrequency(series []float64, rate float64) float64 {
	n := len(series)
	if n < 4 || rate <= 0 {
		return 0
	}

	var mean float64
	for _, v := range series {
		mean += v
	}
	mean /= float64(n)

	bins := n / 2
	var bestPower float64
	var bestBin int
	for k := 1; k < bins; k++ {
		w := 2 * math.Pi * float64(k) / float64(n)
		coeff := 2 * math.Cos(w)
		var s0, s1, s2 float64
		for _, v := range series {
			s0 = (v - mean) + coeff*s1 - s2
			s2 = s1
			s1 = s0
		}
		power := s1*s1 + s2*s2 - coeff*s1*s2
		if power > bestPower {
			bestPower = power
			bestBin = k
		}
	}
	return float64(bestBin) * rate / float64(n)
}
