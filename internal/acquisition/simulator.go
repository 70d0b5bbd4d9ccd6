package acquisition

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/twinspect/twinspect/internal/config"
	"github.com/twinspect/twinspect/internal/sample"
)

// Waveform parameters. The quiet/bursting phase lengths come from the
// simulated acquisition config.
const (
	burstAccelAmp   = 4.0 // m/s^2, above the default trigger threshold
	noiseAccelAmp   = 0.02
	dispAmplitude   = 5.0 // mm
	dispFrequency   = 0.1 // Hz
	dispNoiseStdDev = 0.1 // mm
)

// SimulatedSource generates synthetic accelerometer and displacement
// readings at the configured rate: phase-shifted low-frequency sines with
// Gaussian noise on the displacement channels, and a noise floor with
// random shaking bursts on the acceleration channels.
type SimulatedSource struct {
	cfg    config.SimulatedConfig
	rate   float64
	output chan<- sample.Sample
	logger *zap.Logger

	rng        *rand.Rand
	start      time.Time
	bursting   bool
	phaseUntil time.Time
}

// NewSimulatedSource creates an in-process sample generator.
func NewSimulatedSource(cfg config.SimulatedConfig, rate float64, output chan<- sample.Sample, logger *zap.Logger) *SimulatedSource {
	s := &SimulatedSource{
		cfg:    cfg,
		rate:   rate,
		output: output,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	logger.Info("Simulated sample source created",
		zap.Int("accelerometers", cfg.Accelerometers),
		zap.Int("lvdts", cfg.LVDTs),
		zap.Float64("rate", rate),
	)
	return s
}

// Run emits samples on a fixed-period ticker until the context is
// cancelled.
func (s *SimulatedSource) Run(ctx context.Context) error {
	sugar := s.logger.Sugar()
	sugar.Info("Starting simulated sample source loop...")
	defer sugar.Info("Simulated sample source stopped.")

	period := time.Duration(float64(time.Second) / s.rate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	s.start = time.Now()
	s.phaseUntil = s.start.Add(s.nextInterval())

	for {
		select {
		case now := <-ticker.C:
			s.advancePhase(now)
			smp := s.generate(now)

			select {
			case s.output <- smp:

			case <-ctx.Done():
				s.logger.Debug("Context cancelled while sending sample downstream.", zap.Error(ctx.Err()))
				return context.Canceled
			}

		case <-ctx.Done():
			sugar.Info("Context cancelled, stopping simulated source.")
			return ctx.Err()
		}
	}
}

// advancePhase flips between the quiet and bursting states when the
// current interval expires.
func (s *SimulatedSource) advancePhase(now time.Time) {
	if now.Before(s.phaseUntil) {
		return
	}
	s.bursting = !s.bursting
	s.phaseUntil = now.Add(s.nextInterval())
	s.logger.Debug("Simulator phase change", zap.Bool("bursting", s.bursting))
}

func (s *SimulatedSource) nextInterval() time.Duration {
	span := s.cfg.BurstIntervalMax - s.cfg.BurstIntervalMin
	if span <= 0 {
		return s.cfg.BurstIntervalMin
	}
	return s.cfg.BurstIntervalMin + time.Duration(s.rng.Int63n(int64(span)))
}

// generate builds one multi-channel sample for the given instant.
func (s *SimulatedSource) generate(now time.Time) sample.Sample {
	t := now.Sub(s.start).Seconds()
	channels := s.cfg.Accelerometers + s.cfg.LVDTs
	values := make([]float64, 0, channels)
	kinds := make([]sample.ChannelKind, 0, channels)

	for i := 0; i < s.cfg.Accelerometers; i++ {
		values = append(values, s.accelValue(t, i))
		kinds = append(kinds, sample.KindAcceleration)
	}
	for i := 0; i < s.cfg.LVDTs; i++ {
		values = append(values, s.dispValue(t, i))
		kinds = append(kinds, sample.KindDisplacement)
	}

	return sample.Sample{Timestamp: now, Values: values, Kinds: kinds}
}

// accelValue is an acceleration magnitude: a small noise floor, plus a
// dominant periodic component while bursting.
func (s *SimulatedSource) accelValue(t float64, ch int) float64 {
	noise := noiseAccelAmp*math.Abs(math.Sin(2*math.Pi*50*t+float64(ch))) +
		math.Abs(s.rng.NormFloat64())*noiseAccelAmp
	if !s.bursting {
		return noise
	}
	return noise + burstAccelAmp*math.Abs(math.Sin(2*math.Pi*2.0*t+float64(ch)))
}

// dispValue is a phase-shifted slow sine with Gaussian noise, mirroring a
// structure swaying at a fixed natural frequency.
func (s *SimulatedSource) dispValue(t float64, ch int) float64 {
	phase := float64(ch) * math.Pi / 4
	return dispAmplitude*math.Sin(2*math.Pi*dispFrequency*t+phase) +
		s.rng.NormFloat64()*dispNoiseStdDev
}
