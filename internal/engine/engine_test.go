package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/twinspect/twinspect/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Acquisition: config.AcquisitionConfig{
			Mode: "simulated",
			Simulated: config.SimulatedConfig{
				Accelerometers:   2,
				LVDTs:            1,
				BurstIntervalMin: 30 * time.Second,
				BurstIntervalMax: 35 * time.Second,
			},
		},
		Sampling: config.SamplingConfig{
			Rate:                200,
			PreTriggerDuration:  time.Second,
			PostEventTime:       2 * time.Second,
			MinEventDuration:    time.Second,
			MovingAverageWindow: 50,
			DetriggerConsec:     10,
		},
		Thresholds: config.ThresholdConfig{
			Acceleration: config.ChannelThresholds{Trigger: 2.943, Detrigger: 1.4715},
			Displacement: config.ChannelThresholds{Trigger: 25.0, Detrigger: 12.5},
		},
		Workers: config.WorkerConfig{MaxConcurrentSaves: 2},
		Storage: config.StorageConfig{OutputDir: t.TempDir(), CatalogPath: ":memory:"},
	}
}

func TestEngineNewWiresComponents(t *testing.T) {
	cfg := testConfig(t)
	e, err := New(cfg, zap.NewNop())
	require.NoError(t, err)

	require.NotNil(t, e.State())
	got := e.State().Config()
	require.NotNil(t, got)
	assert.Equal(t, cfg.Sampling.Rate, got.Sampling.Rate)

	require.NoError(t, e.catalog.Close())
}

func TestEngineNewRejectsUnknownMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Acquisition.Mode = "serial"

	_, err := New(cfg, zap.NewNop())
	assert.ErrorIs(t, err, ErrSourceCreationFailed)
}

func TestEngineRunStopsCleanlyOnCancel(t *testing.T) {
	e, err := New(testConfig(t), zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	// Let the pipeline tick for a moment, then shut it down.
	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err, "a cancelled run is a clean shutdown")
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not shut down")
	}

	sys := e.State().System()
	assert.False(t, sys.StartTime.IsZero())
}
