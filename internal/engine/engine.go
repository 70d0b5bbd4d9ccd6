// Package engine wires the acquisition source, event detector, worker
// pool, and performance monitor together and manages their lifecycle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/twinspect/twinspect/internal/acquisition"
	"github.com/twinspect/twinspect/internal/analysis"
	"github.com/twinspect/twinspect/internal/config"
	"github.com/twinspect/twinspect/internal/detector"
	"github.com/twinspect/twinspect/internal/perfmon"
	"github.com/twinspect/twinspect/internal/sample"
	"github.com/twinspect/twinspect/internal/state"
	"github.com/twinspect/twinspect/internal/storage"
	"github.com/twinspect/twinspect/internal/worker"
)

var (
	ErrSourceCreationFailed = errors.New("failed to create sample source")
	ErrStorageSetupFailed   = errors.New("failed to set up event storage")
	ErrSourceRunFailed      = errors.New("sample source failed")
	ErrDetectorRunFailed    = errors.New("detector failed")
)

// Capacity of the bounded sample queue between acquisition and detection.
const sampleQueueSize = 1000

// Timeout for draining worker tasks on shutdown.
const workerDrainTimeout = 30 * time.Second

// Source produces samples onto the engine's bounded queue.
type Source interface {
	Run(ctx context.Context) error
}

// Engine owns all components and the channels between them.
type Engine struct {
	cfg      *config.Config
	store    *state.Store
	source   Source
	detector *detector.Detector
	pool     *worker.Pool
	monitor  *perfmon.Monitor
	catalog  *storage.Catalog
	logger   *zap.Logger

	samples chan sample.Sample
}

// New creates and wires up a new monitoring engine.
func New(cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	initLogger := logger.Named("engine.init")
	initLogger.Debug("Creating engine components...")

	store := state.New()
	store.SetConfig(cfg)

	samples := make(chan sample.Sample, sampleQueueSize)

	source, err := newSource(cfg.Acquisition, cfg.Sampling.Rate, samples, logger)
	if err != nil {
		initLogger.Error("Failed to create sample source", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrSourceCreationFailed, err)
	}
	initLogger.Debug("Sample source created", zap.String("mode", cfg.Acquisition.Mode))

	catalogPath := cfg.Storage.CatalogPath
	if catalogPath != ":memory:" && !filepath.IsAbs(catalogPath) {
		catalogPath = filepath.Join(cfg.Storage.OutputDir, catalogPath)
	}
	catalog, err := storage.OpenCatalog(catalogPath, logger.Named("catalog"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageSetupFailed, err)
	}

	persister, err := storage.NewPersister(cfg.Storage.OutputDir, cfg.Sampling.Rate, catalog, logger.Named("persister"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageSetupFailed, err)
	}
	analyzer := analysis.New(cfg.Sampling.Rate, persister.EventDir, logger.Named("analyzer"))

	pool := worker.NewPool(cfg.Workers.MaxConcurrentSaves, persister, analyzer, catalog, store, logger.Named("workers"))
	det := detector.New(cfg.Sampling, cfg.Thresholds, samples, pool, store, logger.Named("detector"))

	var monitor *perfmon.Monitor
	if cfg.Monitor.Enabled {
		monitor = perfmon.New(cfg.Monitor.Interval, cfg.Sampling.Rate, store, logger.Named("perfmon"))
	}

	e := &Engine{
		cfg:      cfg,
		store:    store,
		source:   source,
		detector: det,
		pool:     pool,
		monitor:  monitor,
		catalog:  catalog,
		logger:   logger.Named("engine"),
		samples:  samples,
	}

	initLogger.Info("Engine instance created successfully")
	return e, nil
}

// State exposes the shared store for external reporting consumers.
func (e *Engine) State() *state.Store { return e.store }

// Run starts all components and waits for completion or context
// cancellation. The worker pool is stopped only after the detector has
// finished, so a finalized in-flight event is never stranded.
func (e *Engine) Run(ctx context.Context) error {
	sugar := e.logger.Sugar()
	var wg sync.WaitGroup
	engineErr := make(chan error, 3)

	// The pool outlives the detector: its context is cancelled only once
	// the detector goroutine has returned.
	poolCtx, poolCancel := context.WithCancel(context.Background())

	sugar.Info("Engine Run: Starting components...")

	wg.Add(3)
	go e.runSource(ctx, &wg, engineErr)
	go e.runDetector(ctx, &wg, engineErr, poolCancel)
	go e.runPool(poolCtx, &wg)

	if e.monitor != nil {
		wg.Add(1)
		go e.runMonitor(ctx, &wg)
	}

	// Wait for context cancellation or the first error from any component
	var firstErr error
	select {
	case <-ctx.Done():
		sugar.Info("Engine Run: Context cancelled. Waiting for components to finish...")
		firstErr = ctx.Err()
	case err := <-engineErr:
		sugar.Errorw("Engine Run: Received error from a component, initiating shutdown...", zap.Error(err))
		firstErr = err
	}

	sugar.Debug("Engine Run: Waiting on WaitGroup...")
	wg.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), workerDrainTimeout)
	defer cancel()
	if err := e.pool.Shutdown(drainCtx); err != nil {
		sugar.Warnw("Engine Run: Worker pool did not drain cleanly", zap.Error(err))
	}

	if err := e.catalog.Close(); err != nil {
		sugar.Warnw("Engine Run: Failed to close event catalog", zap.Error(err))
	}

	sugar.Info("Engine Run: All components finished.")

	if firstErr != nil && !errors.Is(firstErr, context.Canceled) {
		return firstErr
	}
	return nil
}

// runSource executes the acquisition source and closes the sample channel
// on return, which lets the detector drain and finish.
func (e *Engine) runSource(ctx context.Context, wg *sync.WaitGroup, errCh chan<- error) {
	defer wg.Done()
	defer func() {
		close(e.samples)
		e.logger.Debug("Sample channel closed")
	}()

	e.logger.Debug("Starting source goroutine...")
	if err := e.source.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Error("Sample source exited with error", zap.Error(err))
		errCh <- fmt.Errorf("%w: %w", ErrSourceRunFailed, err)
	} else {
		e.logger.Debug("Source goroutine finished")
	}
}

// runDetector executes the detector and releases the worker pool once the
// detector has finalized any in-flight event.
func (e *Engine) runDetector(ctx context.Context, wg *sync.WaitGroup, errCh chan<- error, poolCancel context.CancelFunc) {
	defer wg.Done()
	defer poolCancel()

	e.logger.Debug("Starting detector goroutine...")
	if err := e.detector.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Error("Detector exited with error", zap.Error(err))
		errCh <- fmt.Errorf("%w: %w", ErrDetectorRunFailed, err)
	} else {
		e.logger.Debug("Detector goroutine finished")
	}
}

// runPool executes the worker dispatch loop.
func (e *Engine) runPool(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	e.logger.Debug("Starting worker pool goroutine...")
	if err := e.pool.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Error("Worker pool exited with error", zap.Error(err))
	} else {
		e.logger.Debug("Worker pool goroutine finished")
	}
}

// runMonitor executes the performance monitor.
func (e *Engine) runMonitor(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	e.logger.Debug("Starting performance monitor goroutine...")
	if err := e.monitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Error("Performance monitor exited with error", zap.Error(err))
	} else {
		e.logger.Debug("Performance monitor goroutine finished")
	}
}

// newSource selects the acquisition implementation from configuration.
func newSource(cfg config.AcquisitionConfig, rate float64, samples chan sample.Sample, logger *zap.Logger) (Source, error) {
	switch cfg.Mode {
	case "kafka":
		return acquisition.NewKafkaSource(cfg.Kafka, samples, logger.Named("kafka-source"))
	case "simulated":
		return acquisition.NewSimulatedSource(cfg.Simulated, rate, samples, logger.Named("sim-source")), nil
	}
	return nil, fmt.Errorf("%w: %q", config.ErrUnknownAcquisitionMode, cfg.Mode)
}
