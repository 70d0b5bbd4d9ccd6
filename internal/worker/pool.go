// Package worker runs persistence and analysis for closed events on a
// bounded pool, isolated from the detection loop.
package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/twinspect/twinspect/internal/detector"
	"github.com/twinspect/twinspect/internal/state"
)

var ErrShutdownTimeout = errors.New("worker pool shutdown timed out")

// Persister writes an event's raw sample window to durable storage and
// records it in the event catalog.
type Persister interface {
	SaveEvent(ev *detector.Event) error
}

// Analyzer derives and stores time/frequency-domain results for a
// persisted event. It reads the event but never mutates it.
type Analyzer interface {
	AnalyzeEvent(ev *detector.Event) error
}

// StatusRecorder receives the terminal Saved/Failed status of an event.
// RecordFailure exists because a failure can precede the event's catalog
// insert; implementations must create the row when it is missing.
type StatusRecorder interface {
	SetEventStatus(id uint64, status detector.EventStatus) error
	RecordFailure(ev *detector.Event, stage string) error
}

// Pool executes one task per submitted event: persistence first, then
// analysis. Submissions never block and are served in FIFO order; at most
// maxConcurrent tasks run at once.
type Pool struct {
	persister Persister
	analyzer  Analyzer
	recorder  StatusRecorder
	store     *state.Store
	logger    *zap.Logger

	mu      sync.Mutex
	pending []*detector.Event
	wake    chan struct{}
	slots   chan struct{}
	tasks   sync.WaitGroup
	done    chan struct{}
}

// NewPool creates a pool bounded to maxConcurrent simultaneous tasks.
func NewPool(maxConcurrent int, persister Persister, analyzer Analyzer, recorder StatusRecorder, store *state.Store, logger *zap.Logger) *Pool {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	p := &Pool{
		persister: persister,
		analyzer:  analyzer,
		recorder:  recorder,
		store:     store,
		logger:    logger,
		wake:      make(chan struct{}, 1),
		slots:     make(chan struct{}, maxConcurrent),
		done:      make(chan struct{}),
	}
	logger.Info("Worker pool initialized", zap.Int("max_concurrent", maxConcurrent))
	return p
}

// Submit accepts ownership of a closed event and returns immediately. When
// all slots are busy the event waits in the FIFO queue; it is never
// dropped.
func (p *Pool) Submit(ev *detector.Event) {
	p.mu.Lock()
	p.pending = append(p.pending, ev)
	depth := len(p.pending)
	p.mu.Unlock()

	p.publishDepth()
	p.logger.Debug("Event submitted",
		zap.Uint64("event_id", ev.ID),
		zap.Int("queue_depth", depth),
	)

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run dispatches queued events until the context is cancelled. It returns
// after all dispatched tasks have been started; Shutdown waits for their
// completion.
func (p *Pool) Run(ctx context.Context) error {
	sugar := p.logger.Sugar()
	sugar.Info("Starting worker dispatch loop...")
	defer sugar.Info("Worker dispatch loop stopped.")
	defer close(p.done)

	for {
		ev := p.dequeue()
		if ev == nil {
			select {
			case <-p.wake:
				continue
			case <-ctx.Done():
				// Drain anything submitted before cancellation.
				for ev := p.dequeue(); ev != nil; ev = p.dequeue() {
					p.dispatch(ev)
				}
				return ctx.Err()
			}
		}

		p.dispatch(ev)
	}
}

// Shutdown waits for all in-flight tasks. If the context expires first the
// remaining tasks are abandoned with a logged warning; their raw data
// files, once written, are not deleted.
func (p *Pool) Shutdown(ctx context.Context) error {
	<-p.done

	finished := make(chan struct{})
	go func() {
		p.tasks.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		p.logger.Info("All worker tasks finished.")
		return nil
	case <-ctx.Done():
		p.logger.Warn("Abandoning unfinished worker tasks on shutdown")
		return ErrShutdownTimeout
	}
}

func (p *Pool) dequeue() *detector.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return nil
	}
	ev := p.pending[0]
	p.pending = p.pending[1:]
	return ev
}

// dispatch blocks until a concurrency slot frees up, then runs the event's
// task on its own goroutine. Blocking here only delays later queue entries,
// never the detector's Submit.
func (p *Pool) dispatch(ev *detector.Event) {
	p.slots <- struct{}{}
	p.tasks.Add(1)
	go func() {
		defer p.tasks.Done()
		defer func() { <-p.slots }()
		p.runTask(ev)
		p.publishDepth()
	}()
}

// runTask persists and analyzes one event. A failure in either stage marks
// the event Failed and is confined to this task.
func (p *Pool) runTask(ev *detector.Event) {
	timer := prometheus.NewTimer(taskDuration)
	defer timer.ObserveDuration()

	if err := p.persister.SaveEvent(ev); err != nil {
		p.fail(ev, "persistence", err)
		return
	}

	if err := p.analyzer.AnalyzeEvent(ev); err != nil {
		// Raw data is already written; analysis can be re-run manually.
		p.fail(ev, "analysis", err)
		return
	}

	ev.Status = detector.StatusSaved
	if err := p.recorder.SetEventStatus(ev.ID, detector.StatusSaved); err != nil {
		p.logger.Error("Failed to record saved status",
			zap.Uint64("event_id", ev.ID),
			zap.Error(err),
		)
	}
	eventsSaved.Inc()
	p.logger.Info("Event saved",
		zap.Uint64("event_id", ev.ID),
		zap.Int("samples", len(ev.Samples)),
	)
}

func (p *Pool) fail(ev *detector.Event, stage string, err error) {
	ev.Status = detector.StatusFailed
	eventsFailed.WithLabelValues(stage).Inc()
	p.logger.Error("Event task failed",
		zap.Uint64("event_id", ev.ID),
		zap.String("stage", stage),
		zap.Error(err),
	)
	if recErr := p.recorder.RecordFailure(ev, stage); recErr != nil {
		p.logger.Error("Failed to record failed status",
			zap.Uint64("event_id", ev.ID),
			zap.Error(recErr),
		)
	}
}

func (p *Pool) publishDepth() {
	p.mu.Lock()
	depth := len(p.pending)
	p.mu.Unlock()
	queueDepth.Set(float64(depth))
	p.store.UpdateSystem(func(sys *state.SystemSnapshot) {
		sys.PendingSaves = depth + len(p.slots)
	})
}
