package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/twinspect/twinspect/internal/detector"
	"github.com/twinspect/twinspect/internal/state"
	"github.com/twinspect/twinspect/internal/storage"
)

// fakePersister records the order events were saved in and can fail or
// stall on demand.
type fakePersister struct {
	mu      sync.Mutex
	saved   []uint64
	failID  uint64
	block   chan struct{} // when non-nil, SaveEvent waits on it
	running int
	maxSeen int
}

func (f *fakePersister) SaveEvent(ev *detector.Event) error {
	f.mu.Lock()
	f.running++
	if f.running > f.maxSeen {
		f.maxSeen = f.running
	}
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.running--
	if ev.ID == f.failID {
		return errors.New("disk full")
	}
	f.saved = append(f.saved, ev.ID)
	return nil
}

func (f *fakePersister) savedIDs() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.saved...)
}

type fakeAnalyzer struct {
	mu       sync.Mutex
	analyzed []uint64
	failID   uint64
}

func (f *fakeAnalyzer) AnalyzeEvent(ev *detector.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ev.ID == f.failID {
		return errors.New("analysis exploded")
	}
	f.analyzed = append(f.analyzed, ev.ID)
	return nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	statuses map[uint64]detector.EventStatus
	stages   map[uint64]string
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		statuses: make(map[uint64]detector.EventStatus),
		stages:   make(map[uint64]string),
	}
}

func (f *fakeRecorder) SetEventStatus(id uint64, status detector.EventStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = status
	return nil
}

func (f *fakeRecorder) RecordFailure(ev *detector.Event, stage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[ev.ID] = detector.StatusFailed
	f.stages[ev.ID] = stage
	return nil
}

func (f *fakeRecorder) status(id uint64) (detector.EventStatus, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.statuses[id]
	return s, ok
}

func (f *fakeRecorder) stage(id uint64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stages[id]
}

func event(id uint64) *detector.Event {
	return &detector.Event{
		ID:          id,
		TriggerTime: time.Now(),
		Status:      detector.StatusPendingSave,
	}
}

func startPool(t *testing.T, maxConcurrent int, p *fakePersister, a *fakeAnalyzer, r *fakeRecorder) (*Pool, context.CancelFunc) {
	t.Helper()
	pool := NewPool(maxConcurrent, p, a, r, state.New(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = pool.Run(ctx) }()
	return pool, cancel
}

func TestPoolSavesAndRecordsStatus(t *testing.T) {
	persister := &fakePersister{}
	analyzer := &fakeAnalyzer{}
	recorder := newFakeRecorder()
	pool, cancel := startPool(t, 2, persister, analyzer, recorder)

	ev := event(1)
	pool.Submit(ev)

	require.Eventually(t, func() bool {
		s, ok := recorder.status(1)
		return ok && s == detector.StatusSaved
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, detector.StatusSaved, ev.Status)
	assert.Equal(t, []uint64{1}, persister.savedIDs())

	cancel()
	require.NoError(t, pool.Shutdown(context.Background()))
}

func TestPoolServesQueueInOrder(t *testing.T) {
	// A single slot forces full serialization, making FIFO observable.
	persister := &fakePersister{}
	analyzer := &fakeAnalyzer{}
	recorder := newFakeRecorder()
	pool, cancel := startPool(t, 1, persister, analyzer, recorder)

	for id := uint64(1); id <= 8; id++ {
		pool.Submit(event(id))
	}

	require.Eventually(t, func() bool {
		return len(persister.savedIDs()) == 8
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6, 7, 8}, persister.savedIDs())

	cancel()
	require.NoError(t, pool.Shutdown(context.Background()))
}

func TestPoolBoundsConcurrencyWithoutDropping(t *testing.T) {
	block := make(chan struct{})
	persister := &fakePersister{block: block}
	analyzer := &fakeAnalyzer{}
	recorder := newFakeRecorder()
	pool, cancel := startPool(t, 2, persister, analyzer, recorder)

	for id := uint64(1); id <= 6; id++ {
		pool.Submit(event(id))
	}

	// Both slots fill, the remaining four wait in the queue.
	require.Eventually(t, func() bool {
		persister.mu.Lock()
		defer persister.mu.Unlock()
		return persister.running == 2
	}, time.Second, 5*time.Millisecond)

	close(block)

	require.Eventually(t, func() bool {
		return len(persister.savedIDs()) == 6
	}, time.Second, 5*time.Millisecond)

	persister.mu.Lock()
	maxSeen := persister.maxSeen
	persister.mu.Unlock()
	assert.LessOrEqual(t, maxSeen, 2, "no more than maxConcurrent tasks may run at once")

	cancel()
	require.NoError(t, pool.Shutdown(context.Background()))
}

func TestPoolMarksFailedOnPersistenceError(t *testing.T) {
	persister := &fakePersister{failID: 2}
	analyzer := &fakeAnalyzer{}
	recorder := newFakeRecorder()
	pool, cancel := startPool(t, 1, persister, analyzer, recorder)

	good := event(1)
	bad := event(2)
	pool.Submit(good)
	pool.Submit(bad)

	require.Eventually(t, func() bool {
		_, ok := recorder.status(2)
		return ok
	}, time.Second, 5*time.Millisecond)

	s, _ := recorder.status(2)
	assert.Equal(t, detector.StatusFailed, s)
	assert.Equal(t, "persistence", recorder.stage(2))
	assert.Equal(t, detector.StatusFailed, bad.Status)

	// The failure is confined to its own task.
	s, _ = recorder.status(1)
	assert.Equal(t, detector.StatusSaved, s)

	cancel()
	require.NoError(t, pool.Shutdown(context.Background()))
}

func TestPoolMarksFailedOnAnalysisError(t *testing.T) {
	persister := &fakePersister{}
	analyzer := &fakeAnalyzer{failID: 3}
	recorder := newFakeRecorder()
	pool, cancel := startPool(t, 1, persister, analyzer, recorder)

	ev := event(3)
	pool.Submit(ev)

	require.Eventually(t, func() bool {
		_, ok := recorder.status(3)
		return ok
	}, time.Second, 5*time.Millisecond)

	s, _ := recorder.status(3)
	assert.Equal(t, detector.StatusFailed, s)
	assert.Equal(t, "analysis", recorder.stage(3))
	// Raw data was persisted before analysis failed.
	assert.Equal(t, []uint64{3}, persister.savedIDs())

	cancel()
	require.NoError(t, pool.Shutdown(context.Background()))
}

// An event whose persistence fails never gets a catalog insert, so the
// failure record must create the row itself.
func TestPoolFailureReachesCatalogWithoutPriorRow(t *testing.T) {
	catalog, err := storage.OpenCatalog(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = catalog.Close() })

	persister := &fakePersister{failID: 42}
	pool := NewPool(1, persister, &fakeAnalyzer{}, catalog, state.New(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = pool.Run(ctx) }()

	ev := event(42)
	pool.Submit(ev)

	require.Eventually(t, func() bool {
		rec, getErr := catalog.Get(42)
		return getErr == nil && rec.Status == string(detector.StatusFailed)
	}, time.Second, 5*time.Millisecond)

	rec, err := catalog.Get(42)
	require.NoError(t, err)
	assert.Equal(t, "persistence", rec.FailureStage)
	assert.Equal(t, detector.StatusFailed, ev.Status)

	cancel()
	require.NoError(t, pool.Shutdown(context.Background()))
}

func TestPoolDrainsQueueOnCancel(t *testing.T) {
	persister := &fakePersister{}
	analyzer := &fakeAnalyzer{}
	recorder := newFakeRecorder()
	pool := NewPool(1, persister, analyzer, recorder, state.New(), zap.NewNop())

	// Submit before Run ever dispatches, then cancel immediately: the drain
	// path must still run everything that was accepted.
	for id := uint64(1); id <= 3; id++ {
		pool.Submit(event(id))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := pool.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, pool.Shutdown(context.Background()))
	assert.Equal(t, []uint64{1, 2, 3}, persister.savedIDs())
}

func TestPoolShutdownTimeout(t *testing.T) {
	block := make(chan struct{})
	persister := &fakePersister{block: block}
	analyzer := &fakeAnalyzer{}
	recorder := newFakeRecorder()
	pool, cancel := startPool(t, 1, persister, analyzer, recorder)

	pool.Submit(event(1))
	require.Eventually(t, func() bool {
		persister.mu.Lock()
		defer persister.mu.Unlock()
		return persister.running == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	ctx, timeoutCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer timeoutCancel()
	assert.ErrorIs(t, pool.Shutdown(ctx), ErrShutdownTimeout)

	close(block) // release the stuck task so the test goroutine exits
}
